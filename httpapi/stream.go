package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// streamPushInterval is how often a connected client receives a fresh fleet
// snapshot. Short enough to feel live, long enough not to hammer the
// registry for a slow poller.
const streamPushInterval = 2 * time.Second

// upgrader accepts the same origins the REST surface does: none of this
// API's clients are browsers, so there is no cross-origin concern to police.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleResourceStream upgrades to a websocket and pushes the fleet's
// current resource states on an interval, so a caller watching the fleet
// doesn't have to poll GET /resources/.
func (s *Server) handleResourceStream(w http.ResponseWriter, r *http.Request) {
	// Upgrade already writes an HTTP error response itself on failure
	// (it's still a plain HTTP request at that point); there's nothing
	// left for this handler to write.
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.WithContext(r.Context()).WithError(err).Warn("resource stream upgrade failed")
		}
		return
	}
	defer conn.Close()

	ctx := r.Context()
	ticker := time.NewTicker(streamPushInterval)
	defer ticker.Stop()

	if !s.pushResourceSnapshot(ctx, conn) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.pushResourceSnapshot(ctx, conn) {
				return
			}
		}
	}
}

func (s *Server) pushResourceSnapshot(ctx context.Context, conn *websocket.Conn) bool {
	records, err := s.registry.GetResources(ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("resource stream registry list failed")
		}
		return false
	}
	resp := make([]resourceStateResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, resourceStateResponse{DroneUUID: rec.DroneUUID, State: rec.State, Site: rec.Site})
	}

	conn.SetWriteDeadline(time.Now().Add(streamPushInterval))
	if err := conn.WriteJSON(resp); err != nil {
		return false
	}
	return true
}
