package auth

import (
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	svcerrors "github.com/r3e-network/dronectl/infrastructure/errors"
)

// SecretSource provides the signing secret and algorithm, cached for the
// process lifetime per §4.6. Config implementations must make Reload
// invalidate the cache explicitly; nothing else does.
type SecretSource interface {
	SecretKey() (string, error)
	Algorithm() (string, error)
}

// Config wraps a SecretSource with the one-shot caching §5 requires: the
// secret and algorithm are read once and reused until Reload is called.
type Config struct {
	source SecretSource

	mu        sync.Mutex
	loaded    bool
	secretKey string
	algorithm string
	loadErr   error
}

// NewConfig wraps source with a caching layer.
func NewConfig(source SecretSource) *Config {
	return &Config{source: source}
}

// Reload invalidates the cached secret/algorithm so the next access rereads
// from source.
func (c *Config) Reload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = false
	c.secretKey = ""
	c.algorithm = ""
	c.loadErr = nil
}

func (c *Config) load() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.loadErr
	}
	c.loaded = true

	secretKey, err := c.source.SecretKey()
	if err != nil {
		c.loadErr = svcerrors.Config("restapi secret_key not configured: " + err.Error())
		return c.loadErr
	}
	algorithm, err := c.source.Algorithm()
	if err != nil {
		c.loadErr = svcerrors.Config("restapi algorithm not configured: " + err.Error())
		return c.loadErr
	}
	c.secretKey = secretKey
	c.algorithm = algorithm
	return nil
}

func (c *Config) secretAndAlgorithm() (string, string, error) {
	if err := c.load(); err != nil {
		return "", "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.secretKey, c.algorithm, nil
}

// CreateAccessToken signs a bearer token carrying sub and scopes, and exp
// when expiresDelta is non-zero. secretKey/algorithm override c's
// configured values when non-empty, matching the optional overrides the
// original issuance call accepts.
func (c *Config) CreateAccessToken(userName string, scopes []string, expiresDelta time.Duration, secretKeyOverride, algorithmOverride string) (string, error) {
	secretKey, algorithm, err := c.secretAndAlgorithm()
	if err != nil {
		return "", err
	}
	if secretKeyOverride != "" {
		secretKey = secretKeyOverride
	}
	if algorithmOverride != "" {
		algorithm = algorithmOverride
	}

	method, err := signingMethod(algorithm)
	if err != nil {
		return "", svcerrors.Config(err.Error())
	}

	payload := claims{Subject: userName, Scopes: scopes}
	if expiresDelta != 0 {
		exp := time.Now().Add(expiresDelta).Unix()
		payload.Exp = &exp
	}

	token := jwt.NewWithClaims(method, payload)
	signed, err := token.SignedString([]byte(secretKey))
	if err != nil {
		return "", svcerrors.Internal("sign access token", err)
	}
	return signed, nil
}

// authenticateChallenge builds the WWW-Authenticate header value for a 401.
func authenticateChallenge(requiredScopes []string) string {
	if len(requiredScopes) == 0 {
		return "Bearer"
	}
	return `Bearer scope="` + strings.Join(requiredScopes, " ") + `"`
}

// CheckAuthorization validates token against requiredScopes. On failure it
// returns an *errors.ServiceError carrying the WWW-Authenticate challenge in
// Details["www_authenticate"] so the HTTP layer can set the header.
func (c *Config) CheckAuthorization(requiredScopes []string, token string) (TokenData, error) {
	challenge := authenticateChallenge(requiredScopes)

	secretKey, algorithm, err := c.secretAndAlgorithm()
	if err != nil {
		return TokenData{}, err
	}

	parsed := claims{}
	_, err = jwt.ParseWithClaims(token, &parsed, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != algorithm {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return []byte(secretKey), nil
	}, jwt.WithValidMethods([]string{algorithm}))
	if err != nil {
		return TokenData{}, unauthorized("Could not validate credentials", challenge)
	}

	for _, want := range requiredScopes {
		if !hasScope(parsed.Scopes, want) {
			return TokenData{}, unauthorized("Not enough permissions", challenge)
		}
	}

	return TokenData{Username: parsed.Subject, Scopes: parsed.Scopes}, nil
}

func unauthorized(message, challenge string) *svcerrors.ServiceError {
	return svcerrors.Unauthorized(message).WithDetails("www_authenticate", challenge)
}
