// Package slurmbatch implements drone.BatchSystemAgent against a Slurm
// cluster by shelling out to sinfo/scontrol, the same pair of commands a
// cluster administrator would run by hand.
package slurmbatch

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/r3e-network/dronectl/drone"
	"github.com/r3e-network/dronectl/infrastructure/resilience"
)

// machineMetaDataTranslationMapping documents the node-resource weights this
// adapter assumes; kept alongside the adapter the way the scheduler's own
// per-resource cost model would be.
var machineMetaDataTranslationMapping = map[string]int{
	"Cores":  1,
	"Memory": 1000,
	"Disk":   1000,
}

// Adapter drives a Slurm partition through sinfo (read) and scontrol
// (drain). dnsName is matched against sinfo's "features" column, the short
// node label the cluster assigns a drone, not the full DNS hostname.
type Adapter struct {
	Partition string
	runner    commandRunner
}

type commandRunner func(ctx context.Context, command string) (string, error)

// New returns an Adapter scoped to partition ("" for every partition sinfo
// reports on).
func New(partition string) *Adapter {
	return &Adapter{Partition: partition, runner: runShell}
}

// newWithRunner is a test seam: it swaps the real shell-out for a stub.
func newWithRunner(partition string, runner commandRunner) *Adapter {
	return &Adapter{Partition: partition, runner: runner}
}

// runShell retries a transient sinfo/scontrol failure (a controller blip or
// momentary scheduler lock contention) with backoff before giving up.
func runShell(ctx context.Context, command string) (string, error) {
	var output string
	err := resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
		out, err := runShellOnce(ctx, command)
		if err != nil {
			return err
		}
		output = out
		return nil
	})
	return output, err
}

func runShellOnce(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return "", &drone.ExecutionFailure{Message: command, ExitCode: exitCode, Stderr: stderr.String()}
	}
	return stdout.String(), nil
}

type nodeRow struct {
	stateLong string
	cpuRatio  float64
	memRatio  float64
	nodeHost  string
}

func (a *Adapter) sinfoCommand() string {
	cmd := `sinfo --Format="statelong,cpusstate,allocmem,memory,features,nodehost" -e --noheader -r`
	if a.Partition != "" {
		cmd += " --partition=" + a.Partition
	}
	return cmd
}

func (a *Adapter) fetchRows(ctx context.Context) (map[string]nodeRow, error) {
	out, err := a.runner(ctx, a.sinfoCommand())
	if err != nil {
		return nil, err
	}
	rows := make(map[string]nodeRow)
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		cpuRatio, err := parseCPURatio(fields[1])
		if err != nil {
			continue
		}
		memRatio, err := parseMemRatio(fields[2], fields[3])
		if err != nil {
			continue
		}
		features := fields[4]
		rows[features] = nodeRow{
			stateLong: fields[0],
			cpuRatio:  cpuRatio,
			memRatio:  memRatio,
			nodeHost:  fields[5],
		}
	}
	return rows, nil
}

func parseCPURatio(cpusState string) (float64, error) {
	parts := strings.Split(cpusState, "/")
	if len(parts) != 4 {
		return 0, fmt.Errorf("unexpected cpusstate format %q", cpusState)
	}
	alloc, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, err
	}
	total, err := strconv.ParseFloat(parts[3], 64)
	if err != nil || total == 0 {
		return 0, fmt.Errorf("unexpected cpusstate total in %q", cpusState)
	}
	return alloc / total, nil
}

func parseMemRatio(allocMem, memory string) (float64, error) {
	alloc, err := strconv.ParseFloat(allocMem, 64)
	if err != nil {
		return 0, err
	}
	total, err := strconv.ParseFloat(memory, 64)
	if err != nil || total == 0 {
		return 0, fmt.Errorf("unexpected memory total %q", memory)
	}
	return alloc / total, nil
}

func stateToMachineStatus(stateLong string) drone.MachineStatus {
	switch stateLong {
	case "mixed", "idle", "alloc", "allocated":
		return drone.MachineStatusAvailable
	case "draining":
		return drone.MachineStatusDraining
	default:
		return drone.MachineStatusNotAvailable
	}
}

func (a *Adapter) IntegrateMachine(ctx context.Context, dnsName string) error {
	return nil
}

func (a *Adapter) GetMachineStatus(ctx context.Context, dnsName string) (drone.MachineStatus, error) {
	rows, err := a.fetchRows(ctx)
	if err != nil {
		return "", &drone.BatchError{Op: "get_machine_status", Err: err}
	}
	row, ok := rows[dnsName]
	if !ok {
		return drone.MachineStatusNotAvailable, nil
	}
	return stateToMachineStatus(row.stateLong), nil
}

func (a *Adapter) DrainMachine(ctx context.Context, dnsName string) error {
	rows, err := a.fetchRows(ctx)
	if err != nil {
		return &drone.BatchError{Op: "drain_machine", Err: err}
	}
	nodeHost := dnsName
	if row, ok := rows[dnsName]; ok {
		nodeHost = row.nodeHost
	}
	command := fmt.Sprintf("scontrol update NodeName=%s State=DRAIN Reason='dronectl'", nodeHost)
	if _, err := a.runner(ctx, command); err != nil {
		return &drone.BatchError{Op: "drain_machine", Err: err}
	}
	return nil
}

func (a *Adapter) DisintegrateMachine(ctx context.Context, dnsName string) error {
	return nil
}

func (a *Adapter) GetAllocation(ctx context.Context, dnsName string) (float64, error) {
	rows, err := a.fetchRows(ctx)
	if err != nil {
		return 0, &drone.BatchError{Op: "get_allocation", Err: err}
	}
	row, ok := rows[dnsName]
	if !ok {
		return 0, nil
	}
	return maxFloat(row.cpuRatio, row.memRatio), nil
}

func (a *Adapter) GetUtilisation(ctx context.Context, dnsName string) (float64, error) {
	rows, err := a.fetchRows(ctx)
	if err != nil {
		return 0, &drone.BatchError{Op: "get_utilisation", Err: err}
	}
	row, ok := rows[dnsName]
	if !ok {
		return 0, nil
	}
	return minFloat(row.cpuRatio, row.memRatio), nil
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

var _ drone.BatchSystemAgent = (*Adapter)(nil)
