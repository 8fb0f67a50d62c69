package test

import (
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

// Snapshot slots written by the bridge, one big-endian uint16 each.
const (
	slotPhase          = 0
	slotChipID         = 1
	slotChipRev        = 2
	slotLastStatus     = 3
	slotOutcomeKind    = 4
	slotValueValid     = 5
	slotValue          = 6
	slotCycleHigh      = 7
	slotCycleLow       = 8
	slotDetectFailures = 9
	snapshotSize       = 20

	phaseRunning = 2
)

type snapshot [snapshotSize / 2]uint16

func (s snapshot) cycle() uint32 {
	return uint32(s[slotCycleHigh])<<16 | uint32(s[slotCycleLow])
}

// bridgeBinary locates the bridge binary built at the project root.
func bridgeBinary(t *testing.T) string {
	t.Helper()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get CWD: %v", err)
	}
	bin := filepath.Join(cwd, "..", "is4320-bridge")
	if _, err := os.Stat(bin); os.IsNotExist(err) {
		t.Skipf("Bridge binary not found at %s. Build it first.", bin)
	}
	return bin
}

// startBridge writes the config and runs the bridge until the test ends.
func startBridge(t *testing.T, configContent string) {
	t.Helper()
	bin := bridgeBinary(t)

	configFile := filepath.Join(t.TempDir(), "bridge.yaml")
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cmd := exec.Command(bin, "--config", configFile)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start bridge: %v", err)
	}
	t.Logf("Bridge started (PID: %d) with config %s", cmd.Process.Pid, configFile)

	t.Cleanup(func() {
		cmd.Process.Signal(os.Interrupt)
		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			cmd.Process.Kill()
		}
	})
}

func readSnapshot(path string) (snapshot, error) {
	var s snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if len(data) < snapshotSize {
		return s, fmt.Errorf("snapshot too short: %d bytes", len(data))
	}
	for i := range s {
		s[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return s, nil
}

// waitSnapshot polls the snapshot file until cond holds or the timeout expires.
func waitSnapshot(t *testing.T, path string, timeout time.Duration, cond func(snapshot) bool) snapshot {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last snapshot
	for time.Now().Before(deadline) {
		s, err := readSnapshot(path)
		if err == nil {
			last = s
			if cond(s) {
				return s
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("Snapshot condition not met within %v, last snapshot: %v", timeout, last)
	return last
}
