package state

import (
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

// Snapshot captures the simulation and position at a point in time.
type Snapshot struct {
	Timestamp  int64      `json:"timestamp"`
	Simulation Simulation `json:"simulation"`
	Position   Position   `json:"position"`
}

// Snapshot builds a snapshot stamped with now (unix ms).
func (l *Ledger) Snapshot(now int64) Snapshot {
	return Snapshot{
		Timestamp:  now,
		Simulation: *l.sim,
		Position:   l.pos,
	}
}

// Restore replaces the simulation and position with a snapshot.
func (l *Ledger) Restore(snap Snapshot) {
	*l.sim = snap.Simulation
	l.pos = snap.Position
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := sonic.ConfigStd.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "mkdir snapshot dir")
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "write snapshot")
	}
	return nil
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "read snapshot")
	}
	var snap Snapshot
	if err := sonic.ConfigStd.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, errors.Wrap(err, "unmarshal snapshot")
	}
	return snap, nil
}
