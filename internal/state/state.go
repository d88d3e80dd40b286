package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/metasync/metasync/internal/config"
)

const DefaultPath = "~/.metasync/state.yaml"

// Status of the last apply.
type Status string

const (
	StatusRunning    Status = "running"
	StatusApplied    Status = "applied"
	StatusPartial    Status = "partial"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// Counts tallies step outcomes of one apply.
type Counts struct {
	Succeeded int `json:"succeeded" yaml:"succeeded"`
	Ignored   int `json:"ignored,omitempty" yaml:"ignored,omitempty"`
	Failed    int `json:"failed" yaml:"failed"`
	Healed    int `json:"healed,omitempty" yaml:"healed,omitempty"`
}

// State records the last apply. Metadata itself is never stored here;
// snapshots are files referenced by path.
type State struct {
	LastUpdated time.Time `yaml:"last_updated"`

	Endpoint     string    `yaml:"endpoint,omitempty"`
	ManifestPath string    `yaml:"manifest_path,omitempty"`
	SnapshotPath string    `yaml:"snapshot_path,omitempty"`
	Status       Status    `yaml:"status,omitempty"`
	StartedAt    time.Time `yaml:"started_at,omitempty"`
	FinishedAt   time.Time `yaml:"finished_at,omitempty"`
	Counts       Counts    `yaml:"counts,omitempty"`

	RolledBackAt time.Time `yaml:"rolled_back_at,omitempty"`
	ReportPath   string    `yaml:"report_path,omitempty"`
}

// Load reads the state from disk. A missing file yields a fresh state.
func Load(path string) (*State, error) {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("reading state: %w", err)
	}

	s := &State{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing state: %w", err)
	}
	return s, nil
}

// Save writes the state to disk.
func (s *State) Save(path string) error {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}

	s.LastUpdated = time.Now()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// New creates an empty state.
func New() *State {
	return &State{LastUpdated: time.Now()}
}

// BeginApply records the start of an apply.
func (s *State) BeginApply(endpoint, manifestPath, snapshotPath string) {
	s.Endpoint = endpoint
	s.ManifestPath = manifestPath
	s.SnapshotPath = snapshotPath
	s.Status = StatusRunning
	s.StartedAt = time.Now()
	s.FinishedAt = time.Time{}
	s.RolledBackAt = time.Time{}
	s.Counts = Counts{}
}

// FinishApply records the result of the running apply.
func (s *State) FinishApply(c Counts) {
	s.Counts = c
	s.FinishedAt = time.Now()
	s.Status = StatusFor(c)
}

// StatusFor derives the apply status from its counts.
func StatusFor(c Counts) Status {
	switch {
	case c.Failed == 0:
		return StatusApplied
	case c.Succeeded+c.Ignored > 0:
		return StatusPartial
	default:
		return StatusFailed
	}
}

// MarkRolledBack records a restore of SnapshotPath.
func (s *State) MarkRolledBack() {
	s.Status = StatusRolledBack
	s.RolledBackAt = time.Now()
}

// CanRollBack reports whether there is a snapshot to restore.
func (s *State) CanRollBack() bool {
	return s.SnapshotPath != "" && s.Status != StatusRolledBack
}
