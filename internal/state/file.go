// Package state persists the statistics snapshot, the policy's decision
// memory and the router's placement memory so a restarted engine resumes
// without rescanning either backend.
package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"

	"github.com/dbsmedya/goadaptive/internal/policy"
	"github.com/dbsmedya/goadaptive/internal/stats"
)

// File names inside the state directory.
const (
	StatsFile     = "schema_map.json"
	DecisionsFile = "decisions.json"
	RoutingFile   = "routing.json"
)

// FileStore keeps state as JSON files in one directory. Each write goes
// to a temporary file that is renamed over the old one, so a crash leaves
// either the previous or the new content.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("state directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the state directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Save writes the stats snapshot, the policy's decisions and the placements
// the router last applied. The two maps differ while a migration is failing:
// the policy has moved a field to DOCUMENT but its column still exists.
func (s *FileStore) Save(snap stats.Snapshot, decisions, routing policy.Decisions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	statsData, err := stats.MarshalSnapshot(snap)
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}
	decisionData, err := encodeDecisions(decisions)
	if err != nil {
		return fmt.Errorf("failed to encode decisions: %w", err)
	}
	routingData, err := encodeDecisions(routing)
	if err != nil {
		return fmt.Errorf("failed to encode routing: %w", err)
	}

	if err := s.writeAtomic(StatsFile, statsData); err != nil {
		return err
	}
	if err := s.writeAtomic(DecisionsFile, decisionData); err != nil {
		return err
	}
	return s.writeAtomic(RoutingFile, routingData)
}

func encodeDecisions(d policy.Decisions) ([]byte, error) {
	if d == nil {
		d = policy.Decisions{}
	}
	return json.MarshalIndent(d, "", "  ")
}

func (s *FileStore) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

// LoadStats reads the stats snapshot. found is false when no file exists.
func (s *FileStore) LoadStats() (snap stats.Snapshot, found bool, err error) {
	data, found, err := s.read(StatsFile)
	if err != nil || !found {
		return stats.Snapshot{}, found, err
	}
	snap, err = stats.ParseSnapshot(data)
	if err != nil {
		return stats.Snapshot{}, true, err
	}
	return snap, true, nil
}

// LoadDecisions reads the policy's decision memory. found is false when no
// file exists.
func (s *FileStore) LoadDecisions() (policy.Decisions, bool, error) {
	return s.loadDecisions(DecisionsFile)
}

// LoadRouting reads the router's placement memory. found is false when no
// file exists, as in state directories written before it was kept apart.
func (s *FileStore) LoadRouting() (policy.Decisions, bool, error) {
	return s.loadDecisions(RoutingFile)
}

func (s *FileStore) loadDecisions(name string) (policy.Decisions, bool, error) {
	data, found, err := s.read(name)
	if err != nil || !found {
		return nil, found, err
	}
	var d policy.Decisions
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, true, fmt.Errorf("parse %s: %w", name, err)
	}
	if d == nil {
		d = policy.Decisions{}
	}
	return d, true, nil
}

func (s *FileStore) read(name string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, true, nil
}

// Clear removes every state file. Missing files are not an error.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range []string{StatsFile, DecisionsFile, RoutingFile} {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}
