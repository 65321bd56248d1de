package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Nomarcus/Snake-ML/go-trainer/internal/diskguard"
)

const documentFile = "checkpoint.json"

// Manager writes versioned checkpoint directories under a single root and
// maintains the latest/ and best/ pointer directories. Every visible state
// transition is an os.Rename, so a crash at any point leaves the previous
// pointers intact.
type Manager struct {
	dir   string
	guard *diskguard.Guard
}

// NewManager creates a manager rooted at dir. The guard prunes superseded
// checkpoints after each save; pass nil to disable pruning.
func NewManager(dir string, guard *diskguard.Guard) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint root: %w", err)
	}
	return &Manager{dir: dir, guard: guard}, nil
}

// #region save

// Save persists one checkpoint: serialize to a temp directory, rename it to
// its final timestamped name, then repoint latest/ (and best/ when IsBest).
// Returns the directory name of the new checkpoint.
func (m *Manager) Save(req SaveRequest) (string, error) {
	doc := Document{
		CreatedAt:    time.Now().UTC(),
		Version:      documentVersion,
		Agent:        req.Agent,
		RewardConfig: req.Rewards,
		Meta:         req.Meta,
		Reason:       req.Reason,
	}
	name := fmt.Sprintf("ckpt-%s-%s", doc.CreatedAt.Format("20060102T150405"), uuid.NewString()[:8])
	final := filepath.Join(m.dir, name)

	if err := m.writeDir(final, doc); err != nil {
		return "", err
	}
	if err := m.repoint("latest", doc); err != nil {
		return "", err
	}
	if req.IsBest {
		if err := m.repoint("best", doc); err != nil {
			return "", err
		}
	}
	if m.guard != nil {
		if err := m.guard.PruneCheckpoints(); err != nil {
			return "", fmt.Errorf("prune after save: %w", err)
		}
	}
	return name, nil
}

// writeDir materializes doc at path via temp-write plus rename. A partially
// written checkpoint is never visible under its final name.
func (m *Manager) writeDir(path string, doc Document) error {
	tmp := path + ".tmp"
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		os.RemoveAll(tmp)
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, documentFile), data, 0o644); err != nil {
		os.RemoveAll(tmp)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.RemoveAll(tmp)
		return fmt.Errorf("publish checkpoint: %w", err)
	}
	return nil
}

// repoint replaces a pointer directory with a fresh copy of doc. os.Rename
// cannot replace a non-empty directory, so the old pointer is renamed aside
// first and removed after the new one is in place.
func (m *Manager) repoint(pointer string, doc Document) error {
	target := filepath.Join(m.dir, pointer)
	staging := target + ".next"
	os.RemoveAll(staging)
	if err := m.writeDir(staging, doc); err != nil {
		return err
	}

	old := target + ".old"
	os.RemoveAll(old)
	if err := os.Rename(target, old); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("retire %s pointer: %w", pointer, err)
	}
	if err := os.Rename(staging, target); err != nil {
		// Put the previous pointer back before failing.
		os.Rename(old, target)
		return fmt.Errorf("repoint %s: %w", pointer, err)
	}
	if err := os.RemoveAll(old); err != nil {
		return fmt.Errorf("drop retired %s pointer: %w", pointer, err)
	}
	return nil
}

// #endregion save

// #region load

// LoadLatest reads the checkpoint behind the latest/ pointer.
func (m *Manager) LoadLatest() (*Document, error) {
	return m.load("latest")
}

// LoadBest reads the checkpoint behind the best/ pointer.
func (m *Manager) LoadBest() (*Document, error) {
	return m.load("best")
}

func (m *Manager) load(pointer string) (*Document, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, pointer, documentFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s checkpoint: %w", pointer, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s checkpoint: %w", pointer, err)
	}
	if doc.Version != documentVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", doc.Version)
	}
	return &doc, nil
}

// #endregion load
