package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"perpVault/internal/custody"
	"perpVault/internal/vault"
)

// Checkpoint is everything needed to resume a replay after LastLine.
type Checkpoint struct {
	LastLine   uint64         `json:"last_line"`
	State      *vault.State   `json:"state"`
	Custody    custody.Ledger `json:"custody"`
	Clock      time.Time      `json:"clock"`
	Price      *big.Int       `json:"price,omitempty"`
	Volatility *big.Int       `json:"volatility,omitempty"`
	UpdatedAt  string         `json:"updated_at"`
}

// CheckpointStore persists checkpoints.
type CheckpointStore interface {
	Load(ctx context.Context) (Checkpoint, bool, error)
	Save(ctx context.Context, cp Checkpoint) error
}

// FileCheckpointStore stores the checkpoint in a local JSON file. An empty
// path disables it.
type FileCheckpointStore struct {
	Path string
}

func (s *FileCheckpointStore) Load(ctx context.Context) (Checkpoint, bool, error) {
	if s == nil || s.Path == "" {
		return Checkpoint{}, false, nil
	}

	stat, err := os.Stat(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fmt.Errorf("stat checkpoint: %w", err)
	}
	if stat.IsDir() {
		return Checkpoint{}, false, fmt.Errorf("checkpoint path is a directory")
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}
	return decodeCheckpoint(data)
}

func (s *FileCheckpointStore) Save(ctx context.Context, cp Checkpoint) error {
	if s == nil || s.Path == "" {
		return nil
	}

	dir := filepath.Dir(s.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	data, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}

	tmpPath := s.Path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// SnapshotStore is a keyed document store such as the Postgres snapshot table.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context, name string) ([]byte, bool, error)
	SaveSnapshot(ctx context.Context, name string, doc []byte) error
}

// DBCheckpointStore stores the checkpoint as a named snapshot document.
type DBCheckpointStore struct {
	Store SnapshotStore
	Name  string
}

func (s *DBCheckpointStore) Load(ctx context.Context) (Checkpoint, bool, error) {
	if s == nil || s.Store == nil {
		return Checkpoint{}, false, nil
	}
	data, ok, err := s.Store.LoadSnapshot(ctx, s.Name)
	if err != nil || !ok {
		return Checkpoint{}, false, err
	}
	return decodeCheckpoint(data)
}

func (s *DBCheckpointStore) Save(ctx context.Context, cp Checkpoint) error {
	if s == nil || s.Store == nil {
		return nil
	}
	data, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}
	return s.Store.SaveSnapshot(ctx, s.Name, data)
}

// ReadCheckpointFile loads a checkpoint written by FileCheckpointStore.
func ReadCheckpointFile(path string) (Checkpoint, error) {
	store := &FileCheckpointStore{Path: path}
	cp, ok, err := store.Load(context.Background())
	if err != nil {
		return Checkpoint{}, err
	}
	if !ok {
		return Checkpoint{}, fmt.Errorf("checkpoint %s not found", path)
	}
	return cp, nil
}

func encodeCheckpoint(cp Checkpoint) ([]byte, error) {
	cp.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}
	return data, nil
}

func decodeCheckpoint(data []byte) (Checkpoint, bool, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("parse checkpoint: %w", err)
	}
	if cp.State == nil {
		return Checkpoint{}, false, fmt.Errorf("checkpoint has no state")
	}
	return cp, true, nil
}
