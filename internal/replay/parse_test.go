package replay

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"perpVault/internal/vault"
)

func TestParseTimestamp(t *testing.T) {
	got, err := ParseTimestamp("1767225600")
	if err != nil {
		t.Fatalf("unix: %v", err)
	}
	if !got.Equal(replayStart) {
		t.Fatalf("unix = %s", got)
	}
	got, err = ParseTimestamp("2026-01-01T00:00:00Z")
	if err != nil || !got.Equal(replayStart) {
		t.Fatalf("rfc3339 = %s, %v", got, err)
	}
	got, err = ParseTimestamp("  ")
	if err != nil || !got.IsZero() {
		t.Fatalf("blank = %s, %v", got, err)
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseAddresses(t *testing.T) {
	addrs, err := ParseAddresses([]string{lpAddr, " ", traderAddr})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(addrs) != 2 {
		t.Fatalf("expected 2 addresses, got %d", len(addrs))
	}
	if _, err := ParseAddresses([]string{"0x123"}); !errors.Is(err, vault.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestParseAmount(t *testing.T) {
	v, err := parseAmount("amount", "1.5", 6)
	if err != nil || v.Int64() != 1_500_000 {
		t.Fatalf("amount = %v, %v", v, err)
	}
	if _, err := parseAmount("amount", "", 6); !errors.Is(err, vault.ErrInvalidRequest) {
		t.Fatalf("missing amount should be invalid, got %v", err)
	}
	if _, err := parseAmount("amount", "0.0000001", 6); !errors.Is(err, vault.ErrInvalidRequest) {
		t.Fatalf("too many decimals should be invalid, got %v", err)
	}
	v, err = parseOptional("min_out", "", 6)
	if err != nil || v.Sign() != 0 {
		t.Fatalf("optional = %v, %v", v, err)
	}
}

func TestWithRetry(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), zap.NewNop(), "test", 3, time.Millisecond, nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("calls = %d, err = %v", calls, err)
	}

	calls = 0
	permanent := errors.New("permanent")
	err = withRetry(context.Background(), zap.NewNop(), "test", 3, time.Millisecond,
		func(err error) bool { return !errors.Is(err, permanent) },
		func(context.Context) error {
			calls++
			return permanent
		})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("calls = %d, err = %v", calls, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = withRetry(ctx, zap.NewNop(), "test", 3, time.Hour, nil, func(context.Context) error {
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestFileCheckpointStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "checkpoint.json")
	store := &FileCheckpointStore{Path: path}

	if _, ok, err := store.Load(ctx); err != nil || ok {
		t.Fatalf("missing checkpoint: ok=%v err=%v", ok, err)
	}

	env := newEnv(t)
	st, err := env.Engine.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := store.Save(ctx, Checkpoint{LastLine: 42, State: &st, Clock: replayStart}); err != nil {
		t.Fatalf("save: %v", err)
	}
	cp, err := ReadCheckpointFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if cp.LastLine != 42 || cp.State.Epoch.CurrentEpoch != 1 || !cp.Clock.Equal(replayStart) {
		t.Fatalf("unexpected checkpoint: %+v", cp)
	}
	if cp.UpdatedAt == "" {
		t.Fatalf("updated_at should be stamped")
	}
}

type memSnapshots map[string][]byte

func (m memSnapshots) LoadSnapshot(_ context.Context, name string) ([]byte, bool, error) {
	doc, ok := m[name]
	return doc, ok, nil
}

func (m memSnapshots) SaveSnapshot(_ context.Context, name string, doc []byte) error {
	m[name] = doc
	return nil
}

func TestDBCheckpointStore(t *testing.T) {
	ctx := context.Background()
	docs := memSnapshots{}
	store := &DBCheckpointStore{Store: docs, Name: "main"}

	env := newEnv(t)
	st, err := env.Engine.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := store.Save(ctx, Checkpoint{LastLine: 7, State: &st}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok := docs["main"]; !ok {
		t.Fatalf("document not stored under name")
	}
	cp, ok, err := store.Load(ctx)
	if err != nil || !ok || cp.LastLine != 7 {
		t.Fatalf("load: %+v ok=%v err=%v", cp, ok, err)
	}

	docs["main"] = []byte(`{"last_line":3}`)
	if _, _, err := store.Load(ctx); err == nil {
		t.Fatalf("checkpoint without state should fail")
	}
}
