package budget

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/askdb/internal/db"
)

// --- Mocks ---

type mockKV struct {
	values  map[string]int64
	raw     map[string][]byte
	expires map[string]time.Duration
	incrErr error
}

func newMockKV() *mockKV {
	return &mockKV{values: map[string]int64{}, raw: map[string][]byte{}, expires: map[string]time.Duration{}}
}

func (m *mockKV) Get(_ context.Context, key string) ([]byte, error) {
	if b, ok := m.raw[key]; ok {
		return b, nil
	}
	return nil, db.ErrKeyNotFound
}

func (m *mockKV) IncrBy(_ context.Context, key string, val int64) (int64, error) {
	if m.incrErr != nil {
		return 0, m.incrErr
	}
	m.values[key] += val
	return m.values[key], nil
}

func (m *mockKV) Expire(_ context.Context, key string, ttl time.Duration, nx bool) error {
	if _, ok := m.expires[key]; ok && nx {
		return nil
	}
	m.expires[key] = ttl
	return nil
}

// --- Tests ---

func TestIncrBy_SetsTTLPerPeriod(t *testing.T) {
	kv := newMockKV()
	s := New(kv, 48*time.Hour, 62*24*time.Hour)
	ctx := context.Background()

	daily := "askdb:budget:llm:openai:daily:2026-10-15"
	monthly := "askdb:budget:llm:openai:monthly:2026-10"

	if err := s.IncrBy(ctx, daily, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.IncrBy(ctx, monthly, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kv.expires[daily] != 48*time.Hour {
		t.Errorf("expected daily ttl 48h, got %v", kv.expires[daily])
	}
	if kv.expires[monthly] != 62*24*time.Hour {
		t.Errorf("expected monthly ttl, got %v", kv.expires[monthly])
	}

	if err := s.IncrBy(ctx, daily, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kv.values[daily] != 15 {
		t.Errorf("expected 15, got %d", kv.values[daily])
	}
}

func TestIncrBy_Error(t *testing.T) {
	kv := newMockKV()
	kv.incrErr = errors.New("down")
	if err := New(kv, time.Hour, time.Hour).IncrBy(context.Background(), "k", 1); err == nil {
		t.Fatal("expected error")
	}
}

func TestGet(t *testing.T) {
	kv := newMockKV()
	kv.raw["present"] = []byte("42")
	kv.raw["garbage"] = []byte("x")
	s := New(kv, time.Hour, time.Hour)
	ctx := context.Background()

	if v, err := s.Get(ctx, "present"); err != nil || v != 42 {
		t.Errorf("got %d, %v; want 42", v, err)
	}
	if v, err := s.Get(ctx, "missing"); err != nil || v != 0 {
		t.Errorf("missing key must read as 0, got %d, %v", v, err)
	}
	if _, err := s.Get(ctx, "garbage"); err == nil {
		t.Error("expected parse error")
	}
}
