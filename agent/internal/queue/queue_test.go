package queue

import (
	"path/filepath"
	"testing"
)

func TestPushDropsOldestWhenFull(t *testing.T) {
	q := New("", 2)
	_ = q.Push(Heartbeat{IdleSeconds: 1})
	_ = q.Push(Heartbeat{IdleSeconds: 2})
	_ = q.Push(Heartbeat{IdleSeconds: 3})

	drained, err := q.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(drained) != 2 {
		t.Fatalf("expected 2 items retained, got %d", len(drained))
	}
	if drained[0].IdleSeconds != 2 || drained[1].IdleSeconds != 3 {
		t.Fatalf("expected oldest item dropped, got %+v", drained)
	}
}

func TestDrainEmptiesQueue(t *testing.T) {
	q := New("", 10)
	_ = q.Push(Heartbeat{IdleSeconds: 1})

	if _, err := q.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue empty after drain, got %d", q.Len())
	}
}

func TestLoadPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.json")

	q, err := Load(path, 10)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := q.Push(Heartbeat{IdleSeconds: 42}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	reloaded, err := Load(path, 10)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Len() != 1 {
		t.Fatalf("expected 1 persisted item, got %d", reloaded.Len())
	}
}
