package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/efeuentertainment/vigiclient/internal/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type memoryStore struct {
	mu     sync.Mutex
	events []session.Event
	fail   bool
}

func (m *memoryStore) InsertEvent(ctx context.Context, ev session.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("connection refused")
	}
	m.events = append(m.events, ev)
	return nil
}

func TestJournalFlushesOnStop(t *testing.T) {
	store := &memoryStore{}
	j := NewJournal(store, zap.NewNop())
	j.Start()

	sid := uuid.New()
	at := time.Unix(1700000000, 0)
	j.HandleEvent(session.NewEvent(session.EventWake, sid, "ws://a", "", at))
	j.HandleEvent(session.NewEvent(session.EventSleep, sid, "ws://a", "disconnected", at))
	j.Stop()

	if len(store.events) != 2 {
		t.Fatalf("events = %d, want 2", len(store.events))
	}
	if store.events[1].Kind != session.EventSleep || store.events[1].Detail != "disconnected" {
		t.Errorf("event = %+v", store.events[1])
	}
}

func TestJournalLogsStoreErrors(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	j := NewJournal(&memoryStore{fail: true}, zap.New(core))
	j.Start()

	j.HandleEvent(session.NewEvent(session.EventFailsafeBegin, uuid.New(), "", "300ms", time.Now()))
	j.Stop()

	if logs.FilterMessage("Failed to journal session event").Len() != 1 {
		t.Error("store error not logged")
	}
}

func TestJournalDropsWhenFull(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	j := NewJournal(&memoryStore{}, zap.New(core))

	for i := 0; i < journalBuffer+1; i++ {
		j.HandleEvent(session.NewEvent(session.EventWake, uuid.Nil, "", "", time.Now()))
	}

	if logs.FilterMessage("Journal buffer full, event dropped").Len() != 1 {
		t.Error("drop not logged")
	}
}

func TestJournalIgnoresEventsAfterStop(t *testing.T) {
	store := &memoryStore{}
	j := NewJournal(store, zap.NewNop())
	j.Start()
	j.Stop()

	j.HandleEvent(session.NewEvent(session.EventSleep, uuid.New(), "", "shutdown", time.Now()))
	j.Stop()

	if len(store.events) != 0 {
		t.Errorf("events = %d, want 0", len(store.events))
	}
}
