package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/efeuentertainment/vigiclient/internal/session"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const (
	journalBuffer = 256
	writeTimeout  = 2 * time.Second
)

// InsertEvent stores one session event.
func (p *PostgresClient) InsertEvent(ctx context.Context, ev session.Event) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO session_events (id, session_id, kind, station, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, ev.ID, ev.SessionID, string(ev.Kind), ev.Station, ev.Detail, ev.At)
	if err != nil {
		return fmt.Errorf("failed to insert session event: %w", err)
	}
	return nil
}

// RecentEvents returns the latest events, newest first.
func (p *PostgresClient) RecentEvents(ctx context.Context, limit int) ([]session.Event, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, session_id, kind, station, detail, occurred_at
		FROM session_events
		ORDER BY occurred_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query session events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (session.Event, error) {
		var ev session.Event
		var kind string
		if err := row.Scan(&ev.ID, &ev.SessionID, &kind, &ev.Station, &ev.Detail, &ev.At); err != nil {
			return ev, err
		}
		ev.Kind = session.EventKind(kind)
		return ev, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan session events: %w", err)
	}
	return events, nil
}

// EventStore is the persistence the journal writes to.
type EventStore interface {
	InsertEvent(ctx context.Context, ev session.Event) error
}

// Journal persists session events off the control loop. HandleEvent never
// blocks; events are dropped when the buffer is full.
type Journal struct {
	store  EventStore
	logger *zap.Logger
	events chan session.Event
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewJournal(store EventStore, logger *zap.Logger) *Journal {
	return &Journal{
		store:  store,
		logger: logger,
		events: make(chan session.Event, journalBuffer),
	}
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.writeLoop()
}

// Stop flushes buffered events and waits for the writer. Events handled
// after Stop are discarded.
func (j *Journal) Stop() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	close(j.events)
	j.mu.Unlock()

	j.wg.Wait()
}

func (j *Journal) HandleEvent(ev session.Event) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}

	select {
	case j.events <- ev:
	default:
		j.logger.Warn("Journal buffer full, event dropped",
			zap.String("kind", string(ev.Kind)))
	}
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()

	for ev := range j.events {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := j.store.InsertEvent(ctx, ev); err != nil {
			j.logger.Error("Failed to journal session event",
				zap.String("kind", string(ev.Kind)),
				zap.String("session_id", ev.SessionID.String()),
				zap.Error(err))
		}
		cancel()
	}
}
