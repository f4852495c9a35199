package interfaces

import (
	"context"
	"errors"

	"github.com/efeuentertainment/vigiclient/internal/config"
	"github.com/efeuentertainment/vigiclient/internal/engine"
	"github.com/efeuentertainment/vigiclient/internal/session"
)

var ErrJournalDisabled = errors.New("session journal is disabled")

// SystemStatus represents the current system state
type SystemStatus struct {
	State       string   `json:"state"`
	Initialized bool     `json:"initialized"`
	Servers     []string `json:"servers"`
	LiveClients int      `json:"live_clients"`
	Journal     bool     `json:"journal"`
}

type LifecycleManager interface {
	Config() *config.Config
	Snapshot() *engine.Snapshot
	GetCurrentStatus() SystemStatus
	RecentEvents(ctx context.Context, limit int) ([]session.Event, error)
	ReloadProfile(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
