// Package transport links the robot to its control station servers over
// websockets.
package transport

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Receiver gets inbound frames and connection losses, keyed by server URL.
type Receiver interface {
	OnFrame(station string, data []byte, timestamp time.Time)
	OnDisconnect(station string)
}

// ProfileHandler receives a profile document pushed by a station.
type ProfileHandler func(station string, doc []byte)

type Manager struct {
	logger         *zap.Logger
	receiver       Receiver
	profileHandler ProfileHandler
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	login          *Login

	conns map[string]*conn
	order []string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(servers []string, version string, receiver Receiver, logger *zap.Logger) *Manager {
	hostname, _ := os.Hostname()

	m := &Manager{
		logger:         logger,
		receiver:       receiver,
		dialer:         &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		reconnectDelay: 2 * time.Second,
		login: &Login{
			Version:     version,
			Hostname:    hostname,
			ProcessTime: time.Now().UnixMilli(),
		},
		conns: make(map[string]*conn),
	}

	for _, url := range servers {
		if _, ok := m.conns[url]; ok {
			continue
		}
		m.conns[url] = &conn{
			url:     url,
			manager: m,
			logger:  logger,
			send:    make(chan []byte, sendBufferSize),
		}
		m.order = append(m.order, url)
	}

	return m
}

// SetProfileHandler must be called before Start.
func (m *Manager) SetProfileHandler(h ProfileHandler) {
	m.profileHandler = h
}

func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	for _, url := range m.order {
		c := m.conns[url]
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			c.run(ctx)
		}()
	}

	m.logger.Info("Transport started", zap.Strings("servers", m.order))
}

func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("Transport stopped")
}

// SendTelemetry sends a telemetry frame to station, or to every server
// when station is empty.
func (m *Manager) SendTelemetry(station string, data []byte) {
	env := Envelope{Event: EventTelemetry, Timestamp: millis(time.Now()), Data: data}
	if station != "" {
		if c, ok := m.conns[station]; ok {
			c.enqueue(env)
		}
		return
	}
	for _, url := range m.order {
		m.conns[url].enqueue(env)
	}
}

func (m *Manager) SendTrace(message string, mandatory bool) {
	env := Envelope{Event: EventTrace, Timestamp: millis(time.Now()), Text: message, Mandatory: mandatory}
	for _, url := range m.order {
		m.conns[url].enqueue(env)
	}
}

func (m *Manager) Servers() []string {
	return append([]string(nil), m.order...)
}
