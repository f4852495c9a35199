// Package sensors collects host readings for the telemetry sensor slots.
package sensors

import "sync"

// Slot names filled by the built-in pollers.
const (
	SlotCPULoad        = "cpu_load"
	SlotSoCTemperature = "soc_temperature"
	SlotWifiLink       = "wifi_link"
	SlotWifiRSSI       = "wifi_rssi"
)

// Store holds the latest value of every named slot. Safe for concurrent
// use.
type Store struct {
	mu     sync.RWMutex
	values map[string]float64
}

func NewStore() *Store {
	return &Store{values: make(map[string]float64)}
}

func (s *Store) Set(name string, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = v
}

// Values returns a copy of all slot values.
func (s *Store) Values() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]float64, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}
