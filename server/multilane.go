package server

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethpir/statepir/metrics"
	"k8s.io/klog/v2"
)

// MultiLane is the registry of every lane this process serves, keyed by
// lane name rather than the teacher's uint64 epoch number — a string is
// the natural identity for a PIR lane ("mainnet-storage",
// "mainnet-balances"), where the teacher's domain had a dense, ordered
// numeric epoch sequence. Generalized directly from multiepoch.go's
// MultiEpoch.
type MultiLane struct {
	mu    sync.RWMutex
	lanes map[string]*Lane
}

// NewMultiLane returns an empty lane registry.
func NewMultiLane() *MultiLane {
	return &MultiLane{lanes: make(map[string]*Lane)}
}

// Get returns the named lane, or LaneUnknown.
func (m *MultiLane) Get(name string) (*Lane, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lanes[name]
	if !ok {
		return nil, &LaneUnknown{Lane: name}
	}
	return l, nil
}

// Has reports whether name is currently served.
func (m *MultiLane) Has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.lanes[name]
	return ok
}

// Add registers a newly opened lane. Returns an error if the name is
// already taken (use ReplaceOrAdd for hot-reload).
func (m *MultiLane) Add(l *Lane) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lanes[l.Name()]; ok {
		return fmt.Errorf("server: lane %q already registered", l.Name())
	}
	m.lanes[l.Name()] = l
	metrics.LanesAvailable.WithLabelValues(l.Name()).Set(1)
	return nil
}

// ReplaceOrAdd swaps in l under its name, closing whatever lane (if any)
// previously held that name — the hot-reload path the serve command's
// config watcher drives when a lane config file is created or written.
func (m *MultiLane) ReplaceOrAdd(l *Lane) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.lanes[l.Name()]; ok {
		if err := old.Close(); err != nil {
			klog.Warningf("server: closing previous instance of lane %q: %v", l.Name(), err)
		}
	}
	m.lanes[l.Name()] = l
	metrics.LanesAvailable.WithLabelValues(l.Name()).Set(1)
	return nil
}

// Remove closes and unregisters the named lane.
func (m *MultiLane) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lanes[name]
	if !ok {
		return &LaneUnknown{Lane: name}
	}
	delete(m.lanes, name)
	metrics.LanesAvailable.WithLabelValues(name).Set(0)
	return l.Close()
}

// RemoveByConfigFilepath removes whichever lane was loaded from the given
// config file, for the fsnotify-driven config watcher.
func (m *MultiLane) RemoveByConfigFilepath(path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, l := range m.lanes {
		if l.Config().ConfigFilepath() == path {
			l.Close()
			delete(m.lanes, name)
			metrics.LanesAvailable.WithLabelValues(name).Set(0)
			return name, nil
		}
	}
	return "", fmt.Errorf("server: no lane loaded from config file %q", path)
}

// Names returns every registered lane's name, sorted for deterministic
// /health output.
func (m *MultiLane) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.lanes))
	for name := range m.lanes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every registered lane.
func (m *MultiLane) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	klog.Info("server: closing all lanes...")
	for _, l := range m.lanes {
		if err := l.Close(); err != nil {
			klog.Warningf("server: closing lane %q: %v", l.Name(), err)
		}
	}
	return nil
}
