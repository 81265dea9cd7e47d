package blkchan

import (
	"sync"

	"github.com/blkchan/go-blkchan/internal/wire"
)

// MockNotifier provides a mock implementation of Notifier for testing.
// It records every decoded control message and supports error injection.
type MockNotifier struct {
	mu sync.RWMutex

	added   []wire.DeviceAddOut
	removed []wire.DeviceRemoveOut
	resized []wire.SizeChangeOut

	// FailWith, when set, is returned from every notification
	FailWith error
}

// NewMockNotifier creates a new mock notifier.
// This is useful for unit testing applications that consume control
// messages from a channel.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// DeviceAdded implements the Notifier interface
func (m *MockNotifier) DeviceAdded(out wire.DeviceAddOut) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.added = append(m.added, out)
	return nil
}

// DeviceRemoved implements the Notifier interface
func (m *MockNotifier) DeviceRemoved(out wire.DeviceRemoveOut) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.removed = append(m.removed, out)
	return nil
}

// DeviceSizeChanged implements the Notifier interface
func (m *MockNotifier) DeviceSizeChanged(out wire.SizeChangeOut) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.resized = append(m.resized, out)
	return nil
}

// Testing utility methods

// Added returns the recorded device-add notifications
func (m *MockNotifier) Added() []wire.DeviceAddOut {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]wire.DeviceAddOut(nil), m.added...)
}

// Removed returns the recorded device-remove notifications
func (m *MockNotifier) Removed() []wire.DeviceRemoveOut {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]wire.DeviceRemoveOut(nil), m.removed...)
}

// Resized returns the recorded size-change notifications
func (m *MockNotifier) Resized() []wire.SizeChangeOut {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]wire.SizeChangeOut(nil), m.resized...)
}

// CallCounts returns the number of notifications recorded per kind
func (m *MockNotifier) CallCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int{
		"added":   len(m.added),
		"removed": len(m.removed),
		"resized": len(m.resized),
	}
}

// Reset clears all recorded notifications
func (m *MockNotifier) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added = nil
	m.removed = nil
	m.resized = nil
	m.FailWith = nil
}

// Compile-time interface check
var _ Notifier = (*MockNotifier)(nil)
