package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu              sync.RWMutex
	publishedEvents []*AccountEvent
	publishedAlarms []*AlarmEvent
	publishError    error
	alarmError      error
	closed          bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		publishedEvents: make([]*AccountEvent, 0),
		publishedAlarms: make([]*AlarmEvent, 0),
	}
}

// PublishAccountEvent records the event and returns any configured error.
func (m *MockPublisher) PublishAccountEvent(ctx context.Context, event *AccountEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.publishedEvents = append(m.publishedEvents, event)
	return nil
}

// PublishAlarm records the alarm and returns any configured error.
func (m *MockPublisher) PublishAlarm(ctx context.Context, event *AlarmEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.alarmError != nil {
		return m.alarmError
	}

	m.publishedAlarms = append(m.publishedAlarms, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns all published account events (for testing).
func (m *MockPublisher) GetPublishedEvents() []*AccountEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy to avoid race conditions
	events := make([]*AccountEvent, len(m.publishedEvents))
	copy(events, m.publishedEvents)
	return events
}

// GetPublishedAlarms returns all published alarms (for testing).
func (m *MockPublisher) GetPublishedAlarms() []*AlarmEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	alarms := make([]*AlarmEvent, len(m.publishedAlarms))
	copy(alarms, m.publishedAlarms)
	return alarms
}

// GetPublishedEventsForAddress returns events published for a specific address.
func (m *MockPublisher) GetPublishedEventsForAddress(address string) []*AccountEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*AccountEvent, 0)
	for _, event := range m.publishedEvents {
		if event.Address == address {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishError configures the mock to return an error on PublishAccountEvent.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// SetAlarmError configures the mock to return an error on PublishAlarm.
func (m *MockPublisher) SetAlarmError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alarmError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishedEvents = make([]*AccountEvent, 0)
	m.publishedAlarms = make([]*AlarmEvent, 0)
	m.publishError = nil
	m.alarmError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
