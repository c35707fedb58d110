// Package telem keeps a bounded in-memory history of computed risk samples
// and lifecycle events for the metrics layer and UI charts.
package telem

import (
	"sync"
	"time"
)

// Sample is one completed risk calculation.
type Sample struct {
	Timestamp  time.Time `json:"timestamp"`
	Risk       float64   `json:"risk"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
}

// Event is a notable engine occurrence (model transitions, provider
// failures) kept for display.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
}

// Store manages samples and events with bounded retention.
type Store struct {
	mu         sync.RWMutex
	samples    []Sample
	events     []Event
	maxSamples int
	maxEvents  int
	retention  time.Duration
}

// Config for the telemetry store.
type Config struct {
	MaxSamples     int `json:"max_samples"`
	MaxEvents      int `json:"max_events"`
	RetentionHours int `json:"retention_hours"`
}

// NewStore creates a telemetry store, applying defaults for zero values.
func NewStore(config Config) *Store {
	if config.MaxSamples <= 0 {
		config.MaxSamples = 1000
	}
	if config.MaxEvents <= 0 {
		config.MaxEvents = 200
	}
	if config.RetentionHours <= 0 {
		config.RetentionHours = 72
	}
	return &Store{
		samples:    make([]Sample, 0, config.MaxSamples),
		events:     make([]Event, 0, config.MaxEvents),
		maxSamples: config.MaxSamples,
		maxEvents:  config.MaxEvents,
		retention:  time.Duration(config.RetentionHours) * time.Hour,
	}
}

// AddSample stores a risk sample, trimming to the size bound.
func (s *Store) AddSample(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = append(s.samples, sample)
	if len(s.samples) > s.maxSamples {
		copy(s.samples, s.samples[len(s.samples)-s.maxSamples:])
		s.samples = s.samples[:s.maxSamples]
	}
}

// AddEvent stores an event, trimming to the size bound.
func (s *Store) AddEvent(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)
	if len(s.events) > s.maxEvents {
		copy(s.events, s.events[len(s.events)-s.maxEvents:])
		s.events = s.events[:s.maxEvents]
	}
}

// Samples returns the most recent samples, newest last. limit <= 0 returns
// everything.
func (s *Store) Samples(limit int) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit >= len(s.samples) {
		out := make([]Sample, len(s.samples))
		copy(out, s.samples)
		return out
	}
	out := make([]Sample, limit)
	copy(out, s.samples[len(s.samples)-limit:])
	return out
}

// Events returns the most recent events, newest last.
func (s *Store) Events(limit int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit >= len(s.events) {
		out := make([]Event, len(s.events))
		copy(out, s.events)
		return out
	}
	out := make([]Event, limit)
	copy(out, s.events[len(s.events)-limit:])
	return out
}

// Cleanup drops samples and events older than the retention window.
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.retention)

	keep := 0
	for i, sample := range s.samples {
		if sample.Timestamp.After(cutoff) {
			keep = i
			break
		}
		keep = i + 1
	}
	if keep > 0 {
		copy(s.samples, s.samples[keep:])
		s.samples = s.samples[:len(s.samples)-keep]
	}

	keep = 0
	for i, event := range s.events {
		if event.Timestamp.After(cutoff) {
			keep = i
			break
		}
		keep = i + 1
	}
	if keep > 0 {
		copy(s.events, s.events[keep:])
		s.events = s.events[:len(s.events)-keep]
	}
}
