package telem

import (
	"testing"
	"time"
)

func TestSampleBoundTrimsOldest(t *testing.T) {
	s := NewStore(Config{MaxSamples: 3})

	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.AddSample(Sample{Timestamp: base.Add(time.Duration(i) * time.Minute), Risk: float64(i) / 10})
	}

	got := s.Samples(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 retained samples, got %d", len(got))
	}
	if got[0].Risk != 0.2 || got[2].Risk != 0.4 {
		t.Fatalf("oldest samples should be dropped first: %+v", got)
	}
}

func TestSamplesLimit(t *testing.T) {
	s := NewStore(Config{})
	base := time.Now()
	for i := 0; i < 10; i++ {
		s.AddSample(Sample{Timestamp: base.Add(time.Duration(i) * time.Second)})
	}

	if got := s.Samples(4); len(got) != 4 {
		t.Fatalf("limit 4 returned %d samples", len(got))
	}
	if got := s.Samples(-1); len(got) != 10 {
		t.Fatalf("no limit returned %d samples, want 10", len(got))
	}
}

func TestEventBound(t *testing.T) {
	s := NewStore(Config{MaxEvents: 2})
	for i := 0; i < 4; i++ {
		s.AddEvent(Event{Timestamp: time.Now(), Type: "provider_error"})
	}
	if got := s.Events(0); len(got) != 2 {
		t.Fatalf("expected 2 retained events, got %d", len(got))
	}
}

func TestCleanupDropsExpired(t *testing.T) {
	s := NewStore(Config{RetentionHours: 1})

	old := time.Now().Add(-2 * time.Hour)
	fresh := time.Now()
	s.AddSample(Sample{Timestamp: old, Risk: 0.1})
	s.AddSample(Sample{Timestamp: fresh, Risk: 0.2})
	s.AddEvent(Event{Timestamp: old, Type: "stale"})
	s.AddEvent(Event{Timestamp: fresh, Type: "fresh"})

	s.Cleanup()

	samples := s.Samples(0)
	if len(samples) != 1 || samples[0].Risk != 0.2 {
		t.Fatalf("cleanup kept the wrong samples: %+v", samples)
	}
	events := s.Events(0)
	if len(events) != 1 || events[0].Type != "fresh" {
		t.Fatalf("cleanup kept the wrong events: %+v", events)
	}
}
