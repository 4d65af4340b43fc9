package proxyset

import (
	"context"
	"sync"
	"testing"

	"github.com/use-agent/chronicle/capture"
)

func newTestPoint(label string) *pointState {
	return &pointState{
		cfg:     VantagePoint{Label: label, Method: MethodDirect},
		sem:     make(chan struct{}, 1),
		backoff: capture.NewBackoff(),
	}
}

func TestSetOnlineOnlyFiresOnTransition(t *testing.T) {
	m := NewManager(1, nil)
	ps := newTestPoint("us")
	m.points["us"] = ps

	var mu sync.Mutex
	var events []Status
	m.OnStatusChange = func(s Status) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, s)
	}

	m.setOnline(ps, true)
	m.setOnline(ps, true) // no-op, already online
	m.setOnline(ps, false)

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("got %d status events, want 2 (one per actual transition): %+v", len(events), events)
	}
	if !events[0].Online || events[1].Online {
		t.Errorf("events = %+v, want [online=true, online=false]", events)
	}
}

func TestReportFailureMarksOffline(t *testing.T) {
	m := NewManager(1, nil)
	ps := newTestPoint("us")
	m.points["us"] = ps
	ps.online.Store(true)

	m.ReportFailure("us")
	if ps.online.Load() {
		t.Error("expected ReportFailure to mark the vantage point offline")
	}
}

func TestReportFailureOnUnknownLabelIsNoop(t *testing.T) {
	m := NewManager(1, nil)
	m.ReportFailure("does-not-exist") // must not panic
}

func TestCaptureRejectsUnknownVantagePoint(t *testing.T) {
	m := NewManager(1, nil)
	if _, err := m.Capture(context.Background(), "missing", "http://example.org/"); err == nil {
		t.Fatal("expected an error for an unconfigured vantage point")
	}
}

func TestCaptureRejectsOfflineVantagePoint(t *testing.T) {
	m := NewManager(1, nil)
	ps := newTestPoint("us")
	m.points["us"] = ps
	ps.online.Store(false)

	if _, err := m.Capture(context.Background(), "us", "http://example.org/"); err == nil {
		t.Fatal("expected an error for an offline vantage point")
	}
}
