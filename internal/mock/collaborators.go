package mock

import (
	"context"
	"sync"

	"trend_trader/internal/core"
)

// MockGate implements core.EntitlementGate with a switchable answer.
type MockGate struct {
	mu     sync.Mutex
	active bool
	err    error
	Calls  int
}

// NewMockGate returns a gate answering active.
func NewMockGate(active bool) *MockGate {
	return &MockGate{active: active}
}

// SetActive flips the answer for subsequent calls.
func (g *MockGate) SetActive(active bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = active
}

// SetErr makes subsequent calls fail.
func (g *MockGate) SetErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

func (g *MockGate) IsActive(_ context.Context, _ string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Calls++
	if g.err != nil {
		return false, g.err
	}
	return g.active, nil
}

// MockLedger implements core.TradeLedger, collecting records in memory.
type MockLedger struct {
	mu      sync.Mutex
	records []core.TradeRecord
}

// NewMockLedger returns an empty ledger.
func NewMockLedger() *MockLedger {
	return &MockLedger{}
}

func (l *MockLedger) RecordTrade(_ context.Context, _ string, trade core.TradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, trade)
	return nil
}

// Records returns a copy of everything recorded so far.
func (l *MockLedger) Records() []core.TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]core.TradeRecord, len(l.records))
	copy(out, l.records)
	return out
}

// MockStream implements core.CandleStream over a channel the test pushes
// into.
type MockStream struct {
	ch      chan core.Candle
	mu      sync.Mutex
	started bool
	stopped bool
}

// NewMockStream returns a stream with a small buffer.
func NewMockStream() *MockStream {
	return &MockStream{ch: make(chan core.Candle, 16)}
}

func (s *MockStream) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *MockStream) Candles() <-chan core.Candle {
	return s.ch
}

func (s *MockStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.ch)
}

// Push delivers one candle to the engine. No-op after Stop.
func (s *MockStream) Push(c core.Candle) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if !stopped {
		s.ch <- c
	}
}

// Started reports whether Start was called.
func (s *MockStream) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

var (
	_ core.EntitlementGate = (*MockGate)(nil)
	_ core.TradeLedger     = (*MockLedger)(nil)
	_ core.CandleStream    = (*MockStream)(nil)
)
