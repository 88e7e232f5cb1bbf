package engine

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"trend_trader/internal/alert"
	"trend_trader/internal/core"
)

// Registry owns one engine per account. It is the only place engines are
// created, so concurrent Start/Stop calls for the same account serialize
// here.
type Registry struct {
	exchange core.Exchange
	gate     core.EntitlementGate
	ledger   core.TradeLedger
	logger   core.Logger
	streams  StreamFactory
	alerts   *alert.Manager

	mu      sync.Mutex
	engines map[string]*Engine
}

// NewRegistry builds an empty registry sharing the given collaborators across
// all engines.
func NewRegistry(exchange core.Exchange, gate core.EntitlementGate, ledger core.TradeLedger, logger core.Logger) *Registry {
	return &Registry{
		exchange: exchange,
		gate:     gate,
		ledger:   ledger,
		logger:   logger,
		streams:  DefaultStreamFactory,
		engines:  make(map[string]*Engine),
	}
}

// SetStreamFactory overrides the candle stream source for engines created
// after the call.
func (r *Registry) SetStreamFactory(f StreamFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams = f
}

// SetAlertManager attaches a notification sink for engines created after the
// call.
func (r *Registry) SetAlertManager(m *alert.Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = m
}

// StartEngine creates and starts an engine for the account. Starting an
// account that already has a running engine with the same settings is a
// no-op. Changed settings are an error while the engine runs; a stopped
// engine is rebuilt with the new settings.
func (r *Registry) StartEngine(ctx context.Context, settings core.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	eng, exists := r.engines[settings.AccountID]
	if exists && !eng.settings.Equal(settings) {
		if eng.GetStatus().IsRunning {
			r.mu.Unlock()
			return fmt.Errorf("engine for account %q is running with different settings, stop it first", settings.AccountID)
		}
		exists = false
	}
	if !exists {
		eng = New(settings, r.exchange, r.gate, r.ledger, r.logger)
		eng.SetStreamFactory(r.streams)
		if r.alerts != nil {
			eng.SetAlertManager(r.alerts)
		}
		r.engines[settings.AccountID] = eng
	}
	r.mu.Unlock()

	return eng.Start(ctx)
}

// StopEngine stops and removes the account's engine. Unknown accounts are an
// error so callers notice typos.
func (r *Registry) StopEngine(accountID string) error {
	r.mu.Lock()
	eng, ok := r.engines[accountID]
	if ok {
		delete(r.engines, accountID)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("no engine for account %q", accountID)
	}
	eng.Stop()
	return nil
}

// Status returns the engine status for the account.
func (r *Registry) Status(accountID string) (core.EngineStatus, error) {
	r.mu.Lock()
	eng, ok := r.engines[accountID]
	r.mu.Unlock()

	if !ok {
		return core.EngineStatus{}, fmt.Errorf("no engine for account %q", accountID)
	}
	return eng.GetStatus(), nil
}

// Accounts lists the accounts with a registered engine.
func (r *Registry) Accounts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.engines))
	for id := range r.engines {
		out = append(out, id)
	}
	return out
}

// StopAll stops every engine concurrently and blocks until all are down.
func (r *Registry) StopAll() {
	r.mu.Lock()
	engines := make([]*Engine, 0, len(r.engines))
	for _, eng := range r.engines {
		engines = append(engines, eng)
	}
	r.engines = make(map[string]*Engine)
	r.mu.Unlock()

	var g errgroup.Group
	for _, eng := range engines {
		eng := eng
		g.Go(func() error {
			eng.Stop()
			return nil
		})
	}
	_ = g.Wait()
}
