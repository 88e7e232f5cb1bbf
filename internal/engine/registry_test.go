package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trend_trader/internal/core"
	"trend_trader/internal/mock"
	"trend_trader/pkg/logging"
)

func newTestRegistry(t *testing.T) (*Registry, *mock.MockExchange, *mock.MockGate) {
	t.Helper()

	exch := mock.NewMockExchange(decimal.NewFromInt(100))
	exch.SetCandles(makeCandles(flatCloses(50)))
	gate := mock.NewMockGate(true)

	reg := NewRegistry(exch, gate, mock.NewMockLedger(), logging.NewNop())
	reg.SetStreamFactory(func(string, string, core.Logger) core.CandleStream {
		return mock.NewMockStream()
	})
	return reg, exch, gate
}

func TestRegistry_StartStatusStop(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	settings := testSettings()
	require.NoError(t, reg.StartEngine(context.Background(), settings))

	status, err := reg.Status(settings.AccountID)
	require.NoError(t, err)
	assert.True(t, status.IsRunning)

	require.NoError(t, reg.StopEngine(settings.AccountID))

	_, err = reg.Status(settings.AccountID)
	assert.Error(t, err)
}

func TestRegistry_StartValidatesSettings(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	bad := testSettings()
	bad.Leverage = 0
	assert.Error(t, reg.StartEngine(context.Background(), bad))
	assert.Empty(t, reg.Accounts())
}

func TestRegistry_DuplicateStartIsNoOp(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	settings := testSettings()
	require.NoError(t, reg.StartEngine(context.Background(), settings))
	require.NoError(t, reg.StartEngine(context.Background(), settings))
	assert.Len(t, reg.Accounts(), 1)

	reg.StopAll()
}

func TestRegistry_RejectsChangedSettingsWhileRunning(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	require.NoError(t, reg.StartEngine(context.Background(), testSettings()))
	defer reg.StopAll()

	changed := testSettings()
	changed.Leverage = 20
	err := reg.StartEngine(context.Background(), changed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "different settings")
}

func TestRegistry_RebuildsStoppedEngineWithNewSettings(t *testing.T) {
	reg, exch, gate := newTestRegistry(t)

	// First start fails and leaves an idle engine behind.
	gate.SetActive(false)
	require.Error(t, reg.StartEngine(context.Background(), testSettings()))
	gate.SetActive(true)

	changed := testSettings()
	changed.Leverage = 25
	require.NoError(t, reg.StartEngine(context.Background(), changed))
	defer reg.StopAll()

	// The new settings took effect rather than the originals.
	assert.Equal(t, 25, exch.Leverage())
}

func TestRegistry_StopUnknownAccount(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	assert.Error(t, reg.StopEngine("nobody"))
}

func TestRegistry_StopAll(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	a := testSettings()
	b := testSettings()
	b.AccountID = "acct-2"

	require.NoError(t, reg.StartEngine(context.Background(), a))
	require.NoError(t, reg.StartEngine(context.Background(), b))
	assert.Len(t, reg.Accounts(), 2)

	reg.StopAll()
	assert.Empty(t, reg.Accounts())
}
