package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCPPI(t *testing.T) {
	assert.InDelta(t, 50000.0, CPPI(0, 100000, 0.1, 0.2), 1e-9)
	assert.InDelta(t, 25000.0, CPPI(-5000, 100000, 0.1, 0.2), 1e-9)
}

func TestTIPP(t *testing.T) {
	assert.InDelta(t, 50000.0, TIPP(0, 100000, 0.1, 0.2), 1e-9)
	assert.InDelta(t, 55000.0, TIPP(10000, 100000, 0.1, 0.2), 1e-9)
}

func TestRatio(t *testing.T) {
	assert.InDelta(t, 300.0, Ratio(1000, 0.3), 1e-9)
}

func TestParseKind(t *testing.T) {
	cases := map[string]struct {
		kind Kind
		ok   bool
	}{
		"cppi":    {KindCPPI, true},
		" TIPP ":  {KindTIPP, true},
		"ratio":   {KindRatio, true},
		"none":    {KindNone, true},
		"":        {KindNone, true},
		"convex":  {KindNone, false},
		"kelly!!": {KindNone, false},
	}
	for in, want := range cases {
		kind, ok := ParseKind(in)
		assert.Equal(t, want.kind, kind, in)
		assert.Equal(t, want.ok, ok, in)
	}
}

func TestManagerAllocated(t *testing.T) {
	state := State{PnL: 0, Balance: 1000, InitialBalance: 100000}

	m, err := NewManager(DefaultConfig(KindCPPI))
	require.NoError(t, err)
	allocated, ok := m.Allocated(state)
	require.True(t, ok)
	assert.InDelta(t, 50000.0, allocated, 1e-9)

	m, err = NewManager(DefaultConfig(KindRatio))
	require.NoError(t, err)
	allocated, ok = m.Allocated(state)
	require.True(t, ok)
	assert.InDelta(t, 300.0, allocated, 1e-9)

	m, err = NewManager(DefaultConfig(KindNone))
	require.NoError(t, err)
	_, ok = m.Allocated(state)
	assert.False(t, ok)

	var zero Manager
	assert.Equal(t, KindNone, zero.Kind())
}

func TestNewManagerRejectsBadParams(t *testing.T) {
	cfg := DefaultConfig(KindCPPI)
	cfg.MaxAssetDownside = 0
	_, err := NewManager(cfg)
	require.ErrorIs(t, err, ErrInvalidParams)

	cfg = DefaultConfig(KindRatio)
	cfg.Ratio = -1
	_, err = NewManager(cfg)
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestNewManagerUnknownKindFallsBackToNone(t *testing.T) {
	m, err := NewManager(Config{Kind: "martingale"})
	require.NoError(t, err)
	assert.Equal(t, KindNone, m.Kind())
}
