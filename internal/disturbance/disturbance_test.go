package disturbance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/nonwoven-sim/internal/simerr"
	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

func TestStepBeforeResetIsNotReady(t *testing.T) {
	m := NewManager(Config{Disturbances: vars.Values{"temperature": 20}}, nil)
	_, err := m.Step()
	require.ErrorIs(t, err, simerr.ErrNotReady)
}

func TestResetRestoresInitialSnapshot(t *testing.T) {
	cfg := Config{Disturbances: vars.Values{"temperature": 20, "humidity": 0.4}}
	m := NewManager(cfg, nil)

	d := m.Reset()
	assert.Equal(t, vars.Values{"temperature": 20, "humidity": 0.4}, d)

	require.NoError(t, m.SetDisturbance("temperature", 99))
	d, err := m.Step()
	require.NoError(t, err)
	assert.Equal(t, 99.0, d["temperature"])

	d = m.Reset()
	assert.Equal(t, 20.0, d["temperature"])
}

func TestReturnedMappingsAreCopies(t *testing.T) {
	cfg := Config{Disturbances: vars.Values{"temperature": 20}}
	m := NewManager(cfg, nil)
	cfg.Disturbances["temperature"] = -1

	d := m.Reset()
	d["temperature"] = 5

	again, err := m.Step()
	require.NoError(t, err)
	assert.Equal(t, 20.0, again["temperature"])
}

func TestSetUnknownDisturbance(t *testing.T) {
	m := NewManager(Config{Disturbances: vars.Values{"temperature": 20}}, nil)
	m.Reset()
	require.ErrorIs(t, m.SetDisturbance("pressure", 1), simerr.ErrConfiguration)
}

func TestCloseMarksNotReady(t *testing.T) {
	m := NewManager(Config{Disturbances: vars.Values{"temperature": 20}}, nil)
	m.Reset()
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	_, err := m.Step()
	require.ErrorIs(t, err, simerr.ErrNotReady)
}
