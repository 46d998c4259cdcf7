package role

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := map[string]Role{
		"world":       World,
		"Worldserver": World,
		" auth ":      Auth,
		"authserver":  Auth,
		"manager":     Manager,
	}
	for in, want := range cases {
		got, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := Parse("realm")
	assert.Error(t, err)
}

func TestIsServer(t *testing.T) {
	assert.True(t, World.IsServer())
	assert.True(t, Auth.IsServer())
	assert.False(t, Manager.IsServer())
}

func TestCapabilities(t *testing.T) {
	w := CapabilitiesFor(World)
	assert.True(t, w.Stdin)
	assert.True(t, w.RestartCommand)
	a := CapabilitiesFor(Auth)
	assert.False(t, a.Stdin)
	assert.False(t, a.RestartCommand)
}

func TestClassifyDefaults(t *testing.T) {
	c := DefaultExitCodes()
	assert.Equal(t, ExitShutdown, c.Classify(0))
	assert.Equal(t, ExitCrash, c.Classify(1))
	assert.Equal(t, ExitRestart, c.Classify(2))
	assert.Equal(t, ExitUnrecognized, c.Classify(3))
	assert.Equal(t, ExitUnrecognized, c.Classify(-1))
}

func TestClassifyCustom(t *testing.T) {
	c := ExitCodes{Shutdown: 0, Crash: 10, Restart: 20}
	assert.Equal(t, ExitCrash, c.Classify(10))
	assert.Equal(t, ExitRestart, c.Classify(20))
	assert.Equal(t, ExitUnrecognized, c.Classify(1))
}

func TestTextRoundTrip(t *testing.T) {
	var r Role
	require.NoError(t, r.UnmarshalText([]byte("auth")))
	assert.Equal(t, Auth, r)
	b, err := World.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "world", string(b))
}
