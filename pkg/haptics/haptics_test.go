package haptics

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o644))
	}
}

func read(t *testing.T, dir, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(b)
}

func TestSysfsLED(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "duration", "activate")

	s := NewSysfs(dir, nil)
	require.True(t, s.HasVibrator())

	require.NoError(t, s.Vibrate(context.Background(), 100*time.Millisecond, DefaultAmplitude))
	assert.Equal(t, "100", read(t, dir, "duration"))
	assert.Equal(t, "1", read(t, dir, "activate"))

	require.NoError(t, s.Close())
	assert.Equal(t, "0", read(t, dir, "activate"))
}

func TestSysfsTimedOutput(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "enable", "amplitude")

	s := NewSysfs(dir, nil)
	require.True(t, s.HasVibrator())

	require.NoError(t, s.Vibrate(context.Background(), 250*time.Millisecond, 300))
	assert.Equal(t, "250", read(t, dir, "enable"))
	assert.Equal(t, "255", read(t, dir, "amplitude"))
}

func TestSysfsMissing(t *testing.T) {
	s := NewSysfs(t.TempDir(), nil)
	assert.False(t, s.HasVibrator())
	assert.ErrorIs(t, s.Vibrate(context.Background(), time.Second, DefaultAmplitude), ErrNoVibrator)
	assert.NoError(t, s.Close())
}

func TestNopAndMock(t *testing.T) {
	assert.False(t, Nop{}.HasVibrator())
	assert.ErrorIs(t, Nop{}.Vibrate(context.Background(), time.Second, 1), ErrNoVibrator)

	m := NewMock()
	require.NoError(t, m.Vibrate(context.Background(), 100*time.Millisecond, DefaultAmplitude))
	assert.Equal(t, []Pulse{{Duration: 100 * time.Millisecond, Amplitude: -1}}, m.Pulses())

	absent := &Mock{}
	assert.ErrorIs(t, absent.Vibrate(context.Background(), time.Second, 1), ErrNoVibrator)
	assert.Empty(t, absent.Pulses())
}
