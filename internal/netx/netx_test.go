package netx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveInterfaces(t *testing.T) {
	ifaces, err := ResolveInterfaces([]string{"lo"})
	if err != nil {
		t.Skipf("no loopback interface: %v", err)
	}
	assert.Equal(t, []string{"lo"}, Names(ifaces))

	_, err = ResolveInterfaces(nil)
	assert.Error(t, err)
	_, err = ResolveInterfaces([]string{"lo", "lo"})
	assert.ErrorContains(t, err, "duplicate")
	_, err = ResolveInterfaces([]string{"does-not-exist0"})
	assert.Error(t, err)
}

func TestWireless_Signal(t *testing.T) {
	w := &Wireless{Proc: "testdata/proc"}
	rssi, lqi, err := w.Signal("wlan0")
	require.NoError(t, err)
	assert.Equal(t, int8(-40), rssi)
	assert.Equal(t, uint8(70), lqi)

	rssi, lqi, err = w.Signal("wpan0")
	require.NoError(t, err)
	assert.Equal(t, int8(-97), rssi)
	assert.Equal(t, uint8(255), lqi)

	_, _, err = w.Signal("eth0")
	assert.ErrorIs(t, err, ErrNoSignal)
}

func TestWireless_SignalErrors(t *testing.T) {
	tests := []struct {
		name string
		proc string
	}{
		{"no-mount", "testdata/does-not-exist"},
		{"no-wireless", "testdata"},
		{"malformed", "testdata/malformed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &Wireless{Proc: tt.proc}
			_, _, err := w.Signal("wlan0")
			assert.Error(t, err)
			assert.NotErrorIs(t, err, ErrNoSignal)
		})
	}
}

func TestWireless_SignalClamp(t *testing.T) {
	w := &Wireless{Proc: "testdata/clamp"}
	rssi, lqi, err := w.Signal("x")
	require.NoError(t, err)
	assert.Equal(t, int8(-128), rssi)
	assert.Equal(t, uint8(255), lqi)
}

func TestPipe(t *testing.T) {
	a, b := NewPipe()
	b.SetSignal(Static{RSSI: -50, LQI: 200})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, a.Send(1, []byte("ping")))
	f, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Iface)
	assert.Equal(t, "ping", string(f.Data))
	assert.Equal(t, int8(-50), f.RSSI)
	assert.Equal(t, uint8(200), f.LQI)

	require.NoError(t, b.Reply(f, []byte("pong")))
	f, err = a.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Iface)
	assert.Equal(t, PipeAddr("b"), f.Src)

	a.SetDrop(func(b []byte) bool { return string(b) == "lost" })
	require.NoError(t, a.Send(0, []byte("lost")))
	require.NoError(t, a.Send(0, []byte("kept")))
	f, err = b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "kept", string(f.Data))

	b.Close()
	_, err = b.Receive(ctx)
	assert.True(t, errors.Is(err, ErrClosed))
	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	_, err = a.Receive(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
