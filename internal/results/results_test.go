package results

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/m-lab/rangetest/pkg/rangetest/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func label(c int) string {
	return fmt.Sprintf("cfg%d", c)
}

func collect(s *Store) []model.Record {
	var out []model.Record
	for r := range s.Finalize(label) {
		out = append(out, r)
	}
	return out
}

func TestStore_SuccessRate(t *testing.T) {
	s := New(Config{Configurations: 1, PayloadSizes: []int{16}, Interfaces: 1})
	k := Key{0, 0}
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Begin(0, k, 200*time.Millisecond))
	}
	for i := 0; i < 7; i++ {
		require.NoError(t, s.Add(0, k, Sample{RoundTrip: 10 * time.Millisecond, RSSILocal: -60, RSSIRemote: -70}))
	}
	records := collect(s)
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, 10, r.PacketsSent)
	assert.Equal(t, 7, r.PacketsReceived)
	assert.Equal(t, 70.0, r.SuccessRate)
	assert.Equal(t, -60.0, r.RSSILocal)
	assert.Equal(t, -70.0, r.RSSIRemote)
	assert.Equal(t, int64(10000), r.RoundTripMicros)
	assert.False(t, r.NoData)
	assert.Equal(t, "cfg0", r.Configuration)
}

func TestStore_NoData(t *testing.T) {
	s := New(Config{Configurations: 1, PayloadSizes: []int{16}, Interfaces: 1, Period: time.Second})
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Begin(0, Key{0, 0}, time.Millisecond))
	}
	r := collect(s)[0]
	assert.True(t, r.NoData)
	assert.Equal(t, 3, r.PacketsSent)
	assert.Zero(t, r.SuccessRate)
	assert.Zero(t, r.RSSILocal)
	assert.Zero(t, r.GoodputBps)
	assert.Zero(t, r.LinkRateBps)
}

func TestStore_NeverSent(t *testing.T) {
	s := New(Config{Configurations: 2, PayloadSizes: []int{16}, Interfaces: 1})
	require.NoError(t, s.Begin(0, Key{0, 0}, time.Millisecond))
	records := collect(s)
	require.Len(t, records, 2)
	assert.True(t, records[1].NoData)
	assert.Zero(t, records[1].PacketsSent)
}

func TestStore_Timeout(t *testing.T) {
	s := New(Config{Configurations: 2, PayloadSizes: []int{16, 64}, Interfaces: 1})
	k := Key{1, 1}
	seed := 200 * time.Millisecond

	// No table and no estimate yet: the seed is used.
	assert.Equal(t, 220*time.Millisecond, s.Timeout(0, k, seed))

	require.NoError(t, s.Begin(0, k, seed))
	assert.Equal(t, 220*time.Millisecond, s.Timeout(0, k, seed))

	// The first sample replaces the seed.
	require.NoError(t, s.Add(0, k, Sample{RoundTrip: 40 * time.Millisecond}))
	assert.Equal(t, 44*time.Millisecond, s.Timeout(0, k, seed))

	// Later samples are averaged with the latest estimate.
	require.NoError(t, s.Add(0, k, Sample{RoundTrip: 20 * time.Millisecond}))
	assert.Equal(t, 33*time.Millisecond, s.Timeout(0, k, seed))

	// Another cell does not see this estimate.
	assert.Equal(t, 220*time.Millisecond, s.Timeout(0, Key{1, 0}, seed))

	// Begin does not reseed a cell with an estimate.
	require.NoError(t, s.Begin(0, k, seed))
	c, err := s.Cell(0, k)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Millisecond, c.RoundTrip)
}

func TestStore_FinalizeResetsEstimate(t *testing.T) {
	s := New(Config{Configurations: 1, PayloadSizes: []int{16}, Interfaces: 1})
	k := Key{0, 0}
	require.NoError(t, s.Begin(0, k, time.Second))
	require.NoError(t, s.Add(0, k, Sample{RoundTrip: 5 * time.Millisecond}))
	collect(s)

	// A new sweep must not reuse the previous sweep's estimate.
	assert.Equal(t, 110*time.Millisecond, s.Timeout(0, k, 100*time.Millisecond))
	c, err := s.Cell(0, k)
	require.NoError(t, err)
	assert.Equal(t, Cell{PayloadSize: 16}, c)
}

func TestStore_InvalidateIsolation(t *testing.T) {
	s := New(Config{Configurations: 2, PayloadSizes: []int{16, 64}, Interfaces: 2})
	for iface := 0; iface < 2; iface++ {
		for c := 0; c < 2; c++ {
			for p := 0; p < 2; p++ {
				require.NoError(t, s.Begin(iface, Key{c, p}, time.Millisecond))
				require.NoError(t, s.Add(iface, Key{c, p}, Sample{RoundTrip: time.Millisecond}))
			}
		}
	}
	require.NoError(t, s.Invalidate(1, 0))

	records := collect(s)
	require.Len(t, records, 8)
	for _, r := range records {
		want := r.Interface == 1 && r.ConfigurationIndex == 0
		assert.Equal(t, want, r.Invalid, "record %+v", r)
		if !r.Invalid {
			assert.Equal(t, 1, r.PacketsSent)
			assert.Equal(t, 100.0, r.SuccessRate)
		} else {
			assert.Zero(t, r.PacketsSent)
		}
	}
}

func TestStore_InvalidateBeforeFirstProbe(t *testing.T) {
	s := New(Config{Configurations: 1, PayloadSizes: []int{16}, Interfaces: 1})
	require.NoError(t, s.Invalidate(0, 0))
	records := collect(s)
	require.Len(t, records, 1)
	assert.True(t, records[0].Invalid)
}

func TestStore_FinalizeOrderAndCount(t *testing.T) {
	s := New(Config{Configurations: 2, PayloadSizes: []int{16, 64}, Interfaces: 1, Period: time.Second})
	for c := 0; c < 2; c++ {
		for p := 0; p < 2; p++ {
			require.NoError(t, s.Begin(0, Key{c, p}, time.Millisecond))
			require.NoError(t, s.Add(0, Key{c, p}, Sample{RoundTrip: 8 * time.Millisecond}))
		}
	}
	records := collect(s)
	require.Len(t, records, 4)
	want := []struct{ cfg, size int }{{0, 16}, {0, 64}, {1, 16}, {1, 64}}
	for i, r := range records {
		assert.Equal(t, want[i].cfg, r.ConfigurationIndex)
		assert.Equal(t, want[i].size, r.PayloadSize)
		assert.False(t, r.Invalid)
	}
	// One 16-byte frame answered in one second.
	assert.Equal(t, 128.0, records[0].GoodputBps)
	// 2*128 bits every 8ms.
	assert.InDelta(t, 32000.0, records[0].LinkRateBps, 1e-6)

	// The sequence can be stopped early.
	n := 0
	for range s.Finalize(label) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestStore_MaxCells(t *testing.T) {
	s := New(Config{Configurations: 10, PayloadSizes: []int{16, 64}, Interfaces: 2, MaxCells: 10})
	err := s.Begin(0, Key{0, 0}, time.Millisecond)
	assert.True(t, errors.Is(err, ErrUnavailable))
	// The failure is permanent.
	assert.ErrorIs(t, s.Add(0, Key{0, 0}, Sample{}), ErrUnavailable)
	assert.ErrorIs(t, s.Invalidate(0, 0), ErrUnavailable)
	assert.Equal(t, 11*time.Millisecond, s.Timeout(0, Key{0, 0}, 10*time.Millisecond))
	// Only the interface that never allocated its table is reported.
	records := collect(s)
	require.Len(t, records, 20)
	for _, r := range records {
		assert.Equal(t, 1, r.Interface)
	}

	// Out of range interfaces are unavailable too.
	assert.ErrorIs(t, s.Begin(2, Key{0, 0}, time.Millisecond), ErrUnavailable)
}

func TestStore_FinalizeInterfaceWithoutTable(t *testing.T) {
	s := New(Config{Configurations: 2, PayloadSizes: []int{16, 64}, Interfaces: 2, Period: time.Second})
	for c := 0; c < 2; c++ {
		for p := 0; p < 2; p++ {
			require.NoError(t, s.Begin(0, Key{c, p}, time.Millisecond))
		}
	}
	records := collect(s)
	require.Len(t, records, 8)
	perIface := map[int]int{}
	for _, r := range records {
		perIface[r.Interface]++
		if r.Interface == 1 {
			assert.True(t, r.NoData, "record %+v", r)
			assert.False(t, r.Invalid)
			assert.Zero(t, r.PacketsSent)
			assert.Zero(t, r.SuccessRate)
			assert.Equal(t, "cfg"+fmt.Sprint(r.ConfigurationIndex), r.Configuration)
		}
	}
	assert.Equal(t, map[int]int{0: 4, 1: 4}, perIface)
}
