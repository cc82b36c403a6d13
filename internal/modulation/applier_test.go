package modulation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/m-lab/rangetest/internal/radio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type setCall struct {
	iface  int
	option radio.Option
	value  uint32
}

// fakeRadio records every write. Writes to a rejected interface fail, and
// the first busy writes of an option fail with radio.ErrBusy.
type fakeRadio struct {
	mu       sync.Mutex
	calls    []setCall
	reject   map[int]bool
	busy     map[radio.Option]int
	rejectAt map[radio.Option]bool
}

func (f *fakeRadio) Set(ctx context.Context, iface int, option radio.Option, value uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, setCall{iface, option, value})
	if f.busy[option] > 0 {
		f.busy[option]--
		return radio.ErrBusy
	}
	if f.reject[iface] || f.rejectAt[option] {
		return fmt.Errorf("%w: %s", radio.ErrRejected, option)
	}
	return nil
}

func (f *fakeRadio) callsFor(iface int) []setCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []setCall
	for _, c := range f.calls {
		if c.iface == iface {
			out = append(out, c)
		}
	}
	return out
}

func TestApplier_Apply(t *testing.T) {
	e := NewEnumerator(DefaultFamilies()...)
	r := &fakeRadio{}
	a := NewApplier(e, r, 2, RetryConfig{})

	errs := a.Apply(context.Background(), 0)
	require.Len(t, errs, 2)
	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Equal(t, []setCall{
		{0, radio.OptionPHY, radio.PHYMROQPSK},
		{0, radio.OptionMROQPSKRate, 0},
		{0, radio.OptionMROQPSKChips, 100},
	}, r.callsFor(0))

	// Same family: no PHY switch.
	r.calls = nil
	a.Apply(context.Background(), 1)
	assert.Equal(t, []setCall{
		{0, radio.OptionMROQPSKRate, 0},
		{0, radio.OptionMROQPSKChips, 200},
	}, r.callsFor(0))

	// First configuration of the next family switches the PHY.
	r.calls = nil
	a.Apply(context.Background(), 16)
	assert.Equal(t, []setCall{
		{1, radio.OptionPHY, radio.PHYOQPSK},
		{1, radio.OptionOQPSKRate, 0},
	}, r.callsFor(1))
}

func TestApplier_PHYOnFamilyChangeWithFiltering(t *testing.T) {
	// With the first two families disabled, index 0 is MR-OFDM and the PHY
	// must still be switched there and at the start of MR-FSK.
	e := NewEnumerator(FilterFamilies(DefaultFamilies(), []string{"MR-OFDM", "MR-FSK"})...)
	r := &fakeRadio{}
	a := NewApplier(e, r, 1, RetryConfig{})
	phySets := func() []uint32 {
		var v []uint32
		for _, c := range r.callsFor(0) {
			if c.option == radio.OptionPHY {
				v = append(v, c.value)
			}
		}
		return v
	}
	for i := 0; i < e.Total(); i++ {
		a.Apply(context.Background(), i)
	}
	assert.Equal(t, []uint32{radio.PHYMROFDM, radio.PHYMRFSK}, phySets())

	// A new sweep starts over and sets the PHY again even if the family of
	// index 0 matches the one last applied.
	r.calls = nil
	a.Prepare(context.Background())
	a.Apply(context.Background(), 28)
	a.Apply(context.Background(), 29)
	assert.Equal(t, []uint32{radio.PHYMRFSK}, phySets())
}

func TestApplier_PartialFailure(t *testing.T) {
	e := NewEnumerator(DefaultFamilies()...)
	r := &fakeRadio{reject: map[int]bool{1: true}}
	a := NewApplier(e, r, 3, RetryConfig{})

	errs := a.Apply(context.Background(), 46)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], radio.ErrRejected)
	assert.NoError(t, errs[2])
	// Interface 2 was fully configured: PHY plus four FSK axes.
	assert.Len(t, r.callsFor(2), 5)
	// Interface 1 stopped at the first rejected write.
	assert.Len(t, r.callsFor(1), 1)

	// The failed PHY switch is retried on the next configuration.
	r.reject = nil
	r.calls = nil
	errs = a.Apply(context.Background(), 47)
	assert.NoError(t, errs[1])
	assert.Equal(t, radio.OptionPHY, r.callsFor(1)[0].option)
	assert.NotEqual(t, radio.OptionPHY, r.callsFor(0)[0].option)
}

func TestApplier_RejectedAxis(t *testing.T) {
	e := NewEnumerator(DefaultFamilies()...)
	r := &fakeRadio{rejectAt: map[radio.Option]bool{radio.OptionMROFDMMCS: true}}
	a := NewApplier(e, r, 2, RetryConfig{})
	errs := a.Apply(context.Background(), 18)
	assert.ErrorIs(t, errs[0], radio.ErrRejected)
	assert.ErrorIs(t, errs[1], radio.ErrRejected)

	// The PHY switch succeeded, so it is not repeated.
	r.rejectAt = nil
	r.calls = nil
	errs = a.Apply(context.Background(), 19)
	assert.NoError(t, errs[0])
	assert.Len(t, r.callsFor(0), 2)
}

func TestApplier_BusyRetry(t *testing.T) {
	e := NewEnumerator(DefaultFamilies()...)

	// Two busy replies fit within three retries.
	r := &fakeRadio{busy: map[radio.Option]int{radio.OptionPHY: 2}}
	a := NewApplier(e, r, 1, RetryConfig{Attempts: 3, Interval: time.Millisecond})
	errs := a.Apply(context.Background(), 0)
	assert.NoError(t, errs[0])
	assert.Len(t, r.callsFor(0), 5)

	// Five busy replies do not.
	r = &fakeRadio{busy: map[radio.Option]int{radio.OptionPHY: 5}}
	a = NewApplier(e, r, 1, RetryConfig{Attempts: 3, Interval: time.Millisecond})
	errs = a.Apply(context.Background(), 0)
	assert.ErrorIs(t, errs[0], radio.ErrBusy)
	assert.Len(t, r.callsFor(0), 4)
}

func TestApplier_Prepare(t *testing.T) {
	e := NewEnumerator(DefaultFamilies()...)
	r := &fakeRadio{reject: map[int]bool{0: true}}
	a := NewApplier(e, r, 2, RetryConfig{})
	errs := a.Prepare(context.Background())
	assert.Error(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Equal(t, []setCall{{1, radio.OptionAckReq, 0}}, r.callsFor(1))
}
