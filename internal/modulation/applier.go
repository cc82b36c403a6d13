package modulation

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/charmbracelet/log"
	"github.com/m-lab/rangetest/internal/metrics"
	"github.com/m-lab/rangetest/internal/radio"
)

// RetryConfig bounds the retries of a parameter write that failed with
// radio.ErrBusy.
type RetryConfig struct {
	// Attempts is the number of retries after the first write.
	Attempts int
	// Interval is the delay between two attempts.
	Interval time.Duration
}

// Applier applies configurations to a fixed set of logical interfaces.
type Applier struct {
	enum   *Enumerator
	radio  radio.Configurator
	ifaces int
	retry  RetryConfig

	mu sync.Mutex
	// phy is the family index whose PHY mode was last set successfully on
	// each interface, or -1.
	phy []int
}

// NewApplier returns an Applier for interfaces [0, ifaces).
func NewApplier(e *Enumerator, c radio.Configurator, ifaces int, retry RetryConfig) *Applier {
	a := &Applier{
		enum:   e,
		radio:  c,
		ifaces: ifaces,
		retry:  retry,
		phy:    make([]int, ifaces),
	}
	a.resetPHY()
	return a
}

func (a *Applier) resetPHY() {
	for i := range a.phy {
		a.phy[i] = -1
	}
}

// Prepare readies every interface for a new sweep: link-layer ACK requests are
// disabled, since probes are broadcast, and the PHY mode will be set again by
// the next Apply. It returns one error per interface.
func (a *Applier) Prepare(ctx context.Context) []error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetPHY()
	errs := make([]error, a.ifaces)
	for iface := 0; iface < a.ifaces; iface++ {
		errs[iface] = a.set(ctx, iface, radio.OptionAckReq, 0)
	}
	return errs
}

// Apply configures every interface for the configuration at index. The PHY
// mode selector is written first whenever the family differs from the one
// last applied to that interface.
//
// The returned slice holds one entry per logical interface. A non-nil entry
// means the interface rejected a parameter and must not be trusted for this
// configuration. Other interfaces are configured regardless.
func (a *Applier) Apply(ctx context.Context, index int) []error {
	c := a.enum.Describe(index)

	a.mu.Lock()
	defer a.mu.Unlock()

	log.Info("set configuration", "index", index, "configuration", c.Label)
	errs := make([]error, a.ifaces)
	for iface := 0; iface < a.ifaces; iface++ {
		if a.phy[iface] != c.FamilyIndex {
			if err := a.set(ctx, iface, radio.OptionPHY, c.PHY); err != nil {
				errs[iface] = err
				a.phy[iface] = -1
				continue
			}
			a.phy[iface] = c.FamilyIndex
		}
		for _, p := range c.Params {
			if err := a.set(ctx, iface, p.Option, p.Setting.Value); err != nil {
				errs[iface] = err
				break
			}
		}
	}
	return errs
}

// set writes a single parameter, retrying while the device is busy.
func (a *Applier) set(ctx context.Context, iface int, option radio.Option, value uint32) error {
	// WithMaxRetries treats zero as unlimited.
	var policy backoff.BackOff = &backoff.StopBackOff{}
	if a.retry.Attempts > 0 {
		policy = backoff.WithMaxRetries(
			backoff.NewConstantBackOff(a.retry.Interval), uint64(a.retry.Attempts))
	}
	b := backoff.WithContext(policy, ctx)
	tries := 0
	err := backoff.Retry(func() error {
		if tries > 0 {
			metrics.RadioBusyRetries.Inc()
		}
		tries++
		err := a.radio.Set(ctx, iface, option, value)
		if err == nil || errors.Is(err, radio.ErrBusy) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
	if err != nil {
		log.Warn("failed setting radio parameter", "iface", iface, "option", option,
			"value", value, "tries", tries, "error", err)
		metrics.RadioRejections.WithLabelValues(strconv.Itoa(iface), string(option)).Inc()
	}
	return err
}
