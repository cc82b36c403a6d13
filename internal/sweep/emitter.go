package sweep

import (
	"fmt"

	"github.com/m-lab/rangetest/pkg/rangetest/model"
)

// Emitter is an interface for emitting results.
type Emitter interface {
	// OnHandshake is called when the clock synchronization succeeds.
	OnHandshake(attempts int)
	// OnStart is called when a sweep starts.
	OnStart(id string, configurations int, interfaces []string)
	// OnConfiguration is called when a new configuration is applied.
	OnConfiguration(index int, label string)
	// OnRecord is called for every finalized cell.
	OnRecord(r model.Record)
	// OnError is called on errors.
	OnError(err error)
	// OnSummary is called once a sweep has been finalized.
	OnSummary(a *model.ArchivalData)
	// OnDebug is called to print debug information.
	OnDebug(msg string)
}

// HumanReadable prints human-readable output to stdout.
// It can be configured to include debug output, too.
type HumanReadable struct {
	Debug bool
}

// OnHandshake prints the number of HELLOs needed.
func (HumanReadable) OnHandshake(attempts int) {
	fmt.Printf("Synchronized after %d HELLO(s)\n", attempts)
}

// OnStart prints the sweep ID and its size.
func (HumanReadable) OnStart(id string, configurations int, interfaces []string) {
	fmt.Printf("Starting sweep %s: %d configurations on %v\n", id, configurations, interfaces)
}

// OnConfiguration prints the configuration label.
func (HumanReadable) OnConfiguration(index int, label string) {
	fmt.Printf("[%d] %s\n", index, label)
}

// OnRecord prints one finalized cell.
func (HumanReadable) OnRecord(r model.Record) {
	switch {
	case r.Invalid:
		fmt.Printf("  iface %d, %d bytes: INVALID\n", r.Interface, r.PayloadSize)
	case r.NoData:
		fmt.Printf("  iface %d, %d bytes: sent %d, no reply\n",
			r.Interface, r.PayloadSize, r.PacketsSent)
	default:
		fmt.Printf("  iface %d, %d bytes: %d/%d (%.1f%%), rssi %.1f/%.1f, lqi %.1f/%.1f, rtt %.2fms, goodput %.2f kb/s\n",
			r.Interface, r.PayloadSize, r.PacketsReceived, r.PacketsSent, r.SuccessRate,
			r.RSSILocal, r.RSSIRemote, r.LQILocal, r.LQIRemote,
			float64(r.RoundTripMicros)/1000, r.GoodputBps/1e3)
	}
}

// OnError is called on errors.
func (HumanReadable) OnError(err error) {
	fmt.Println(err)
}

// OnSummary prints totals for the sweep.
func (HumanReadable) OnSummary(a *model.ArchivalData) {
	invalid, noData := 0, 0
	for _, r := range a.Records {
		if r.Invalid {
			invalid++
		} else if r.NoData {
			noData++
		}
	}
	fmt.Println()
	fmt.Printf("Sweep %s complete in %.1fs:\n", a.ID, a.EndTime.Sub(a.StartTime).Seconds())
	fmt.Printf("  %d cells, %d invalid, %d without replies\n", len(a.Records), invalid, noData)
}

// OnDebug is called to print debug information.
func (e HumanReadable) OnDebug(msg string) {
	if e.Debug {
		fmt.Printf("DEBUG: %s\n", msg)
	}
}

// Multi forwards every event to each of its emitters, in order.
type Multi []Emitter

func (m Multi) OnHandshake(attempts int) {
	for _, e := range m {
		e.OnHandshake(attempts)
	}
}

func (m Multi) OnStart(id string, configurations int, interfaces []string) {
	for _, e := range m {
		e.OnStart(id, configurations, interfaces)
	}
}

func (m Multi) OnConfiguration(index int, label string) {
	for _, e := range m {
		e.OnConfiguration(index, label)
	}
}

func (m Multi) OnRecord(r model.Record) {
	for _, e := range m {
		e.OnRecord(r)
	}
}

func (m Multi) OnError(err error) {
	for _, e := range m {
		e.OnError(err)
	}
}

func (m Multi) OnSummary(a *model.ArchivalData) {
	for _, e := range m {
		e.OnSummary(a)
	}
}

func (m Multi) OnDebug(msg string) {
	for _, e := range m {
		e.OnDebug(msg)
	}
}

// Checks that HumanReadable and Multi implement Emitter.
var (
	_ Emitter = &HumanReadable{}
	_ Emitter = Multi{}
)
