// Package output writes finalized sweep records to files.
package output

import (
	"encoding/csv"
	"io"
	"strconv"
	"sync"

	"github.com/gocarina/gocsv"
	"github.com/m-lab/rangetest/internal/sweep"
	"github.com/m-lab/rangetest/pkg/rangetest/model"
)

// Invalid replaces every measured field of a cell whose configuration was
// rejected by the radio.
const Invalid = "INVALID"

// Separator is the CSV field separator.
const Separator = ';'

// row is the CSV representation of a model.Record. Measured fields are
// strings so that they can hold Invalid or be left empty.
type row struct {
	Configuration string `csv:"configuration"`
	Interface     string `csv:"iface"`
	Payload       int    `csv:"payload"`
	Sent          string `csv:"sent"`
	Received      string `csv:"received"`
	RSSILocal     string `csv:"rssi_local"`
	RSSIRemote    string `csv:"rssi_remote"`
	LQILocal      string `csv:"lqi_local"`
	LQIRemote     string `csv:"lqi_remote"`
	RoundTrip     string `csv:"rtt_us"`
	SuccessRate   string `csv:"success_pct"`
	Goodput       string `csv:"goodput_bps"`
	LinkRate      string `csv:"link_rate_bps"`
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func newRow(r model.Record, iface string) *row {
	out := &row{
		Configuration: r.Configuration,
		Interface:     iface,
		Payload:       r.PayloadSize,
	}
	if r.Invalid {
		for _, f := range []*string{&out.Sent, &out.Received, &out.RSSILocal,
			&out.RSSIRemote, &out.LQILocal, &out.LQIRemote, &out.RoundTrip,
			&out.SuccessRate, &out.Goodput, &out.LinkRate} {
			*f = Invalid
		}
		return out
	}
	out.Sent = strconv.Itoa(r.PacketsSent)
	out.Received = strconv.Itoa(r.PacketsReceived)
	out.SuccessRate = formatFloat(r.SuccessRate)
	out.Goodput = formatFloat(r.GoodputBps)
	if r.NoData {
		return out
	}
	out.RSSILocal = formatFloat(r.RSSILocal)
	out.RSSIRemote = formatFloat(r.RSSIRemote)
	out.LQILocal = formatFloat(r.LQILocal)
	out.LQIRemote = formatFloat(r.LQIRemote)
	out.RoundTrip = strconv.FormatInt(r.RoundTripMicros, 10)
	out.LinkRate = formatFloat(r.LinkRateBps)
	return out
}

// CSV is an Emitter writing one line per record. The header is written
// before the first record.
type CSV struct {
	ifaces []string

	mu      sync.Mutex
	w       *gocsv.SafeCSVWriter
	started bool
	err     error
}

// NewCSV returns a CSV emitter writing to w. ifaces maps logical interface
// indexes to the names written in the iface column.
func NewCSV(w io.Writer, ifaces []string) *CSV {
	cw := csv.NewWriter(w)
	cw.Comma = Separator
	return &CSV{
		ifaces: ifaces,
		w:      gocsv.NewSafeCSVWriter(cw),
	}
}

// OnRecord writes r.
func (c *CSV) OnRecord(r model.Record) {
	iface := strconv.Itoa(r.Interface)
	if r.Interface >= 0 && r.Interface < len(c.ifaces) {
		iface = c.ifaces[r.Interface]
	}
	rows := []*row{newRow(r, iface)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	if !c.started {
		c.err = gocsv.MarshalCSV(rows, c.w)
		c.started = true
		return
	}
	c.err = gocsv.MarshalCSVWithoutHeaders(rows, c.w)
}

// Err returns the first write error, if any.
func (c *CSV) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// The remaining events carry nothing to write.

func (c *CSV) OnHandshake(attempts int)                                   {}
func (c *CSV) OnStart(id string, configurations int, interfaces []string) {}
func (c *CSV) OnConfiguration(index int, label string)                    {}
func (c *CSV) OnError(err error)                                          {}
func (c *CSV) OnSummary(a *model.ArchivalData)                            {}
func (c *CSV) OnDebug(msg string)                                         {}

var _ sweep.Emitter = &CSV{}
