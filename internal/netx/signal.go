package netx

import (
	"errors"

	"github.com/prometheus/procfs"
)

// ErrNoSignal is returned when no signal metrics are known for an interface.
var ErrNoSignal = errors.New("no signal metrics for interface")

// SignalSource reports the current received-signal metrics of an interface.
type SignalSource interface {
	Signal(iface string) (rssi int8, lqi uint8, err error)
}

// Wireless reads signal metrics from the Linux wireless statistics in
// net/wireless. The link quality is reported as LQI and the level as RSSI.
type Wireless struct {
	// Proc is the proc filesystem mount point. Defaults to /proc.
	Proc string
}

// Signal returns the metrics of iface.
func (w *Wireless) Signal(iface string) (int8, uint8, error) {
	mount := w.Proc
	if mount == "" {
		mount = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mount)
	if err != nil {
		return 0, 0, err
	}
	stats, err := fs.Wireless()
	if err != nil {
		return 0, 0, err
	}
	for _, s := range stats {
		if s.Name == iface {
			return int8(clamp(s.QualityLevel, -128, 127)), uint8(clamp(s.QualityLink, 0, 255)), nil
		}
	}
	return 0, 0, ErrNoSignal
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

// Static always reports the same metrics. It is used when the radio exposes
// no signal statistics.
type Static struct {
	RSSI int8
	LQI  uint8
}

// Signal returns the configured metrics.
func (s Static) Signal(string) (int8, uint8, error) {
	return s.RSSI, s.LQI, nil
}

var (
	_ SignalSource = &Wireless{}
	_ SignalSource = Static{}
)
