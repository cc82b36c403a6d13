// Package radio defines the key/value contract used to configure the PHY of a
// radio interface, and the implementations used by the rangetest binary.
package radio

import (
	"context"
	"errors"
	"strconv"
)

// Option is the name of a radio driver parameter.
type Option string

// Options understood by the radio driver helper.
const (
	OptionPHY    Option = "ieee802154_phy"
	OptionAckReq Option = "ack_req"

	OptionMROQPSKRate  Option = "mr_oqpsk_rate"
	OptionMROQPSKChips Option = "mr_oqpsk_chips"
	OptionOQPSKRate    Option = "oqpsk_rate"

	OptionMROFDMOption Option = "mr_ofdm_option"
	OptionMROFDMMCS    Option = "mr_ofdm_mcs"

	OptionMRFSKSymbolRate      Option = "mr_fsk_srate"
	OptionMRFSKModulationIndex Option = "mr_fsk_modulation_index"
	OptionMRFSKModulationOrder Option = "mr_fsk_modulation_order"
	OptionMRFSKFEC             Option = "mr_fsk_fec"
)

// Values of OptionPHY.
const (
	PHYOQPSK   uint32 = 3
	PHYMROQPSK uint32 = 4
	PHYMROFDM  uint32 = 5
	PHYMRFSK   uint32 = 6
)

// Values of OptionMRFSKFEC.
const (
	FECNone  uint32 = 0
	FECNRNSC uint32 = 1
	FECRSC   uint32 = 2
)

var (
	// ErrBusy is returned when the device cannot accept a parameter right
	// now. The write may be retried.
	ErrBusy = errors.New("device busy")
	// ErrRejected is returned when the device refuses a parameter.
	ErrRejected = errors.New("parameter rejected")
)

// Configurator sets a single driver parameter on a logical interface.
type Configurator interface {
	Set(ctx context.Context, iface int, option Option, value uint32) error
}

// FormatValue renders a parameter value the way the driver helper expects.
func FormatValue(v uint32) string {
	return strconv.FormatUint(uint64(v), 10)
}
