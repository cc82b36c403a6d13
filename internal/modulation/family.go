// Package modulation enumerates the PHY configurations under test and applies
// them to the radios.
//
// The configuration space is the concatenation of a list of families. Each
// family is the Cartesian product of its axes. A flat index in [0, Total())
// identifies exactly one configuration, and the mapping only depends on the
// family list, so the same index always yields the same configuration.
package modulation

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/m-lab/rangetest/internal/radio"
	"gopkg.in/yaml.v3"
)

// Setting is one value of an axis.
type Setting struct {
	Name  string `yaml:"name"`
	Value uint32 `yaml:"value"`
}

// Axis is one tunable parameter of a family.
type Axis struct {
	Name     string       `yaml:"name"`
	Option   radio.Option `yaml:"option"`
	Settings []Setting    `yaml:"settings"`
}

// Family is a modulation scheme with its own independent axes. PHY is the
// value of the coarse PHY mode selector that must be set before any of the
// family's axes. Seed, if set, replaces the default round-trip estimate of a
// cell that has no reply yet.
type Family struct {
	Name     string        `yaml:"name"`
	PHY      uint32        `yaml:"phy"`
	Disabled bool          `yaml:"disabled,omitempty"`
	Seed     time.Duration `yaml:"seed,omitempty"`
	Axes     []Axis        `yaml:"axes"`
}

// AxisCardinalities returns the number of settings of each axis, in
// declaration order.
func (f *Family) AxisCardinalities() []int {
	c := make([]int, len(f.Axes))
	for i := range f.Axes {
		c[i] = len(f.Axes[i].Settings)
	}
	return c
}

// Combinations returns the number of configurations in this family. A family
// without axes, or with an empty axis, has none.
func (f *Family) Combinations() int {
	if len(f.Axes) == 0 {
		return 0
	}
	n := 1
	for _, c := range f.AxisCardinalities() {
		n *= c
	}
	return n
}

func numbered(names ...string) []Setting {
	s := make([]Setting, len(names))
	for i, n := range names {
		s[i] = Setting{Name: n, Value: uint32(i)}
	}
	return s
}

// DefaultFamilies returns the families tested by default, in index order.
func DefaultFamilies() []Family {
	return []Family{
		{
			Name: "MR-O-QPSK",
			PHY:  radio.PHYMROQPSK,
			Axes: []Axis{
				{Name: "rate", Option: radio.OptionMROQPSKRate, Settings: numbered("0", "1", "2", "3")},
				{Name: "chip/s", Option: radio.OptionMROQPSKChips, Settings: []Setting{
					{Name: "100k", Value: 100},
					{Name: "200k", Value: 200},
					{Name: "1000k", Value: 1000},
					{Name: "2000k", Value: 2000},
				}},
			},
		},
		{
			Name: "O-QPSK",
			PHY:  radio.PHYOQPSK,
			Axes: []Axis{
				{Name: "rate", Option: radio.OptionOQPSKRate, Settings: numbered("legacy", "legacy HDR")},
			},
		},
		{
			Name: "MR-OFDM",
			PHY:  radio.PHYMROFDM,
			Axes: []Axis{
				{Name: "option", Option: radio.OptionMROFDMOption, Settings: []Setting{
					{Name: "1", Value: 1},
					{Name: "2", Value: 2},
					{Name: "3", Value: 3},
					{Name: "4", Value: 4},
				}},
				{Name: "MCS", Option: radio.OptionMROFDMMCS, Settings: numbered(
					"BPSK, ½ rate, 4x rep",
					"BPSK, ½ rate, 2x rep",
					"QPSK, ½ rate, 2x rep",
					"QPSK, ½ rate",
					"QPSK, ¾ rate",
					"16-QAM, ½ rate",
					"16-QAM, ¾ rate",
				)},
			},
		},
		{
			Name: "MR-FSK",
			PHY:  radio.PHYMRFSK,
			Axes: []Axis{
				{Name: "srate", Option: radio.OptionMRFSKSymbolRate, Settings: []Setting{
					{Name: "50 kHz", Value: 50},
					{Name: "100 kHz", Value: 100},
					{Name: "150 kHz", Value: 150},
					{Name: "200 kHz", Value: 200},
					{Name: "300 kHz", Value: 300},
					{Name: "400 kHz", Value: 400},
				}},
				// Modulation index in 1/64 units.
				{Name: "index", Option: radio.OptionMRFSKModulationIndex, Settings: []Setting{
					{Name: "3/8", Value: 24},
					{Name: "1/2", Value: 32},
					{Name: "3/4", Value: 48},
					{Name: "1", Value: 64},
					{Name: "5/4", Value: 80},
					{Name: "3/2", Value: 96},
					{Name: "7/4", Value: 112},
					{Name: "2", Value: 128},
				}},
				{Name: "order", Option: radio.OptionMRFSKModulationOrder, Settings: []Setting{
					{Name: "2-FSK", Value: 2},
					{Name: "4-FSK", Value: 4},
				}},
				{Name: "FEC", Option: radio.OptionMRFSKFEC, Settings: []Setting{
					{Name: "none", Value: radio.FECNone},
					{Name: "RSC", Value: radio.FECRSC},
					{Name: "NRNSC", Value: radio.FECNRNSC},
				}},
			},
		},
	}
}

type familyFile struct {
	Families []Family `yaml:"families"`
}

// LoadFamilies reads a YAML family descriptor file:
//
//	families:
//	  - name: MR-FSK
//	    phy: 6
//	    disabled: false
//	    seed: 300ms
//	    axes:
//	      - name: srate
//	        option: mr_fsk_srate
//	        settings:
//	          - {name: 50 kHz, value: 50}
//
// Family order in the file is the index order.
func LoadFamilies(r io.Reader) ([]Family, error) {
	var ff familyFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&ff); err != nil {
		return nil, fmt.Errorf("cannot parse family file: %w", err)
	}
	seen := map[string]bool{}
	for i := range ff.Families {
		f := &ff.Families[i]
		if f.Name == "" {
			return nil, fmt.Errorf("family #%d has no name", i)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("duplicate family %q", f.Name)
		}
		seen[f.Name] = true
		for _, a := range f.Axes {
			if a.Option == "" {
				return nil, fmt.Errorf("family %q: axis %q has no option", f.Name, a.Name)
			}
			if len(a.Settings) == 0 {
				return nil, fmt.Errorf("family %q: axis %q has no settings", f.Name, a.Name)
			}
			names := map[string]bool{}
			for _, st := range a.Settings {
				if names[st.Name] {
					return nil, fmt.Errorf("family %q: axis %q: duplicate setting %q",
						f.Name, a.Name, st.Name)
				}
				names[st.Name] = true
			}
		}
	}
	return ff.Families, nil
}

// FilterFamilies disables every family whose name is not in names. An empty
// list keeps all families. Matching is case-insensitive.
func FilterFamilies(families []Family, names []string) []Family {
	if len(names) == 0 {
		return families
	}
	out := make([]Family, len(families))
	copy(out, families)
	for i := range out {
		keep := false
		for _, n := range names {
			if strings.EqualFold(out[i].Name, n) {
				keep = true
				break
			}
		}
		if !keep {
			out[i].Disabled = true
		}
	}
	return out
}
