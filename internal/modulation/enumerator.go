package modulation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/m-lab/rangetest/internal/radio"
)

var (
	// ErrUnknownFamily is returned by IndexOf for a family that is not
	// part of the enumeration.
	ErrUnknownFamily = errors.New("unknown family")
	// ErrUnknownSetting is returned by IndexOf for a parameter that does
	// not match any setting of its axis.
	ErrUnknownSetting = errors.New("unknown setting")
)

// Param is one (axis, setting) pair of a Configuration.
type Param struct {
	Axis    string
	Option  radio.Option
	Setting Setting
}

// Configuration is one point of the PHY parameter space.
type Configuration struct {
	// Index is the flat index of this configuration.
	Index int
	// Family is the family name.
	Family string
	// FamilyIndex is the position of the family in the enumeration.
	FamilyIndex int
	// PHY is the family's PHY mode selector value.
	PHY uint32
	// Params holds one entry per axis, in axis order.
	Params []Param
	// Label is a human-readable description.
	Label string
}

// Enumerator maps flat indexes to configurations.
type Enumerator struct {
	families []Family
	offsets  []int
	total    int
}

// NewEnumerator returns an Enumerator over the enabled families with at least
// one combination, in the order given.
func NewEnumerator(families ...Family) *Enumerator {
	e := &Enumerator{}
	for _, f := range families {
		if f.Disabled || f.Combinations() == 0 {
			continue
		}
		e.families = append(e.families, f)
		e.offsets = append(e.offsets, e.total)
		e.total += f.Combinations()
	}
	return e
}

// Total returns the number of configurations.
func (e *Enumerator) Total() int {
	return e.total
}

// Families returns the enumerated families, in index order.
func (e *Enumerator) Families() []Family {
	return e.families
}

// Describe returns the configuration at index i. The index is always
// produced by the scheduler, so an out of range index is a bug and panics.
func (e *Enumerator) Describe(i int) Configuration {
	if i < 0 || i >= e.total {
		panic(fmt.Sprintf("modulation: index %d out of range [0, %d)", i, e.total))
	}
	fi := e.family(i)
	f := &e.families[fi]
	local := i - e.offsets[fi]

	// The first axis is the outermost loop, so decompose starting from the
	// last one.
	params := make([]Param, len(f.Axes))
	for a := len(f.Axes) - 1; a >= 0; a-- {
		n := len(f.Axes[a].Settings)
		params[a] = Param{
			Axis:    f.Axes[a].Name,
			Option:  f.Axes[a].Option,
			Setting: f.Axes[a].Settings[local%n],
		}
		local /= n
	}
	return Configuration{
		Index:       i,
		Family:      f.Name,
		FamilyIndex: fi,
		PHY:         f.PHY,
		Params:      params,
		Label:       label(f.Name, params),
	}
}

// IndexOf returns the index of c, looking only at its family name and the
// setting names of its parameters.
func (e *Enumerator) IndexOf(c Configuration) (int, error) {
	for fi := range e.families {
		f := &e.families[fi]
		if f.Name != c.Family {
			continue
		}
		if len(c.Params) != len(f.Axes) {
			return 0, fmt.Errorf("%w: %s has %d axes, got %d params",
				ErrUnknownSetting, f.Name, len(f.Axes), len(c.Params))
		}
		local := 0
		for a := range f.Axes {
			pos := -1
			for s, setting := range f.Axes[a].Settings {
				if setting.Name == c.Params[a].Setting.Name {
					pos = s
					break
				}
			}
			if pos < 0 {
				return 0, fmt.Errorf("%w: %s %s = %s", ErrUnknownSetting,
					f.Name, f.Axes[a].Name, c.Params[a].Setting.Name)
			}
			local = local*len(f.Axes[a].Settings) + pos
		}
		return e.offsets[fi] + local, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFamily, c.Family)
}

func (e *Enumerator) family(i int) int {
	fi := len(e.offsets) - 1
	for fi > 0 && e.offsets[fi] > i {
		fi--
	}
	return fi
}

// Seed returns the initial round-trip estimate of a cell of the configuration
// at index i. Families without a seed use fallback.
func (e *Enumerator) Seed(i int, fallback time.Duration) time.Duration {
	if i >= 0 && i < e.total {
		if fs := e.families[e.family(i)].Seed; fs > 0 {
			return fs
		}
	}
	return fallback
}

// Label returns the label of the configuration at index i.
func (e *Enumerator) Label(i int) string {
	return e.Describe(i).Label
}

func label(family string, params []Param) string {
	var b strings.Builder
	b.WriteString(family)
	for i, p := range params {
		if i == 0 {
			b.WriteString(" ")
		} else {
			b.WriteString(", ")
		}
		b.WriteString(p.Axis)
		b.WriteString(" = ")
		b.WriteString(p.Setting.Name)
	}
	return b.String()
}
