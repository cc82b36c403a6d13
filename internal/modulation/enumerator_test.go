package modulation

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEnumerator_Total(t *testing.T) {
	e := NewEnumerator(DefaultFamilies()...)
	// 4x4 MR-O-QPSK, 2 legacy O-QPSK, 4x7 MR-OFDM, 6x8x2x3 MR-FSK.
	assert.Equal(t, 16+2+28+288, e.Total())

	sum := 0
	for _, f := range DefaultFamilies() {
		p := 1
		for _, c := range f.AxisCardinalities() {
			p *= c
		}
		sum += p
	}
	assert.Equal(t, sum, e.Total())

	// Describing configurations does not change the total.
	e.Describe(e.Total() - 1)
	e.Describe(0)
	assert.Equal(t, sum, e.Total())
}

func TestEnumerator_Describe(t *testing.T) {
	e := NewEnumerator(DefaultFamilies()...)
	tests := []struct {
		index  int
		family string
		label  string
	}{
		{0, "MR-O-QPSK", "MR-O-QPSK rate = 0, chip/s = 100k"},
		{5, "MR-O-QPSK", "MR-O-QPSK rate = 1, chip/s = 200k"},
		{16, "O-QPSK", "O-QPSK rate = legacy"},
		{17, "O-QPSK", "O-QPSK rate = legacy HDR"},
		{18, "MR-OFDM", "MR-OFDM option = 1, MCS = BPSK, ½ rate, 4x rep"},
		{45, "MR-OFDM", "MR-OFDM option = 4, MCS = 16-QAM, ¾ rate"},
		{46, "MR-FSK", "MR-FSK srate = 50 kHz, index = 3/8, order = 2-FSK, FEC = none"},
		{47, "MR-FSK", "MR-FSK srate = 50 kHz, index = 3/8, order = 2-FSK, FEC = RSC"},
		{49, "MR-FSK", "MR-FSK srate = 50 kHz, index = 3/8, order = 4-FSK, FEC = none"},
		{333, "MR-FSK", "MR-FSK srate = 400 kHz, index = 2, order = 4-FSK, FEC = NRNSC"},
	}
	for _, tt := range tests {
		c := e.Describe(tt.index)
		assert.Equal(t, tt.index, c.Index)
		assert.Equal(t, tt.family, c.Family)
		assert.Equal(t, tt.label, c.Label)
	}
}

func TestEnumerator_DescribeOutOfRange(t *testing.T) {
	e := NewEnumerator(DefaultFamilies()...)
	assert.Panics(t, func() { e.Describe(-1) })
	assert.Panics(t, func() { e.Describe(e.Total()) })
}

func TestEnumerator_Bijection(t *testing.T) {
	e := NewEnumerator(DefaultFamilies()...)
	rapid.Check(t, func(t *rapid.T) {
		i := rapid.IntRange(0, e.Total()-1).Draw(t, "i")
		got, err := e.IndexOf(e.Describe(i))
		if err != nil {
			t.Fatalf("IndexOf(Describe(%d)) error = %v", i, err)
		}
		if got != i {
			t.Fatalf("IndexOf(Describe(%d)) = %d", i, got)
		}
		// Re-deriving the same index yields the same configuration.
		if e.Describe(i).Label != NewEnumerator(DefaultFamilies()...).Describe(i).Label {
			t.Fatalf("Describe(%d) is not deterministic", i)
		}
	})
}

func TestEnumerator_Distinct(t *testing.T) {
	e := NewEnumerator(DefaultFamilies()...)
	seen := map[string]int{}
	for i := 0; i < e.Total(); i++ {
		c := e.Describe(i)
		var key strings.Builder
		key.WriteString(c.Family)
		for _, p := range c.Params {
			key.WriteString("|" + p.Axis + "=" + p.Setting.Name)
		}
		prev, dup := seen[key.String()]
		require.False(t, dup, "configurations %d and %d are identical", prev, i)
		seen[key.String()] = i
	}
}

func TestEnumerator_IndexOfErrors(t *testing.T) {
	e := NewEnumerator(DefaultFamilies()...)

	_, err := e.IndexOf(Configuration{Family: "LoRa"})
	assert.True(t, errors.Is(err, ErrUnknownFamily))

	c := e.Describe(20)
	c.Params[1].Setting.Name = "256-QAM"
	_, err = e.IndexOf(c)
	assert.True(t, errors.Is(err, ErrUnknownSetting))

	c = e.Describe(20)
	c.Params = c.Params[:1]
	_, err = e.IndexOf(c)
	assert.True(t, errors.Is(err, ErrUnknownSetting))
}

func TestNewEnumerator_SkipsDisabledAndEmpty(t *testing.T) {
	families := DefaultFamilies()
	families[0].Disabled = true
	families = append(families, Family{Name: "empty", Axes: []Axis{{Name: "x"}}})
	e := NewEnumerator(families...)
	assert.Equal(t, 2+28+288, e.Total())
	assert.Equal(t, "O-QPSK", e.Describe(0).Family)
	assert.Equal(t, 0, e.Describe(0).FamilyIndex)
	assert.Len(t, e.Families(), 3)
}

func TestFilterFamilies(t *testing.T) {
	f := FilterFamilies(DefaultFamilies(), []string{"mr-fsk", "O-QPSK"})
	e := NewEnumerator(f...)
	assert.Equal(t, 2+288, e.Total())
	// The input is not modified.
	assert.False(t, DefaultFamilies()[0].Disabled)
	assert.Equal(t, DefaultFamilies(), FilterFamilies(DefaultFamilies(), nil))
}

func TestLoadFamilies(t *testing.T) {
	const doc = `
families:
  - name: MR-FSK
    phy: 6
    seed: 300ms
    axes:
      - name: srate
        option: mr_fsk_srate
        settings:
          - {name: 50 kHz, value: 50}
          - {name: 100 kHz, value: 100}
      - name: FEC
        option: mr_fsk_fec
        settings:
          - {name: none, value: 0}
  - name: MR-OFDM
    phy: 5
    disabled: true
    axes:
      - name: option
        option: mr_ofdm_option
        settings:
          - {name: "1", value: 1}
`
	families, err := LoadFamilies(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, families, 2)
	assert.True(t, families[1].Disabled)

	e := NewEnumerator(families...)
	assert.Equal(t, 2, e.Total())
	c := e.Describe(1)
	assert.Equal(t, "MR-FSK srate = 100 kHz, FEC = none", c.Label)
	assert.Equal(t, uint32(100), c.Params[0].Setting.Value)
	assert.EqualValues(t, "mr_fsk_srate", c.Params[0].Option)
	assert.Equal(t, 300*time.Millisecond, families[0].Seed)
}

func TestEnumerator_Seed(t *testing.T) {
	families := DefaultFamilies()
	families[0].Seed = 50 * time.Millisecond
	e := NewEnumerator(families...)
	n := families[0].Combinations()

	tests := []struct {
		name  string
		index int
		want  time.Duration
	}{
		{"family-seed-first", 0, 50 * time.Millisecond},
		{"family-seed-last", n - 1, 50 * time.Millisecond},
		{"fallback", n, 200 * time.Millisecond},
		{"out-of-range", e.Total(), 200 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Seed(tt.index, 200*time.Millisecond))
		})
	}
}

func TestLoadFamilies_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"syntax", "families: [\n"},
		{"unknown-field", "families:\n  - name: a\n    color: red\n"},
		{"no-name", "families:\n  - phy: 1\n"},
		{"duplicate", "families:\n  - name: a\n  - name: a\n"},
		{"no-option", "families:\n  - name: a\n    axes:\n      - name: x\n"},
		{"no-settings", "families:\n  - name: a\n    axes:\n      - {name: x, option: mr_fsk_srate}\n"},
		{"duplicate-setting", "families:\n  - name: a\n    axes:\n      - name: srate\n" +
			"        option: mr_fsk_srate\n        settings:\n          - {name: a, value: 50}\n" +
			"          - {name: a, value: 100}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFamilies(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}
