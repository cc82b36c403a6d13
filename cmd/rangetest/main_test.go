package main

import (
	"testing"
	"time"

	"github.com/m-lab/rangetest/internal/clock"
)

func Test_checkPeriod(t *testing.T) {
	tests := []struct {
		name    string
		d       time.Duration
		wantErr bool
	}{
		{"default", 6 * time.Second, false},
		{"max", clock.MaxSpan, false},
		{"zero", 0, true},
		{"negative", -time.Second, true},
		{"too-long", 100 * time.Hour, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := checkPeriod(tt.d); (err != nil) != tt.wantErr {
				t.Errorf("checkPeriod(%v) error = %v, wantErr %v", tt.d, err, tt.wantErr)
			}
		})
	}
}
