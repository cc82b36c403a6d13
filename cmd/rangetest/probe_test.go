package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

type countingPinger struct {
	sends  []int
	failAt int
}

func (c *countingPinger) SendPing(iface int, size int, seq uint16) (uint32, error) {
	if c.failAt > 0 && len(c.sends) == c.failAt {
		return 0, errors.New("send failed")
	}
	c.sends = append(c.sends, iface)
	return uint32(seq), nil
}

func Test_sendProbes(t *testing.T) {
	tests := []struct {
		name    string
		ifaces  int
		count   int
		failAt  int
		want    int
		wantErr bool
	}{
		{name: "single", ifaces: 2, count: 1, want: 2},
		{name: "repeated", ifaces: 2, count: 3, want: 6},
		{name: "zero-count-sends-once", ifaces: 1, count: 0, want: 1},
		{name: "failure", ifaces: 2, count: 3, failAt: 3, want: 3, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &countingPinger{failAt: tt.failAt}
			err := sendProbes(context.Background(), p, tt.ifaces, tt.count, time.Millisecond, 16)
			if (err != nil) != tt.wantErr {
				t.Fatalf("sendProbes() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(p.sends) != tt.want {
				t.Errorf("sendProbes() sent %d probes, want %d", len(p.sends), tt.want)
			}
		})
	}
}

func Test_sendProbesCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &countingPinger{}
	err := sendProbes(ctx, p, 1, 5, time.Hour, 16)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("sendProbes() error = %v, want context.Canceled", err)
	}
}
