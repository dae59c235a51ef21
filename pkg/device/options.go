package device

import (
	"time"

	"firestige.xyz/rlink/pkg/transport"
)

const DefaultSnapLen = 65535

// Options control how a handle's channel is opened.
type Options struct {
	// Timeout bounds each Receive. Zero blocks until a frame arrives.
	Timeout     time.Duration
	SnapLen     int
	Promiscuous bool
	Direction   transport.Direction
	// Filter is a BPF expression applied after opening. Empty captures everything.
	Filter string
}

func DefaultOptions() *Options {
	return &Options{
		SnapLen:     DefaultSnapLen,
		Promiscuous: true,
		Direction:   transport.DirectionInOut,
	}
}

func (o *Options) transportConfig() transport.Config {
	snapLen := o.SnapLen
	if snapLen <= 0 {
		snapLen = DefaultSnapLen
	}
	return transport.Config{
		Timeout:     o.Timeout,
		SnapLen:     snapLen,
		Promiscuous: o.Promiscuous,
	}
}
