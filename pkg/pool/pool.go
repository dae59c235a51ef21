// Package pool aggregates captures from several interfaces into one queue.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"firestige.xyz/rlink/internal/log"
	"firestige.xyz/rlink/internal/metrics"
	"firestige.xyz/rlink/pkg/device"
	"firestige.xyz/rlink/pkg/packet"
	"firestige.xyz/rlink/pkg/transport"
)

var (
	ErrNoDevices = errors.New("rlink: pool needs at least one device")
	ErrExhausted = errors.New("rlink: all pool workers have stopped")
)

// errorBackoff paces a worker whose reads keep failing.
const errorBackoff = 10 * time.Millisecond

// Pool runs one capture worker per device and merges their frames. Frames are selected in
// the order workers forwarded them.
//
// A worker blocked in a read with no timeout only notices Close once a frame arrives.
type Pool struct {
	out  chan *packet.RawPacket
	done chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New starts a worker per name. Each worker opens its own handle capturing inbound traffic;
// a device that fails to open is logged and contributes nothing.
func New(tr transport.Transport, names []string, opts *device.Options) (*Pool, error) {
	if len(names) == 0 {
		return nil, ErrNoDevices
	}
	if opts == nil {
		opts = device.DefaultOptions()
	}

	p := &Pool{
		out:  make(chan *packet.RawPacket),
		done: make(chan struct{}),
	}

	p.wg.Add(len(names))
	for _, name := range names {
		o := *opts
		o.Direction = transport.DirectionIn
		go p.run(tr, name, &o)
	}

	go func() {
		p.wg.Wait()
		close(p.out)
		log.GetLogger().Debug("device pool drained")
	}()

	return p, nil
}

func (p *Pool) run(tr transport.Transport, name string, opts *device.Options) {
	defer p.wg.Done()

	h, err := device.Open(tr, name, opts)
	if err != nil {
		log.GetLogger().WithError(err).WithField("device", name).Warn("pool worker failed to open device")
		return
	}
	defer h.Close()

	metrics.PoolWorkers.Inc()
	defer metrics.PoolWorkers.Dec()

	logger := log.GetLogger().WithField("device", name)
	logger.Debug("pool worker started")
	defer logger.Debug("pool worker stopped")

	forwarded := metrics.PoolForwardedTotal.WithLabelValues(name)
	for {
		select {
		case <-p.done:
			return
		default:
		}

		pkt, err := h.Receive()
		if err != nil {
			logger.WithError(err).Trace("pool worker receive failed")
			select {
			case <-time.After(errorBackoff):
			case <-p.done:
				return
			}
			continue
		}
		if pkt == nil {
			continue
		}

		select {
		case p.out <- pkt:
			forwarded.Inc()
		case <-p.done:
			return
		}
	}
}

// Select blocks until a worker forwards a frame. It returns ErrExhausted once the pool is
// closed or every worker has stopped.
func (p *Pool) Select() (*packet.RawPacket, error) {
	return p.SelectContext(context.Background())
}

// SelectContext is Select bounded by ctx.
func (p *Pool) SelectContext(ctx context.Context) (*packet.RawPacket, error) {
	select {
	case <-p.done:
		return nil, ErrExhausted
	default:
	}

	select {
	case pkt, ok := <-p.out:
		if !ok {
			return nil, ErrExhausted
		}
		return pkt, nil
	case <-p.done:
		return nil, ErrExhausted
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the workers. Workers close their handles as they exit.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}
