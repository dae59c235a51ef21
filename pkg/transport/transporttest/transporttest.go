// Package transporttest provides a scripted in-memory transport for tests.
package transporttest

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/rlink/pkg/transport"
)

var ErrClosed = errors.New("transporttest: channel closed")

// Transport is a fake transport whose devices are fed by the test.
type Transport struct {
	mu      sync.Mutex
	devices map[string]*Device
	order   []string

	// DevicesErr, when set, is returned by Devices.
	DevicesErr error
}

// New returns an empty fake transport.
func New() *Transport {
	return &Transport{devices: make(map[string]*Device)}
}

var _ transport.Transport = (*Transport)(nil)

// Device is a scripted interface.
type Device struct {
	name   string
	hwAddr net.HardwareAddr
	frames chan []byte

	mu        sync.Mutex
	written   [][]byte
	opened    int
	closed    int
	direction transport.Direction
	filter    string
	reads     int

	// OpenErr, when set, makes Open fail for this device.
	OpenErr error
	// AddrErr, when set, makes HardwareAddr fail for this device.
	AddrErr error
	// LinkTypes lists the link types the device accepts; the first one is the
	// initial link type. Empty means link type selection is unsupported.
	LinkTypes []layers.LinkType

	linkType layers.LinkType
}

// AddDevice registers a device with the given hardware address.
func (t *Transport) AddDevice(name string, hwAddr net.HardwareAddr) *Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := &Device{name: name, hwAddr: hwAddr, frames: make(chan []byte, 1024)}
	t.devices[name] = d
	t.order = append(t.order, name)
	return d
}

// Device returns a registered device or nil.
func (t *Transport) Device(name string) *Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.devices[name]
}

func (t *Transport) Devices() ([]transport.Device, error) {
	if t.DevicesErr != nil {
		return nil, t.DevicesErr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	devs := make([]transport.Device, 0, len(t.order))
	for _, name := range t.order {
		devs = append(devs, transport.Device{Name: name, Description: "fake device " + name})
	}
	return devs, nil
}

func (t *Transport) Open(dev transport.Device, cfg transport.Config) (transport.Channel, error) {
	d := t.Device(dev.Name)
	if d == nil {
		return nil, fmt.Errorf("transporttest: no such device %s", dev.Name)
	}
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	d.mu.Lock()
	d.opened++
	d.mu.Unlock()
	return &channel{dev: d, timeout: cfg.Timeout, done: make(chan struct{})}, nil
}

func (t *Transport) HardwareAddr(name string) (net.HardwareAddr, error) {
	d := t.Device(name)
	if d == nil {
		return nil, fmt.Errorf("transporttest: no such device %s", name)
	}
	if d.AddrErr != nil {
		return nil, d.AddrErr
	}
	return d.hwAddr, nil
}

// Deliver queues a frame to be read from the device.
func (d *Device) Deliver(frame []byte) {
	d.frames <- append([]byte(nil), frame...)
}

// Written returns copies of every frame written to the device.
func (d *Device) Written() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.written))
	copy(out, d.written)
	return out
}

// Opened returns how many channels were opened on the device.
func (d *Device) Opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

// Closed returns how many channels were closed on the device.
func (d *Device) Closed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Reads returns how many frames have been read from the device.
func (d *Device) Reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

// Direction returns the last direction set on any channel of the device.
func (d *Device) Direction() transport.Direction {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.direction
}

// Filter returns the last BPF expression set on any channel of the device.
func (d *Device) Filter() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.filter
}

type channel struct {
	dev       *Device
	timeout   time.Duration
	done      chan struct{}
	closeOnce sync.Once
}

func (c *channel) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	var expired <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case data := <-c.dev.frames:
		c.dev.mu.Lock()
		c.dev.reads++
		c.dev.mu.Unlock()
		ci := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(data), Length: len(data)}
		return data, ci, nil
	case <-expired:
		return nil, gopacket.CaptureInfo{}, transport.ErrTimeout
	case <-c.done:
		return nil, gopacket.CaptureInfo{}, ErrClosed
	}
}

func (c *channel) WritePacketData(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	c.dev.written = append(c.dev.written, append([]byte(nil), data...))
	return nil
}

func (c *channel) SetDirection(dir transport.Direction) error {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	c.dev.direction = dir
	return nil
}

func (c *channel) SetBPFFilter(expr string) error {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	c.dev.filter = expr
	return nil
}

func (c *channel) Stats() (transport.Stats, error) {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	return transport.Stats{PacketsReceived: c.dev.reads}, nil
}

func (c *channel) LinkType() layers.LinkType {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	if c.dev.linkType != 0 {
		return c.dev.linkType
	}
	if len(c.dev.LinkTypes) > 0 {
		return c.dev.LinkTypes[0]
	}
	return layers.LinkTypeEthernet
}

func (c *channel) DataLinks() ([]layers.LinkType, error) {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	if len(c.dev.LinkTypes) == 0 {
		return nil, transport.ErrUnsupported
	}
	return append([]layers.LinkType(nil), c.dev.LinkTypes...), nil
}

func (c *channel) SetLinkType(lt layers.LinkType) error {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	if len(c.dev.LinkTypes) == 0 {
		return transport.ErrUnsupported
	}
	for _, v := range c.dev.LinkTypes {
		if v == lt {
			c.dev.linkType = lt
			return nil
		}
	}
	return fmt.Errorf("link type %s not supported by %s", lt, c.dev.name)
}

func (c *channel) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.dev.mu.Lock()
		c.dev.closed++
		c.dev.mu.Unlock()
	})
}
