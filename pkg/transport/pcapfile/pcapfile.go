// Package pcapfile implements an offline transport backed by capture files.
//
// Every "<name>.pcap" in the directory is a device called name. Reading replays the file and
// then idles like a quiet link; frames sent on a device are recorded to "<name>.sent.pcap".
package pcapfile

import (
	"bytes"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"golang.org/x/net/bpf"

	"firestige.xyz/rlink/internal/log"
	"firestige.xyz/rlink/internal/utils"
	"firestige.xyz/rlink/pkg/transport"
)

const (
	Name = "file"

	replayExt = ".pcap"
	sentExt   = ".sent.pcap"

	defaultSnapLen = 65535
)

var ErrClosed = errors.New("rlink: capture file channel closed")

// Transport serves the capture files of one directory.
type Transport struct {
	dir string
}

// New returns a transport over the capture files in dir.
func New(dir string) *Transport {
	return &Transport{dir: dir}
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) Devices() ([]transport.Device, error) {
	matches, err := filepath.Glob(filepath.Join(t.dir, "*"+replayExt))
	if err != nil {
		return nil, fmt.Errorf("failed to list capture files: %w", err)
	}
	sort.Strings(matches)

	devs := make([]transport.Device, 0, len(matches))
	for _, m := range matches {
		if strings.HasSuffix(m, sentExt) {
			continue
		}
		name := strings.TrimSuffix(filepath.Base(m), replayExt)
		devs = append(devs, transport.Device{Name: name, Description: m})
	}
	return devs, nil
}

// HardwareAddr derives a stable locally administered address from name.
func (t *Transport) HardwareAddr(name string) (net.HardwareAddr, error) {
	h := fnv.New32a()
	h.Write([]byte(name))
	sum := h.Sum32()
	return net.HardwareAddr{0x02, 0x00, byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum)}, nil
}

func (t *Transport) Open(dev transport.Device, cfg transport.Config) (transport.Channel, error) {
	path := filepath.Join(t.dir, dev.Name+replayExt)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file %s: %w", path, err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read capture file %s: %w", path, err)
	}
	hwAddr, _ := t.HardwareAddr(dev.Name)

	snapLen := cfg.SnapLen
	if snapLen <= 0 {
		snapLen = defaultSnapLen
	}

	log.GetLogger().WithFields(map[string]interface{}{
		"device":    dev.Name,
		"file":      path,
		"link_type": r.LinkType().String(),
	}).Debug("replaying capture file")

	return &channel{
		file:     f,
		reader:   r,
		sentPath: filepath.Join(t.dir, dev.Name+sentExt),
		hwAddr:   hwAddr,
		snapLen:  snapLen,
		timeout:  cfg.Timeout,
		done:     make(chan struct{}),
	}, nil
}

type channel struct {
	file     *os.File
	reader   *pcapgo.Reader
	sentPath string
	hwAddr   net.HardwareAddr
	snapLen  int
	timeout  time.Duration

	mu      sync.Mutex
	eof     bool
	dir     transport.Direction
	filter  *bpf.VM
	sent    *os.File
	writer  *pcapgo.Writer
	reads   int
	dropped int

	done      chan struct{}
	closeOnce sync.Once
}

func (c *channel) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	for {
		c.mu.Lock()
		if c.eof {
			c.mu.Unlock()
			return c.idle()
		}
		data, ci, err := c.reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			c.eof = true
			c.mu.Unlock()
			continue
		}
		if err != nil {
			c.mu.Unlock()
			return nil, ci, fmt.Errorf("failed to read capture file: %w", err)
		}
		if !c.accept(data) {
			c.dropped++
			c.mu.Unlock()
			continue
		}
		c.reads++
		c.mu.Unlock()
		return data, ci, nil
	}
}

// idle waits out the read timeout once the file is exhausted.
func (c *channel) idle() ([]byte, gopacket.CaptureInfo, error) {
	var expired <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-expired:
		return nil, gopacket.CaptureInfo{}, transport.ErrTimeout
	case <-c.done:
		return nil, gopacket.CaptureInfo{}, ErrClosed
	}
}

func (c *channel) accept(data []byte) bool {
	if c.dir != transport.DirectionInOut && len(data) >= 12 {
		local := bytes.Equal(data[6:12], c.hwAddr)
		if (c.dir == transport.DirectionIn) == local {
			return false
		}
	}
	if c.filter != nil {
		n, err := c.filter.Run(data)
		if err != nil || n == 0 {
			return false
		}
	}
	return true
}

func (c *channel) WritePacketData(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	if c.writer == nil {
		f, err := os.Create(c.sentPath)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", c.sentPath, err)
		}
		w := pcapgo.NewWriter(f)
		if err := w.WriteFileHeader(uint32(c.snapLen), layers.LinkTypeEthernet); err != nil {
			f.Close()
			return fmt.Errorf("failed to write pcap header: %w", err)
		}
		c.sent, c.writer = f, w
	}

	ci := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(data), Length: len(data)}
	return c.writer.WritePacket(ci, data)
}

func (c *channel) SetDirection(dir transport.Direction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dir = dir
	return nil
}

// SetBPFFilter compiles expr and evaluates it in-process on every replayed frame.
func (c *channel) SetBPFFilter(expr string) error {
	raw, err := utils.CompileBpf(expr, c.snapLen)
	if err != nil {
		return err
	}
	insts, ok := bpf.Disassemble(raw)
	if !ok {
		return fmt.Errorf("failed to decode BPF program for %q", expr)
	}
	vm, err := bpf.NewVM(insts)
	if err != nil {
		return fmt.Errorf("invalid BPF program for %q: %w", expr, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = vm
	return nil
}

func (c *channel) Stats() (transport.Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return transport.Stats{PacketsReceived: c.reads, PacketsDropped: c.dropped}, nil
}

func (c *channel) LinkType() layers.LinkType {
	return c.reader.LinkType()
}

// DataLinks is unsupported: the link type is fixed by the capture file header.
func (c *channel) DataLinks() ([]layers.LinkType, error) {
	return nil, transport.ErrUnsupported
}

func (c *channel) SetLinkType(layers.LinkType) error {
	return transport.ErrUnsupported
}

func (c *channel) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		defer c.mu.Unlock()
		c.file.Close()
		if c.sent != nil {
			c.sent.Close()
		}
	})
}
