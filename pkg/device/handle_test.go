package device

import (
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/rlink/internal/metrics"
	"firestige.xyz/rlink/pkg/ethtype"
	"firestige.xyz/rlink/pkg/packet"
	"firestige.xyz/rlink/pkg/transport"
	"firestige.xyz/rlink/pkg/transport/transporttest"
)

var (
	localMAC  = net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	remoteMAC = net.HardwareAddr{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
)

func openFake(t *testing.T, name string, opts *Options) (*Handle, *transporttest.Device) {
	t.Helper()
	tr := transporttest.New()
	dev := tr.AddDevice(name, localMAC)
	h, err := Open(tr, name, opts)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h, dev
}

func frameFrom(src net.HardwareAddr, et uint16, payloadLen int) []byte {
	frame := make([]byte, 64)
	copy(frame, remoteMAC)
	copy(frame[6:], src)
	binary.BigEndian.PutUint16(frame[12:], et)
	for i := 0; i < payloadLen; i++ {
		frame[14+i] = byte(i)
	}
	binary.BigEndian.PutUint32(frame[60:], packet.Checksum(frame[:60]))
	return frame
}

func TestOpen(t *testing.T) {
	h, dev := openFake(t, "veth0", nil)

	assert.Equal(t, "veth0", h.Name())
	assert.Equal(t, "veth0", h.Device().Name)
	assert.Equal(t, localMAC, h.HardwareAddr())
	assert.Equal(t, layers.LinkTypeEthernet, h.LinkType())
	assert.Equal(t, "veth0 (AA:BB:CC:DD:EE:FF)", h.String())
	assert.Equal(t, 1, dev.Opened())
}

func TestOpenNotFound(t *testing.T) {
	tr := transporttest.New()
	tr.AddDevice("veth0", localMAC)

	_, err := Open(tr, "eth9", nil)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "eth9")
}

func TestOpenTransportErrors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("devices", func(t *testing.T) {
		tr := transporttest.New()
		tr.DevicesErr = boom
		_, err := Open(tr, "veth0", nil)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("open", func(t *testing.T) {
		tr := transporttest.New()
		tr.AddDevice("veth0", localMAC).OpenErr = boom
		_, err := Open(tr, "veth0", nil)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("hardware address", func(t *testing.T) {
		tr := transporttest.New()
		tr.AddDevice("veth0", localMAC).AddrErr = boom
		_, err := Open(tr, "veth0", nil)
		assert.ErrorIs(t, err, boom)
	})
}

func TestOpenAppliesOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.Direction = transport.DirectionIn
	opts.Filter = "ether proto 0x0800"

	_, dev := openFake(t, "veth0", opts)
	assert.Equal(t, transport.DirectionIn, dev.Direction())
	assert.Equal(t, "ether proto 0x0800", dev.Filter())
}

func TestSendMinimumFrame(t *testing.T) {
	h, dev := openFake(t, "veth0", nil)

	require.NoError(t, h.Send([]byte{0xAA}, ethtype.IPv4, remoteMAC, true))

	written := dev.Written()
	require.Len(t, written, 1)
	frame := written[0]
	require.Len(t, frame, 64)

	want := make([]byte, 60)
	copy(want, remoteMAC)
	copy(want[6:], localMAC)
	want[12], want[13] = 0x08, 0x00
	want[14] = 0xAA
	assert.Equal(t, want, frame[:60])
	assert.Equal(t, packet.Checksum(want), binary.BigEndian.Uint32(frame[60:]))
}

func TestSendWithoutChecksum(t *testing.T) {
	h, dev := openFake(t, "veth0", nil)

	require.NoError(t, h.Send(make([]byte, 100), ethtype.ARP, remoteMAC, false))

	written := dev.Written()
	require.Len(t, written, 1)
	assert.Len(t, written[0], 114)
	assert.Equal(t, []byte{0x08, 0x06}, written[0][12:14])
}

func TestSendRoundTripsThroughParse(t *testing.T) {
	h, dev := openFake(t, "veth0", nil)
	payload := []byte("hello, link")

	require.NoError(t, h.Send(payload, ethtype.IPv6, remoteMAC, true))
	written := dev.Written()
	require.Len(t, written, 1)

	eth, err := packet.NewRaw(gopacket.CaptureInfo{}, written[0], remoteMAC).ParseEth(true)
	require.NoError(t, err)
	assert.Equal(t, remoteMAC, eth.Destination())
	assert.Equal(t, localMAC, eth.Source())
	assert.Equal(t, ethtype.IPv6, eth.EtherType())
	assert.Equal(t, payload, eth.Payload()[:len(payload)])
}

func TestSendPayloadBoundary(t *testing.T) {
	h, dev := openFake(t, "veth0", nil)

	require.NoError(t, h.Send(make([]byte, 1499), ethtype.IPv4, remoteMAC, true))
	require.Len(t, dev.Written(), 1)
	assert.Len(t, dev.Written()[0], 14+1499+4)

	err := h.Send(make([]byte, 1500), ethtype.IPv4, remoteMAC, true)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Len(t, dev.Written(), 1)
}

func TestSendLengthField(t *testing.T) {
	h, dev := openFake(t, "veth0", nil)
	length, err := ethtype.NewLength(10)
	require.NoError(t, err)

	err = h.Send(make([]byte, 9), length, remoteMAC, true)
	assert.ErrorIs(t, err, ErrPayloadLengthMismatch)

	// matching length is accepted but 802.3 framing is never transmitted
	assert.NoError(t, h.Send(make([]byte, 10), length, remoteMAC, true))
	assert.Empty(t, dev.Written())
}

func TestSendLengthMismatchCheckedFirst(t *testing.T) {
	h, _ := openFake(t, "veth0", nil)
	length, err := ethtype.NewLength(1500)
	require.NoError(t, err)

	assert.ErrorIs(t, h.Send(make([]byte, 1501), length, remoteMAC, false), ErrPayloadLengthMismatch)
	assert.ErrorIs(t, h.Send(make([]byte, 1500), length, remoteMAC, false), ErrPayloadTooLarge)
}

func TestSendInvalidDestination(t *testing.T) {
	h, dev := openFake(t, "veth0", nil)

	err := h.Send([]byte{1}, ethtype.IPv4, net.HardwareAddr{1, 2, 3}, false)
	assert.ErrorIs(t, err, ErrInvalidHardwareAddr)
	assert.Empty(t, dev.Written())
}

func TestSendCountsFrames(t *testing.T) {
	h, _ := openFake(t, "metrics-send0", nil)
	before := testutil.ToFloat64(metrics.FramesSentTotal.WithLabelValues("metrics-send0"))

	require.NoError(t, h.Send([]byte{1}, ethtype.IPv4, remoteMAC, false))
	require.NoError(t, h.Send([]byte{2}, ethtype.IPv4, remoteMAC, false))

	assert.Equal(t, before+2, testutil.ToFloat64(metrics.FramesSentTotal.WithLabelValues("metrics-send0")))
}

func TestReceive(t *testing.T) {
	h, dev := openFake(t, "veth0", nil)
	frame := frameFrom(remoteMAC, 0x0800, 4)
	dev.Deliver(frame)

	p, err := h.Receive()
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, frame, p.Data())
	assert.Equal(t, localMAC, p.HardwareAddr())
	assert.Equal(t, 64, p.Info().CaptureLength)
}

func TestReceiveTimeout(t *testing.T) {
	opts := DefaultOptions()
	opts.Timeout = 10 * time.Millisecond
	h, _ := openFake(t, "veth0", opts)

	p, err := h.Receive()
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestReceiveDropLocal(t *testing.T) {
	h, dev := openFake(t, "drop-local0", nil)
	h.SetInspector(DropLocal)
	before := testutil.ToFloat64(metrics.FramesDroppedTotal.WithLabelValues("drop-local0", metrics.DropReasonInspector))

	dev.Deliver(frameFrom(localMAC, 0x0800, 1))
	dev.Deliver(frameFrom(remoteMAC, 0x0806, 1))

	p, err := h.Receive()
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = h.Receive()
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, []byte(remoteMAC), p.Data()[6:12])

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.FramesDroppedTotal.WithLabelValues("drop-local0", metrics.DropReasonInspector)))
}

type mockInspector struct {
	mock.Mock
}

func (m *mockInspector) Inspect(p *packet.RawPacket, local net.HardwareAddr) *packet.RawPacket {
	args := m.Called(p, local)
	ret, _ := args.Get(0).(*packet.RawPacket)
	return ret
}

func TestReceiveInspectorReplacesPacket(t *testing.T) {
	h, dev := openFake(t, "veth0", nil)
	replacement := packet.NewRaw(gopacket.CaptureInfo{}, make([]byte, 64), localMAC)

	insp := new(mockInspector)
	insp.On("Inspect", mock.AnythingOfType("*packet.RawPacket"), localMAC).Return(replacement).Once()
	h.SetInspector(insp)

	dev.Deliver(frameFrom(remoteMAC, 0x0800, 1))
	p, err := h.Receive()
	require.NoError(t, err)
	assert.Same(t, replacement, p)
	insp.AssertExpectations(t)

	// removing the inspector delivers frames untouched
	h.SetInspector(nil)
	frame := frameFrom(remoteMAC, 0x86DD, 2)
	dev.Deliver(frame)
	p, err = h.Receive()
	require.NoError(t, err)
	assert.Equal(t, frame, p.Data())
	insp.AssertNumberOfCalls(t, "Inspect", 1)
}

func TestClose(t *testing.T) {
	tr := transporttest.New()
	dev := tr.AddDevice("veth0", localMAC)
	h, err := Open(tr, "veth0", nil)
	require.NoError(t, err)

	require.NoError(t, h.Close())
	assert.Equal(t, 1, dev.Closed())

	assert.ErrorIs(t, h.Close(), ErrClosed)
	assert.ErrorIs(t, h.Send([]byte{1}, ethtype.IPv4, remoteMAC, true), ErrClosed)
	_, err = h.Receive()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, h.SetFilter("arp"), ErrClosed)
	assert.ErrorIs(t, h.SetDirection(transport.DirectionIn), ErrClosed)
	_, err = h.Stats()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStats(t *testing.T) {
	h, dev := openFake(t, "veth0", nil)
	dev.Deliver(frameFrom(remoteMAC, 0x0800, 1))
	_, err := h.Receive()
	require.NoError(t, err)

	stats, err := h.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PacketsReceived)
}

func TestLinkTypeSelection(t *testing.T) {
	tr := transporttest.New()
	dev := tr.AddDevice("veth0", localMAC)
	dev.LinkTypes = []layers.LinkType{layers.LinkTypeEthernet, layers.LinkTypeLinuxSLL}
	h, err := Open(tr, "veth0", nil)
	require.NoError(t, err)
	defer h.Close()

	lts, err := h.DataLinks()
	require.NoError(t, err)
	assert.Equal(t, []layers.LinkType{layers.LinkTypeEthernet, layers.LinkTypeLinuxSLL}, lts)

	require.NoError(t, h.SetLinkType(layers.LinkTypeLinuxSLL))
	assert.Equal(t, layers.LinkTypeLinuxSLL, h.LinkType())

	assert.Error(t, h.SetLinkType(layers.LinkTypeRaw))
	assert.Equal(t, layers.LinkTypeLinuxSLL, h.LinkType())
}

func TestLinkTypeSelectionUnsupported(t *testing.T) {
	h, _ := openFake(t, "veth0", nil)

	_, err := h.DataLinks()
	assert.ErrorIs(t, err, transport.ErrUnsupported)
	assert.ErrorIs(t, h.SetLinkType(layers.LinkTypeEthernet), transport.ErrUnsupported)
	assert.Equal(t, layers.LinkTypeEthernet, h.LinkType())

	require.NoError(t, h.Close())
	_, err = h.DataLinks()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, h.SetLinkType(layers.LinkTypeEthernet), ErrClosed)
}
