package cmd

import (
	"fmt"
	"io"
	"net"

	"github.com/spf13/cobra"

	"firestige.xyz/rlink/pkg/device"
	"firestige.xyz/rlink/pkg/ethtype"
	"firestige.xyz/rlink/pkg/packet"
	"firestige.xyz/rlink/pkg/transport"
)

var sendCmd = &cobra.Command{
	Use:   "send <dst-mac> <device> <message>",
	Short: "Inject one frame carrying message",
	Long: `Send a single Ethernet II frame from device to dst-mac with message as payload.

The frame is padded to the 60-byte minimum and, unless --no-checksum is given,
followed by a CRC-32 trailer.

Examples:
  rlink send 11:22:33:44:55:66 veth0 hello
  rlink send ff:ff:ff:ff:ff:ff eth1 ping --ethertype arp`,
	Args:        cobra.ExactArgs(3),
	Annotations: map[string]string{annotationMetrics: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		et, err := ethtype.Parse(sendEtherType)
		if err != nil {
			return err
		}
		tr, opts, err := captureEnv()
		if err != nil {
			return err
		}
		return runSend(tr, opts, sendParams{
			dst:      args[0],
			device:   args[1],
			message:  args[2],
			etype:    et,
			checksum: !sendNoChecksum,
		}, cmd.OutOrStdout())
	},
}

var (
	sendEtherType  string
	sendNoChecksum bool
)

func init() {
	sendCmd.Flags().StringVar(&sendEtherType, "ethertype", "ipv4",
		"EtherType name (ipv4, arp, ipv6, ...) or number (0x0800)")
	sendCmd.Flags().BoolVar(&sendNoChecksum, "no-checksum", false,
		"omit the CRC-32 trailer")
}

type sendParams struct {
	dst      string
	device   string
	message  string
	etype    ethtype.EtherType
	checksum bool
}

func runSend(tr transport.Transport, opts *device.Options, p sendParams, w io.Writer) error {
	dst, err := net.ParseMAC(p.dst)
	if err != nil {
		return fmt.Errorf("invalid destination address: %w", err)
	}

	h, err := device.Open(tr, p.device, opts)
	if err != nil {
		return err
	}
	defer h.Close()

	if err := h.Send([]byte(p.message), p.etype, dst, p.checksum); err != nil {
		return err
	}

	fmt.Fprintf(w, "Sent %d byte(s) to %s via %s (%s)\n",
		len(p.message), packet.FormatAddr(dst), h.Name(), p.etype)
	return nil
}
