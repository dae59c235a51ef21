package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/rlink/internal/log"
	"firestige.xyz/rlink/internal/metrics"
	"firestige.xyz/rlink/pkg/device"
	"firestige.xyz/rlink/pkg/ethtype"
	"firestige.xyz/rlink/pkg/packet"
	"firestige.xyz/rlink/pkg/transport"
)

var receiveCmd = &cobra.Command{
	Use:   "receive <device>",
	Short: "Print frames received on one device",
	Long: `Capture frames on device and print each one as an Ethernet II frame.

Frames shorter than 64 bytes, or with a bad CRC-32 trailer when
--verify-checksum is set, are reported and skipped.

Examples:
  rlink receive veth0
  rlink receive eth0 --count 0 --ethertype ipv6 --ignore-local`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationMetrics: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		tr, opts, err := captureEnv()
		if err != nil {
			return err
		}
		if receiveEtherType != "" {
			et, err := ethtype.Parse(receiveEtherType)
			if err != nil {
				return err
			}
			opts.Filter = etherTypeFilter(et)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runReceive(ctx, tr, opts, args[0], receiveParams{
			verify:      receiveVerify,
			count:       receiveCount,
			ignoreLocal: receiveIgnoreLocal,
		}, cmd.OutOrStdout())
	},
}

var (
	receiveVerify      bool
	receiveCount       int
	receiveIgnoreLocal bool
	receiveEtherType   string
)

func init() {
	receiveCmd.Flags().BoolVar(&receiveVerify, "verify-checksum", false,
		"drop frames whose CRC-32 trailer does not match")
	receiveCmd.Flags().IntVarP(&receiveCount, "count", "n", 1,
		"stop after this many frames, 0 means run until interrupted")
	receiveCmd.Flags().BoolVar(&receiveIgnoreLocal, "ignore-local", false,
		"skip frames sent by this interface")
	receiveCmd.Flags().StringVar(&receiveEtherType, "ethertype", "",
		"only capture frames of this EtherType (overrides capture.filter)")
}

type receiveParams struct {
	verify      bool
	count       int
	ignoreLocal bool
}

func runReceive(ctx context.Context, tr transport.Transport, opts *device.Options, name string, p receiveParams, w io.Writer) error {
	h, err := device.Open(tr, name, opts)
	if err != nil {
		return err
	}
	defer h.Close()
	if p.ignoreLocal {
		h.SetInspector(device.DropLocal)
	}

	log.GetLogger().WithField("device", h.String()).Info("receiving")

	printed := 0
	for p.count <= 0 || printed < p.count {
		if ctx.Err() != nil {
			return nil
		}
		raw, err := h.Receive()
		if err != nil {
			return err
		}
		if raw == nil {
			continue
		}
		if printFrame(w, raw, p.verify) {
			printed++
		}
	}
	return nil
}

// printFrame validates raw and prints it. Invalid frames are counted and logged.
func printFrame(w io.Writer, raw *packet.RawPacket, verify bool) bool {
	eth, err := raw.ParseEth(verify)
	if err != nil {
		reason := metrics.ParseReasonTooSmall
		if errors.Is(err, packet.ErrChecksumMismatch) {
			reason = metrics.ParseReasonChecksum
		}
		metrics.ParseFailuresTotal.WithLabelValues(reason).Inc()
		log.GetLogger().WithError(err).WithField("hw_addr", packet.FormatAddr(raw.HardwareAddr())).Warn("invalid frame skipped")
		return false
	}
	fmt.Fprintf(w, "Received packet:\n%s\n", eth)
	return true
}

// etherTypeFilter builds a BPF expression matching frames of et.
func etherTypeFilter(et ethtype.EtherType) string {
	return fmt.Sprintf("ether proto 0x%04x", et.Value())
}
