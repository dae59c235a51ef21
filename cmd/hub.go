package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/rlink/internal/log"
	"firestige.xyz/rlink/pkg/device"
	"firestige.xyz/rlink/pkg/pool"
	"firestige.xyz/rlink/pkg/transport"
)

var hubCmd = &cobra.Command{
	Use:   "hub <device>...",
	Short: "Relay frames between devices",
	Long: `Repeat every frame received on one device out of all the other devices.

A frame is never sent back out of the port it arrived on. The relayed
network must not contain a loop.

Examples:
  rlink hub veth0 veth1 veth2`,
	Args:        cobra.MinimumNArgs(2),
	Annotations: map[string]string{annotationMetrics: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		tr, opts, err := captureEnv()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runHub(ctx, tr, opts, args, hubCount, cmd.OutOrStdout())
	},
}

var hubCount int

func init() {
	hubCmd.Flags().IntVarP(&hubCount, "count", "n", 0,
		"stop after handling this many frames, 0 means run until interrupted")
}

func runHub(ctx context.Context, tr transport.Transport, opts *device.Options, names []string, count int, w io.Writer) error {
	outOpts := *opts
	outOpts.Direction = transport.DirectionOut
	outOpts.Filter = ""

	ports := make([]*device.Handle, 0, len(names))
	defer func() {
		for _, h := range ports {
			h.Close()
		}
	}()
	for _, name := range names {
		h, err := device.Open(tr, name, &outOpts)
		if err != nil {
			return err
		}
		ports = append(ports, h)
	}

	pl, err := pool.New(tr, names, opts)
	if err != nil {
		return err
	}
	defer pl.Close()

	log.GetLogger().WithField("devices", names).Info("hub relaying")

	for handled := 0; count <= 0 || handled < count; handled++ {
		raw, err := pl.SelectContext(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		if err != nil {
			return err
		}
		eth, err := raw.ParseEth(false)
		if err != nil {
			log.GetLogger().WithError(err).Warn("hub dropped invalid frame")
			continue
		}

		sent := 0
		for _, h := range ports {
			if bytes.Equal(h.HardwareAddr(), raw.HardwareAddr()) {
				continue
			}
			if err := h.Send(eth.Payload(), eth.EtherType(), eth.Destination(), false); err != nil {
				log.GetLogger().WithError(err).WithField("device", h.Name()).Warn("hub relay failed")
				continue
			}
			sent++
		}
		fmt.Fprintf(w, "Relayed %s frame to %d port(s)\n", eth.EtherType(), sent)
	}
	return nil
}
