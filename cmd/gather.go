package cmd

import (
	"context"
	"errors"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/rlink/internal/log"
	"firestige.xyz/rlink/pkg/device"
	"firestige.xyz/rlink/pkg/pool"
	"firestige.xyz/rlink/pkg/transport"
)

var gatherCmd = &cobra.Command{
	Use:   "gather <device>...",
	Short: "Print frames received on several devices",
	Long: `Capture inbound frames on every listed device concurrently and print them
in the order they arrive.

Examples:
  rlink gather veth0 veth1 veth2
  rlink gather eth0 eth1 --verify-checksum --count 10`,
	Args:        cobra.MinimumNArgs(1),
	Annotations: map[string]string{annotationMetrics: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		tr, opts, err := captureEnv()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runGather(ctx, tr, opts, args, gatherParams{
			verify: gatherVerify,
			count:  gatherCount,
		}, cmd.OutOrStdout())
	},
}

var (
	gatherVerify bool
	gatherCount  int
)

func init() {
	gatherCmd.Flags().BoolVar(&gatherVerify, "verify-checksum", false,
		"drop frames whose CRC-32 trailer does not match")
	gatherCmd.Flags().IntVarP(&gatherCount, "count", "n", 0,
		"stop after this many frames, 0 means run until interrupted")
}

type gatherParams struct {
	verify bool
	count  int
}

func runGather(ctx context.Context, tr transport.Transport, opts *device.Options, names []string, p gatherParams, w io.Writer) error {
	pl, err := pool.New(tr, names, opts)
	if err != nil {
		return err
	}
	defer pl.Close()

	log.GetLogger().WithField("devices", names).Info("gathering")

	printed := 0
	for p.count <= 0 || printed < p.count {
		raw, err := pl.SelectContext(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		if err != nil {
			return err
		}
		if printFrame(w, raw, p.verify) {
			printed++
		}
	}
	return nil
}
