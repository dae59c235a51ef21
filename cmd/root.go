// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/rlink/internal/config"
	"firestige.xyz/rlink/internal/log"
	"firestige.xyz/rlink/internal/metrics"
	"firestige.xyz/rlink/pkg/device"
	"firestige.xyz/rlink/pkg/transport"
)

// annotationMetrics marks commands that serve Prometheus metrics while running.
const annotationMetrics = "rlink/metrics"

var (
	// Global flags
	configFile string

	cfg           *config.GlobalConfig
	metricsServer *metrics.Server
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rlink",
	Short: "rlink - raw Ethernet link capture and injection",
	Long: `rlink sends and receives raw Ethernet II frames on named interfaces.

It can inject a single frame, print frames received on one or more interfaces,
and relay frames between interfaces like a hub. Frames may carry a CRC-32
trailer that the receiving side can verify.`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: teardown,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/rlink/rlink.yml",
		"config file path (missing file means defaults)")
	rootCmd.PersistentFlags().String("transport", "pcap", "capture transport: pcap | afpacket | file")
	rootCmd.PersistentFlags().String("replay-dir", "", "directory of <device>.pcap files for the file transport")
	rootCmd.PersistentFlags().Duration("timeout", 0, "per-read timeout, 0 blocks")
	rootCmd.PersistentFlags().Int("snap-len", device.DefaultSnapLen, "maximum bytes captured per frame")
	rootCmd.PersistentFlags().Bool("promisc", true, "capture in promiscuous mode")
	rootCmd.PersistentFlags().String("direction", "inout", "captured traffic direction: in | out | inout")
	rootCmd.PersistentFlags().String("filter", "", "BPF filter expression applied to every opened device")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: trace | debug | info | warn | error")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(receiveCmd)
	rootCmd.AddCommand(gatherCmd)
	rootCmd.AddCommand(hubCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(configCmd)
}

// setup loads configuration, initializes logging and starts the metrics server for
// commands that capture or inject.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := log.Init(cfg.Log); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}

	if cfg.Metrics.Enabled && cmd.Annotations[annotationMetrics] == "true" {
		metricsServer = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := metricsServer.Start(cmd.Context()); err != nil {
			return err
		}
	}
	return nil
}

func teardown(cmd *cobra.Command, args []string) {
	if metricsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Stop(ctx); err != nil {
		log.GetLogger().WithError(err).Warn("failed to stop metrics server")
	}
	metricsServer = nil
}

// deviceOptions translates the capture section into handle options.
func deviceOptions(c config.CaptureConfig) (*device.Options, error) {
	dir, err := transport.ParseDirection(c.Direction)
	if err != nil {
		return nil, err
	}
	opts := device.DefaultOptions()
	opts.Timeout = c.Timeout
	if c.SnapLen > 0 {
		opts.SnapLen = c.SnapLen
	}
	opts.Promiscuous = c.Promiscuous
	opts.Direction = dir
	opts.Filter = c.Filter
	return opts, nil
}

// captureEnv returns the transport and handle options for the loaded configuration.
func captureEnv() (transport.Transport, *device.Options, error) {
	tr, err := newTransport(cfg.Capture)
	if err != nil {
		return nil, nil, err
	}
	opts, err := deviceOptions(cfg.Capture)
	if err != nil {
		return nil, nil, err
	}
	return tr, opts, nil
}
