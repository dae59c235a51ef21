package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/rlink/pkg/device"
	"firestige.xyz/rlink/pkg/packet"
	"firestige.xyz/rlink/pkg/transport"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices",
	Long: `List the interfaces the selected transport can open.

With --probe each listed device is opened once and the result reported.

Examples:
  rlink devices
  rlink devices --prefix veth --probe`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tr, opts, err := captureEnv()
		if err != nil {
			return err
		}
		return runDevices(tr, opts, devicesPrefix, devicesProbe, cmd.OutOrStdout())
	},
}

var (
	devicesPrefix string
	devicesProbe  bool
)

func init() {
	devicesCmd.Flags().StringVar(&devicesPrefix, "prefix", "", "only list devices whose name starts with prefix")
	devicesCmd.Flags().BoolVar(&devicesProbe, "probe", false, "try to open each device")
}

func runDevices(tr transport.Transport, opts *device.Options, prefix string, probe bool, w io.Writer) error {
	devs, err := tr.Devices()
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	header := "NAME\tHWADDR\tADDRESSES\tDESCRIPTION"
	if probe {
		header += "\tPROBE"
	}
	fmt.Fprintln(tw, header)

	for _, d := range devs {
		if !strings.HasPrefix(d.Name, prefix) {
			continue
		}
		hw := "-"
		if addr, err := tr.HardwareAddr(d.Name); err == nil {
			hw = packet.FormatAddr(addr)
		}
		addrs := make([]string, 0, len(d.Addresses))
		for _, ip := range d.Addresses {
			addrs = append(addrs, ip.String())
		}
		line := fmt.Sprintf("%s\t%s\t%s\t%s", d.Name, hw, orDash(strings.Join(addrs, ",")), orDash(d.Description))
		if probe {
			line += "\t" + probeDevice(tr, opts, d.Name)
		}
		fmt.Fprintln(tw, line)
	}
	return tw.Flush()
}

func probeDevice(tr transport.Transport, opts *device.Options, name string) string {
	h, err := device.Open(tr, name, opts)
	if err != nil {
		return "error: " + err.Error()
	}
	h.Close()
	return "ok"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
