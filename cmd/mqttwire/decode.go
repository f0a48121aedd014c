package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/bromq-dev/mqttwire/pkg/inspect"
)

func decodeCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "decode <hex>...",
		Short: "Decode a packet from a hex dump",
		Long: `Decode one MQTT packet from a hex dump. Arguments are joined, so
"mqttwire decode 20 02 00 00" and "mqttwire decode 20020000" are equivalent.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			frame, err := inspect.ParseHex(strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), inspect.Inspect(frame), asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func inspectCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "inspect <hex>...",
		Short: "Decode a packet on a remote inspector",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			frame, err := inspect.ParseHex(strings.Join(args, " "))
			if err != nil {
				return err
			}

			client, err := inspect.NewClient(&inspect.ClientConfig{Addr: addr, Timeout: timeout})
			if err != nil {
				return err
			}
			defer client.Close()

			report, err := client.Decode(cmd.Context(), frame)
			if err != nil {
				return errors.Wrap(err, "inspect")
			}
			return printReport(cmd.OutOrStdout(), report, asJSON)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:7947", "Inspector address")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Call timeout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func printReport(w io.Writer, r *inspect.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	if h := r.Header; h != nil {
		fmt.Fprintf(w, "type:             %s (%d)\n", h.TypeName, h.Type)
		fmt.Fprintf(w, "flags:            0x%X\n", h.Flags)
		if h.TypeName == "PUBLISH" {
			fmt.Fprintf(w, "  dup=%t qos=%d retain=%t\n", h.Dup, h.QoS, h.Retain)
		}
		fmt.Fprintf(w, "remaining length: %d\n", h.RemainingLength)
	}
	if c := r.Connect; c != nil {
		fmt.Fprintf(w, "protocol:         %s level %d\n", c.ProtocolName, c.ProtocolLevel)
		fmt.Fprintf(w, "clean session:    %t\n", c.CleanSession)
		fmt.Fprintf(w, "will:             %t (qos %d, retain %t)\n", c.WillFlag, c.WillQoS, c.WillRetain)
		fmt.Fprintf(w, "username/password: %t/%t\n", c.UsernameFlag, c.PasswordFlag)
		fmt.Fprintf(w, "keep alive:       %ds\n", c.KeepAlive)
	}
	if c := r.Connack; c != nil {
		fmt.Fprintf(w, "session present:  %t\n", c.SessionPresent)
		fmt.Fprintf(w, "return code:      %d (%s)\n", c.ReturnCode, c.ReturnCodeName)
	}
	if r.Error != nil {
		fmt.Fprintf(w, "error:            %s\n", r.Error.Message)
		return errors.Errorf("invalid packet: %s", r.Error.Kind)
	}
	fmt.Fprintf(w, "payload:          %d bytes\n", r.PayloadLength)
	if r.Trailing > 0 {
		fmt.Fprintf(w, "trailing:         %d bytes\n", r.Trailing)
	}
	return nil
}
