package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	pref "github.com/goliatone/go-preference"
)

func newTraceCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "trace <key>",
		Short: "Show how every domain contributes to a preference",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the trace as JSON")
	cmd.RunE = a.runE(func(cmd *cobra.Command, args []string) error {
		key := args[0]
		if err := pref.ValidateKey(key); err != nil {
			return err
		}
		trace := a.store.Trace(key)
		out := cmd.OutOrStdout()

		if asJSON {
			payload, err := trace.ToJSON()
			if err != nil {
				return err
			}
			var indented bytes.Buffer
			if err := json.Indent(&indented, payload, "", "  "); err != nil {
				return err
			}
			indented.WriteByte('\n')
			_, err = indented.WriteTo(out)
			return err
		}

		effective, found := trace.Effective()
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DOMAIN\tPRIORITY\tVALUE\t")
		for _, layer := range trace.Layers {
			value := "-"
			if layer.Found {
				value = format(layer.Value)
			}
			marker := ""
			if found && layer.Domain == effective.Domain {
				marker = "*"
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", layer.Domain, layer.Priority, value, marker)
		}
		return w.Flush()
	})
	return cmd
}
