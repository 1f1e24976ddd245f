package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/colorfulnotion/commitchain/common"
	"github.com/spf13/cobra"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// diffDumps writes an ascii delta between two JSON documents and reports
// whether they differ.
func diffDumps(w io.Writer, left, right []byte, coloring bool) (bool, error) {
	delta, err := gojsondiff.New().Compare(left, right)
	if err != nil {
		return false, err
	}
	if !delta.Modified() {
		return false, nil
	}
	var leftObj interface{}
	if err := json.Unmarshal(left, &leftObj); err != nil {
		return false, err
	}
	f := formatter.NewAsciiFormatter(leftObj, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       coloring,
	})
	out, err := f.Format(delta)
	if err != nil {
		return true, err
	}
	_, err = io.WriteString(w, out)
	return true, err
}

func newDiffCmd() *cobra.Command {
	var noColor bool
	cmd := &cobra.Command{
		Use:   "diff <a.json> <b.json>",
		Short: "Show the difference between two state dumps",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			left, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			right, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			changed, err := diffDumps(cmd.OutOrStdout(), left, right, !noColor)
			if err != nil {
				return err
			}
			if !changed {
				fmt.Fprintf(cmd.OutOrStdout(), "%sidentical%s\n", common.ColorGreen, common.ColorReset)
				return nil
			}
			return fmt.Errorf("dumps differ")
		},
	}
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Plain output")
	return cmd
}
