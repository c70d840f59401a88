package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/morezero/coordinator/pkg/grammar"
)

var (
	parsePrefix  string
	parsePartial bool
)

var parseCmd = &cobra.Command{
	Use:   "parse <file>",
	Short: "Parse a saved model response offline and print the result as JSON",
	Long: `Parse runs the tag grammar over a saved model response and prints the
parsed reasoning, status updates, content, invocations and grammar errors.
Use "-" to read from stdin. A complete response with grammar errors exits
non-zero after printing.`,
	Example: `  coordinator parse response.txt --prefix t1_
  cat response.txt | coordinator parse - --prefix t1_ --partial`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		buf, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}
		res := grammar.Parse(buf, grammar.Options{Prefix: parsePrefix, Final: !parsePartial})

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		if res.HasErrors() {
			return fmt.Errorf("%d grammar error(s)", len(res.Errors))
		}
		return nil
	},
}

func init() {
	parseCmd.Flags().StringVar(&parsePrefix, "prefix", "", "Tag prefix the response was generated with")
	parseCmd.Flags().BoolVar(&parsePartial, "partial", false, "Treat the input as an unfinished buffer")
}

func readInput(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
