package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/jmerrifield20/linechain/internal/chain"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func addOutputFlags(cmd *cobra.Command, output *string) {
	cmd.Flags().StringVarP(output, "output", "o", outputText, "Output format: text, json or yaml")
	cmd.Flags().Bool("no-color", false, "Disable coloured text output")
}

func checkOutput(cmd *cobra.Command, output string) error {
	switch output {
	case outputText, outputJSON, outputYAML:
	default:
		return usageError{fmt.Errorf("unknown output format %q (want text, json or yaml)", output)}
	}
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
		color.NoColor = true
	}
	return nil
}

// render writes v as JSON or YAML, or calls text for human output.
func render(w io.Writer, output string, v any, text func(io.Writer)) error {
	switch output {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	text(w)
	return nil
}

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
	badColor  = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
)

func verdictColor(v chain.Verdict) *color.Color {
	switch v {
	case chain.VerdictValid:
		return okColor
	case chain.VerdictTampered:
		return badColor
	}
	return warnColor
}

// recordView is the hex form of a record used by every output format.
type recordView struct {
	Index       int    `json:"index" yaml:"index"`
	LineDigest  string `json:"line_digest" yaml:"line_digest"`
	ChainDigest string `json:"chain_digest" yaml:"chain_digest"`
}

func viewRecord(r chain.Record) recordView {
	return recordView{Index: r.Index, LineDigest: r.LineHex(), ChainDigest: r.ChainHex()}
}
