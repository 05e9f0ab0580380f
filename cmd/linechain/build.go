package main

import (
	"fmt"
	"io"

	"github.com/jmerrifield20/linechain/internal/chain"
	"github.com/spf13/cobra"
)

// ── build ────────────────────────────────────────────────────────────────────

func newBuildCmd(a *app) *cobra.Command {
	var (
		out    string
		output string
		wait   bool
	)
	cmd := &cobra.Command{
		Use:   "build <log>",
		Short: "Chain every line of a log into a fresh artifact",
		Long: `Build discards any existing artifact and chains every line of the log
from an empty previous digest. The new artifact replaces the old one
atomically: readers see either the previous artifact or the complete new
one, never a partial file.

  linechain build evidence_log.csv
  linechain build --format cbor --algorithm blake3 app.log.1.gz`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(cmd, output); err != nil {
				return err
			}
			artifact := out
			if artifact == "" {
				artifact = chain.DefaultArtifactPath(args[0], a.format())
			}
			res, err := chain.Build(cmd.Context(), args[0], artifact, chain.BuildOptions{
				Algorithm:    a.cfg.Chain.Algorithm,
				Format:       a.format(),
				MaxLineBytes: a.cfg.Chain.MaxLineBytes,
				Wait:         wait,
				Logger:       a.logger,
			})
			if err != nil {
				return err
			}
			return render(a.stdout, output, res, func(w io.Writer) {
				fmt.Fprintf(w, "%s %s: %d records (%s, %s)\n",
					okColor.Sprint("built"), res.Artifact, res.Records, res.Algorithm, res.Format)
				printHead(w, res.Head)
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Artifact path (default <log>.chain.jsonl or <log>.chain.cbor)")
	cmd.Flags().String("algorithm", "", "Digest algorithm (default from config, sha256)")
	cmd.Flags().String("format", "", "Artifact encoding: jsonl or cbor (default from config, jsonl)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for another writer to release the artifact instead of failing")
	addOutputFlags(cmd, &output)
	return cmd
}

// ── append ───────────────────────────────────────────────────────────────────

func newAppendCmd(a *app) *cobra.Command {
	var (
		create bool
		output string
		wait   bool
	)
	cmd := &cobra.Command{
		Use:   "append <log> [artifact]",
		Short: "Extend an artifact with lines added to the log since it was written",
		Long: `Append verifies that the log still reproduces every committed record,
then chains only the new lines onto the artifact's head. An artifact that
no longer matches its log is never extended: a changed line exits with
status 6 and a shortened log with status 7, both naming the first
divergent index.

When the artifact is omitted, an existing <log>.chain.jsonl,
<log>.chain.cbor or legacy <log>.chain.json is used. Legacy artifacts are
rewritten as jsonl.`,
		Args: usageArgs(cobra.RangeArgs(1, 2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(cmd, output); err != nil {
				return err
			}
			artifact := a.resolveArtifact(args)
			opts := chain.AppendOptions{
				Algorithm:       pinnedAlgorithm(cmd),
				Format:          a.format(),
				MaxLineBytes:    a.cfg.Chain.MaxLineBytes,
				CreateIfMissing: create,
				Wait:            wait,
				Logger:          a.logger,
			}
			if create {
				opts.Algorithm = a.appendAlgorithm(cmd, artifact)
			}
			res, err := chain.Append(cmd.Context(), args[0], artifact, opts)
			if err != nil {
				return err
			}
			return render(a.stdout, output, res, func(w io.Writer) {
				if !res.Committed {
					fmt.Fprintf(w, "%s %s unchanged: %d records\n",
						dimColor.Sprint("no new lines;"), res.Artifact, res.Records)
				} else {
					fmt.Fprintf(w, "%s %d records to %s (%d total)\n",
						okColor.Sprint("appended"), res.Appended, res.Artifact, res.Records)
				}
				printHead(w, res.Head)
			})
		},
	}
	cmd.Flags().BoolVar(&create, "init", false, "Build the artifact if it does not exist yet")
	cmd.Flags().String("algorithm", "", "Require the artifact to use this digest algorithm")
	cmd.Flags().String("format", "", "Artifact encoding used with --init: jsonl or cbor")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for another writer to release the artifact instead of failing")
	addOutputFlags(cmd, &output)
	return cmd
}

func printHead(w io.Writer, head string) {
	if head != "" {
		fmt.Fprintf(w, "head %s\n", head)
	}
}
