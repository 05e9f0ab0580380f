package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/jmerrifield20/linechain/internal/anchor"
	"github.com/jmerrifield20/linechain/internal/chain"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ── verify ───────────────────────────────────────────────────────────────────

func newVerifyCmd(a *app) *cobra.Command {
	var (
		output   string
		anchored bool
		name     string
	)
	cmd := &cobra.Command{
		Use:   "verify <log> [artifact]",
		Short: "Check a log against its artifact without modifying either",
		Long: `Verify recomputes the chain from the log and compares it record by record
with the artifact. The exit status carries the verdict:

  0  VALID                          log and artifact agree
  3  VALID_BUT_UNCOMMITTED_APPENDS  the log has lines not yet appended
  4  TAMPERED                       a committed line changed
  5  INCONCLUSIVE                   the log is shorter than the artifact

With --anchor the artifact must also still carry the head recorded by the
latest checkpoint for this log (see 'linechain anchor'). A log and
artifact rewritten together then report TAMPERED with kind
anchor_mismatch.`,
		Args: usageArgs(cobra.RangeArgs(1, 2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(cmd, output); err != nil {
				return err
			}
			ctx := cmd.Context()
			opts := chain.VerifyOptions{
				Algorithm:    pinnedAlgorithm(cmd),
				MaxLineBytes: a.cfg.Chain.MaxLineBytes,
				Logger:       a.logger,
			}

			if anchored {
				store, closeStore, err := a.openStore(ctx)
				if err != nil {
					return err
				}
				defer closeStore()
				if name == "" {
					name = anchorName(args[0])
				}
				cp, err := store.Latest(ctx, name)
				switch {
				case errors.Is(err, anchor.ErrNotFound):
					a.logger.Warn("no checkpoint recorded, verifying unanchored", zap.String("name", name))
				case err != nil:
					return err
				default:
					if opts.Checkpoint, err = cp.Chain(); err != nil {
						return err
					}
				}
			}

			rep, err := chain.Verify(ctx, args[0], a.resolveArtifact(args), opts)
			if err != nil {
				return err
			}
			if err := render(a.stdout, output, rep, func(w io.Writer) { printReport(w, args[0], rep) }); err != nil {
				return err
			}
			return verdictResult(rep.Verdict)
		},
	}
	cmd.Flags().String("algorithm", "", "Require the artifact to use this digest algorithm")
	cmd.Flags().BoolVar(&anchored, "anchor", false, "Also check the latest checkpoint in the checkpoint store")
	cmd.Flags().StringVar(&name, "name", "", "Checkpoint name (default the absolute log path)")
	addOutputFlags(cmd, &output)
	return cmd
}

func printReport(w io.Writer, logPath string, rep *chain.Report) {
	fmt.Fprintf(w, "%s  %s  (%d lines, %d records, %s, %s)\n",
		verdictColor(rep.Verdict).Sprint(rep.Verdict), logPath,
		rep.LogLines, rep.ArtifactRecords, rep.Algorithm, rep.Format)
	if idx, ok := rep.DivergentIndex(); ok {
		fmt.Fprintf(w, "  %s at index %d\n", rep.Kind, idx)
	}
	if rep.Expected != "" {
		fmt.Fprintf(w, "  expected %s\n", rep.Expected)
	}
	if rep.Actual != "" {
		fmt.Fprintf(w, "  actual   %s\n", rep.Actual)
	}
	if rep.Verdict == chain.VerdictValid {
		printHead(w, rep.Head)
	}
}
