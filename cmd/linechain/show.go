package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/jmerrifield20/linechain/internal/chain"
	"github.com/spf13/cobra"
)

// ── show ─────────────────────────────────────────────────────────────────────

type showResult struct {
	Artifact string         `json:"artifact" yaml:"artifact"`
	Summary  *chain.Summary `json:"summary" yaml:"summary"`
	Records  []recordView   `json:"records" yaml:"records"`
}

func newShowCmd(a *app) *cobra.Command {
	var (
		from   int
		limit  int
		output string
	)
	cmd := &cobra.Command{
		Use:   "show <artifact>",
		Short: "Print an artifact's header, length, head and a window of records",
		Long: `Show reads an artifact on its own, without the log it commits to.
--limit 0 prints every record from --from onwards.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(cmd, output); err != nil {
				return err
			}
			if from < 0 || limit < 0 {
				return usageError{fmt.Errorf("--from and --limit must not be negative")}
			}
			res := showResult{Artifact: args[0], Records: []recordView{}}
			sum, err := chain.Scan(cmd.Context(), args[0], from, limit, func(r chain.Record) error {
				res.Records = append(res.Records, viewRecord(r))
				return nil
			})
			if err != nil {
				return err
			}
			res.Summary = sum
			return render(a.stdout, output, res, func(w io.Writer) { printShow(w, res) })
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "First record index to print")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum records to print; 0 for all")
	addOutputFlags(cmd, &output)
	return cmd
}

func printShow(w io.Writer, res showResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "artifact\t%s\n", res.Artifact)
	fmt.Fprintf(tw, "format\t%s v%d\n", res.Summary.Format, res.Summary.Header.Version)
	fmt.Fprintf(tw, "algorithm\t%s\n", res.Summary.Header.Algorithm)
	fmt.Fprintf(tw, "records\t%d\n", res.Summary.Records)
	if res.Summary.Head != "" {
		fmt.Fprintf(tw, "head\t%s\n", res.Summary.Head)
	}
	_ = tw.Flush()

	if len(res.Records) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "INDEX\tLINE DIGEST\tCHAIN DIGEST\t")
	for _, r := range res.Records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t\n", r.Index, r.LineDigest, r.ChainDigest)
	}
	_ = tw.Flush()
}
