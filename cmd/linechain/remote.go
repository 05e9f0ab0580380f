package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"

	"github.com/jmerrifield20/linechain/internal/chain"
	"github.com/jmerrifield20/linechain/pkg/client"
	"github.com/spf13/cobra"
)

// ── remote ───────────────────────────────────────────────────────────────────

func newRemoteCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Query chains exposed by a running 'linechain serve'",
		Long: `Remote talks to the HTTP API of 'linechain serve'. The server URL, bearer
token and timeout come from remote.server, remote.token and remote.timeout
(LINECHAIN_REMOTE_TOKEN etc.) unless given as flags.`,
	}
	pf := cmd.PersistentFlags()
	pf.String("server", "", "Base URL of the linechain API (default http://localhost:8080)")
	pf.String("token", "", "Bearer token for a server with serve.auth enabled")
	pf.Duration("timeout", 0, "Per-request timeout (default 30s)")

	connect := func() (*client.Client, error) {
		opts := []client.Option{client.WithTimeout(a.cfg.Remote.Timeout)}
		if a.cfg.Remote.Token != "" {
			opts = append(opts, client.WithBearerToken(a.cfg.Remote.Token))
		}
		c, err := client.New(a.cfg.Remote.Server, opts...)
		if err != nil {
			return nil, usageError{err}
		}
		return c, nil
	}

	cmd.AddCommand(newRemoteListCmd(a, connect), newRemoteVerifyCmd(a, connect))
	return cmd
}

func newRemoteListCmd(a *app, connect func() (*client.Client, error)) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the chains a server exposes",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(cmd, output); err != nil {
				return err
			}
			c, err := connect()
			if err != nil {
				return err
			}
			chains, err := c.ListChains(cmd.Context())
			if err != nil {
				return remoteError(err)
			}
			return render(a.stdout, output, chains, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tRECORDS\tALGORITHM\tHEAD")
				for _, ch := range chains {
					head := ch.Head
					if ch.Error != "" {
						head = badColor.Sprint(ch.Error)
					}
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", ch.Name, ch.Records, ch.Algorithm, head)
				}
				tw.Flush()
			})
		},
	}
	addOutputFlags(cmd, &output)
	return cmd
}

func newRemoteVerifyCmd(a *app, connect func() (*client.Client, error)) *cobra.Command {
	var (
		output   string
		anchored bool
	)
	cmd := &cobra.Command{
		Use:   "verify <name>",
		Short: "Verify a served chain; exit status as for 'linechain verify'",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(cmd, output); err != nil {
				return err
			}
			c, err := connect()
			if err != nil {
				return err
			}
			rep, err := c.Verify(cmd.Context(), args[0], anchored)
			if err != nil {
				return remoteError(err)
			}
			verdict := chain.Verdict(rep.Verdict)
			if err := render(a.stdout, output, rep, func(w io.Writer) {
				fmt.Fprintf(w, "%s  %s  (%d lines, %d records, %s, %s)\n",
					verdictColor(verdict).Sprint(rep.Verdict), args[0],
					rep.LogLines, rep.ArtifactRecords, rep.Algorithm, rep.Format)
				if rep.Index != nil {
					fmt.Fprintf(w, "  %s at index %d\n", rep.Kind, *rep.Index)
				}
				if verdict == chain.VerdictValid {
					printHead(w, rep.Head)
				}
			}); err != nil {
				return err
			}
			return verdictResult(verdict)
		},
	}
	cmd.Flags().BoolVar(&anchored, "anchor", false, "Also enforce the chain's latest checkpoint")
	addOutputFlags(cmd, &output)
	return cmd
}

// remoteError maps API failures onto the local error classes so the exit
// status matches the one a local run would produce.
func remoteError(err error) error {
	var apiErr *client.APIError
	switch {
	case errors.Is(err, client.ErrNotFound):
		return usageError{err}
	case errors.As(err, &apiErr):
		switch apiErr.Status {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return usageError{err}
		}
		switch apiErr.Code {
		case "algorithm_mismatch":
			return fmt.Errorf("%w: %v", chain.ErrAlgorithmMismatch, err)
		case "malformed_artifact", "io_failure":
			return fmt.Errorf("%w: %v", chain.ErrIO, err)
		}
		return err
	}
	return fmt.Errorf("%w: %v", chain.ErrIO, err)
}
