package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/linechain/internal/anchor"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// connect opens and pings the Postgres pool named by database.url.
func (a *app) connect(ctx context.Context) (*pgxpool.Pool, error) {
	if a.cfg.Database.URL == "" {
		return nil, usageError{fmt.Errorf("database.url is not configured (set --database-url or LINECHAIN_DATABASE_URL)")}
	}
	db, err := pgxpool.New(ctx, a.cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	a.logger.Debug("connected to postgres")
	return db, nil
}

// openStore returns the Postgres checkpoint store and its close function.
func (a *app) openStore(ctx context.Context) (anchor.Store, func(), error) {
	db, err := a.connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	return anchor.NewPostgresStore(db, a.logger), db.Close, nil
}

// ── anchor ───────────────────────────────────────────────────────────────────

type anchorResult struct {
	Previous *anchor.Checkpoint `json:"previous,omitempty" yaml:"previous,omitempty"`
	Current  *anchor.Checkpoint `json:"current" yaml:"current"`
}

func newAnchorCmd(a *app) *cobra.Command {
	var (
		name   string
		output string
		check  bool
	)
	cmd := &cobra.Command{
		Use:   "anchor <log> [artifact]",
		Short: "Record the artifact's head as a checkpoint in the checkpoint store",
		Long: `Anchor stores (name, record count, head digest, algorithm) in Postgres,
outside the host that writes the log. A later 'verify --anchor' then
detects a log and artifact rewritten together.

The artifact must still carry the head of the previous checkpoint for the
same name; otherwise nothing is recorded and the command exits with
status 4. Checkpoints are themselves hash-chained; --check verifies that
chain instead of recording.`,
		Args: usageArgs(cobra.RangeArgs(0, 2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(cmd, output); err != nil {
				return err
			}
			if !check && len(args) == 0 {
				return usageError{fmt.Errorf("anchor requires a log path")}
			}
			ctx := cmd.Context()
			store, closeStore, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			if check {
				if err := store.Verify(ctx); err != nil {
					return fmt.Errorf("%w: %w", anchor.ErrMismatch, err)
				}
				fmt.Fprintf(a.stdout, "%s checkpoint chain intact\n", okColor.Sprint("VALID"))
				return nil
			}

			if name == "" {
				name = anchorName(args[0])
			}
			prev, next, err := anchor.Anchor(ctx, store, name, a.resolveArtifact(args))
			if err != nil {
				return err
			}
			a.logger.Info("checkpoint recorded", zap.String("name", name), zap.Int("records", next.Records))
			return render(a.stdout, output, anchorResult{Previous: prev, Current: next}, func(w io.Writer) {
				fmt.Fprintf(w, "%s %s at %d records (checkpoint %d)\n",
					okColor.Sprint("anchored"), next.LogName, next.Records, next.Index)
				printHead(w, next.Head)
				if prev != nil {
					fmt.Fprintf(w, "previous %d records at %s\n", prev.Records, prev.AnchoredAt.Format("2006-01-02T15:04:05Z"))
				}
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Checkpoint name (default the absolute log path)")
	cmd.Flags().BoolVar(&check, "check", false, "Verify the checkpoint hash chain instead of recording")
	addOutputFlags(cmd, &output)
	return cmd
}

// ── migrate ──────────────────────────────────────────────────────────────────

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the checkpoint store schema",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := anchor.Migrate(cmd.Context(), db, a.logger)
			if err != nil {
				return err
			}
			if applied == 0 {
				fmt.Fprintln(a.stdout, "nothing to migrate, already up to date")
			} else {
				fmt.Fprintf(a.stdout, "applied %d migration(s)\n", applied)
			}
			return nil
		},
	}
}
