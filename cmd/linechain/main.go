// Command linechain builds, extends and verifies tamper-evident hash chains
// over line-oriented logs.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jmerrifield20/linechain/internal/chain"
	"github.com/jmerrifield20/linechain/internal/config"
	"github.com/jmerrifield20/linechain/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// app carries the state shared by every command of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr, v: config.New(), logger: zap.NewNop()}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	_ = a.logger.Sync()
	if err == nil {
		return exitOK
	}

	code := exitCode(err)
	var ve *verdictError
	if !errors.As(err, &ve) {
		fmt.Fprintf(stderr, "linechain: %v\n", err)
	}
	if code == exitUsage {
		fmt.Fprintln(stderr, "Run 'linechain --help' for usage.")
	}
	return code
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "linechain",
		Short: "Tamper-evident hash chains for log files",
		Long: `linechain keeps a companion artifact next to a line-oriented log in which
every line is committed to by a digest chained to all lines before it.

Build the artifact once, append to it as the log grows, and verify at any
time: modified, reordered, inserted or deleted lines are reported with the
index of the first divergent line.`,
		Args:          usageArgs(cobra.NoArgs),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default ~/.linechain/config.yaml)")
	pf.String("log-level", "", "log level: debug, info, warn or error")
	pf.String("log-format", "", "log encoding: console or json")
	pf.String("log-file", "", "write logs to a rotating file instead of stderr")
	pf.Int("max-line-bytes", 0, "longest accepted log line in bytes")
	pf.String("database-url", "", "Postgres URL of the checkpoint store")

	root.AddCommand(
		newBuildCmd(a),
		newAppendCmd(a),
		newVerifyCmd(a),
		newShowCmd(a),
		newAnchorCmd(a),
		newWatchCmd(a),
		newServeCmd(a),
		newRemoteCmd(a),
		newTokenCmd(a),
		newMigrateCmd(a),
		newVersionCmd(a),
	)
	return root
}

// load resolves configuration and builds the logger for cmd.
func (a *app) load(cmd *cobra.Command) error {
	if err := config.BindFlags(a.v, cmd.Flags()); err != nil {
		return err
	}
	cfg, used, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return usageError{err}
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return usageError{err}
	}
	a.cfg, a.logger = cfg, logger.With(zap.String("cmd", cmd.Name()))
	if used != "" {
		a.logger.Debug("config loaded", zap.String("file", used))
	}
	return nil
}

func (a *app) format() chain.Format {
	f, _ := chain.ParseFormat(a.cfg.Chain.Format) // validated by config.Load
	return f
}

// pinnedAlgorithm returns the --algorithm flag only when given explicitly.
// The configured default selects the digest for new artifacts; it never
// pins the digest an existing artifact must declare.
func pinnedAlgorithm(cmd *cobra.Command) string {
	if !cmd.Flags().Changed("algorithm") {
		return ""
	}
	alg, _ := cmd.Flags().GetString("algorithm")
	return alg
}

// appendAlgorithm is the digest for an append that may create artifact:
// the pinned one if given, the configured one if the artifact does not
// exist yet, and otherwise none so the artifact's own digest is kept.
func (a *app) appendAlgorithm(cmd *cobra.Command, artifact string) string {
	if alg := pinnedAlgorithm(cmd); alg != "" {
		return alg
	}
	if _, err := os.Stat(artifact); err != nil {
		return a.cfg.Chain.Algorithm
	}
	return ""
}

// resolveArtifact returns args[1] when present, otherwise the first of the
// jsonl, cbor and legacy artifact names that exists next to the log, or the
// default name for the configured format.
func (a *app) resolveArtifact(args []string) string {
	if len(args) > 1 {
		return args[1]
	}
	logPath := args[0]
	for _, p := range []string{
		chain.DefaultArtifactPath(logPath, chain.FormatJSONL),
		chain.DefaultArtifactPath(logPath, chain.FormatCBOR),
		logPath + ".chain.json",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return chain.DefaultArtifactPath(logPath, a.format())
}

// anchorName is the default checkpoint name for a log: its absolute path.
func anchorName(logPath string) string {
	if abs, err := filepath.Abs(logPath); err == nil {
		return abs
	}
	return logPath
}

// ── version ──────────────────────────────────────────────────────────────────

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the linechain version",
		Args:  usageArgs(cobra.NoArgs),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "linechain %s (artifact format v%d)\n", version, chain.FormatVersion)
		},
	}
}
