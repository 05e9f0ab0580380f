package main

import (
	"errors"

	"github.com/jmerrifield20/linechain/internal/anchor"
	"github.com/jmerrifield20/linechain/internal/chain"
	"github.com/spf13/cobra"
)

// Process exit codes. Verdicts and failure classes are distinct so that
// scripts can branch on the status alone.
const (
	exitOK           = 0
	exitInternal     = 1
	exitUsage        = 2
	exitUncommitted  = 3
	exitTampered     = 4
	exitInconclusive = 5
	exitCorrupted    = 6
	exitTruncated    = 7
	exitAlgorithm    = 8
	exitIO           = 9
	exitLocked       = 10
)

// usageError marks bad arguments, flags or configuration.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// verdictError carries a non-VALID verdict out of a command. The report has
// already been printed, so execute does not print it again.
type verdictError struct{ verdict chain.Verdict }

func (e *verdictError) Error() string { return string(e.verdict) }

func verdictResult(v chain.Verdict) error {
	if v == chain.VerdictValid {
		return nil
	}
	return &verdictError{verdict: v}
}

func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

// exitCode maps an error returned by a command to the process exit code.
func exitCode(err error) int {
	var ve *verdictError
	if errors.As(err, &ve) {
		switch ve.verdict {
		case chain.VerdictUncommitted:
			return exitUncommitted
		case chain.VerdictTampered:
			return exitTampered
		case chain.VerdictInconclusive:
			return exitInconclusive
		}
		return exitInternal
	}

	var ue usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ue):
		return exitUsage
	case errors.Is(err, chain.ErrChainCorrupted):
		return exitCorrupted
	case errors.Is(err, chain.ErrLogTruncated):
		return exitTruncated
	case errors.Is(err, chain.ErrAlgorithmMismatch):
		return exitAlgorithm
	case errors.Is(err, chain.ErrLocked):
		return exitLocked
	case errors.Is(err, anchor.ErrMismatch), errors.Is(err, anchor.ErrRegression):
		return exitTampered
	case errors.Is(err, chain.ErrInvariantViolation):
		return exitInternal
	case errors.Is(err, chain.ErrIO):
		return exitIO
	}
	return exitInternal
}
