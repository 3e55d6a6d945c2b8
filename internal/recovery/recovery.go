// Package recovery retries failed exports with progressively cheaper
// configurations. Only resource and i/o failures are retried;
// structural errors surface immediately because no configuration
// change can fix a corrupt source or an unsupported artifact.
package recovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/memtrace/memexport/pkg/compression"
	"github.com/memtrace/memexport/pkg/config"
	"github.com/memtrace/memexport/pkg/errors"
	"github.com/memtrace/memexport/pkg/utils"
)

// MaxAttempts bounds the fallback ladder.
const MaxAttempts = 3

// Op is one export attempt under a concrete configuration.
type Op func(ctx context.Context, cfg config.ExportConfig) error

// Executor runs an operation through the fallback ladder:
//
//	1. the caller's configuration as given
//	2. streaming mode (lowest steady-state memory)
//	3. streaming mode without compression
type Executor struct {
	Logger utils.Logger
}

func New(logger utils.Logger) *Executor {
	if logger == nil {
		logger = utils.GetGlobalLogger()
	}
	return &Executor{Logger: logger}
}

// attempt records one rung of the ladder for the final error message.
type attempt struct {
	desc string
	err  error
}

// Execute runs op, degrading the configuration on retryable failures.
// The first non-retryable error, and the last error once the ladder is
// exhausted, are returned with the attempt trail appended.
func (e *Executor) Execute(ctx context.Context, cfg config.ExportConfig, op Op) error {
	ladder := buildLadder(cfg)
	var attempts []attempt

	for i, rung := range ladder {
		if i >= MaxAttempts {
			break
		}
		if ctx.Err() != nil {
			return errors.Wrap(errors.CodeCancelled, "export cancelled", ctx.Err())
		}
		err := op(ctx, rung.cfg)
		if err == nil {
			if i > 0 {
				e.Logger.WithField("attempt", i+1).
					Info("export succeeded after degraded retry: %s", rung.desc)
			}
			return nil
		}
		attempts = append(attempts, attempt{desc: rung.desc, err: err})
		if !errors.IsRetryable(err) || errors.IsCancelled(err) {
			return trail(err, attempts)
		}
		e.Logger.WithField("attempt", i+1).
			Warn("export attempt failed (%s), degrading: %v", rung.desc, err)
	}
	last := attempts[len(attempts)-1]
	return trail(last.err, attempts)
}

type rung struct {
	desc string
	cfg  config.ExportConfig
}

// buildLadder produces the degradation sequence, skipping rungs that
// would repeat the configuration the caller already asked for.
func buildLadder(cfg config.ExportConfig) []rung {
	ladder := []rung{{desc: "as configured", cfg: cfg}}

	if cfg.Mode != config.ModeStreaming {
		ladder = append(ladder, rung{desc: "streaming mode", cfg: cfg.WithMode(config.ModeStreaming)})
	}
	if cfg.Compression != compression.AlgorithmNone {
		degraded := cfg.WithMode(config.ModeStreaming).WithCompression(compression.AlgorithmNone)
		ladder = append(ladder, rung{desc: "streaming mode, no compression", cfg: degraded})
	}
	return ladder
}

// trail wraps the final error with a summary of every attempt made.
func trail(final error, attempts []attempt) error {
	if len(attempts) <= 1 {
		return final
	}
	var b strings.Builder
	for i, a := range attempts {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "attempt %d (%s): %v", i+1, a.desc, a.err)
	}
	wrapped := errors.Wrap(errors.Code(final), "export failed after retries: "+b.String(), final)
	if s := errors.Stage(final); s != "" {
		wrapped = wrapped.WithStage(s)
	}
	return wrapped
}
