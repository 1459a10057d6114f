package encode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/rdiovox/internal/resilience"
	"github.com/MrWong99/rdiovox/pkg/transcode"
)

// EncodeError reports that every transcoder stage failed for a session. The
// session is dropped; nothing reaches the uploader.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode: all transcoders failed: %v", e.Err)
}

// Unwrap returns the joined per-stage errors.
func (e *EncodeError) Unwrap() error { return e.Err }

// stage pairs a transcoder with its dedicated breaker.
type stage struct {
	name    string
	tr      transcode.Transcoder
	breaker *resilience.Breaker
}

// Chain runs recordings through an ordered list of transcoders, each guarded
// by its own circuit breaker. A stage that keeps failing is skipped without
// being invoked until its cool-down elapses.
//
// Chain is safe for concurrent use.
type Chain struct {
	stages []stage
}

// NewChain builds a Chain over transcoders in fallback order. breakerCfg
// seeds each stage's breaker; the Name field is overridden per stage.
func NewChain(breakerCfg resilience.BreakerConfig, transcoders ...transcode.Transcoder) *Chain {
	c := &Chain{}
	for _, tr := range transcoders {
		cfg := breakerCfg
		cfg.Name = tr.Name()
		c.stages = append(c.stages, stage{
			name:    tr.Name(),
			tr:      tr,
			breaker: resilience.NewBreaker(cfg),
		})
	}
	return c
}

// Stages returns the transcoder names in fallback order.
func (c *Chain) Stages() []string {
	names := make([]string, len(c.stages))
	for i, st := range c.stages {
		names[i] = st.name
	}
	return names
}

// Run produces the encoded payload for the WAV at wavPath using the first
// stage whose breaker admits it and whose encode succeeds. Returns an
// [EncodeError] joining the per-stage errors when every stage fails.
func (c *Chain) Run(ctx context.Context, wavPath string) (transcode.Result, error) {
	if len(c.stages) == 0 {
		return transcode.Result{}, &EncodeError{Err: errors.New("no transcoders configured")}
	}

	var errs []error
	for _, st := range c.stages {
		// A cancelled run must not count as a stage failure.
		if err := ctx.Err(); err != nil {
			return transcode.Result{}, err
		}

		var res transcode.Result
		err := st.breaker.Execute(func() error {
			var inner error
			res, inner = runStage(ctx, st.tr, wavPath)
			return inner
		})
		if err == nil {
			return res, nil
		}
		if errors.Is(err, resilience.ErrOpen) {
			slog.Debug("skipping transcoder (breaker open)", "transcoder", st.name)
		} else {
			slog.Warn("transcoder failed, trying next", "transcoder", st.name, "error", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", st.name, err))
	}
	return transcode.Result{}, &EncodeError{Err: errors.Join(errs...)}
}

// runStage normalizes then encodes. A failed normalization degrades to
// encoding the original audio instead of failing the stage.
func runStage(ctx context.Context, tr transcode.Transcoder, wavPath string) (transcode.Result, error) {
	src := wavPath
	if norm, err := tr.Normalize(ctx, wavPath); err != nil {
		slog.Warn("normalization failed, encoding unnormalized audio",
			"transcoder", tr.Name(), "error", err)
	} else {
		src = norm
	}
	return tr.Encode(ctx, src)
}
