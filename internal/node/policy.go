package node

import (
	"context"
	"errors"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/xxxsen/mnote-agent/internal/pkg/errors"
)

type Policy int

const (
	// PolicyPropagate returns every failure to the caller.
	PolicyPropagate Policy = iota
	// PolicyPassThroughUnconfigured returns the input unchanged when no
	// model is configured and propagates upstream failures.
	PolicyPassThroughUnconfigured
	// PolicyPassThrough returns the input unchanged on any failure.
	PolicyPassThrough
)

const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeFailed   = "failed"
)

var policies = map[Stage]Policy{
	StageTranslate:      PolicyPassThroughUnconfigured,
	StagePolish:         PolicyPassThroughUnconfigured,
	StageQueryTransform: PolicyPassThrough,
	StageChat:           PolicyPropagate,
	StageChatStream:     PolicyPropagate,
	StageSynthesis:      PolicyPropagate,
	StageNote:           PolicyPropagate,
}

func PolicyOf(stage Stage) Policy {
	if p, ok := policies[stage]; ok {
		return p
	}
	return PolicyPropagate
}

// Settle applies the stage policy to res. Failures are logged with the
// stage before the decision. The bool reports whether fallback was used.
func (d *Deps) Settle(ctx context.Context, stage Stage, res fn.Result[string], fallback string) (fn.Result[string], bool) {
	if res.IsOk() {
		d.record(stage, OutcomeOK)
		return res, false
	}
	_, err := res.Unpack()
	logger := logutil.GetLogger(ctx).With(zap.String("stage", string(stage)))
	if recoverable(PolicyOf(stage), err) {
		logger.Warn("stage failed, passing input through", zap.Error(err))
		d.record(stage, OutcomeDegraded)
		return fn.Ok(fallback), true
	}
	logger.Error("stage failed", zap.Error(err))
	d.record(stage, OutcomeFailed)
	return res, false
}

func recoverable(p Policy, err error) bool {
	switch p {
	case PolicyPassThrough:
		return true
	case PolicyPassThroughUnconfigured:
		return errors.Is(err, appErr.ErrModelUnresolved)
	}
	return false
}

func (d *Deps) record(stage Stage, outcome string) {
	if d.Recorder != nil {
		d.Recorder.StageOutcome(string(stage), outcome)
	}
}
