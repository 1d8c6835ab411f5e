package orch

import (
	"context"

	"github.com/dkeye/Bounce/internal/app"
	"github.com/dkeye/Bounce/internal/app/feedback"
	"github.com/dkeye/Bounce/internal/app/session"
	"github.com/dkeye/Bounce/internal/core"
	"github.com/dkeye/Bounce/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry *app.Registry
	Feedback *feedback.Evaluator
	Metrics  *metrics.Metrics

	deps session.Deps
}

// New wires the registry and evaluator into the per-session dependencies.
func New(deps session.Deps) *Orchestrator {
	if deps.Registry == nil {
		deps.Registry = app.NewRegistry()
	}
	return &Orchestrator{
		Registry: deps.Registry,
		Feedback: feedback.NewEvaluator(deps.Registry, deps.Metrics),
		Metrics:  deps.Metrics,
		deps:     deps,
	}
}

// Open creates a session for conn and registers it. dispatch must post to the
// event loop that will drive the session.
func (o *Orchestrator) Open(ctx context.Context, conn core.Conn, dispatch session.Dispatcher) *session.Session {
	for {
		sid := core.SessionID(uuid.NewString())
		sess := session.New(ctx, sid, conn, o.deps, dispatch)
		if o.Registry.Add(sess) {
			o.Metrics.SessionOpened()
			o.Metrics.Transition(core.StateIdle.String())
			return sess
		}
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Msg("session id collision, retrying")
	}
}

// Evaluate scores a detection report for sid.
func (o *Orchestrator) Evaluate(sid core.SessionID, x, y float64) (float64, bool) {
	return o.Feedback.Evaluate(sid, x, y)
}

// CloseAll tears down every registered session.
func (o *Orchestrator) CloseAll() {
	sessions := o.Registry.Snapshot()
	for _, s := range sessions {
		s.Teardown()
	}
	log.Info().Str("module", "orch").Int("count", len(sessions)).Msg("all sessions closed")
}
