package loop

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"

	"text2sql/internal/database"
	"text2sql/internal/metrics"
)

// Recorder checkpoints one session into the state store: every transition
// with a diff of the SQL it changed, every improver critique and the usage of
// every model call.
type Recorder struct {
	lifecycle *database.LifecycleDB
	histogram *metrics.Histogram
	sessionID string
	dmp       *diffmatchpatch.DiffMatchPatch

	seq     int
	lastSQL string
}

// NewRecorder creates a recorder for one session. histogram may be nil.
func NewRecorder(lifecycle *database.LifecycleDB, histogram *metrics.Histogram, sessionID string) *Recorder {
	return &Recorder{
		lifecycle: lifecycle,
		histogram: histogram,
		sessionID: sessionID,
		dmp:       diffmatchpatch.New(),
	}
}

// OnTransition stores a checkpoint, plus the new feedback entry if the
// transition appended one.
func (r *Recorder) OnTransition(ctx context.Context, from, to State) error {
	r.seq++
	t := database.Transition{
		SessionID: r.sessionID,
		Seq:       r.seq,
		Phase:     string(to.Phase),
		Revision:  to.Revision,
		SQL:       to.SQL,
	}
	if to.SQL != r.lastSQL {
		t.SQLDiff = r.diff(r.lastSQL, to.SQL)
		r.lastSQL = to.SQL
	}

	err := r.lifecycle.RecordTransition(ctx, t)
	if len(to.Feedback) > len(from.Feedback) {
		err = errors.Join(err, r.lifecycle.RecordFeedback(ctx, r.sessionID, to.Revision, to.LatestFeedback()))
	}
	return err
}

// OnInvocation records token usage and latency of successful calls.
func (r *Recorder) OnInvocation(ctx context.Context, inv Invocation) error {
	if inv.Response == nil {
		return nil
	}

	err := r.lifecycle.RecordModelUsage(ctx, database.Usage{
		RequestID:        uuid.NewString(),
		SessionID:        r.sessionID,
		Role:             string(inv.Role),
		Model:            inv.Response.Model,
		Temperature:      inv.Temperature,
		PromptTokens:     inv.Response.PromptTokens,
		CompletionTokens: inv.Response.CompletionTokens,
		Latency:          inv.Response.Latency,
	})
	if r.histogram != nil {
		err = errors.Join(err, r.histogram.Observe(ctx, string(inv.Role), inv.Response.Latency))
	}
	return err
}

// diff renders an inline diff: [-removed-]{+added+}.
func (r *Recorder) diff(before, after string) string {
	diffs := r.dmp.DiffMain(before, after, false)
	diffs = r.dmp.DiffCleanupSemantic(diffs)

	var sb strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			sb.WriteString(d.Text)
		case diffmatchpatch.DiffDelete:
			sb.WriteString("[-" + d.Text + "-]")
		case diffmatchpatch.DiffInsert:
			sb.WriteString("{+" + d.Text + "+}")
		}
	}
	return sb.String()
}
