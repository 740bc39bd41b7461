package loop

// Phase is a state of the revision loop.
type Phase string

const (
	PhaseSchemaFinding Phase = "schema_finding"
	PhaseWriting       Phase = "writing"
	PhaseValidating    Phase = "validating"
	PhaseImproving     Phase = "improving"
	PhaseAccepted      Phase = "accepted"
	PhaseExhausted     Phase = "revision_exhausted"
)

// Terminal reports whether the loop stops in this phase.
func (p Phase) Terminal() bool {
	return p == PhaseAccepted || p == PhaseExhausted
}

// Request is the caller-facing input of one loop run.
type Request struct {
	Question      string
	Schema        string
	Database      string
	RevisionLimit int
}

// State is an immutable snapshot of a session. Transitions return a new
// State and never modify their input.
type State struct {
	Question      string
	Schema        string
	Database      string
	RevisionLimit int

	Phase       Phase
	SQL         string
	Accepted    bool
	Feedback    []string
	Revision    int
	SchemaNotes string
}

// Start returns the initial state for a request.
func Start(req Request) State {
	return State{
		Question:      req.Question,
		Schema:        req.Schema,
		Database:      req.Database,
		RevisionLimit: req.RevisionLimit,
		Phase:         PhaseSchemaFinding,
	}
}

// LatestFeedback returns the most recent improver critique, or "".
func (s State) LatestFeedback() string {
	if len(s.Feedback) == 0 {
		return ""
	}
	return s.Feedback[len(s.Feedback)-1]
}

// withFeedback appends to a copy of the feedback log.
func (s State) withFeedback(entry string) State {
	log := make([]string, len(s.Feedback), len(s.Feedback)+1)
	copy(log, s.Feedback)
	s.Feedback = append(log, entry)
	return s
}

// Outcome is what a finished run yields.
type Outcome struct {
	SQL         string   `json:"sql"`
	Accepted    bool     `json:"accepted"`
	Feedback    []string `json:"feedback"`
	Revisions   int      `json:"revisions"`
	Phase       Phase    `json:"phase"`
	SchemaNotes string   `json:"schema_notes,omitempty"`
}

func outcomeOf(s State) *Outcome {
	return &Outcome{
		SQL:         s.SQL,
		Accepted:    s.Accepted,
		Feedback:    s.Feedback,
		Revisions:   s.Revision,
		Phase:       s.Phase,
		SchemaNotes: s.SchemaNotes,
	}
}

// MaxInvocations is the static bound on model calls for a revision limit:
// one schema lookup, then per revision a write and a validation, with an
// improvement between consecutive revisions.
func MaxInvocations(revisionLimit int) int {
	return 3 * revisionLimit
}
