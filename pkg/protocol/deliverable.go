package protocol

// Deliverable is the structured outcome of a conference: one item per
// attendee that answered the closing call, in attendee order.
type Deliverable[T any] struct {
	ID       string     `json:"id"`
	Items    []T        `json:"items"`
	Metadata []Metadata `json:"metadata,omitempty"`
}

// DiscussionPoint is what an attendee contributes on a regular turn.
type DiscussionPoint struct {
	Point     string `json:"point"`
	Reasoning string `json:"reasoning,omitempty"`
}

// GeneralResult is an attendee's final answer to a general problem.
type GeneralResult struct {
	Answer    string `json:"answer"`
	Rationale string `json:"rationale,omitempty"`
}

// EvaluationResult is an attendee's final verdict on an evaluation problem.
type EvaluationResult struct {
	Score         int    `json:"score"`
	Verdict       string `json:"verdict"`
	Justification string `json:"justification,omitempty"`
}
