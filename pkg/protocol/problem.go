package protocol

import "strings"

// Metadata is a free-form key/value pair carried by problems and deliverables.
type Metadata struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Problem is the question a conference works on.
type Problem struct {
	Statement string     `json:"statement"`
	Context   string     `json:"context,omitempty"`
	Metadata  []Metadata `json:"metadata,omitempty"`
}

// ProblemString renders the problem the way it is introduced to attendees.
func (p Problem) ProblemString() string {
	var sb strings.Builder
	if p.Context != "" {
		sb.WriteString("-------------Context:\n")
		sb.WriteString(p.Context)
		sb.WriteString("\n")
	}
	sb.WriteString("-------------Problem:\n")
	sb.WriteString(p.Statement)
	sb.WriteString("\n")
	return sb.String()
}

const evaluationStatement = "Evaluate the given response in terms of how well it answers the query, " +
	"based on the provided ground truth and evaluation criteria."

// Evaluation describes a response to be judged against a ground truth.
type Evaluation struct {
	GroundTruth string `json:"ground_truth,omitempty"`
	Query       string `json:"query,omitempty"`
	Response    string `json:"response,omitempty"`
	Criteria    string `json:"criteria,omitempty"`
}

// Problem converts the evaluation into a problem whose context lists
// every non-empty field.
func (e Evaluation) Problem() Problem {
	var sb strings.Builder
	add := func(label, v string) {
		if v != "" {
			sb.WriteString("\n")
			sb.WriteString(label)
			sb.WriteString(": ")
			sb.WriteString(v)
		}
	}
	add("Ground Truth", e.GroundTruth)
	add("Query", e.Query)
	add("Response to Evaluate", e.Response)
	add("Evaluation Criteria", e.Criteria)
	return Problem{Statement: evaluationStatement, Context: sb.String()}
}
