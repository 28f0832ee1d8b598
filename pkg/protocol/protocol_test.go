package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProblemString(t *testing.T) {
	t.Run("without context", func(t *testing.T) {
		p := Problem{Statement: "What is 2+2?"}
		assert.Equal(t, "-------------Problem:\nWhat is 2+2?\n", p.ProblemString())
	})

	t.Run("with context", func(t *testing.T) {
		p := Problem{Statement: "Pick one", Context: "apples or pears"}
		assert.Equal(t, "-------------Context:\napples or pears\n-------------Problem:\nPick one\n", p.ProblemString())
	})
}

func TestEvaluationProblem(t *testing.T) {
	p := Evaluation{GroundTruth: "4", Query: "2+2", Criteria: "exact"}.Problem()
	assert.Equal(t, evaluationStatement, p.Statement)
	assert.Equal(t, "\nGround Truth: 4\nQuery: 2+2\nEvaluation Criteria: exact", p.Context)
	assert.NotContains(t, p.Context, "Response to Evaluate")
}

func TestRoomEventClone(t *testing.T) {
	ev := NewRoomEvent(EventSetup, map[string]string{PropMessage: "hi"})
	cp := ev.Clone()
	cp.Properties[PropMessage] = "changed"
	assert.Equal(t, "hi", ev.Prop(PropMessage))
	assert.False(t, ev.Timestamp.IsZero())
}

func TestOperationClone(t *testing.T) {
	op := Operation{ID: "a", Result: json.RawMessage(`{"x":1}`)}
	cp := op.Clone()
	cp.Result[2] = 'y'
	require.Equal(t, `{"x":1}`, string(op.Result))

	assert.True(t, OperationFailed.Terminal())
	assert.True(t, OperationCompleted.Terminal())
	assert.False(t, OperationCreated.Terminal())
}
