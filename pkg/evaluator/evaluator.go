package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agenteval/agenteval/pkg/llm"
	"github.com/agenteval/agenteval/pkg/store"
)

// SimulatedLatency is reported for offline simulator outcomes.
const SimulatedLatency = 30 * time.Millisecond

// Outcome is everything written back to a result row, plus the data
// recorded as telemetry.
type Outcome struct {
	Response  string
	Score     float64
	LatencyMs float64
	CostUSD   float64
	Usage     llm.Usage
	Simulated bool
	// Err is the model failure, if any. Response already carries it.
	Err error
}

// Evaluator runs one test case against one agent.
type Evaluator interface {
	Execute(ctx context.Context, agent *store.Agent, tc *store.TestCase) *Outcome
}

type evaluator struct {
	log           logrus.FieldLogger
	client        llm.Client
	pricePerToken float64
}

var _ Evaluator = (*evaluator)(nil)

// NewEvaluator creates an Evaluator backed by client.
func NewEvaluator(
	log logrus.FieldLogger,
	client llm.Client,
	pricePerToken float64,
) Evaluator {
	return &evaluator{
		log:           log.WithField("component", "evaluator"),
		client:        client,
		pricePerToken: pricePerToken,
	}
}

// BuildRequest turns an agent and test case into a model request.
func BuildRequest(agent *store.Agent, tc *store.TestCase) llm.Request {
	config := map[string]any(agent.Config)

	return llm.Request{
		Model:        agent.Model,
		SystemPrompt: llm.SystemPrompt(config),
		Prompt:       tc.Prompt,
		Config:       config,
	}
}

// Execute never fails: model errors become an "[ERROR] ..." response
// that is scored like any other output.
func (e *evaluator) Execute(
	ctx context.Context,
	agent *store.Agent,
	tc *store.TestCase,
) *Outcome {
	start := time.Now()

	completion, err := e.client.Complete(ctx, BuildRequest(agent, tc))
	elapsed := time.Since(start)

	if err != nil {
		return e.failed(err, tc, elapsed)
	}

	if completion.Simulated {
		return &Outcome{
			Response:  completion.Content,
			LatencyMs: durationMs(SimulatedLatency),
			Simulated: true,
		}
	}

	return &Outcome{
		Response:  completion.Content,
		Score:     Score(completion.Content, tc.Expected()),
		LatencyMs: durationMs(elapsed),
		CostUSD:   Cost(completion.Usage, e.pricePerToken),
		Usage:     completion.Usage,
	}
}

func (e *evaluator) failed(
	err error,
	tc *store.TestCase,
	elapsed time.Duration,
) *Outcome {
	output := ErrorOutput(err)

	e.log.WithError(err).WithField("test_case_id", tc.ID).Warn("Model call failed")

	return &Outcome{
		Response:  output,
		Score:     Score(output, tc.Expected()),
		LatencyMs: durationMs(elapsed),
		Err:       err,
	}
}

// ErrorOutput renders a model failure as the stored response text.
func ErrorOutput(err error) string {
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		if apiErr.RateLimited() {
			return fmt.Sprintf("[ERROR] Rate limited or no quota: %s", apiErr.Message)
		}

		return fmt.Sprintf("[ERROR] OpenAI API failure: %s", apiErr.Message)
	}

	return fmt.Sprintf("[ERROR] Unexpected exception: %s", err)
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
