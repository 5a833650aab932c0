package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/agenteval/agenteval/pkg/evaluator"
	"github.com/agenteval/agenteval/pkg/store"
)

// Worker polls for pending evaluation runs and executes their result
// rows one at a time.
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	// ProcessOnce claims and processes at most one pending run. It
	// reports whether a run was processed.
	ProcessOnce(ctx context.Context) (bool, error)
	ID() string
}

// Compile-time interface check.
var _ Worker = (*worker)(nil)

type worker struct {
	log       logrus.FieldLogger
	store     store.Store
	evaluator evaluator.Evaluator
	interval  time.Duration
	id        string
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewWorker creates a polling worker with a random identity.
func NewWorker(
	log logrus.FieldLogger,
	st store.Store,
	ev evaluator.Evaluator,
	interval time.Duration,
) Worker {
	id := "worker-" + uuid.NewString()

	return &worker{
		log:       log.WithFields(logrus.Fields{"component": "worker", "worker_id": id}),
		store:     st,
		evaluator: ev,
		interval:  interval,
		id:        id,
		done:      make(chan struct{}),
	}
}

func (w *worker) ID() string {
	return w.id
}

// Start runs an immediate poll and then one poll per interval in a
// background goroutine.
func (w *worker) Start(ctx context.Context) error {
	w.log.WithField("interval", w.interval.String()).
		Info("Worker is alive and polling for runs")

	w.wg.Add(1)

	go func() {
		defer w.wg.Done()

		w.poll(ctx)

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.poll(ctx)
			case <-w.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop signals the poll loop to exit and waits for the current run to
// finish.
func (w *worker) Stop() error {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()

	w.log.Info("Worker stopped")

	return nil
}

// poll drains pending runs until none is left or the worker stops.
func (w *worker) poll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		default:
		}

		processed, err := w.ProcessOnce(ctx)
		if err != nil {
			w.log.WithError(err).Error("Worker crashed but recovered")

			return
		}

		if !processed {
			return
		}
	}
}

func (w *worker) ProcessOnce(ctx context.Context) (bool, error) {
	run, err := w.store.ClaimPendingRun(ctx, w.id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("claiming pending run: %w", err)
	}

	log := w.log.WithField("run_id", run.ID)
	start := time.Now()

	log.WithField("run_name", run.RunName).Info("Processing run")

	results, err := w.store.ListResultsByRun(ctx, run.ID)
	if err != nil {
		return true, fmt.Errorf("loading results for run %d: %w", run.ID, err)
	}

	if len(results) == 0 {
		log.Warn("No result rows found for run, marking completed")

		if err := w.store.CompleteRun(ctx, run.ID); err != nil {
			return true, err
		}

		return true, nil
	}

	agentIDs, testCaseIDs := referencedIDs(results)

	agents, err := w.store.GetAgentsByIDs(ctx, agentIDs)
	if err != nil {
		return true, fmt.Errorf("loading agents for run %d: %w", run.ID, err)
	}

	testCases, err := w.store.GetTestCasesByIDs(ctx, testCaseIDs)
	if err != nil {
		return true, fmt.Errorf("loading test cases for run %d: %w", run.ID, err)
	}

	var executed, skipped int

	for i := range results {
		result := &results[i]

		agent, okAgent := agents[result.AgentID]
		tc, okTestCase := testCases[result.TestCaseID]

		if !okAgent || !okTestCase {
			log.WithFields(logrus.Fields{
				"result_id":    result.ID,
				"agent_id":     result.AgentID,
				"test_case_id": result.TestCaseID,
			}).Warn("Skipping result: missing agent or test case")

			skipped++

			continue
		}

		if err := w.executeResult(ctx, log, run, result, agent, tc); err != nil {
			log.WithError(err).WithField("result_id", result.ID).
				Error("Failed to record result")

			continue
		}

		executed++
	}

	if err := w.store.CompleteRun(ctx, run.ID); err != nil {
		return true, err
	}

	log.WithFields(logrus.Fields{
		"executed": executed,
		"skipped":  skipped,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("Finished run")

	return true, nil
}

func (w *worker) executeResult(
	ctx context.Context,
	log logrus.FieldLogger,
	run *store.EvaluationRun,
	result *store.TestResult,
	agent *store.Agent,
	tc *store.TestCase,
) error {
	log.WithFields(logrus.Fields{
		"result_id":    result.ID,
		"agent":        agent.Name,
		"test_case_id": tc.ID,
	}).Info("Running test")

	w.recordEvent(ctx, log, run.ID, &result.ID, store.EventRequest, map[string]any{
		"agent_id":     agent.ID,
		"test_case_id": tc.ID,
		"model":        agent.Model,
		"prompt":       tc.Prompt,
	})

	outcome := w.evaluator.Execute(ctx, agent, tc)

	result.Response = outcome.Response
	result.Score = outcome.Score
	result.LatencyMs = outcome.LatencyMs
	result.CostUSD = outcome.CostUSD
	result.CreatedAt = time.Now().UTC()

	if err := w.store.UpdateResult(ctx, result); err != nil {
		return err
	}

	if outcome.Err != nil {
		w.recordEvent(ctx, log, run.ID, &result.ID, store.EventError, map[string]any{
			"error":      outcome.Err.Error(),
			"latency_ms": outcome.LatencyMs,
		})

		return nil
	}

	w.recordEvent(ctx, log, run.ID, &result.ID, store.EventResponse, map[string]any{
		"latency_ms": outcome.LatencyMs,
		"score":      outcome.Score,
		"cost_usd":   outcome.CostUSD,
		"simulated":  outcome.Simulated,
	})

	if outcome.Usage.TotalTokens > 0 {
		w.recordEvent(ctx, log, run.ID, &result.ID, store.EventTokenUsage, outcome.Usage)
	}

	return nil
}

// recordEvent stores a telemetry event. Failures are logged only.
func (w *worker) recordEvent(
	ctx context.Context,
	log logrus.FieldLogger,
	runID uint,
	resultID *uint,
	eventType string,
	payload any,
) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).WithField("event_type", eventType).
			Warn("Failed to encode telemetry payload")

		return
	}

	event := &store.TelemetryEvent{
		RunID:        runID,
		TestResultID: resultID,
		EventType:    eventType,
		Payload:      datatypes.JSON(data),
	}

	if err := w.store.CreateTelemetryEvent(ctx, event); err != nil {
		log.WithError(err).WithField("event_type", eventType).
			Warn("Failed to record telemetry event")
	}
}

func referencedIDs(results []store.TestResult) (agentIDs, testCaseIDs []uint) {
	seenAgents := make(map[uint]struct{}, len(results))
	seenCases := make(map[uint]struct{}, len(results))

	for _, r := range results {
		if _, ok := seenAgents[r.AgentID]; !ok {
			seenAgents[r.AgentID] = struct{}{}
			agentIDs = append(agentIDs, r.AgentID)
		}

		if _, ok := seenCases[r.TestCaseID]; !ok {
			seenCases[r.TestCaseID] = struct{}{}
			testCaseIDs = append(testCaseIDs, r.TestCaseID)
		}
	}

	return agentIDs, testCaseIDs
}
