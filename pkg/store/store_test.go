package store_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"

	"github.com/agenteval/agenteval/pkg/config"
	"github.com/agenteval/agenteval/pkg/store"
)

func setupTestStore(t *testing.T) store.Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{
			Path: filepath.Join(t.TempDir(), "test.db"),
		},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func strPtr(s string) *string { return &s }

func seedAgentsAndCases(
	t *testing.T, s store.Store,
) ([]store.Agent, []store.TestCase) {
	t.Helper()

	ctx := context.Background()

	agents := []store.Agent{
		{Name: "baseline", Model: "gpt-4.1-mini"},
		{
			Name:  "strict",
			Model: "gpt-4.1",
			Config: datatypes.JSONMap{
				"system_prompt": "Answer tersely.",
				"temperature":   0.1,
			},
		},
	}
	for i := range agents {
		require.NoError(t, s.CreateAgent(ctx, &agents[i]))
	}

	cases := []store.TestCase{
		{Name: "capital", Prompt: "Capital of France?", ExpectedBehavior: strPtr("Paris")},
		{Name: "sum", Prompt: "2+2?", ExpectedBehavior: strPtr("4")},
		{Name: "open", Prompt: "Tell me a joke."},
	}
	for i := range cases {
		require.NoError(t, s.CreateTestCase(ctx, &cases[i]))
	}

	return agents, cases
}

func TestStore_AgentsCRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	agents, _ := seedAgentsAndCases(t, s)

	got, err := s.GetAgent(ctx, agents[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "strict", got.Name)
	assert.Equal(t, "Answer tersely.", got.Config["system_prompt"])
	assert.InDelta(t, 0.1, got.Config["temperature"], 1e-9)
	assert.False(t, got.CreatedAt.IsZero())

	list, err := s.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "baseline", list[0].Name)
	assert.Empty(t, list[0].Config)

	_, err = s.GetAgent(ctx, 999)
	require.ErrorIs(t, err, store.ErrNotFound)

	// Names are unique.
	dup := &store.Agent{Name: "baseline", Model: "other"}
	require.ErrorIs(t, s.CreateAgent(ctx, dup), store.ErrConflict)
}

func TestStore_TestCasesCRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, cases := seedAgentsAndCases(t, s)

	got, err := s.GetTestCase(ctx, cases[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Paris", got.Expected())

	open, err := s.GetTestCase(ctx, cases[2].ID)
	require.NoError(t, err)
	assert.Nil(t, open.ExpectedBehavior)
	assert.Empty(t, open.Expected())

	list, err := s.ListTestCases(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	_, err = s.GetTestCase(ctx, 42)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_GetByIDsSkipsMissing(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	agents, cases := seedAgentsAndCases(t, s)

	byID, err := s.GetAgentsByIDs(ctx, []uint{agents[0].ID, 777})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, "baseline", byID[agents[0].ID].Name)

	tcByID, err := s.GetTestCasesByIDs(ctx, []uint{cases[1].ID, cases[2].ID})
	require.NoError(t, err)
	assert.Len(t, tcByID, 2)

	empty, err := s.GetAgentsByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_CreateRunFansOut(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	agents, cases := seedAgentsAndCases(t, s)

	agentIDs := []uint{agents[1].ID, agents[0].ID}
	caseIDs := []uint{cases[0].ID, cases[1].ID, cases[2].ID}

	run, err := s.CreateRun(ctx, "nightly", agentIDs, caseIDs)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusPending, run.Status)
	assert.Equal(t, agents[1].ID, run.AgentID, "run keeps the first agent")

	results, err := s.ListResultsByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, results, 6)

	// Agent order outer, test case order inner.
	for i, r := range results {
		assert.Equal(t, agentIDs[i/3], r.AgentID)
		assert.Equal(t, caseIDs[i%3], r.TestCaseID)
		assert.Empty(t, r.Response)
		assert.Zero(t, r.Score)
		assert.Zero(t, r.LatencyMs)
		assert.Zero(t, r.CostUSD)
	}
}

func TestStore_CreateRunDoesNotCheckReferences(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "dangling", []uint{404}, []uint{405, 406})
	require.NoError(t, err)

	results, err := s.ListResultsByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestStore_CreateRunRequiresAgent(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.CreateRun(context.Background(), "empty", nil, []uint{1})
	require.Error(t, err)
}

func TestStore_CreateRunWithoutTestCases(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "no-cases", []uint{1}, nil)
	require.NoError(t, err)

	results, err := s.ListResultsByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStore_ClaimAndCompleteRun(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.ClaimPendingRun(ctx, "w1")
	require.ErrorIs(t, err, store.ErrNotFound)

	first, err := s.CreateRun(ctx, "first", []uint{1}, []uint{1})
	require.NoError(t, err)
	second, err := s.CreateRun(ctx, "second", []uint{1}, []uint{1})
	require.NoError(t, err)

	claimed, err := s.ClaimPendingRun(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, claimed.ID, "oldest pending run is claimed first")
	assert.Equal(t, store.RunStatusRunning, claimed.Status)
	assert.Equal(t, "w1", claimed.WorkerID)
	require.NotNil(t, claimed.StartedAt)

	stored, err := s.GetRun(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusRunning, stored.Status)

	next, err := s.ClaimPendingRun(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, next.ID)

	_, err = s.ClaimPendingRun(ctx, "w1")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.CompleteRun(ctx, first.ID))

	done, err := s.GetRun(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	_, err = s.GetRun(ctx, 99)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_UpdateResultAndSummarize(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "summary", []uint{1, 2}, []uint{10, 20})
	require.NoError(t, err)

	results, err := s.ListResultsByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, results, 4)

	scores := []float64{1, 0, 1, 1}
	for i := range results {
		results[i].Response = "answer"
		results[i].Score = scores[i]
		results[i].LatencyMs = float64(100 * (i + 1))
		results[i].CostUSD = 0.5
		require.NoError(t, s.UpdateResult(ctx, &results[i]))
	}

	updated, err := s.ListResultsByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "answer", updated[0].Response)
	assert.InDelta(t, 400.0, updated[3].LatencyMs, 1e-9)

	summaries, err := s.SummarizeRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, uint(1), summaries[0].AgentID)
	assert.Equal(t, int64(2), summaries[0].Results)
	assert.InDelta(t, 0.5, summaries[0].AvgScore, 1e-9)
	assert.InDelta(t, 1.0, summaries[0].TotalCostUSD, 1e-9)
	assert.InDelta(t, 150.0, summaries[0].AvgLatencyMs, 1e-9)

	assert.Equal(t, uint(2), summaries[1].AgentID)
	assert.InDelta(t, 1.0, summaries[1].AvgScore, 1e-9)
	assert.InDelta(t, 350.0, summaries[1].AvgLatencyMs, 1e-9)
}

func TestStore_TelemetryEvents(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	payload, err := json.Marshal(map[string]any{"agent_id": 1, "test_case_id": 2})
	require.NoError(t, err)

	resultID := uint(7)

	require.NoError(t, s.CreateTelemetryEvent(ctx, &store.TelemetryEvent{
		RunID:     3,
		EventType: store.EventRequest,
		Payload:   datatypes.JSON(payload),
	}))
	require.NoError(t, s.CreateTelemetryEvent(ctx, &store.TelemetryEvent{
		RunID:        3,
		TestResultID: &resultID,
		EventType:    store.EventResponse,
		Payload:      datatypes.JSON(`{"score":1}`),
	}))
	require.NoError(t, s.CreateTelemetryEvent(ctx, &store.TelemetryEvent{
		RunID:     4,
		EventType: store.EventError,
	}))

	events, err := s.ListTelemetryEventsByRun(ctx, 3)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, store.EventRequest, events[0].EventType)
	assert.Nil(t, events[0].TestResultID)
	assert.JSONEq(t, `{"agent_id":1,"test_case_id":2}`, string(events[0].Payload))
	require.NotNil(t, events[1].TestResultID)
	assert.Equal(t, resultID, *events[1].TestResultID)
}

func TestStore_SeedUsers(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	users := []config.BasicAuthUser{{Username: "admin", Password: "first"}}
	require.NoError(t, s.SeedUsers(ctx, users))

	u, err := s.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, store.SourceConfig, u.Source)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("first")))

	// Re-seeding rotates the password without duplicating the user.
	users[0].Password = "second"
	require.NoError(t, s.SeedUsers(ctx, users))

	u2, err := s.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, u.ID, u2.ID)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(u2.PasswordHash), []byte("second")))

	_, err = s.GetUserByUsername(ctx, "ghost")
	require.ErrorIs(t, err, store.ErrNotFound)
}
