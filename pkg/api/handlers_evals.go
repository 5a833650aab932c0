package api

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/agenteval/agenteval/pkg/store"
)

type createRunRequest struct {
	AgentIDs    []uint `json:"agent_ids"`
	TestCaseIDs []uint `json:"testcase_ids"`
	RunName     string `json:"run_name"`
}

type createRunResponse struct {
	RunID  uint   `json:"run_id"`
	Status string `json:"status"`
}

type runListItem struct {
	ID      uint   `json:"id"`
	RunName string `json:"run_name"`
	Status  string `json:"status"`
	AgentID uint   `json:"agent_id"`
}

type runSummaryResponse struct {
	RunID  uint                 `json:"run_id"`
	Status string               `json:"status"`
	Agents []store.AgentSummary `json:"agents"`
}

// handleCreateRun stores a pending run with one placeholder result per
// (agent, test case) pair. References are not checked.
func (s *server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if len(req.AgentIDs) == 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"agent_ids must not be empty"})

		return
	}

	run, err := s.store.CreateRun(
		r.Context(), req.RunName, req.AgentIDs, req.TestCaseIDs,
	)
	if err != nil {
		s.writeStoreError(w, err, "")

		return
	}

	fields := logrus.Fields{
		"run_id":     run.ID,
		"agents":     len(req.AgentIDs),
		"test_cases": len(req.TestCaseIDs),
	}

	if user := userFromContext(r.Context()); user != nil {
		fields["user"] = user.Username
	}

	s.log.WithFields(fields).Info("Evaluation run created")

	writeJSON(w, http.StatusCreated, createRunResponse{
		RunID:  run.ID,
		Status: store.RunStatusCreated,
	})
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		s.writeStoreError(w, err, "")

		return
	}

	items := make([]runListItem, 0, len(runs))
	for _, run := range runs {
		items = append(items, runListItem{
			ID:      run.ID,
			RunName: run.RunName,
			Status:  run.Status,
			AgentID: run.AgentID,
		})
	}

	writeJSON(w, http.StatusOK, items)
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "run not found")

		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (s *server) handleRunSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "run not found")

		return
	}

	summaries, err := s.store.SummarizeRun(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "")

		return
	}

	if summaries == nil {
		summaries = []store.AgentSummary{}
	}

	writeJSON(w, http.StatusOK, runSummaryResponse{
		RunID:  run.ID,
		Status: run.Status,
		Agents: summaries,
	})
}

func (s *server) handleRunTelemetry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		s.writeStoreError(w, err, "run not found")

		return
	}

	events, err := s.store.ListTelemetryEventsByRun(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "")

		return
	}

	if events == nil {
		events = []store.TelemetryEvent{}
	}

	writeJSON(w, http.StatusOK, events)
}
