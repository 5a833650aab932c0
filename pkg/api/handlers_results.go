package api

import (
	"net/http"

	"github.com/agenteval/agenteval/pkg/store"
)

// resultListItem is the compact result shape of GET /results?run_id=N.
type resultListItem struct {
	ID         uint    `json:"id"`
	TestCaseID uint    `json:"testcase_id"`
	AgentID    uint    `json:"agent_id"`
	Score      float64 `json:"score"`
	LatencyMs  float64 `json:"latency_ms"`
	CostUSD    float64 `json:"cost_usd"`
	Response   string  `json:"response"`
}

// handleGetResults returns every result row of a run, or 404 when the
// run has none.
func (s *server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathID(w, r, "run_id")
	if !ok {
		return
	}

	results, err := s.store.ListResultsByRun(r.Context(), runID)
	if err != nil {
		s.writeStoreError(w, err, "")

		return
	}

	if len(results) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{"No results found."})

		return
	}

	writeJSON(w, http.StatusOK, results)
}

func (s *server) handleListResults(w http.ResponseWriter, r *http.Request) {
	runID, err := parseID(r.URL.Query().Get("run_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"run_id query parameter is required"})

		return
	}

	results, err := s.store.ListResultsByRun(r.Context(), runID)
	if err != nil {
		s.writeStoreError(w, err, "")

		return
	}

	writeJSON(w, http.StatusOK, toResultItems(results))
}

func toResultItems(results []store.TestResult) []resultListItem {
	items := make([]resultListItem, 0, len(results))
	for _, r := range results {
		items = append(items, resultListItem{
			ID:         r.ID,
			TestCaseID: r.TestCaseID,
			AgentID:    r.AgentID,
			Score:      r.Score,
			LatencyMs:  r.LatencyMs,
			CostUSD:    r.CostUSD,
			Response:   r.Response,
		})
	}

	return items
}
