package api

import (
	"net/http"

	"github.com/agenteval/agenteval/pkg/store"
)

type createTestCaseRequest struct {
	Name             string  `json:"name"`
	Prompt           string  `json:"prompt"`
	ExpectedBehavior *string `json:"expected_behavior,omitempty"`
}

func (s *server) handleCreateTestCase(w http.ResponseWriter, r *http.Request) {
	var req createTestCaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Name == "" || req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"name and prompt are required"})

		return
	}

	tc := &store.TestCase{
		Name:             req.Name,
		Prompt:           req.Prompt,
		ExpectedBehavior: req.ExpectedBehavior,
	}

	if err := s.store.CreateTestCase(r.Context(), tc); err != nil {
		s.writeStoreError(w, err, "")

		return
	}

	writeJSON(w, http.StatusCreated, createdResponse{ID: tc.ID, Name: tc.Name})
}

func (s *server) handleListTestCases(w http.ResponseWriter, r *http.Request) {
	cases, err := s.store.ListTestCases(r.Context())
	if err != nil {
		s.writeStoreError(w, err, "")

		return
	}

	if cases == nil {
		cases = []store.TestCase{}
	}

	writeJSON(w, http.StatusOK, cases)
}

func (s *server) handleGetTestCase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	tc, err := s.store.GetTestCase(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "test case not found")

		return
	}

	writeJSON(w, http.StatusOK, tc)
}
