package api

import (
	"errors"
	"net/http"
	"time"

	"gorm.io/datatypes"

	"github.com/agenteval/agenteval/pkg/store"
)

type createAgentRequest struct {
	Name   string         `json:"name"`
	Model  string         `json:"model"`
	Config map[string]any `json:"config,omitempty"`
}

type agentListItem struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Name == "" || req.Model == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"name and model are required"})

		return
	}

	agent := &store.Agent{
		Name:   req.Name,
		Model:  req.Model,
		Config: datatypes.JSONMap(req.Config),
	}

	if err := s.store.CreateAgent(r.Context(), agent); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeJSON(w, http.StatusConflict,
				errorResponse{"agent name already exists"})

			return
		}

		s.writeStoreError(w, err, "")

		return
	}

	writeJSON(w, http.StatusCreated, createdResponse{ID: agent.ID, Name: agent.Name})
}

func (s *server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		s.writeStoreError(w, err, "")

		return
	}

	items := make([]agentListItem, 0, len(agents))
	for _, a := range agents {
		items = append(items, agentListItem{
			ID:        a.ID,
			Name:      a.Name,
			Model:     a.Model,
			CreatedAt: a.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, items)
}

func (s *server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	agent, err := s.store.GetAgent(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "agent not found")

		return
	}

	writeJSON(w, http.StatusOK, agent)
}
