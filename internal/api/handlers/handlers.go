// Package handlers implements the HTTP handlers for the vahan-rakshak API.
// Agent routes feed validated requests into the agent façade and the workflow
// engine and return their results verbatim; vehicle routes read the fleet
// registry and the result store.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/korrapati-satish/vahan-rakshak/internal/config"
	"github.com/korrapati-satish/vahan-rakshak/internal/fleet"
	"github.com/korrapati-satish/vahan-rakshak/internal/store"
	"github.com/korrapati-satish/vahan-rakshak/internal/workflow"
)

const maxBodyBytes = 1 << 20

// errNotConfigured is returned by agent routes when the server started
// without execution service credentials.
const errNotConfigured = "agent orchestration is not configured: set WATSONX_API_URL and WATSONX_API_KEY"

// Handlers holds all handler dependencies. Agents and Workflow are nil when
// the execution service is not configured.
type Handlers struct {
	Agents   workflow.Agents
	Workflow *workflow.Engine
	Store    store.Store
	Fleet    *fleet.Registry
	AgentIDs config.AgentsConfig

	now func() time.Time
}

// New creates a new Handlers instance with all dependencies.
func New(agents workflow.Agents, wf *workflow.Engine, s store.Store, reg *fleet.Registry, ids config.AgentsConfig) *Handlers {
	return &Handlers{
		Agents:   agents,
		Workflow: wf,
		Store:    s,
		Fleet:    reg,
		AgentIDs: ids,
		now:      time.Now,
	}
}

// configured writes a 503 and returns false when agent calls are unavailable.
func (h *Handlers) configured(w http.ResponseWriter) bool {
	if h.Agents == nil || h.Workflow == nil {
		respondError(w, http.StatusServiceUnavailable, errNotConfigured)
		return false
	}
	return true
}

// decodeBody decodes a JSON request body into dst, rejecting unknown shapes
// with a 400. Returns false if a response was already written.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			respondError(w, http.StatusBadRequest, "request body is required")
		case errors.As(err, &maxErr):
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		default:
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		}
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
