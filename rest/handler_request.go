package rest

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/model"
	"go.uber.org/zap"
)

type RespondRequest struct {
	Actor      string         `json:"actor"`
	Decision   model.Decision `json:"decision"`
	Comments   string         `json:"comments,omitempty"`
	RequestIds []string       `json:"request_ids,omitempty"`
}

type DelegateRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

type DelegationRequest struct {
	User     string    `json:"user"`
	Delegate string    `json:"delegate"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Reason   string    `json:"reason,omitempty"`
	Scope    []string  `json:"scope,omitempty"`
}

func (s *Server) HandleRespond(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req RespondRequest
	if err := decode(r, &req); err != nil {
		respondWithEngineError(w, "error decoding respond request", err)
		return
	}
	res, err := s.engine.Respond(r.Context(), id, req.Actor, req.Decision, req.Comments)
	if err != nil {
		respondWithEngineError(w, "error responding to request", err, zap.String("request", id), zap.String("actor", req.Actor))
		return
	}
	respondOK(w, res)
}

// HandleBulkRespond always answers 200; failures are reported per request.
func (s *Server) HandleBulkRespond(w http.ResponseWriter, r *http.Request) {
	var req RespondRequest
	if err := decode(r, &req); err != nil {
		respondWithEngineError(w, "error decoding bulk respond request", err)
		return
	}
	if len(req.RequestIds) == 0 {
		respondWithEngineError(w, "empty bulk respond", api.Invalidf("request_ids", "at least one request id is required"))
		return
	}
	results := s.engine.BulkRespond(r.Context(), req.RequestIds, req.Actor, req.Decision, req.Comments)
	respondOK(w, map[string]any{"results": results})
}

func (s *Server) HandleDelegateRequest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req DelegateRequest
	if err := decode(r, &req); err != nil {
		respondWithEngineError(w, "error decoding delegate request", err)
		return
	}
	delegated, err := s.engine.Delegate(r.Context(), id, req.From, req.To, req.Reason)
	if err != nil {
		respondWithEngineError(w, "error delegating request", err, zap.String("request", id), zap.String("from", req.From))
		return
	}
	respondOK(w, delegated)
}

func (s *Server) HandleSetDelegation(w http.ResponseWriter, r *http.Request) {
	var req DelegationRequest
	if err := decode(r, &req); err != nil {
		respondWithEngineError(w, "error decoding delegation", err)
		return
	}
	d, err := s.delegations.SetDelegation(r.Context(), req.User, req.Delegate, req.StartsAt, req.EndsAt, req.Reason, req.Scope)
	if err != nil {
		respondWithEngineError(w, "error setting delegation", err, zap.String("user", req.User))
		return
	}
	respondWithJSON(w, http.StatusCreated, d)
}
