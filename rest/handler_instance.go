package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/grcflow/model"
	"go.uber.org/zap"
)

type StartRequest struct {
	EntityType string         `json:"entity_type"`
	EntityId   string         `json:"entity_id"`
	Initiator  string         `json:"initiator"`
	Context    map[string]any `json:"context"`
}

type TransitionRequest struct {
	Actor    string         `json:"actor"`
	Outcome  string         `json:"outcome,omitempty"`
	Notes    string         `json:"notes,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Priority model.Priority `json:"priority,omitempty"`
}

type InstanceView struct {
	Instance    *model.WorkflowInstance  `json:"instance"`
	Steps       []*model.StepExecution   `json:"steps"`
	Requests    []*model.ApprovalRequest `json:"requests"`
	Escalations []*model.EscalationLog   `json:"escalations"`
}

func (s *Server) HandleStartWorkflow(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	var req StartRequest
	if err := decode(r, &req); err != nil {
		respondWithEngineError(w, "error decoding start request", err)
		return
	}
	res, err := s.engine.Start(r.Context(), code, req.EntityType, req.EntityId, req.Initiator, req.Context)
	if err != nil {
		respondWithEngineError(w, "error starting workflow", err, zap.String("template", code), zap.String("entity", req.EntityId))
		return
	}
	respondWithJSON(w, http.StatusCreated, res)
}

func (s *Server) HandleGetInstance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx := r.Context()
	inst, err := s.engine.GetInstance(ctx, id)
	if err != nil {
		respondWithEngineError(w, "error getting instance", err, zap.String("id", id))
		return
	}
	view := InstanceView{Instance: inst}
	if view.Steps, err = s.engine.ListSteps(ctx, id); err != nil {
		respondWithEngineError(w, "error listing steps", err, zap.String("id", id))
		return
	}
	if view.Requests, err = s.engine.ListRequests(ctx, id); err != nil {
		respondWithEngineError(w, "error listing requests", err, zap.String("id", id))
		return
	}
	if view.Escalations, err = s.engine.EscalationHistory(ctx, id); err != nil {
		respondWithEngineError(w, "error listing escalations", err, zap.String("id", id))
		return
	}
	respondOK(w, view)
}

func (s *Server) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "advance", func(id string, req TransitionRequest) (*model.WorkflowInstance, error) {
		return s.engine.Advance(r.Context(), id, req.Outcome, req.Actor, req.Notes)
	})
}

func (s *Server) HandleReject(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "reject", func(id string, req TransitionRequest) (*model.WorkflowInstance, error) {
		return s.engine.Reject(r.Context(), id, req.Actor, req.Reason)
	})
}

func (s *Server) HandleCancel(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "cancel", func(id string, req TransitionRequest) (*model.WorkflowInstance, error) {
		return s.engine.Cancel(r.Context(), id, req.Actor, req.Reason)
	})
}

func (s *Server) HandleEscalate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req TransitionRequest
	if err := decode(r, &req); err != nil {
		respondWithEngineError(w, "error decoding escalate request", err)
		return
	}
	log, err := s.engine.Escalate(r.Context(), id, req.Actor, req.Reason, req.Priority)
	if err != nil {
		respondWithEngineError(w, "error escalating instance", err, zap.String("id", id))
		return
	}
	respondOK(w, log)
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, name string, fn func(string, TransitionRequest) (*model.WorkflowInstance, error)) {
	id := mux.Vars(r)["id"]
	var req TransitionRequest
	if err := decode(r, &req); err != nil {
		respondWithEngineError(w, "error decoding "+name+" request", err)
		return
	}
	inst, err := fn(id, req)
	if err != nil {
		respondWithEngineError(w, "error on "+name, err, zap.String("id", id), zap.String("actor", req.Actor))
		return
	}
	respondOK(w, inst)
}
