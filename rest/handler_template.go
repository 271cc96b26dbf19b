package rest

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/metadata"
	"github.com/mohitkumar/grcflow/model"
	"go.uber.org/zap"
)

type SeedResult struct {
	Code    string `json:"code"`
	Version int    `json:"version"`
	Created bool   `json:"created"`
}

// HandleSeedTemplate accepts a YAML or JSON template document, one template or many.
func (s *Server) HandleSeedTemplate(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "error reading body")
		return
	}
	templates, err := metadata.ParseTemplates(data)
	if err != nil {
		respondWithEngineError(w, "error parsing template", api.Invalidf("body", "%v", err))
		return
	}
	results := make([]SeedResult, 0, len(templates))
	for _, tmpl := range templates {
		seeded, created, err := s.templates.Seed(r.Context(), tmpl)
		if err != nil {
			respondWithEngineError(w, "error seeding template", err, zap.String("code", tmpl.Code))
			return
		}
		results = append(results, SeedResult{Code: seeded.Code, Version: seeded.Version, Created: created})
	}
	respondWithJSON(w, http.StatusCreated, results)
}

func (s *Server) HandleGetTemplate(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	var tmpl *model.WorkflowTemplate
	var err error
	if v := r.URL.Query().Get("version"); len(v) > 0 {
		version, convErr := strconv.Atoi(v)
		if convErr != nil {
			respondWithError(w, http.StatusBadRequest, "version must be a number")
			return
		}
		tmpl, err = s.templates.GetVersion(r.Context(), code, version)
	} else {
		tmpl, err = s.templates.Get(r.Context(), code)
	}
	if err != nil {
		respondWithEngineError(w, "error getting template", err, zap.String("code", code))
		return
	}
	respondOK(w, tmpl)
}

func (s *Server) HandleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.templates.List(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		respondWithEngineError(w, "error listing templates", err)
		return
	}
	respondOK(w, templates)
}
