package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/delegation"
	"github.com/mohitkumar/grcflow/engine"
	"github.com/mohitkumar/grcflow/logger"
	"github.com/mohitkumar/grcflow/metadata"
	"go.uber.org/zap"
	"google.golang.org/grpc/status"
)

type Server struct {
	http.Server
	Port        int
	engine      *engine.Engine
	templates   *metadata.Registry
	delegations *delegation.Registry
}

func NewServer(httpPort int, eng *engine.Engine, templates *metadata.Registry, delegations *delegation.Registry, metricsHandler http.Handler) (*Server, error) {
	s := &Server{
		Server: http.Server{
			Addr:        fmt.Sprintf(":%d", httpPort),
			IdleTimeout: 2 * time.Second,
		},
		engine:      eng,
		templates:   templates,
		delegations: delegations,
		Port:        httpPort,
	}

	router := mux.NewRouter()
	router.HandleFunc("/templates", s.HandleListTemplates).Methods(http.MethodGet)
	router.HandleFunc("/templates", s.HandleSeedTemplate).Methods(http.MethodPost)
	router.HandleFunc("/templates/{code}", s.HandleGetTemplate).Methods(http.MethodGet)

	router.HandleFunc("/workflows/{code}/start", s.HandleStartWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/instances/{id}", s.HandleGetInstance).Methods(http.MethodGet)
	router.HandleFunc("/instances/{id}/advance", s.HandleAdvance).Methods(http.MethodPost)
	router.HandleFunc("/instances/{id}/reject", s.HandleReject).Methods(http.MethodPost)
	router.HandleFunc("/instances/{id}/cancel", s.HandleCancel).Methods(http.MethodPost)
	router.HandleFunc("/instances/{id}/escalate", s.HandleEscalate).Methods(http.MethodPost)

	router.HandleFunc("/requests/bulk-respond", s.HandleBulkRespond).Methods(http.MethodPost)
	router.HandleFunc("/requests/{id}/respond", s.HandleRespond).Methods(http.MethodPost)
	router.HandleFunc("/requests/{id}/delegate", s.HandleDelegateRequest).Methods(http.MethodPost)
	router.HandleFunc("/delegations", s.HandleSetDelegation).Methods(http.MethodPost)

	if metricsHandler != nil {
		router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}

	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server", zap.Error(err))
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug(r.RequestURI, zap.String("method", r.Method))
		next.ServeHTTP(w, r)
	})
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return api.Invalidf("body", "malformed request: %v", err)
	}
	return nil
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, payload any) {
	respondWithJSON(w, http.StatusOK, payload)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithEngineError maps the typed api errors onto status codes.
func respondWithEngineError(w http.ResponseWriter, msg string, err error, fields ...zap.Field) {
	code := http.StatusInternalServerError
	switch {
	case api.IsNotFound(err):
		code = http.StatusNotFound
	case api.IsConflict(err):
		code = http.StatusConflict
	case api.IsPermissionDenied(err):
		code = http.StatusForbidden
	case api.IsValidation(err):
		code = http.StatusBadRequest
	}
	if code == http.StatusInternalServerError {
		logger.Error(msg, append(fields, zap.Error(err))...)
	} else {
		logger.Debug(msg, append(fields, zap.Error(err))...)
	}
	respondWithError(w, code, errorMessage(err))
}

func errorMessage(err error) string {
	var st interface{ GRPCStatus() *status.Status }
	if errors.As(err, &st) {
		return st.GRPCStatus().Message()
	}
	return err.Error()
}
