// Package api exposes the fleet to the job layer over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gammadia/nimbus/audit"
	"github.com/gammadia/nimbus/fleet"
	"github.com/gammadia/nimbus/metrics"
	"github.com/julienschmidt/httprouter"
)

// Fleet is the part of *fleet.Fleet served by the API.
type Fleet interface {
	Nodes() []fleet.NodeInfo
	Provision() (string, error)
	Terminate(name string) error
	TaskStarted(name string) error
	TaskCompleted(name string) error
	SetOffline(name string, offline bool) error
	Check(name string) (fleet.CheckResult, error)
}

// Audit is the part of *audit.Store served by the API.
type Audit interface {
	List(node string) ([]audit.Record, error)
	Export(w io.Writer) error
}

type Server struct {
	fleet  Fleet
	audit  Audit
	log    *slog.Logger
	router *httprouter.Router
}

func NewServer(fleet Fleet, audit Audit, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		fleet:  fleet,
		audit:  audit,
		log:    logger,
		router: httprouter.New(),
	}

	s.router.GET("/ping", s.Ping)
	s.router.Handler(http.MethodGet, "/metrics", metrics.Handler())

	s.router.GET("/nodes", s.ListNodes)
	s.router.POST("/nodes", s.ProvisionNode)
	s.router.DELETE("/nodes/:node", s.TerminateNode)
	s.router.POST("/nodes/:node/tasks", s.StartTask)
	s.router.DELETE("/nodes/:node/tasks", s.CompleteTask)
	s.router.PUT("/nodes/:node/offline", s.SetOffline)
	s.router.DELETE("/nodes/:node/offline", s.SetOnline)
	s.router.POST("/nodes/:node/check", s.CheckNode)

	s.router.GET("/audit", s.ExportAudit)
	s.router.GET("/audit/:node", s.ListAudit)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Ping(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ListNodes(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	nodes := s.fleet.Nodes()
	if nodes == nil {
		nodes = []fleet.NodeInfo{}
	}
	s.writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) ProvisionNode(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	name, err := s.fleet.Provision()
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Location", "/nodes/"+name)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"name": name})
}

func (s *Server) TerminateNode(w http.ResponseWriter, _ *http.Request, params httprouter.Params) {
	s.noContent(w, s.fleet.Terminate(params.ByName("node")))
}

func (s *Server) StartTask(w http.ResponseWriter, _ *http.Request, params httprouter.Params) {
	s.noContent(w, s.fleet.TaskStarted(params.ByName("node")))
}

func (s *Server) CompleteTask(w http.ResponseWriter, _ *http.Request, params httprouter.Params) {
	s.noContent(w, s.fleet.TaskCompleted(params.ByName("node")))
}

func (s *Server) SetOffline(w http.ResponseWriter, _ *http.Request, params httprouter.Params) {
	s.noContent(w, s.fleet.SetOffline(params.ByName("node"), true))
}

func (s *Server) SetOnline(w http.ResponseWriter, _ *http.Request, params httprouter.Params) {
	s.noContent(w, s.fleet.SetOffline(params.ByName("node"), false))
}

func (s *Server) CheckNode(w http.ResponseWriter, _ *http.Request, params httprouter.Params) {
	result, err := s.fleet.Check(params.ByName("node"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) ListAudit(w http.ResponseWriter, _ *http.Request, params httprouter.Params) {
	records, err := s.audit.List(params.ByName("node"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) ExportAudit(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition", `attachment; filename="audit.jsonl.zst"`)
	if err := s.audit.Export(w); err != nil {
		// Headers are already sent
		s.log.Error("Failed to export audit records", "error", err)
	}
}

func (s *Server) noContent(w http.ResponseWriter, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("Request failed", "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, fleet.ErrUnknownNode):
		return http.StatusNotFound
	case errors.Is(err, fleet.ErrFleetFull),
		errors.Is(err, fleet.ErrNodeUnavailable),
		errors.Is(err, fleet.ErrNoTaskRunning):
		return http.StatusConflict
	case errors.Is(err, fleet.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
