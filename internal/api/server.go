// Package api serves a workspace over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/pbaille/taxo/internal/classify"
	"github.com/pbaille/taxo/internal/domain"
	"github.com/pbaille/taxo/internal/exchange"
	"github.com/pbaille/taxo/internal/store"
	"github.com/pbaille/taxo/internal/taxonomy"
	"github.com/pbaille/taxo/internal/workspace"
)

// Server handles HTTP requests for one workspace. Requests are serialized;
// every successful mutation is saved when a store is configured.
type Server struct {
	mu    sync.Mutex
	ws    *workspace.Workspace
	store *store.Store
	addr  string
	log   *slog.Logger
}

// New creates a new API server. st may be nil to keep state in memory.
func New(ws *workspace.Workspace, st *store.Store, addr string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{ws: ws, store: st, addr: addr, log: log.With("workspace", ws.Name)}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Taxonomy reads
	mux.HandleFunc("GET /taxonomy", s.getTaxonomy)
	mux.HandleFunc("GET /taxonomy/forest", s.getForest)
	mux.HandleFunc("GET /subjects", s.listSubjects)
	mux.HandleFunc("GET /subjects/{subject}", s.getSubject)

	// Taxon operators
	mux.HandleFunc("POST /taxa", s.createTaxon)
	mux.HandleFunc("POST /taxa/empty", s.createTaxonEmpty)
	mux.HandleFunc("POST /taxa/divide", s.divideTaxon)
	mux.HandleFunc("POST /taxa/{name}/flatten", s.flattenTaxon)
	mux.HandleFunc("POST /taxa/{name}/merge", s.mergeTaxa)
	mux.HandleFunc("POST /taxa/{name}/move", s.moveTaxon)
	mux.HandleFunc("POST /taxa/{name}/rename", s.renameTaxon)
	mux.HandleFunc("DELETE /taxa/{name}", s.removeTaxon)

	// Assignments
	mux.HandleFunc("POST /assignments", s.assignTaxon)
	mux.HandleFunc("DELETE /assignments/{subject}/{taxon}", s.unassignTaxon)

	// Confidence labels
	mux.HandleFunc("PUT /labels/{subject}", s.markSubject)
	mux.HandleFunc("DELETE /labels/{subject}/{value}", s.unmarkSubject)

	// Progress files
	mux.HandleFunc("GET /progress", s.exportProgress)
	mux.HandleFunc("PUT /progress", s.importProgress)

	// Health check
	mux.HandleFunc("GET /health", s.health)

	return withCORS(mux)
}

// Run starts the HTTP server
func (s *Server) Run() error {
	s.log.Info("starting server", "addr", s.addr)
	return http.ListenAndServe(s.addr, s.Handler())
}

// withCORS adds CORS headers for frontend development
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getTaxonomy(w http.ResponseWriter, r *http.Request) {
	s.read(w, func() any { return s.ws.Engine.Snapshot() })
}

func (s *Server) getForest(w http.ResponseWriter, r *http.Request) {
	s.read(w, func() any { return map[string]any{"forest": s.ws.Engine.Forest()} })
}

func (s *Server) listSubjects(w http.ResponseWriter, r *http.Request) {
	s.read(w, func() any { return map[string]any{"subjects": s.ws.Engine.Subjects()} })
}

// SubjectResponse describes the labels of one subject.
type SubjectResponse struct {
	Subject    string   `json:"subject"`
	Taxa       []string `json:"taxa"`
	Confidence string   `json:"confidence,omitempty"`
}

func (s *Server) getSubject(w http.ResponseWriter, r *http.Request) {
	subject := r.PathValue("subject")
	s.read(w, func() any {
		resp := SubjectResponse{Subject: subject, Taxa: []string{}, Confidence: s.ws.Labels.Value(subject)}
		for _, a := range s.ws.Engine.AnnotationsOf(subject) {
			resp.Taxa = append(resp.Taxa, a.Value)
		}
		return resp
	})
}

// CreateTaxonRequest is the request body for creating a category
type CreateTaxonRequest struct {
	Name     string   `json:"name"`
	Subjects []string `json:"subjects"`
	Parent   string   `json:"parent"`
}

func (s *Server) createTaxon(w http.ResponseWriter, r *http.Request) {
	var req CreateTaxonRequest
	if !decode(w, r, &req) {
		return
	}
	s.mutate(w, http.StatusCreated, func() (any, error) {
		name, err := s.ws.Engine.CreateTaxon(req.Name, req.Subjects, req.Parent)
		return map[string]string{"name": name}, err
	})
}

func (s *Server) createTaxonEmpty(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Parent string `json:"parent"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.mutate(w, http.StatusCreated, func() (any, error) {
		name, err := s.ws.Engine.CreateTaxonEmpty(req.Parent)
		return map[string]string{"name": name}, err
	})
}

func (s *Server) divideTaxon(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Taxon string `json:"taxon"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.mutate(w, http.StatusCreated, func() (any, error) {
		names, err := s.ws.Engine.DivideTaxon(r.Context(), req.Taxon)
		if names == nil {
			names = []string{}
		}
		return map[string][]string{"names": names}, err
	})
}

func (s *Server) flattenTaxon(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	s.mutate(w, http.StatusOK, func() (any, error) {
		return nil, s.ws.Engine.FlattenTaxon(name)
	})
}

func (s *Server) mergeTaxa(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
	}
	if !decode(w, r, &req) {
		return
	}
	name := r.PathValue("name")
	s.mutate(w, http.StatusOK, func() (any, error) {
		return nil, s.ws.Engine.MergeTaxa(name, req.Target)
	})
}

// MoveTaxonRequest is the request body for moving a category. An empty
// target with position "inner" moves to the root level.
type MoveTaxonRequest struct {
	Target   string          `json:"target"`
	Position domain.Position `json:"position"`
}

func (s *Server) moveTaxon(w http.ResponseWriter, r *http.Request) {
	var req MoveTaxonRequest
	if !decode(w, r, &req) {
		return
	}
	name := r.PathValue("name")
	s.mutate(w, http.StatusOK, func() (any, error) {
		return nil, s.ws.Engine.MoveTaxon(name, req.Target, req.Position)
	})
}

func (s *Server) renameTaxon(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	name := r.PathValue("name")
	s.mutate(w, http.StatusOK, func() (any, error) {
		got, err := s.ws.Engine.RenameTaxon(name, req.Name)
		return map[string]string{"name": got}, err
	})
}

func (s *Server) removeTaxon(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	s.mutate(w, http.StatusOK, func() (any, error) {
		return nil, s.ws.Engine.RemoveTaxon(name)
	})
}

// AssignRequest is the request body for assigning a subject
type AssignRequest struct {
	Subject string `json:"subject"`
	Taxon   string `json:"taxon"`
}

func (s *Server) assignTaxon(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Subject == "" {
		writeError(w, http.StatusBadRequest, "subject is required")
		return
	}
	s.mutate(w, http.StatusOK, func() (any, error) {
		return nil, s.ws.Engine.AssignTaxon(req.Subject, req.Taxon)
	})
}

func (s *Server) unassignTaxon(w http.ResponseWriter, r *http.Request) {
	subject, taxon := r.PathValue("subject"), r.PathValue("taxon")
	s.mutate(w, http.StatusOK, func() (any, error) {
		return nil, s.ws.Engine.UnassignTaxon(subject, taxon)
	})
}

func (s *Server) markSubject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Value != classify.Sure && req.Value != classify.Unsure {
		writeError(w, http.StatusBadRequest, "value must be Sure or Unsure")
		return
	}
	subject := r.PathValue("subject")
	s.mutate(w, http.StatusOK, func() (any, error) {
		s.ws.Labels.Mark(subject, req.Value)
		return nil, nil
	})
}

func (s *Server) unmarkSubject(w http.ResponseWriter, r *http.Request) {
	subject, value := r.PathValue("subject"), r.PathValue("value")
	s.mutate(w, http.StatusOK, func() (any, error) {
		return nil, s.ws.Labels.Unmark(subject, value)
	})
}

func (s *Server) exportProgress(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	progresses := s.ws.Progress()
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := exchange.Encode(w, progresses); err != nil {
		s.log.Error("export progress", "error", err)
	}
}

func (s *Server) importProgress(w http.ResponseWriter, r *http.Request) {
	progresses, err := exchange.Decode(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mutate(w, http.StatusOK, func() (any, error) {
		return nil, s.ws.Apply(progresses)
	})
}

func (s *Server) read(w http.ResponseWriter, fn func() any) {
	s.mu.Lock()
	data := fn()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, data)
}

// mutate runs fn under the lock, saves the workspace and writes fn's
// result. A nil result is answered with the new snapshot.
func (s *Server) mutate(w http.ResponseWriter, status int, fn func() (any, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := fn()
	if err != nil {
		s.log.Debug("request rejected", "error", err)
		writeError(w, statusOf(err), err.Error())
		return
	}
	if s.store != nil {
		if err := s.ws.Save(s.store); err != nil {
			s.log.Error("save workspace", "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if data == nil {
		data = s.ws.Engine.Snapshot()
	}
	writeJSON(w, status, data)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrCategoryNotFound), errors.Is(err, domain.ErrAnnotationNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrCyclicMove), errors.Is(err, domain.ErrDuplicateName):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidPosition), errors.Is(err, domain.ErrUnknownTask),
		errors.Is(err, domain.ErrEmptyName):
		return http.StatusBadRequest
	case errors.Is(err, taxonomy.ErrNoCollaborator):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
