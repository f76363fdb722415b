package web

import (
	"context"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/opennames/internal/core"
	"github.com/JonMunkholm/opennames/internal/pipeline"
	"github.com/JonMunkholm/opennames/internal/runlog"
)

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status string                `json:"status"`
	Run    core.RunLimiterStatus `json:"run"`
}

// StartRunResponse acknowledges a pass started in the background.
type StartRunResponse struct {
	RunID string `json:"runId"`
}

// StatusResponse summarises the records of one version.
type StatusResponse struct {
	Version     string            `json:"version"`
	Total       int               `json:"total"`
	Processed   int               `json:"processed"`
	Imported    int               `json:"imported"`
	Cleaned     int               `json:"cleaned"`
	Complete    bool              `json:"complete"`
	DataSources []core.DataSource `json:"dataSources"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if s.deps.Runner != nil {
		resp.Run = s.deps.Runner.Limiter().Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runner == nil {
		s.respondError(w, r, core.Errorf(core.KindNotFound, "web.run", "runs are disabled"))
		return
	}

	runID, err := s.deps.Runner.Start(r.Context(), pipeline.TriggerAPI)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/runs")
	writeJSON(w, http.StatusAccepted, StartRunResponse{RunID: runID})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 20)
	if limit > runlog.DefaultMaxEntries {
		limit = runlog.DefaultMaxEntries
	}

	entries := []runlog.Entry{}
	if s.deps.History != nil {
		recent, err := s.deps.History.Recent(r.Context(), limit)
		if err != nil {
			s.respondError(w, r, core.E(core.KindPersistence, "web.runs", err))
			return
		}
		if recent != nil {
			entries = recent
		}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if d := s.cfg.Pipeline.StoreTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	version := r.URL.Query().Get("version")
	if version == "" {
		if s.deps.Versions == nil {
			s.respondError(w, r, core.Errorf(core.KindValidation, "web.status", "version is required"))
			return
		}
		v, err := s.deps.Versions.ResolveVersion(ctx)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		version = v
	}

	cat, err := s.deps.Registry.List(ctx, version, core.ListFilter{})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if len(cat.DataSources) == 0 {
		s.respondError(w, r, core.Errorf(core.KindNotFound, "web.status", "no data sources registered for %s", version))
		return
	}

	resp := StatusResponse{
		Version:     version,
		Total:       len(cat.DataSources),
		Complete:    core.AllCleaned(cat.DataSources),
		DataSources: cat.DataSources,
	}
	for _, ds := range cat.DataSources {
		if ds.Processed {
			resp.Processed++
		}
		if ds.Imported {
			resp.Imported++
		}
		if ds.Cleaned {
			resp.Cleaned++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseIntParam reads a positive integer query parameter.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}
