package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"coadd/internal/pipeline"
	"coadd/internal/storage"
	"coadd/internal/tasks"
)

// jobQueue is the slice of the pipeline the server needs.
type jobQueue interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

// Server exposes job submission and monitoring over HTTP, and optionally
// watches session directories to combine them as they settle.
type Server struct {
	addr     string
	store    *storage.Store
	pipeline jobQueue
	watcher  *tasks.SessionWatcher
	hub      *wsHub
	log      *slog.Logger
	server   *http.Server
}

// NewServer creates a server. If watchPaths is non-empty a session
// watcher is attached that enqueues a combine job whenever a watched
// directory settles.
func NewServer(
	addr string,
	store *storage.Store,
	pipe *pipeline.Pipeline,
	watchPaths []string,
	settle time.Duration,
	log *slog.Logger,
) (*Server, error) {

	s := &Server{
		addr:     addr,
		store:    store,
		pipeline: pipe,
		hub:      newWsHub(log),
		log:      log,
	}

	if len(watchPaths) > 0 {
		watcher, err := tasks.NewSessionWatcher(watchPaths, settle)
		if err != nil {
			log.Warn("failed to set up session watcher", "error", err)
		} else {
			s.watcher = watcher
			log.Info("session watcher initialized", "paths", watchPaths)
		}
	}

	return s, nil
}

// Start begins serving and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.watcher != nil {
		if err := s.watcher.Start(); err != nil {
			s.log.Error("failed to start session watcher", "error", err)
			return err
		}
		go s.combineSettledSessions()
	}

	go s.hub.run(ctx)
	go s.feedHub(ctx)

	r := mux.NewRouter()
	s.setupRoutes(r)

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server...")

		if s.watcher != nil {
			s.watcher.Stop()
		}

		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/jobs", s.handleSubmitJob).Methods("POST")
	r.HandleFunc("/jobs/{id}", s.handleJob).Methods("GET")
	r.HandleFunc("/stream", s.handleJobStream).Methods("GET")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
}

// Serve runs a server without session watching.
func Serve(ctx context.Context, addr string, store *storage.Store, pipe *pipeline.Pipeline, log *slog.Logger) error {
	server, err := NewServer(addr, store, pipe, nil, 0, log)
	if err != nil {
		return err
	}
	return server.Start(ctx)
}

// combineSettledSessions turns watcher events into combine jobs.
func (s *Server) combineSettledSessions() {
	for ev := range s.watcher.Events {
		job := pipeline.Job{
			ID:        "session-" + uuid.NewString(),
			Type:      pipeline.JobCombine,
			InputPath: ev.Dir,
		}
		if err := s.pipeline.Submit(job); err != nil {
			s.log.Warn("failed to enqueue settled session", "dir", ev.Dir, "error", err)
			continue
		}
		s.log.Info("session settled, combine queued", "dir", ev.Dir, "frames", ev.Frames, "job", job.ID)
	}
}

// feedHub forwards pipeline results to websocket clients.
func (s *Server) feedHub(ctx context.Context) {
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, err := json.Marshal(resultPayload(res))
			if err == nil {
				s.hub.send(payload)
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentJobs(100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recs)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.store.Job(id)
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// submitRequest is the POST /jobs body.
type submitRequest struct {
	Type    string         `json:"type"`
	Input   string         `json:"input"`
	Output  string         `json:"output"`
	Options map[string]any `json:"options"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Input == "" {
		http.Error(w, "input is required", http.StatusBadRequest)
		return
	}

	jobType := pipeline.JobType(req.Type)
	switch jobType {
	case pipeline.JobCombine, pipeline.JobScan:
	case "":
		jobType = pipeline.JobCombine
	default:
		http.Error(w, "unknown job type: "+req.Type, http.StatusBadRequest)
		return
	}

	job := pipeline.Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		InputPath: req.Input,
		Output:    req.Output,
		Options:   req.Options,
	}
	if err := s.pipeline.Submit(job); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"id":   job.ID,
		"type": string(job.Type),
	})
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(resultPayload(res))
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

// resultPayload flattens a pipeline result for wire delivery.
func resultPayload(res pipeline.Result) map[string]any {
	out := map[string]any{
		"id":   res.Job.ID,
		"type": string(res.Job.Type),
		"meta": res.Meta,
	}
	if res.Error != nil {
		out["error"] = res.Error.Error()
	}
	return out
}
