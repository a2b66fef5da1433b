package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"

	"coadd/internal/pipeline"
	"coadd/internal/storage"
)

var errQueueFull = errors.New("job queue is full")

type fakeQueue struct {
	submitted []pipeline.Job
	submitErr error
	results   chan pipeline.Result
}

func (f *fakeQueue) Submit(job pipeline.Job) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, job)
	return nil
}

func (f *fakeQueue) Subscribe() (<-chan pipeline.Result, func()) {
	if f.results == nil {
		f.results = make(chan pipeline.Result, 1)
	}
	return f.results, func() {}
}

func newTestServer(t *testing.T, queue jobQueue) (*Server, *mux.Router) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	s := &Server{
		store:    store,
		pipeline: queue,
		hub:      newWsHub(slog.Default()),
		log:      slog.Default(),
	}
	r := mux.NewRouter()
	s.setupRoutes(r)
	return s, r
}

func TestHealthEndpoint(t *testing.T) {
	_, r := newTestServer(t, &fakeQueue{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestSubmitCombineJob(t *testing.T) {
	queue := &fakeQueue{}
	_, r := newTestServer(t, queue)

	body, _ := json.Marshal(map[string]any{
		"type":  "combine",
		"input": "/sessions/m31",
		"options": map[string]any{
			"lsigma": 2.5,
		},
	})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/jobs", bytes.NewReader(body)))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(queue.submitted) != 1 {
		t.Fatalf("expected one submitted job, got %d", len(queue.submitted))
	}
	job := queue.submitted[0]
	if job.Type != pipeline.JobCombine {
		t.Fatalf("expected combine job, got %s", job.Type)
	}
	if job.InputPath != "/sessions/m31" {
		t.Fatalf("unexpected input path: %s", job.InputPath)
	}
	if job.Options["lsigma"] != 2.5 {
		t.Fatalf("options not passed through: %v", job.Options)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["id"] == "" {
		t.Fatal("expected generated job id in response")
	}
}

func TestSubmitJobDefaultsToCombine(t *testing.T) {
	queue := &fakeQueue{}
	_, r := newTestServer(t, queue)

	body, _ := json.Marshal(map[string]any{"input": "/sessions/flat"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/jobs", bytes.NewReader(body)))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if queue.submitted[0].Type != pipeline.JobCombine {
		t.Fatalf("expected combine default, got %s", queue.submitted[0].Type)
	}
}

func TestSubmitJobRejectsBadRequests(t *testing.T) {
	queue := &fakeQueue{}
	_, r := newTestServer(t, queue)

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", "{not json"},
		{"missing input", `{"type":"combine"}`},
		{"unknown type", `{"type":"transmogrify","input":"/x"}`},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("POST", "/jobs", bytes.NewReader([]byte(tc.body))))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, rec.Code)
		}
	}
	if len(queue.submitted) != 0 {
		t.Fatalf("expected no submissions, got %d", len(queue.submitted))
	}
}

func TestJobsListAndLookup(t *testing.T) {
	s, r := newTestServer(t, &fakeQueue{})

	err := s.store.RecordJobQueued(storage.JobRecord{
		ID: "job-1", JobType: "combine", Status: "queued", InputPath: "/sessions/m31",
	})
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/jobs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var jobs []storage.JobRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &jobs); err != nil {
		t.Fatalf("decode jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "job-1" {
		t.Fatalf("unexpected job list: %+v", jobs)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/jobs/job-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for existing job, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/jobs/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", rec.Code)
	}
}

func TestSubmitJobQueueFull(t *testing.T) {
	queue := &fakeQueue{submitErr: errQueueFull}
	_, r := newTestServer(t, queue)

	body, _ := json.Marshal(map[string]any{"input": "/sessions/m31"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/jobs", bytes.NewReader(body)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestResultPayloadIncludesError(t *testing.T) {
	res := pipeline.Result{
		Job:   pipeline.Job{ID: "j", Type: pipeline.JobScan},
		Error: errQueueFull,
	}
	payload := resultPayload(res)
	if payload["error"] != errQueueFull.Error() {
		t.Fatalf("expected error in payload, got %v", payload["error"])
	}
}
