package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestServer_CreateJob(t *testing.T) {
	s := NewServer(":8080", nil)

	body, _ := json.Marshal(mockJobConfig())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.handleJobs(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var job Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if job.ID == "" {
		t.Error("Response should carry the job ID")
	}
	if job.Config.Algo != "ga" {
		t.Errorf("Config echoed wrong: %+v", job.Config)
	}
}

func TestServer_CreateJobRejectsBadInput(t *testing.T) {
	s := NewServer(":8080", nil)

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", "{not json"},
		{"one atom", `{"algo":"ga","atoms":1}`},
		{"unknown algo", `{"algo":"annealing","atoms":8}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader([]byte(tc.body)))
			w := httptest.NewRecorder()
			s.handleJobs(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", w.Code)
			}
		})
	}
}

func TestServer_JobStatus(t *testing.T) {
	s := NewServer(":8080", nil)
	job := s.jobManager.CreateJob(mockJobConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/status", nil)
	w := httptest.NewRecorder()
	s.handleJobsWithID(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var status map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if status["id"] != job.ID {
		t.Errorf("Status carries wrong job: %v", status["id"])
	}
	if status["state"] != string(StatePending) {
		t.Errorf("State = %v", status["state"])
	}
}

func TestServer_JobStatusNotFound(t *testing.T) {
	s := NewServer(":8080", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/missing/status", nil)
	w := httptest.NewRecorder()
	s.handleJobsWithID(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestServer_StopJob(t *testing.T) {
	s := NewServer(":8080", nil)
	job := s.jobManager.CreateJob(mockJobConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+job.ID+"/stop", nil)
	w := httptest.NewRecorder()
	s.handleJobsWithID(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}
	if !job.stop.Load() {
		t.Error("Stop endpoint should trip the job's stop flag")
	}
}

func TestServer_StopJobRequiresPost(t *testing.T) {
	s := NewServer(":8080", nil)
	job := s.jobManager.CreateJob(mockJobConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/stop", nil)
	w := httptest.NewRecorder()
	s.handleJobsWithID(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}
}

func TestServer_ListJobs(t *testing.T) {
	s := NewServer(":8080", nil)
	s.jobManager.CreateJob(mockJobConfig())
	s.jobManager.CreateJob(mockJobConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()
	s.handleJobs(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var jobs []Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestBroadcasterReplaysLastEvent(t *testing.T) {
	eb := NewEventBroadcaster()

	event := ProgressEvent{JobID: "job-1", State: StateRunning, Timestamp: time.Now()}
	eb.Broadcast(event)

	// A client subscribing after the fact still sees the latest state.
	ch := eb.Subscribe("job-1")
	defer eb.Unsubscribe("job-1", ch)

	select {
	case got := <-ch:
		if got.JobID != "job-1" || got.State != StateRunning {
			t.Errorf("Replayed event = %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Subscriber did not receive the replayed event")
	}
}

func TestBroadcasterDeliversToSubscribers(t *testing.T) {
	eb := NewEventBroadcaster()

	ch := eb.Subscribe("job-1")
	defer eb.Unsubscribe("job-1", ch)

	eb.Broadcast(ProgressEvent{JobID: "job-1", State: StateCompleted})

	select {
	case got := <-ch:
		if got.State != StateCompleted {
			t.Errorf("Event = %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Subscriber did not receive the event")
	}
}
