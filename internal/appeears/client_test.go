package appeears

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/login" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	if err := c.Login(context.Background(), "alice", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if c.token != "tok-1" {
		t.Errorf("token = %q", c.token)
	}
}

func TestLoginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := New(srv.URL).Login(context.Background(), "alice", "wrong")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want AuthError", err)
	}
	if authErr.Status != http.StatusUnauthorized {
		t.Errorf("status = %d", authErr.Status)
	}
}

func TestSubmitTask(t *testing.T) {
	var got TaskRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/task" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok-1" {
			t.Errorf("authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"task_id": "task-9"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.token = "tok-1"

	req := NewAreaRequest("ECO_20250216_0430", "02-15-2025", "02-16-2025",
		[]TaskLayer{{Product: "ECO_L2T_LSTE.002", Layer: "LST"}},
		json.RawMessage(`{"type":"FeatureCollection","features":[]}`))

	id, err := c.SubmitTask(context.Background(), req)
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	if id != "task-9" {
		t.Errorf("task id = %q", id)
	}
	if got.TaskType != "area" {
		t.Errorf("task_type = %q", got.TaskType)
	}
	if len(got.Params.Dates) != 1 || got.Params.Dates[0].StartDate != "02-15-2025" {
		t.Errorf("dates = %+v", got.Params.Dates)
	}
	if got.Params.Output.Format.Type != "geotiff" || got.Params.Output.Projection != "geographic" {
		t.Errorf("output = %+v", got.Params.Output)
	}
}

func TestSubmitTaskRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"message":"invalid layer"}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).SubmitTask(context.Background(), TaskRequest{})
	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("error = %v, want SubmissionError", err)
	}
	if subErr.Status != http.StatusBadRequest {
		t.Errorf("status = %d", subErr.Status)
	}
}

// immediatePolicy polls with no delay and a bounded retry count.
func immediatePolicy(retries uint64) backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(0), retries)
}

func TestWaitForTaskCompletes(t *testing.T) {
	statuses := []string{StatusPending, StatusProcessing, StatusDone}
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := statuses[calls]
		if calls < len(statuses)-1 {
			calls++
		}
		json.NewEncoder(w).Encode(map[string]string{"status": s})
	}))
	defer srv.Close()

	if err := New(srv.URL).WaitForTask(context.Background(), "t", immediatePolicy(10)); err != nil {
		t.Fatalf("WaitForTask: %v", err)
	}
}

func TestWaitForTaskFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": StatusError})
	}))
	defer srv.Close()

	err := New(srv.URL).WaitForTask(context.Background(), "t", immediatePolicy(10))
	var failErr *TaskFailureError
	if !errors.As(err, &failErr) {
		t.Fatalf("error = %v, want TaskFailureError", err)
	}
	if failErr.Status != StatusError {
		t.Errorf("status = %q", failErr.Status)
	}
}

func TestWaitForTaskBudgetExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": StatusProcessing})
	}))
	defer srv.Close()

	err := New(srv.URL).WaitForTask(context.Background(), "t", immediatePolicy(2))
	var failErr *TaskFailureError
	if !errors.As(err, &failErr) {
		t.Fatalf("error = %v, want TaskFailureError", err)
	}
	if failErr.Status != StatusProcessing {
		t.Errorf("last status = %q", failErr.Status)
	}
}

func TestWaitForTaskUnrecognizedStatus(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]string{"status": "crashed"})
	}))
	defer srv.Close()

	err := New(srv.URL).WaitForTask(context.Background(), "t", immediatePolicy(5))
	var failErr *TaskFailureError
	if !errors.As(err, &failErr) {
		t.Fatalf("error = %v, want TaskFailureError", err)
	}
	if failErr.Status != "crashed" {
		t.Errorf("status = %q", failErr.Status)
	}
	// A status outside the known set fails immediately, not after the
	// retry budget.
	if calls != 1 {
		t.Errorf("polled %d times, want 1", calls)
	}
}

func TestListBundle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bundle/task-9" {
			t.Errorf("path = %s", r.URL.Path)
		}
		io.WriteString(w, `{"files":[
			{"file_id":"f1","file_name":"a_doy2025047192336_aid0001.tif"},
			{"file_id":"f2","file_name":"granule-list.csv"}
		]}`)
	}))
	defer srv.Close()

	files, err := New(srv.URL).ListBundle(context.Background(), "task-9")
	if err != nil {
		t.Fatalf("ListBundle: %v", err)
	}
	if len(files) != 2 || files[0].FileID != "f1" || files[1].FileName != "granule-list.csv" {
		t.Errorf("files = %+v", files)
	}
}

func TestOpenBundleFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bundle/task-9/f1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		io.WriteString(w, "pixel bytes")
	}))
	defer srv.Close()

	body, err := New(srv.URL).OpenBundleFile(context.Background(), "task-9", "f1")
	if err != nil {
		t.Fatalf("OpenBundleFile: %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(data) != "pixel bytes" {
		t.Errorf("body = %q", data)
	}
}

func TestPollPolicy(t *testing.T) {
	p := PollPolicy(30*time.Second, 90*time.Second)
	if d := p.NextBackOff(); d != 30*time.Second {
		t.Errorf("first interval = %v", d)
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []string{StatusDone, StatusError, StatusExpired, StatusDeleted} {
		if !Terminal(s) {
			t.Errorf("Terminal(%q) = false", s)
		}
	}
	for _, s := range []string{StatusPending, StatusQueued, StatusProcessing} {
		if Terminal(s) {
			t.Errorf("Terminal(%q) = true", s)
		}
	}
}
