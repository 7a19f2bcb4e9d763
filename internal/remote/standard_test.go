package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/khachaneojas/service-scheduler/internal/domain"
	"github.com/khachaneojas/service-scheduler/internal/executor"
)

type mockJobs struct {
	mu   sync.Mutex
	jobs []domain.Job
}

func (m *mockJobs) CreateJob(ctx context.Context, job domain.Job) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	return int64(len(m.jobs)), nil
}

type recorded struct {
	method string
	path   string
	body   string
}

func newService(t *testing.T, status int, reply string) (*httptest.Server, *[]recorded) {
	t.Helper()
	var mu sync.Mutex
	var calls []recorded
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, recorded{r.Method, r.URL.Path, string(b)})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func newStandard(url string, jobs *mockJobs) *Standard {
	return NewStandard(newTestClient("s"), Endpoints{Student: url + "/", Examination: url}, jobs).
		WithClock(func() time.Time { return fixedNow })
}

func TestPaymentDueMail_QueuesEmailJob(t *testing.T) {
	reply := `[{"recipient":"a@x","subject":"Due","messageBody":"pay"},{"recipient":"b@x","subject":"Due","messageBody":"pay"}]`
	server, calls := newService(t, http.StatusOK, reply)
	jobs := &mockJobs{}

	err := newStandard(server.URL, jobs).PaymentDueMail(context.Background(), &domain.Job{ID: 5, Type: domain.JobTypeStudentPaymentDueMail})
	if err != nil {
		t.Fatalf("PaymentDueMail: %v", err)
	}
	if (*calls)[0].method != http.MethodGet || (*calls)[0].path != PaymentDueTemplatesPath {
		t.Errorf("call = %+v", (*calls)[0])
	}
	if len(jobs.jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs.jobs))
	}
	job := jobs.jobs[0]
	if job.Type != domain.JobTypeEmail || job.Schedule != domain.ScheduleOnce || job.Name != PaymentDueJobName {
		t.Errorf("job = %+v", job)
	}
	if job.Description != "Scheduled emails to be sent to a@x, b@x" {
		t.Errorf("description = %q", job.Description)
	}
	var templates []domain.EmailTemplate
	if err := json.Unmarshal([]byte(job.Payload), &templates); err != nil || len(templates) != 2 {
		t.Errorf("payload = %q (%v)", job.Payload, err)
	}
	if !job.ExecuteAt.Equal(fixedNow) {
		t.Errorf("execute at = %v", job.ExecuteAt)
	}
}

func TestPaymentDueMail_NoTemplates(t *testing.T) {
	for _, reply := range []string{"", "[]"} {
		server, _ := newService(t, http.StatusOK, reply)
		jobs := &mockJobs{}
		if err := newStandard(server.URL, jobs).PaymentDueMail(context.Background(), &domain.Job{ID: 1}); err != nil {
			t.Fatalf("reply %q: %v", reply, err)
		}
		if len(jobs.jobs) != 0 {
			t.Errorf("reply %q: jobs created", reply)
		}
	}
}

func TestPaymentDueMail_ServiceDown(t *testing.T) {
	server, _ := newService(t, http.StatusServiceUnavailable, "")
	jobs := &mockJobs{}
	if err := newStandard(server.URL, jobs).PaymentDueMail(context.Background(), &domain.Job{ID: 1}); err == nil {
		t.Fatal("expected error")
	}
}

func TestExamStatusChange_ForwardsPayload(t *testing.T) {
	server, calls := newService(t, http.StatusOK, "")
	payload := `{"students":[1,2],"status":"CLEARED"}`

	err := newStandard(server.URL, &mockJobs{}).ExamStatusChange(context.Background(), &domain.Job{ID: 2, Payload: payload})
	if err != nil {
		t.Fatalf("ExamStatusChange: %v", err)
	}
	got := (*calls)[0]
	if got.method != http.MethodPost || got.path != ExamStatusChangePath || got.body != payload {
		t.Errorf("call = %+v", got)
	}
}

func TestExamStatusChange_InvalidPayload(t *testing.T) {
	server, calls := newService(t, http.StatusOK, "")
	for _, p := range []string{"", "  ", "{broken"} {
		if err := newStandard(server.URL, &mockJobs{}).ExamStatusChange(context.Background(), &domain.Job{ID: 2, Payload: p}); err == nil {
			t.Errorf("payload %q: expected error", p)
		}
	}
	if len(*calls) != 0 {
		t.Errorf("calls = %d, want none", len(*calls))
	}
}

func TestDeleteUnpaidBookings(t *testing.T) {
	server, calls := newService(t, http.StatusOK, "")
	if err := newStandard(server.URL, &mockJobs{}).DeleteUnpaidBookings(context.Background(), &domain.Job{ID: 3}); err != nil {
		t.Fatalf("DeleteUnpaidBookings: %v", err)
	}
	if got := (*calls)[0]; got.method != http.MethodDelete || got.path != UnpaidBookingsPath {
		t.Errorf("call = %+v", got)
	}
}

func TestStandard_Register(t *testing.T) {
	r := executor.NewRegistry()
	newStandard("http://unused", &mockJobs{}).Register(r)
	for _, jt := range []domain.JobType{
		domain.JobTypeStudentPaymentDueMail,
		domain.JobTypeExamStatusChange,
		domain.JobTypeDeleteUnpaidBookings,
	} {
		if _, ok := r.Get(jt); !ok {
			t.Errorf("%s not registered", jt)
		}
	}
}
