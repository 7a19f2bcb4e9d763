package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/khachaneojas/service-scheduler/internal/domain"
	"github.com/khachaneojas/service-scheduler/internal/testutil"
)

// fakeDB models one transaction at a time: writes go to pending and become
// committed only when WithinTx's fn succeeds.
type fakeDB struct {
	mu        sync.Mutex
	jobs      map[int64]domain.Job
	pending   []string
	committed []string
	saves     int
	saveErr   error
	events    []string
}

func newFakeDB(jobs ...domain.Job) *fakeDB {
	db := &fakeDB{jobs: map[int64]domain.Job{}}
	for _, j := range jobs {
		db.jobs[j.ID] = j
	}
	return db
}

func (db *fakeDB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	db.events = append(db.events, "begin")
	db.pending = nil
	if err := fn(ctx); err != nil {
		db.events = append(db.events, "rollback")
		db.pending = nil
		return err
	}
	db.committed = append(db.committed, db.pending...)
	db.events = append(db.events, "commit")
	return nil
}

func (db *fakeDB) Savepoint(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	db.events = append(db.events, "savepoint "+name)
	mark := len(db.pending)
	if err := fn(ctx); err != nil {
		db.pending = db.pending[:mark]
		db.events = append(db.events, "rollback to "+name)
		return err
	}
	db.events = append(db.events, "release "+name)
	return nil
}

func (db *fakeDB) write(s string) {
	db.pending = append(db.pending, s)
}

func (db *fakeDB) GetJobForUpdate(ctx context.Context, id int64) (domain.Job, error) {
	job, ok := db.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return job, nil
}

func (db *fakeDB) SaveJob(ctx context.Context, job domain.Job) error {
	db.saves++
	if db.saveErr != nil {
		return db.saveErr
	}
	db.jobs[job.ID] = job
	db.write("job:" + string(job.Status))
	return nil
}

type mockMetrics struct {
	mu       sync.Mutex
	outcomes []string
}

func (m *mockMetrics) JobExecuted(jobType, outcome string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, jobType+"/"+outcome)
}

type mockAnalytics struct {
	mu       sync.Mutex
	outcomes []string
}

func (m *mockAnalytics) RecordOutcome(ctx context.Context, jobType, outcome string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, jobType+"/"+outcome)
}

func runningJob(id int64, jt domain.JobType, attempts int) domain.Job {
	last := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	return domain.Job{
		ID:        id,
		Type:      jt,
		Schedule:  domain.ScheduleOnce,
		Status:    domain.JobStatusRunning,
		Attempts:  attempts,
		LastRanAt: &last,
	}
}

func TestExecutor_Success(t *testing.T) {
	db := newFakeDB(runningJob(1, domain.JobTypeEmail, 0))
	reg := NewRegistry()
	reg.Register(domain.JobTypeEmail, HandlerFunc(func(ctx context.Context, job *domain.Job) error {
		db.write("mail")
		return nil
	}))
	metrics := &mockMetrics{}
	analytics := &mockAnalytics{}
	e := New(db, db, reg).WithMetrics(metrics).WithAnalytics(analytics)

	if err := e.Execute(testutil.TestContext(t), 1); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	job := db.jobs[1]
	if job.Status != domain.JobStatusSuccess {
		t.Errorf("status = %s, want SUCCESS", job.Status)
	}
	if job.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", job.Attempts)
	}
	if db.saves != 1 {
		t.Errorf("saves = %d, want 1", db.saves)
	}
	want := []string{"mail", "job:SUCCESS"}
	if len(db.committed) != 2 || db.committed[0] != want[0] || db.committed[1] != want[1] {
		t.Errorf("committed = %v, want %v", db.committed, want)
	}
	if len(metrics.outcomes) != 1 || metrics.outcomes[0] != "EMAIL/success" {
		t.Errorf("metrics = %v, want [EMAIL/success]", metrics.outcomes)
	}
	if len(analytics.outcomes) != 1 || analytics.outcomes[0] != "EMAIL/success" {
		t.Errorf("analytics = %v, want [EMAIL/success]", analytics.outcomes)
	}
}

func TestExecutor_HandlerErrorRollsBackToSavepoint(t *testing.T) {
	db := newFakeDB(runningJob(1, domain.JobTypeMarkEligibilityFinance, 1))
	reg := NewRegistry()
	reg.Register(domain.JobTypeMarkEligibilityFinance, HandlerFunc(func(ctx context.Context, job *domain.Job) error {
		db.write("clearance")
		return errors.New("could not determine the start-date")
	}))
	e := New(db, db, reg)

	if err := e.Execute(testutil.TestContext(t), 1); err != nil {
		t.Fatalf("Execute should swallow handler errors, got %v", err)
	}

	job := db.jobs[1]
	if job.Status != domain.JobStatusFailed {
		t.Errorf("status = %s, want FAILED", job.Status)
	}
	if job.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", job.Attempts)
	}
	if db.saves != 1 {
		t.Errorf("saves = %d, want 1", db.saves)
	}
	if len(db.committed) != 1 || db.committed[0] != "job:FAILED" {
		t.Errorf("committed = %v, want [job:FAILED]", db.committed)
	}
}

func TestExecutor_MissingJob(t *testing.T) {
	db := newFakeDB()
	metrics := &mockMetrics{}
	e := New(db, db, NewRegistry()).WithMetrics(metrics)

	if err := e.Execute(testutil.TestContext(t), 99); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if db.saves != 0 {
		t.Errorf("saves = %d, want 0", db.saves)
	}
	if len(metrics.outcomes) != 1 || metrics.outcomes[0] != "unknown/missing" {
		t.Errorf("metrics = %v, want [unknown/missing]", metrics.outcomes)
	}
}

func TestExecutor_UnregisteredTypeFails(t *testing.T) {
	db := newFakeDB(runningJob(1, domain.JobTypeWebsiteDataTransfer, 0))
	e := New(db, db, NewRegistry())

	if err := e.Execute(testutil.TestContext(t), 1); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	job := db.jobs[1]
	if job.Status != domain.JobStatusFailed || job.Attempts != 1 {
		t.Errorf("job = %s attempts=%d, want FAILED attempts=1", job.Status, job.Attempts)
	}
}

func TestExecutor_RunMarksUnexpectedType(t *testing.T) {
	e := New(newFakeDB(), newFakeDB(), NewRegistry())
	err := e.run(context.Background(), domain.Job{ID: 1, Type: domain.JobTypeEmail})
	if !errors.Is(err, ErrUnexpectedJobType) {
		t.Errorf("run error = %v, want ErrUnexpectedJobType", err)
	}
}

func TestExecutor_HandlerPanicFailsJob(t *testing.T) {
	db := newFakeDB(runningJob(1, domain.JobTypeEmail, 0))
	reg := NewRegistry()
	reg.Register(domain.JobTypeEmail, HandlerFunc(func(ctx context.Context, job *domain.Job) error {
		panic("nil template")
	}))
	e := New(db, db, reg)

	if err := e.Execute(testutil.TestContext(t), 1); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := db.jobs[1].Status; got != domain.JobStatusFailed {
		t.Errorf("status = %s, want FAILED", got)
	}
}

func TestExecutor_SaveErrorAbortsTransaction(t *testing.T) {
	db := newFakeDB(runningJob(1, domain.JobTypeEmail, 0))
	db.saveErr = errors.New("could not serialize access")
	reg := NewRegistry()
	reg.Register(domain.JobTypeEmail, HandlerFunc(func(ctx context.Context, job *domain.Job) error {
		db.write("mail")
		return nil
	}))
	metrics := &mockMetrics{}
	e := New(db, db, reg).WithMetrics(metrics)

	if err := e.Execute(testutil.TestContext(t), 1); err == nil {
		t.Fatal("Execute should return the save error")
	}
	if len(db.committed) != 0 {
		t.Errorf("committed = %v, want nothing", db.committed)
	}
	if db.events[len(db.events)-1] != "rollback" {
		t.Errorf("last event = %q, want rollback", db.events[len(db.events)-1])
	}
	if len(metrics.outcomes) != 1 || metrics.outcomes[0] != "EMAIL/error" {
		t.Errorf("metrics = %v, want [EMAIL/error]", metrics.outcomes)
	}
}

func TestExecutor_HandlerCannotChangeEnvelopeFields(t *testing.T) {
	db := newFakeDB(runningJob(1, domain.JobTypeEmail, 0))
	reg := NewRegistry()
	reg.Register(domain.JobTypeEmail, HandlerFunc(func(ctx context.Context, job *domain.Job) error {
		job.Status = domain.JobStatusNoInstance
		job.Attempts = 42
		return nil
	}))
	e := New(db, db, reg)

	if err := e.Execute(testutil.TestContext(t), 1); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	job := db.jobs[1]
	if job.Status != domain.JobStatusSuccess || job.Attempts != 0 {
		t.Errorf("job = %s attempts=%d, want SUCCESS attempts=0", job.Status, job.Attempts)
	}
}

func TestExecutor_EnvelopeOrder(t *testing.T) {
	db := newFakeDB(runningJob(1, domain.JobTypeEmail, 0))
	reg := NewRegistry()
	reg.Register(domain.JobTypeEmail, HandlerFunc(func(ctx context.Context, job *domain.Job) error { return nil }))
	e := New(db, db, reg)

	if err := e.Execute(testutil.TestContext(t), 1); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	want := []string{"begin", "savepoint job_handler", "release job_handler", "commit"}
	if len(db.events) != len(want) {
		t.Fatalf("events = %v, want %v", db.events, want)
	}
	for i := range want {
		if db.events[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, db.events[i], want[i])
		}
	}
}

// conflictDB fails the commit of the first failCommits transactions. A failed
// commit discards every write of its transaction, the job row included.
type conflictDB struct {
	*fakeDB
	failCommits int
	commitErr   error
	txs         int
}

func (db *conflictDB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	db.txs++
	snapshot := make(map[int64]domain.Job, len(db.jobs))
	for id, j := range db.jobs {
		snapshot[id] = j
	}
	if err := db.fakeDB.WithinTx(ctx, fn); err != nil {
		db.jobs = snapshot
		return err
	}
	if db.failCommits > 0 {
		db.failCommits--
		db.jobs = snapshot
		return fmt.Errorf("commit: %w", db.commitErr)
	}
	return nil
}

func serializationErr() error {
	return MarkSerializationFailure(errors.New("pq: could not serialize access due to read/write dependencies among transactions"))
}

func TestExecutor_RetriesSerializationFailure(t *testing.T) {
	db := &conflictDB{fakeDB: newFakeDB(runningJob(1, domain.JobTypeEmail, 0)), failCommits: 1, commitErr: serializationErr()}
	calls := 0
	reg := NewRegistry()
	reg.Register(domain.JobTypeEmail, HandlerFunc(func(ctx context.Context, job *domain.Job) error {
		calls++
		return nil
	}))
	metrics := &mockMetrics{}
	e := New(db, db, reg).WithMetrics(metrics)

	if err := e.Execute(testutil.TestContext(t), 1); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calls != 2 {
		t.Errorf("handler calls = %d, want 2", calls)
	}
	if db.txs != 2 {
		t.Errorf("transactions = %d, want 2", db.txs)
	}
	if job := db.jobs[1]; job.Status != domain.JobStatusSuccess || job.Attempts != 0 {
		t.Errorf("job = %s attempts=%d, want SUCCESS attempts=0", job.Status, job.Attempts)
	}
	if len(metrics.outcomes) != 1 || metrics.outcomes[0] != "EMAIL/success" {
		t.Errorf("metrics = %v, want [EMAIL/success]", metrics.outcomes)
	}
}

func TestExecutor_PersistentSerializationFailureMarksFailed(t *testing.T) {
	db := &conflictDB{fakeDB: newFakeDB(runningJob(1, domain.JobTypeEmail, 1)), failCommits: MaxTxAttempts, commitErr: serializationErr()}
	calls := 0
	reg := NewRegistry()
	reg.Register(domain.JobTypeEmail, HandlerFunc(func(ctx context.Context, job *domain.Job) error {
		calls++
		return nil
	}))
	metrics := &mockMetrics{}
	e := New(db, db, reg).WithMetrics(metrics)

	if err := e.Execute(testutil.TestContext(t), 1); err != nil {
		t.Fatalf("Execute should not return once the job is marked FAILED, got %v", err)
	}
	if calls != MaxTxAttempts {
		t.Errorf("handler calls = %d, want %d", calls, MaxTxAttempts)
	}
	if db.txs != MaxTxAttempts+1 {
		t.Errorf("transactions = %d, want %d", db.txs, MaxTxAttempts+1)
	}
	if job := db.jobs[1]; job.Status != domain.JobStatusFailed || job.Attempts != 2 {
		t.Errorf("job = %s attempts=%d, want FAILED attempts=2", job.Status, job.Attempts)
	}
	if len(metrics.outcomes) != 1 || metrics.outcomes[0] != "EMAIL/failed" {
		t.Errorf("metrics = %v, want [EMAIL/failed]", metrics.outcomes)
	}
}

func TestExecutor_CommitErrorMarksFailedWithoutRetry(t *testing.T) {
	db := &conflictDB{fakeDB: newFakeDB(runningJob(1, domain.JobTypeEmail, 0)), failCommits: 1, commitErr: errors.New("connection reset by peer")}
	calls := 0
	reg := NewRegistry()
	reg.Register(domain.JobTypeEmail, HandlerFunc(func(ctx context.Context, job *domain.Job) error {
		calls++
		return nil
	}))
	e := New(db, db, reg)

	if err := e.Execute(testutil.TestContext(t), 1); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
	if job := db.jobs[1]; job.Status != domain.JobStatusFailed || job.Attempts != 1 {
		t.Errorf("job = %s attempts=%d, want FAILED attempts=1", job.Status, job.Attempts)
	}
}

func TestExecutor_SkipsJobNotRunning(t *testing.T) {
	for _, status := range []domain.JobStatus{domain.JobStatusSuccess, domain.JobStatusFailed, domain.JobStatusPending} {
		t.Run(string(status), func(t *testing.T) {
			job := runningJob(1, domain.JobTypeEmail, 1)
			job.Status = status
			db := newFakeDB(job)
			calls := 0
			reg := NewRegistry()
			reg.Register(domain.JobTypeEmail, HandlerFunc(func(ctx context.Context, job *domain.Job) error {
				calls++
				return nil
			}))
			metrics := &mockMetrics{}
			e := New(db, db, reg).WithMetrics(metrics)

			if err := e.Execute(testutil.TestContext(t), 1); err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if calls != 0 {
				t.Errorf("handler calls = %d, want 0", calls)
			}
			if db.saves != 0 {
				t.Errorf("saves = %d, want 0", db.saves)
			}
			if len(metrics.outcomes) != 1 || metrics.outcomes[0] != "EMAIL/skipped" {
				t.Errorf("metrics = %v, want [EMAIL/skipped]", metrics.outcomes)
			}
		})
	}
}

func TestExecutor_RedeliveryRunsHandlerOnce(t *testing.T) {
	db := newFakeDB(runningJob(1, domain.JobTypeEmail, 0))
	calls := 0
	reg := NewRegistry()
	reg.Register(domain.JobTypeEmail, HandlerFunc(func(ctx context.Context, job *domain.Job) error {
		calls++
		return nil
	}))
	e := New(db, db, reg)
	ctx := testutil.TestContext(t)

	for i := 0; i < 2; i++ {
		if err := e.Execute(ctx, 1); err != nil {
			t.Fatalf("Execute #%d: %v", i+1, err)
		}
	}
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
	if got := db.jobs[1].Status; got != domain.JobStatusSuccess {
		t.Errorf("status = %s, want SUCCESS", got)
	}
}
