package executor

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/khachaneojas/service-scheduler/internal/domain"
)

// Handler runs the domain logic of one job type inside the executor's
// transaction.
type Handler interface {
	Execute(ctx context.Context, job *domain.Job) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, job *domain.Job) error

func (f HandlerFunc) Execute(ctx context.Context, job *domain.Job) error {
	return f(ctx, job)
}

// Typed wraps fn in a Handler that decodes the job payload into T first. An
// empty payload leaves T at its zero value.
func Typed[T any](fn func(ctx context.Context, job *domain.Job, payload T) error) Handler {
	return HandlerFunc(func(ctx context.Context, job *domain.Job) error {
		var payload T
		if job.Payload != "" {
			if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
				return errors.Wrapf(err, "decode payload of job (%d) [%s]", job.ID, job.Type)
			}
		}
		return fn(ctx, job, payload)
	})
}

// Registry maps job types to handlers.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.JobType]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[domain.JobType]Handler),
	}
}

// Register binds h to jobType, replacing any previous handler.
func (r *Registry) Register(jobType domain.JobType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

func (r *Registry) Get(jobType domain.JobType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types returns the registered job types in sorted order.
func (r *Registry) Types() []domain.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]domain.JobType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
