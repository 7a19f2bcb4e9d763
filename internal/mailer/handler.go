package mailer

import (
	"context"

	"github.com/khachaneojas/service-scheduler/internal/domain"
	"github.com/khachaneojas/service-scheduler/internal/executor"
)

// Handler executes EMAIL jobs. The payload is a JSON array of templates.
func (m *Mailer) Handler() executor.Handler {
	return executor.Typed(func(ctx context.Context, job *domain.Job, templates []domain.EmailTemplate) error {
		_, err := m.SendMails(ctx, templates, job.ID)
		return err
	})
}
