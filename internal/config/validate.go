package config

import (
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/khachaneojas/service-scheduler/internal/cron"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	// TRANSPORT must be "channel" or "redis"
	switch cfg.Transport {
	case "", "channel":
	case "redis":
		if cfg.RedisAddr == "" {
			errs = append(errs, ValidationError{
				Field:   "REDIS_ADDR",
				Message: "required when TRANSPORT=redis",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "TRANSPORT",
			Message: fmt.Sprintf("must be 'channel' or 'redis', got %q", cfg.Transport),
		})
	}

	if cfg.SweepSchedule != "" {
		if err := cron.NewParser().Validate(cfg.SweepSchedule); err != nil {
			errs = append(errs, ValidationError{
				Field:   "SWEEP_SCHEDULE",
				Message: fmt.Sprintf("invalid schedule: %v", err),
			})
		}
	}

	for _, d := range cfg.durations() {
		if *d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(*d.raw)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   d.env,
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
			continue
		}
		if v < 0 || (v == 0 && d.env != "SWEEP_INITIAL_DELAY") {
			errs = append(errs, ValidationError{
				Field:   d.env,
				Message: "must be positive",
			})
		}
	}

	if cfg.SMTPHost != "" && cfg.MailFrom == "" {
		errs = append(errs, ValidationError{
			Field:   "MAIL_FROM",
			Message: "required when SMTP_HOST is set",
		})
	}

	for field, raw := range map[string]string{
		"STUDENT_SERVICE_URL": cfg.StudentServiceURL,
		"EXAM_SERVICE_URL":    cfg.ExamServiceURL,
		"DOWNLOAD_LINK_BASE":  cfg.DownloadLinkBase,
	} {
		if raw == "" {
			continue
		}
		if err := validateBaseURL(raw); err != nil {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: err.Error(),
			})
		}
	}

	if len(errs) > 0 {
		sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
		return errs
	}
	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
