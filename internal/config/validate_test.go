package config

import (
	"strings"
	"testing"
)

func validConfig() Config {
	return Config{
		DatabaseURL:          "postgres://localhost/scheduler",
		Transport:            "channel",
		SweepSchedule:        "@every 90s",
		SweepInitialDelayStr: "60s",
		DBOpTimeoutStr:       "5s",
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("valid config should not return error, got: %v", err)
	}
}

func TestValidate_MissingDatabaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing DATABASE_URL")
	}

	if !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("error should mention DATABASE_URL: %q", err.Error())
	}
}

func TestValidate_Transport(t *testing.T) {
	tests := []struct {
		name      string
		transport string
		redisAddr string
		wantErr   string
	}{
		{"channel", "channel", "", ""},
		{"redis with addr", "redis", "localhost:6379", ""},
		{"redis without addr", "redis", "", "REDIS_ADDR"},
		{"unknown", "kafka", "", "TRANSPORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Transport = tt.transport
			cfg.RedisAddr = tt.redisAddr

			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %v should mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_SweepSchedule(t *testing.T) {
	cfg := validConfig()
	cfg.SweepSchedule = "not a schedule"

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "SWEEP_SCHEDULE") {
		t.Fatalf("expected SWEEP_SCHEDULE error, got %v", err)
	}
}

func TestValidate_InvalidDuration(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr string
	}{
		{"non-parseable", "invalid", "invalid duration"},
		{"negative", "-1s", "must be positive"},
		{"zero", "0s", "must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.DBOpTimeoutStr = tt.value

			err := Validate(cfg)
			if err == nil {
				t.Fatalf("expected error for DB_OP_TIMEOUT=%q", tt.value)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_ZeroInitialDelayAllowed(t *testing.T) {
	cfg := validConfig()
	cfg.SweepInitialDelayStr = "0s"

	if err := Validate(cfg); err != nil {
		t.Errorf("zero SWEEP_INITIAL_DELAY should be allowed, got: %v", err)
	}
}

func TestValidate_SMTPRequiresMailFrom(t *testing.T) {
	cfg := validConfig()
	cfg.SMTPHost = "smtp.example.com"

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "MAIL_FROM") {
		t.Fatalf("expected MAIL_FROM error, got %v", err)
	}

	cfg.MailFrom = "noreply@example.com"
	if err := Validate(cfg); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_ServiceURLs(t *testing.T) {
	cfg := validConfig()
	cfg.StudentServiceURL = "ftp://student"
	cfg.ExamServiceURL = "https://"
	cfg.DownloadLinkBase = "https://example.com/download"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	errs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(errs) != 2 {
		t.Fatalf("expected 2 validation errors, got %d: %v", len(errs), errs)
	}
	// Sorted by field.
	if errs[0].Field != "EXAM_SERVICE_URL" || errs[1].Field != "STUDENT_SERVICE_URL" {
		t.Errorf("unexpected fields: %v", errs)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = ""
	cfg.DBOpTimeoutStr = "invalid"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}

	errs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(errs) != 2 {
		t.Errorf("expected 2 validation errors, got %d: %v", len(errs), errs)
	}
}

func TestValidationError_Format(t *testing.T) {
	err := ValidationError{Field: "DATABASE_URL", Message: "required"}
	got := err.Error()
	want := "DATABASE_URL: required"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestValidationErrors_Format(t *testing.T) {
	// Single error
	single := ValidationErrors{{Field: "F1", Message: "M1"}}
	if single.Error() != "F1: M1" {
		t.Errorf("single error = %q, want 'F1: M1'", single.Error())
	}

	// Multiple errors
	multi := ValidationErrors{
		{Field: "F1", Message: "M1"},
		{Field: "F2", Message: "M2"},
	}
	got := multi.Error()
	if !strings.Contains(got, "2 validation errors") {
		t.Errorf("multi error should contain '2 validation errors': %q", got)
	}
	if !strings.Contains(got, "F1: M1") || !strings.Contains(got, "F2: M2") {
		t.Errorf("multi error should contain both errors: %q", got)
	}

	// Empty
	empty := ValidationErrors{}
	if empty.Error() != "" {
		t.Errorf("empty errors should return empty string, got %q", empty.Error())
	}
}
