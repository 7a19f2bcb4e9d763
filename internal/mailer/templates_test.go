package mailer

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestFormatLongDate(t *testing.T) {
	tests := []struct {
		in   time.Time
		want string
	}{
		{time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "1st January 2024"},
		{time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), "2nd March 2024"},
		{time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC), "3rd May 2024"},
		{time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC), "11th May 2024"},
		{time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC), "12th May 2024"},
		{time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC), "13th May 2024"},
		{time.Date(2024, 5, 21, 0, 0, 0, 0, time.UTC), "21st May 2024"},
		{time.Date(2024, 5, 22, 0, 0, 0, 0, time.UTC), "22nd May 2024"},
		{time.Date(2024, 5, 24, 0, 0, 0, 0, time.UTC), "24th May 2024"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatLongDate(tt.in, time.UTC); got != tt.want {
				t.Errorf("FormatLongDate = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatLongDate_UsesZone(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	at := time.Date(2024, 1, 31, 20, 0, 0, 0, time.UTC)
	if got := FormatLongDate(at, ist); got != "1st February 2024" {
		t.Errorf("FormatLongDate = %q", got)
	}
	if got := FormatLongDate(at, nil); got != "31st January 2024" {
		t.Errorf("FormatLongDate(nil zone) = %q", got)
	}
}

func TestFormatShortDate(t *testing.T) {
	at := time.Date(2024, 2, 9, 23, 0, 0, 0, time.UTC)
	if got := FormatShortDate(at); got != "09-Feb-24" {
		t.Errorf("FormatShortDate = %q", got)
	}
}

func TestOnHold(t *testing.T) {
	at := time.Date(2024, 2, 9, 0, 0, 0, 0, time.UTC)
	tpl, err := OnHold("a@x", "Asha Kale", "Full Stack", &at)
	if err != nil {
		t.Fatalf("OnHold: %v", err)
	}
	if tpl.Recipient != "a@x" || !tpl.IsHTML {
		t.Errorf("template = %+v", tpl)
	}
	if !strings.Contains(tpl.MessageBody, "scheduled for release on 09-Feb-24") {
		t.Errorf("body missing release date: %s", tpl.MessageBody)
	}

	tpl, err = OnHold("a@x", "Asha Kale", "Full Stack", nil)
	if err != nil {
		t.Fatalf("OnHold: %v", err)
	}
	if strings.Contains(tpl.MessageBody, "scheduled for release") {
		t.Error("nil release date still rendered")
	}
}

func TestTemplates_EscapeHTML(t *testing.T) {
	tpl, err := Confirmation("a@x", "<b>Asha</b>", "Data", "ST1", 7)
	if err != nil {
		t.Fatalf("Confirmation: %v", err)
	}
	if strings.Contains(tpl.MessageBody, "<b>Asha</b>") {
		t.Error("name was not escaped")
	}
	if !strings.Contains(tpl.MessageBody, "within 7 days") {
		t.Error("days missing from body")
	}
}

func TestBookingTemplates(t *testing.T) {
	exp, err := Expiring("a@x", "Asha", "BK1", "1st January 2024")
	if err != nil {
		t.Fatal(err)
	}
	if exp.Subject != "Course Booking Expiring Soon" || !strings.Contains(exp.MessageBody, "BK1 will expire on 1st January 2024") {
		t.Errorf("expiring = %+v", exp)
	}

	gone, err := Expired("a@x", "Asha", "BK1", "1st January 2024")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(gone.MessageBody, "has expired as of 1st January 2024") {
		t.Errorf("expired body = %s", gone.MessageBody)
	}

	rel, err := Released("a@x", "Asha", "Data", "https://example.com/c/CR1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rel.MessageBody, `href="https://example.com/c/CR1"`) {
		t.Errorf("released body missing link: %s", rel.MessageBody)
	}
}

func TestSMTPTransport_BlankFields(t *testing.T) {
	tr := NewSMTPTransport(SMTPConfig{Host: "localhost", Port: 25, From: "noreply@x"})
	tests := []struct{ to, subject, body string }{
		{"", "s", "b"},
		{"a@x", " ", "b"},
		{"a@x", "s", ""},
	}
	for _, tt := range tests {
		ok, err := tr.Send(context.Background(), tt.to, tt.subject, tt.body, false, "")
		if ok || err != nil {
			t.Errorf("Send(%q, %q, %q) = %v, %v; want false, nil", tt.to, tt.subject, tt.body, ok, err)
		}
	}
}

func TestSMTPTransport_MissingSender(t *testing.T) {
	tr := NewSMTPTransport(SMTPConfig{Host: "localhost", Port: 25})
	if _, err := tr.Send(context.Background(), "a@x", "s", "b", false, ""); err == nil {
		t.Error("expected error without a sender address")
	}
}
