package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/khachaneojas/service-scheduler/internal/domain"
)

const layout = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8" />
<meta name="viewport" content="width=device-width, initial-scale=1.0" />
<title>{{.Title}}</title>
<style>
body { color: #000000; margin: 0; padding: 0; font-family: Arial, sans-serif; }
table { border-collapse: collapse; margin: auto; }
.mainTable { border: 3px solid #06375b; width: 70%; }
td { padding: 10px; text-align: left; vertical-align: top; }
.boldText { font-weight: bold; }
.button { background: #06375b; color: #ffffff; padding: 8px 16px; display: inline-block; }
</style>
</head>
<body>
<table class="mainTable"><tr><td>
<p>Dear <span class="boldText">{{.Name}},</span></p>
{{block "content" .}}{{end}}
<p>Best regards,</p>
<p class="boldText">SPRK Technologies</p>
</td></tr></table>
</body>
</html>
`

var bodies = map[string]string{
	"onhold": `{{define "content"}}
<p>This mail is to inform you that the certificate for {{.CourseGroup}}{{if .Date}}, scheduled for release on {{.Date}},{{end}} is currently on hold due to an issue.</p>
<p>To resolve this issue, we kindly request you to contact our administration team at your earliest convenience. They will be able to provide you with the necessary information and assistance to address the problem and help you get your certificate back on track.</p>
<p>Please reach out to our admin team at center for further details.</p>
{{end}}`,
	"confirm": `{{define "content"}}
<p>Your certificate for the {{.CourseGroup}} course will be ready soon. Confirm your details:</p>
<p>Name: {{.Name}}</p>
<p>Student ID: {{.StudentID}}</p>
<p>Review and notify any changes within {{.Days}} days. No amendments will be made after certificate issuance.</p>
<p>Thank you for your cooperation.</p>
{{end}}`,
	"released": `{{define "content"}}
<p>Congratulations on completion of {{.CourseGroup}} course,</p>
<p>We are pleased to inform you that your certificate is now available for download.</p>
<p>The certificate is password-protected. The password consists of two parts:</p>
<p>1. The first 2 characters of your name in capital.</p>
<p>2. Your date of birth in the mmyyyy format.</p>
<p>To download the certificate click on the button below:</p>
<a href="{{.Link}}"><p class="button">Download</p></a>
<p>If you have any questions or need further assistance, please feel free to reach out.</p>
{{end}}`,
	"expiring": `{{define "content"}}
<p>We inform you that your course booking with confirmation number {{.Booking}} will expire on {{.Date}}. Post-expiration, you won't be able to attend batches, complete exams, or receive the certificate due to incomplete requirements.</p>
<p>To avoid this, please contact our admin team promptly.</p>
{{end}}`,
	"expired": `{{define "content"}}
<p>We regret to inform you that your course booking with confirmation number {{.Booking}} has expired as of {{.Date}}. Unfortunately, this means you are no longer able to attend batches, complete exams, or receive the certificate due to the expired status.</p>
<p>If you have any questions or wish to discuss your options, please contact our admin team as soon as possible.</p>
{{end}}`,
}

var emailTemplates = func() map[string]*template.Template {
	out := make(map[string]*template.Template, len(bodies))
	for name, body := range bodies {
		t := template.Must(template.New(name).Parse(layout))
		out[name] = template.Must(t.Parse(body))
	}
	return out
}()

type view struct {
	Title       string
	Name        string
	CourseGroup string
	StudentID   string
	Days        int
	Date        string
	Booking     string
	Link        string
}

func render(name, recipient, subject string, v view) (domain.EmailTemplate, error) {
	var buf bytes.Buffer
	v.Title = subject
	if err := emailTemplates[name].Execute(&buf, v); err != nil {
		return domain.EmailTemplate{}, fmt.Errorf("render %s email: %w", name, err)
	}
	return domain.EmailTemplate{
		Recipient:   recipient,
		Subject:     subject,
		MessageBody: buf.String(),
		IsHTML:      true,
	}, nil
}

// OnHold tells a student their certificate release is on hold. releaseOn is
// omitted from the body when nil.
func OnHold(email, name, courseGroup string, releaseOn *time.Time) (domain.EmailTemplate, error) {
	v := view{Name: name, CourseGroup: courseGroup}
	if releaseOn != nil {
		v.Date = FormatShortDate(*releaseOn)
	}
	return render("onhold", email, "Urgent: Action Required Regarding Your Certificate", v)
}

// Confirmation asks a student to review their details within days.
func Confirmation(email, name, courseGroup, studentID string, days int) (domain.EmailTemplate, error) {
	return render("confirm", email, "Attention: Confirm Details for Certificate Issuance",
		view{Name: name, CourseGroup: courseGroup, StudentID: studentID, Days: days})
}

// Released carries the download link of an issued certificate.
func Released(email, name, courseGroup, link string) (domain.EmailTemplate, error) {
	return render("released", email, "Your course certificate has been issued and is available for download",
		view{Name: name, CourseGroup: courseGroup, Link: link})
}

func Expiring(email, name, bookingUID, date string) (domain.EmailTemplate, error) {
	return render("expiring", email, "Course Booking Expiring Soon",
		view{Name: name, Booking: bookingUID, Date: date})
}

func Expired(email, name, bookingUID, date string) (domain.EmailTemplate, error) {
	return render("expired", email, "Course Booking Expired",
		view{Name: name, Booking: bookingUID, Date: date})
}

// FormatLongDate renders t in loc as "1st January 2024".
func FormatLongDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return fmt.Sprintf("%d%s %s", t.Day(), daySuffix(t.Day()), t.Format("January 2006"))
}

// FormatShortDate renders t in UTC as "02-Jan-06".
func FormatShortDate(t time.Time) string {
	return t.UTC().Format("02-Jan-06")
}

func daySuffix(day int) string {
	if day >= 11 && day <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}
