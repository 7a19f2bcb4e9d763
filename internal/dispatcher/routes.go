package dispatcher

import "github.com/khachaneojas/service-scheduler/internal/domain"

// Channel is a named destination queue bound to one or more job types.
type Channel string

const (
	ChannelMailer                Channel = "mailer"
	ChannelCertificateReleaser   Channel = "certificate-releaser"
	ChannelStandard              Channel = "standard"
	ChannelReleaseCriteriaMarker Channel = "release-criteria-marker"
	ChannelWebsiteDataTransfer   Channel = "website-data-transfer"
	ChannelUpdateExpiryStatus    Channel = "update-expiry-status"
	ChannelExpiryReminderMail    Channel = "expiry-reminder-mail"
	ChannelUpdateStudentStatus   Channel = "update-student-status"
	ChannelNotifyBookingStart    Channel = "notify-booking-start"
)

var channels = []Channel{
	ChannelMailer,
	ChannelCertificateReleaser,
	ChannelStandard,
	ChannelReleaseCriteriaMarker,
	ChannelWebsiteDataTransfer,
	ChannelUpdateExpiryStatus,
	ChannelExpiryReminderMail,
	ChannelUpdateStudentStatus,
	ChannelNotifyBookingStart,
}

// Channels returns every channel in a stable order.
func Channels() []Channel {
	out := make([]Channel, len(channels))
	copy(out, channels)
	return out
}

// FAILED_TEMPLATES is absent on purpose: those jobs are an audit trail and
// are never dispatched automatically.
var channelByType = map[domain.JobType]Channel{
	domain.JobTypeEmail:                       ChannelMailer,
	domain.JobTypeReleaseCertificates:         ChannelCertificateReleaser,
	domain.JobTypeStudentPaymentDueMail:       ChannelStandard,
	domain.JobTypeExamStatusChange:            ChannelStandard,
	domain.JobTypeDeleteUnpaidBookings:        ChannelStandard,
	domain.JobTypeMarkEligibilityTheory:       ChannelReleaseCriteriaMarker,
	domain.JobTypeMarkEligibilityProject:      ChannelReleaseCriteriaMarker,
	domain.JobTypeMarkEligibilityAttendance:   ChannelReleaseCriteriaMarker,
	domain.JobTypeMarkEligibilityAddStartDate: ChannelReleaseCriteriaMarker,
	domain.JobTypeMarkEligibilityFinance:      ChannelReleaseCriteriaMarker,
	domain.JobTypeWebsiteDataTransfer:         ChannelWebsiteDataTransfer,
	domain.JobTypeUpdateExpiryStatus:          ChannelUpdateExpiryStatus,
	domain.JobTypeExpiryReminderMail:          ChannelExpiryReminderMail,
	domain.JobTypeUpdateStudentStatus:         ChannelUpdateStudentStatus,
	domain.JobTypeNotifyBookingStart:          ChannelNotifyBookingStart,
}

// ChannelFor returns the destination channel of a job type.
func ChannelFor(t domain.JobType) (Channel, bool) {
	ch, ok := channelByType[t]
	return ch, ok
}

// Binding names the queue and routing key of one channel on the broker.
type Binding struct {
	Queue      string
	RoutingKey string
}

// Route is the fully resolved publish destination of a job.
type Route struct {
	Channel    Channel
	Exchange   string
	Queue      string
	RoutingKey string
}

// Routes resolves job types to broker destinations.
type Routes struct {
	exchange string
	bindings map[Channel]Binding
}

// NewRoutes builds the routing table. Channels without a binding default to
// queue "<exchange>.<channel>" and routing key "<channel>".
func NewRoutes(exchange string, bindings map[Channel]Binding) Routes {
	r := Routes{exchange: exchange, bindings: make(map[Channel]Binding, len(channels))}
	for _, ch := range channels {
		b := bindings[ch]
		if b.Queue == "" {
			b.Queue = exchange + "." + string(ch)
		}
		if b.RoutingKey == "" {
			b.RoutingKey = string(ch)
		}
		r.bindings[ch] = b
	}
	return r
}

// Lookup returns the route for a job type, or false when the type has no
// destination.
func (r Routes) Lookup(t domain.JobType) (Route, bool) {
	ch, ok := ChannelFor(t)
	if !ok {
		return Route{}, false
	}
	return r.Route(ch), true
}

// Route returns the destination of a channel.
func (r Routes) Route(ch Channel) Route {
	b := r.bindings[ch]
	return Route{
		Channel:    ch,
		Exchange:   r.exchange,
		Queue:      b.Queue,
		RoutingKey: b.RoutingKey,
	}
}

// All returns the route of every channel in the order of Channels.
func (r Routes) All() []Route {
	out := make([]Route, 0, len(channels))
	for _, ch := range channels {
		out = append(out, r.Route(ch))
	}
	return out
}
