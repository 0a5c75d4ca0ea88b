package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/lachachiyasmine/medical-consultation-app-backend/internal/booking"
)

var errNoContact = errors.New("recipient has no contact details for this channel")

// LogDispatcher writes notifications to the structured log. It is the
// default channel in dev and the fallback when no delivery provider is
// configured.
type LogDispatcher struct {
	log zerolog.Logger
}

func NewLogDispatcher(log zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{log: log.With().Str("component", "notify").Logger()}
}

func (d *LogDispatcher) Send(ctx context.Context, n booking.Notification) error {
	d.log.Info().
		Str("recipient", n.RecipientID.String()).
		Str("role", string(n.RecipientRole)).
		Str("type", string(n.Type)).
		Str("title", n.Title).
		Str("appointment", n.AppointmentID.String()).
		Msg(n.Message)
	return nil
}

// contact resolves a recipient's email and phone through the repository.
func contact(ctx context.Context, repo booking.Repository, n booking.Notification) (email, phone *string, err error) {
	switch n.RecipientRole {
	case booking.RoleDoctor:
		d, err := repo.GetDoctorByID(ctx, n.RecipientID)
		if err != nil {
			return nil, nil, err
		}
		return d.Email, d.Phone, nil
	default:
		p, err := repo.GetPatientByID(ctx, n.RecipientID)
		if err != nil {
			return nil, nil, err
		}
		return p.Email, p.Phone, nil
	}
}

// EmailDispatcher delivers notifications over SendGrid.
type EmailDispatcher struct {
	client *sendgrid.Client
	from   string
	repo   booking.Repository
}

func NewEmailDispatcher(apiKey, from string, repo booking.Repository) *EmailDispatcher {
	return &EmailDispatcher{
		client: sendgrid.NewSendClient(apiKey),
		from:   from,
		repo:   repo,
	}
}

func (d *EmailDispatcher) Send(ctx context.Context, n booking.Notification) error {
	email, _, err := contact(ctx, d.repo, n)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}
	if email == nil {
		return errNoContact
	}

	msg := mail.NewSingleEmail(
		mail.NewEmail("Consultations", d.from),
		n.Title,
		mail.NewEmail("", *email),
		n.Message,
		n.Message,
	)

	resp, err := d.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("send email: sendgrid status %d", resp.StatusCode)
	}
	return nil
}

// SMSDispatcher delivers notifications over Twilio SMS.
type SMSDispatcher struct {
	client *twilio.RestClient
	from   string
	repo   booking.Repository
}

func NewSMSDispatcher(accountSID, authToken, from string, repo booking.Repository) *SMSDispatcher {
	return &SMSDispatcher{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
		from: from,
		repo: repo,
	}
}

func (d *SMSDispatcher) Send(ctx context.Context, n booking.Notification) error {
	_, phone, err := contact(ctx, d.repo, n)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}
	if phone == nil {
		return errNoContact
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(*phone)
	params.SetFrom(d.from)
	params.SetBody(n.Title + ": " + n.Message)

	if _, err := d.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	return nil
}

// Fanout sends a notification through every configured channel. A recipient
// missing contact details for a channel is skipped, not an error; the record
// counts as delivered when at least one channel accepted it.
type Fanout struct {
	channels []booking.Dispatcher
}

func NewFanout(channels ...booking.Dispatcher) *Fanout {
	return &Fanout{channels: channels}
}

func (f *Fanout) Send(ctx context.Context, n booking.Notification) error {
	if len(f.channels) == 0 {
		return errors.New("no notification channels configured")
	}

	delivered := false
	var lastErr error
	for _, ch := range f.channels {
		err := ch.Send(ctx, n)
		switch {
		case err == nil:
			delivered = true
		case errors.Is(err, errNoContact):
			// try the next channel
		default:
			lastErr = err
		}
	}

	if delivered {
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return errNoContact
}
