package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lachachiyasmine/medical-consultation-app-backend/internal/booking"
)

type stubChannel struct {
	err   error
	calls int
}

func (c *stubChannel) Send(ctx context.Context, n booking.Notification) error {
	c.calls++
	return c.err
}

func sampleNotification() booking.Notification {
	return booking.Notification{
		ID:            uuid.New(),
		RecipientID:   uuid.New(),
		RecipientRole: booking.RolePatient,
		Type:          booking.NotifyBookingConfirmed,
		Title:         "Appointment booked",
		Message:       "See you soon",
		AppointmentID: uuid.New(),
	}
}

func TestFanout(t *testing.T) {
	ctx := context.Background()
	n := sampleNotification()

	t.Run("delivered when one channel accepts", func(t *testing.T) {
		email := &stubChannel{err: errNoContact}
		sms := &stubChannel{}
		if err := NewFanout(email, sms).Send(ctx, n); err != nil {
			t.Errorf("send: %v", err)
		}
		if email.calls != 1 || sms.calls != 1 {
			t.Errorf("calls = %d/%d, want 1/1", email.calls, sms.calls)
		}
	})

	t.Run("missing contact everywhere", func(t *testing.T) {
		err := NewFanout(&stubChannel{err: errNoContact}, &stubChannel{err: errNoContact}).Send(ctx, n)
		if !errors.Is(err, errNoContact) {
			t.Errorf("err = %v, want errNoContact", err)
		}
	})

	t.Run("hard failure propagates", func(t *testing.T) {
		boom := errors.New("provider down")
		err := NewFanout(&stubChannel{err: errNoContact}, &stubChannel{err: boom}).Send(ctx, n)
		if !errors.Is(err, boom) {
			t.Errorf("err = %v, want provider failure", err)
		}
	})

	t.Run("partial failure is still delivered", func(t *testing.T) {
		boom := errors.New("provider down")
		if err := NewFanout(&stubChannel{err: boom}, &stubChannel{}).Send(ctx, n); err != nil {
			t.Errorf("send: %v", err)
		}
	})

	t.Run("no channels", func(t *testing.T) {
		if err := NewFanout().Send(ctx, n); err == nil {
			t.Error("expected error with no channels")
		}
	})
}

func TestLogDispatcher(t *testing.T) {
	d := NewLogDispatcher(zerolog.Nop())
	if err := d.Send(context.Background(), sampleNotification()); err != nil {
		t.Errorf("send: %v", err)
	}
}
