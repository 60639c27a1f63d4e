package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mindlogger/mindlogger-go/internal/metrics"
	"github.com/mindlogger/mindlogger-go/internal/models"
)

// maxAttempts caps redelivery of a failing send before it is dropped.
const maxAttempts = 3

// Sender delivers one planned send. The transport (FCM or otherwise) lives
// behind this interface.
type Sender interface {
	Send(ctx context.Context, send *models.PlannedSend) error
}

// DeliveryResult accumulates one sweep's outcomes. It is returned up the
// stack instead of being shared mutable state, so concurrent sweeps can
// never corrupt each other's counts.
type DeliveryResult struct {
	Sent   int
	Failed int
}

// Merge folds another result into this one.
func (r *DeliveryResult) Merge(other DeliveryResult) {
	r.Sent += other.Sent
	r.Failed += other.Failed
}

// SweepStore lists and retires due sends.
type SweepStore interface {
	ListDueSends(now time.Time) ([]*models.PlannedSend, error)
	SavePlannedSends(sends []*models.PlannedSend) error
	RemoveSends(ids []string) error
}

// Sweeper periodically drains due sends into the Sender.
type Sweeper struct {
	store  SweepStore
	sender Sender
	log    *logrus.Logger
	now    func() time.Time
}

// NewSweeper constructs a sweeper. A nil logger falls back to the standard
// logrus logger.
func NewSweeper(store SweepStore, sender Sender, log *logrus.Logger) *Sweeper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sweeper{
		store:  store,
		sender: sender,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Sweep delivers every due send once. Successes and exhausted failures are
// removed; transient failures stay queued with a bumped attempt count.
func (w *Sweeper) Sweep(ctx context.Context) (DeliveryResult, error) {
	var result DeliveryResult

	due, err := w.store.ListDueSends(w.now())
	if err != nil {
		return result, err
	}
	if len(due) == 0 {
		return result, nil
	}

	done := []string{}
	retry := []*models.PlannedSend{}
	for _, send := range due {
		if err := w.sender.Send(ctx, send); err != nil {
			result.Failed++
			metrics.NotificationsFailed.Inc()
			send.Attempts++
			if send.Attempts >= maxAttempts {
				w.log.WithFields(logrus.Fields{
					"send_id":  send.ID,
					"event_id": send.EventID.Hex(),
					"attempts": send.Attempts,
				}).WithError(err).Error("dropping undeliverable notification")
				done = append(done, send.ID)
			} else {
				retry = append(retry, send)
			}
			continue
		}
		result.Sent++
		metrics.NotificationsSent.Inc()
		done = append(done, send.ID)
	}

	if len(retry) > 0 {
		if err := w.store.SavePlannedSends(retry); err != nil {
			return result, err
		}
	}
	if len(done) > 0 {
		if err := w.store.RemoveSends(done); err != nil {
			return result, err
		}
	}
	w.log.WithFields(logrus.Fields{
		"sent":   result.Sent,
		"failed": result.Failed,
	}).Info("notification sweep finished")
	return result, nil
}

// LogSender is the default Sender: it records the delivery instead of
// talking to a push gateway.
type LogSender struct {
	Log *logrus.Logger
}

// Send implements Sender.
func (s *LogSender) Send(_ context.Context, send *models.PlannedSend) error {
	log := s.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithFields(logrus.Fields{
		"send_id":  send.ID,
		"event_id": send.EventID.Hex(),
		"users":    len(send.Users),
	}).Info("push notification delivered (log sender)")
	return nil
}
