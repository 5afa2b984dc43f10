package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/sabayta-booking/internal/config"
	"github.com/example/sabayta-booking/internal/events"
	"github.com/example/sabayta-booking/internal/logging"
	"github.com/example/sabayta-booking/internal/models"
	"github.com/example/sabayta-booking/internal/notify"
)

// fakeEmitter fails the first failN calls per user.
type fakeEmitter struct {
	failN map[string]int
	calls map[string]int
	saved []string
}

func newFakeEmitter(failN map[string]int) *fakeEmitter {
	return &fakeEmitter{failN: failN, calls: map[string]int{}}
}

func (f *fakeEmitter) Emit(_ context.Context, userID string, _ models.NotificationType, _, _, _ string) error {
	f.calls[userID]++
	if f.calls[userID] <= f.failN[userID] {
		return errors.New("insert failed")
	}
	f.saved = append(f.saved, userID)
	return nil
}

func TestEmitWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := newFakeEmitter(map[string]int{"R": 2})
	start := time.Now()
	msg := notify.Message{UserID: "R", Type: models.NotifyBookingCreated}
	if err := emitWithRetry(context.Background(), f, msg, "b1", 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls["R"] != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls["R"])
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("expected backoff between attempts")
	}
}

func TestEmitWithRetry_FailsWhenExhausted(t *testing.T) {
	f := newFakeEmitter(map[string]int{"R": 5})
	msg := notify.Message{UserID: "R", Type: models.NotifyBookingCreated}
	if err := emitWithRetry(context.Background(), f, msg, "b1", 3, time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.calls["R"] != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls["R"])
	}
}

type sliceReader struct {
	msgs   []kafka.Message
	cancel context.CancelFunc
}

func (s *sliceReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(s.msgs) == 0 {
		s.cancel()
		return kafka.Message{}, ctx.Err()
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m, nil
}

func TestConsumeRetriesOnlyTheFailedRecipient(t *testing.T) {
	accepted, _ := events.Encode(events.Event{Type: events.BookingAccepted, BookingID: "b1", RiderID: "R", DriverID: "D"})
	ctx, cancel := context.WithCancel(context.Background())
	r := &sliceReader{cancel: cancel, msgs: []kafka.Message{
		{Value: []byte("not json")},
		{Value: accepted},
	}}
	f := newFakeEmitter(map[string]int{"R": 1})
	cfg := config.NotifierConfig{RetryAttempts: 3, RetryBaseDelay: time.Millisecond}

	consume(ctx, r, f, cfg, logging.NewLogger("error", "test"))

	if len(f.saved) != 2 || f.calls["D"] != 1 || f.calls["R"] != 2 {
		t.Fatalf("unexpected emits saved=%v calls=%v", f.saved, f.calls)
	}
}
