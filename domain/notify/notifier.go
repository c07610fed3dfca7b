// Package notify pushes matchmaking state changes to individual users.
// Delivery is best effort: the engine never learns whether a message arrived.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kratos2377/rally-matchmaker/domain/entities"
	"go.uber.org/multierr"
)

type Event string

const (
	EventMatchFound     Event = "MATCH_FOUND"
	EventMatchConfirmed Event = "MATCH_CONFIRMED"
	EventMatchDeclined  Event = "MATCH_DECLINED"
	EventMatchExpired   Event = "MATCH_EXPIRED"
)

type Notifier interface {
	Notify(ctx context.Context, userID string, event Event, payload interface{}) error
}

type MatchFoundPayload struct {
	Opponent entities.OpponentView `json:"opponent"`
}

type MatchConfirmedPayload struct {
	MatchID string `json:"matchId"`
}

type MatchDeclinedPayload struct {
	Msg string `json:"msg"`
}

type MatchExpiredPayload struct {
	MatchRequestID string                `json:"matchRequestId"`
	Status         entities.SearchStatus `json:"status"`
	Msg            string                `json:"msg"`
}

// Send delivers a notification and only logs failures.
func Send(ctx context.Context, logger *slog.Logger, n Notifier, userID string, event Event, payload interface{}) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, userID, event, payload); err != nil {
		logger.Warn("notification not delivered",
			"user_id", userID, "event", string(event), "error", err)
	}
}

// Fanout delivers each notification through every transport.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, userID string, event Event, payload interface{}) error {
	var err error
	for _, n := range f {
		err = multierr.Append(err, n.Notify(ctx, userID, event, payload))
	}
	return err
}

type Notification struct {
	UserID  string
	Event   Event
	Payload interface{}
}

// Recorder keeps every notification in memory instead of delivering it.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *Recorder) Notify(_ context.Context, userID string, event Event, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Notification{UserID: userID, Event: event, Payload: payload})
	return nil
}

func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

// For returns the notifications sent to one user with the given event.
func (r *Recorder) For(userID string, event Event) []Notification {
	var out []Notification
	for _, n := range r.Sent() {
		if n.UserID == userID && n.Event == event {
			out = append(out, n)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
