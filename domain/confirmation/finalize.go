// Package confirmation implements the two-phase accept/decline protocol that
// turns a pending pairing into a Match, or returns both sides to search.
package confirmation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kratos2377/rally-matchmaker/domain/coordination"
	"github.com/kratos2377/rally-matchmaker/domain/entities"
	"github.com/kratos2377/rally-matchmaker/domain/notify"
	"github.com/kratos2377/rally-matchmaker/domain/store"
	"go.uber.org/multierr"
)

// FinalizeOutcome is either a created match or a pairing still waiting on the other side.
type FinalizeOutcome struct {
	Finalized bool   `json:"finalized"`
	MatchID   string `json:"matchId,omitempty"`
}

var waiting = FinalizeOutcome{}

type Finalizer struct {
	requests store.SearchRequests
	matches  store.Matches
	coord    *coordination.Store
	notifier notify.Notifier
	logger   *slog.Logger
}

func NewFinalizer(requests store.SearchRequests, matches store.Matches, coord *coordination.Store, notifier notify.Notifier, logger *slog.Logger) *Finalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finalizer{requests: requests, matches: matches, coord: coord, notifier: notifier, logger: logger}
}

// TryFinalize is called by a side that has just accepted. It creates the
// Match only when the opponent's marker is also accepted, so whichever side
// accepts second completes the pairing. A finalize claim keeps two
// simultaneous second accepts from creating two matches.
//
// If a status write fails after the Match was created, the markers are kept,
// nobody is notified and the claim is suspended; the next accept by either
// side, or the pending reaper, finishes the same Match.
func (f *Finalizer) TryFinalize(ctx context.Context, self *entities.SearchRequest, opponentID string) (FinalizeOutcome, error) {
	state, err := f.coord.Confirmation(ctx, opponentID)
	if err != nil {
		return waiting, err
	}
	switch state {
	case coordination.ConfirmAccepted:
	case coordination.ConfirmWaiting:
		return waiting, nil
	default:
		// The opponent's window closed; maybe because it finalized already.
		fresh, err := f.requests.FindByID(ctx, self.ID)
		if err != nil {
			return waiting, err
		}
		if fresh.Status == entities.SearchStatus_Matched {
			return FinalizeOutcome{Finalized: true, MatchID: fresh.MatchID}, nil
		}
		return waiting, fmt.Errorf("match request %s: %w", self.ID, entities.ErrMatchTimedOut)
	}

	matchID := uuid.NewString()
	won, err := f.coord.ClaimFinalize(ctx, self.ID, opponentID, matchID)
	if err != nil {
		return waiting, err
	}
	if !won {
		outcome, _, err := f.Resume(ctx, self.ID, opponentID)
		return outcome, err
	}

	opp, err := f.requests.FindByID(ctx, opponentID)
	if err != nil {
		return waiting, multierr.Append(err, f.coord.ReleaseFinalize(ctx, self.ID, opponentID))
	}

	switch {
	case opp.OpponentRequestID == self.ID && opp.Status == entities.SearchStatus_Matched && opp.MatchID != "":
		// An earlier finalization created the match and wrote only this side.
		matchID = opp.MatchID
	case opp.OpponentRequestID == self.ID && opp.Status == entities.SearchStatus_PendingConfirmation:
		match := &entities.Match{
			ID:                 matchID,
			Player1ID:          opp.UserID,
			Player2ID:          self.UserID,
			Player1RequestID:   opp.ID,
			Player2RequestID:   self.ID,
			Venue:              self.Venue,
			ScheduledStartTime: overlapStart(self, opp),
		}
		if _, err := f.matches.Create(ctx, match); err != nil {
			return waiting, multierr.Append(fmt.Errorf("create match: %w", err), f.coord.ReleaseFinalize(ctx, self.ID, opponentID))
		}
	default:
		stateErr := entities.NewStateError(opp, entities.SearchStatus_PendingConfirmation)
		stateErr.Reason = "opponent request no longer paired with " + self.ID
		return waiting, multierr.Append(stateErr, f.coord.ReleaseFinalize(ctx, self.ID, opponentID))
	}

	if err := f.complete(ctx, matchID, self, opp); err != nil {
		return waiting, err
	}
	return FinalizeOutcome{Finalized: true, MatchID: matchID}, nil
}

// Resume finishes a finalization whose Match exists but whose status writes
// did not all land. The bool reports whether the pair belongs to a
// finalization at all, finished here or still in flight elsewhere; callers
// must not release such a pair.
func (f *Finalizer) Resume(ctx context.Context, aID, bID string) (FinalizeOutcome, bool, error) {
	matchID, resumed, err := f.coord.ResumeFinalize(ctx, aID, bID)
	if err != nil {
		return waiting, false, err
	}
	if !resumed {
		claim, err := f.coord.FinalizeClaim(ctx, aID, bID)
		if err != nil {
			return waiting, false, err
		}
		if claim != "" {
			return waiting, true, nil
		}
	}

	a, b, err := f.loadPair(ctx, aID, bID)
	if err != nil {
		if resumed {
			err = multierr.Append(err, f.coord.SuspendFinalize(ctx, aID, bID, matchID))
		}
		return waiting, resumed, err
	}

	if !resumed {
		// The claim expired; a side already matched still names the match.
		matchID = halfMatched(a, b)
		if matchID == "" {
			return waiting, false, nil
		}
		won, err := f.coord.ClaimFinalize(ctx, aID, bID, matchID)
		if err != nil || !won {
			return waiting, true, err
		}
	}
	if !partOf(a, b, matchID) || !partOf(b, a, matchID) {
		stateErr := entities.NewStateError(a, entities.SearchStatus_PendingConfirmation, entities.SearchStatus_Matched)
		stateErr.Reason = "not part of match " + matchID
		return waiting, true, stateErr
	}

	if err := f.complete(ctx, matchID, a, b); err != nil {
		return waiting, true, err
	}
	return FinalizeOutcome{Finalized: true, MatchID: matchID}, true, nil
}

func (f *Finalizer) loadPair(ctx context.Context, aID, bID string) (*entities.SearchRequest, *entities.SearchRequest, error) {
	a, err := f.requests.FindByID(ctx, aID)
	if err != nil {
		return nil, nil, err
	}
	b, err := f.requests.FindByID(ctx, bID)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

// complete writes matched to every side not already matched, then clears
// the markers and notifies both users. On a failed write it suspends the
// claim and leaves markers and notifications for the next attempt.
func (f *Finalizer) complete(ctx context.Context, matchID string, a, b *entities.SearchRequest) error {
	var updateErr error
	for _, req := range []*entities.SearchRequest{a, b} {
		if req.Status == entities.SearchStatus_Matched && req.MatchID == matchID {
			continue
		}
		err := f.requests.UpdateStatus(ctx, req.ID, store.StatusUpdate{
			Status:       entities.SearchStatus_Matched,
			MatchID:      store.Ref(matchID),
			ExpectStatus: entities.SearchStatus_PendingConfirmation,
		})
		if err != nil {
			updateErr = multierr.Append(updateErr, err)
			continue
		}
		req.Status, req.MatchID = entities.SearchStatus_Matched, matchID
	}
	if updateErr != nil {
		f.logger.Error("match created but requests not fully marked matched",
			"match_id", matchID, "request_id", a.ID, "opponent_id", b.ID, "error", updateErr)
		return fmt.Errorf("finalize match %s: %w", matchID,
			multierr.Append(updateErr, f.coord.SuspendFinalize(ctx, a.ID, b.ID, matchID)))
	}

	if err := f.coord.DeleteConfirmations(ctx, a.ID, b.ID); err != nil {
		f.logger.Warn("confirmation markers left behind", "request_id", a.ID, "opponent_id", b.ID, "error", err)
	}

	payload := notify.MatchConfirmedPayload{MatchID: matchID}
	notify.Send(ctx, f.logger, f.notifier, a.UserID, notify.EventMatchConfirmed, payload)
	notify.Send(ctx, f.logger, f.notifier, b.UserID, notify.EventMatchConfirmed, payload)

	f.logger.Info("match confirmed", "match_id", matchID, "venue", a.Venue, "request_id", a.ID, "opponent_id", b.ID)
	return nil
}

// partOf reports whether req is paired with other and either already in
// matchID or still waiting to be written.
func partOf(req, other *entities.SearchRequest, matchID string) bool {
	if req.OpponentRequestID != other.ID {
		return false
	}
	switch req.Status {
	case entities.SearchStatus_Matched:
		return req.MatchID == matchID
	case entities.SearchStatus_PendingConfirmation:
		return true
	}
	return false
}

func halfMatched(a, b *entities.SearchRequest) string {
	for _, pair := range [][2]*entities.SearchRequest{{a, b}, {b, a}} {
		done, open := pair[0], pair[1]
		if done.Status == entities.SearchStatus_Matched && done.MatchID != "" && open.Status == entities.SearchStatus_PendingConfirmation {
			return done.MatchID
		}
	}
	return ""
}

// overlapStart is where the two windows begin to overlap.
func overlapStart(a, b *entities.SearchRequest) time.Time {
	if b.StartTime.After(a.StartTime) {
		return b.StartTime
	}
	return a.StartTime
}
