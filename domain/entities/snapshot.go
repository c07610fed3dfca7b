package entities

import (
	"fmt"
	"strconv"
	"time"
)

// RequestSnapshot is the denormalized copy of a SearchRequest held in the
// coordination store. It carries everything compatibility needs.
type RequestSnapshot struct {
	RequestID   string
	UserID      string
	Venue       string
	StartTime   time.Time
	EndTime     time.Time
	PartySize   int
	Rating      int
	CreditScore int
	Avatar      string
	DisplayName string
	EnqueuedAt  time.Time
}

func NewRequestSnapshot(req SearchRequest, profile Profile, enqueuedAt time.Time) RequestSnapshot {
	return RequestSnapshot{
		RequestID:   req.ID,
		UserID:      req.UserID,
		Venue:       req.Venue,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		PartySize:   req.PartySize,
		Rating:      profile.Rating,
		CreditScore: profile.CreditScore,
		Avatar:      profile.Avatar,
		DisplayName: profile.DisplayName,
		EnqueuedAt:  enqueuedAt,
	}
}

// Hash flattens the snapshot into field/value pairs for HSET.
func (s RequestSnapshot) Hash() map[string]interface{} {
	return map[string]interface{}{
		"matchRequestId": s.RequestID,
		"userId":         s.UserID,
		"venue":          s.Venue,
		"startTimeMs":    strconv.FormatInt(s.StartTime.UnixMilli(), 10),
		"endTimeMs":      strconv.FormatInt(s.EndTime.UnixMilli(), 10),
		"partySize":      strconv.Itoa(s.PartySize),
		"rating":         strconv.Itoa(s.Rating),
		"creditScore":    strconv.Itoa(s.CreditScore),
		"avatar":         s.Avatar,
		"displayName":    s.DisplayName,
		"enqueuedAtMs":   strconv.FormatInt(s.EnqueuedAt.UnixMilli(), 10),
	}
}

// ParseRequestSnapshot is the inverse of Hash.
func ParseRequestSnapshot(fields map[string]string) (RequestSnapshot, error) {
	var (
		s   RequestSnapshot
		err error
	)
	s.RequestID = fields["matchRequestId"]
	s.UserID = fields["userId"]
	s.Venue = fields["venue"]
	s.Avatar = fields["avatar"]
	s.DisplayName = fields["displayName"]
	if s.RequestID == "" {
		return RequestSnapshot{}, fmt.Errorf("snapshot is missing matchRequestId")
	}

	ms := func(field string) (time.Time, error) {
		v, err := strconv.ParseInt(fields[field], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("snapshot %s field %s: %w", s.RequestID, field, err)
		}
		return time.UnixMilli(v), nil
	}
	num := func(field string) (int, error) {
		v, err := strconv.Atoi(fields[field])
		if err != nil {
			return 0, fmt.Errorf("snapshot %s field %s: %w", s.RequestID, field, err)
		}
		return v, nil
	}

	if s.StartTime, err = ms("startTimeMs"); err != nil {
		return RequestSnapshot{}, err
	}
	if s.EndTime, err = ms("endTimeMs"); err != nil {
		return RequestSnapshot{}, err
	}
	if s.EnqueuedAt, err = ms("enqueuedAtMs"); err != nil {
		return RequestSnapshot{}, err
	}
	if s.PartySize, err = num("partySize"); err != nil {
		return RequestSnapshot{}, err
	}
	if s.Rating, err = num("rating"); err != nil {
		return RequestSnapshot{}, err
	}
	if s.CreditScore, err = num("creditScore"); err != nil {
		return RequestSnapshot{}, err
	}
	return s, nil
}

// OpponentView is the public part of a snapshot shown to the other side of a pairing.
type OpponentView struct {
	MatchRequestID string `json:"matchRequestId"`
	Username       string `json:"username"`
	Elo            int    `json:"elo"`
	CreditScore    int    `json:"creditScore"`
	ProfileImage   string `json:"profileImage"`
	Venue          string `json:"venue"`
	StartTimeMs    int64  `json:"startTimeMs"`
	EndTimeMs      int64  `json:"endTimeMs"`
}

func (s RequestSnapshot) OpponentView() OpponentView {
	return OpponentView{
		MatchRequestID: s.RequestID,
		Username:       s.DisplayName,
		Elo:            s.Rating,
		CreditScore:    s.CreditScore,
		ProfileImage:   s.Avatar,
		Venue:          s.Venue,
		StartTimeMs:    s.StartTime.UnixMilli(),
		EndTimeMs:      s.EndTime.UnixMilli(),
	}
}
