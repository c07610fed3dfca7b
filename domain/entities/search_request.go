package entities

import (
	"encoding/json"
	"time"
)

type SearchStatus string

const (
	SearchStatus_Searching           SearchStatus = "searching"
	SearchStatus_PendingConfirmation SearchStatus = "pending_confirmation"
	SearchStatus_Matched             SearchStatus = "matched"
	SearchStatus_Expired             SearchStatus = "expired"
	SearchStatus_Waitlisted          SearchStatus = "waitlisted"
	SearchStatus_Cancelled           SearchStatus = "cancelled"
)

// Terminal reports whether no further transition can leave this status.
func (s SearchStatus) Terminal() bool {
	switch s {
	case SearchStatus_Matched, SearchStatus_Expired, SearchStatus_Cancelled:
		return true
	}
	return false
}

// SearchRequest is the durable record of a player's open request to be matched.
// OpponentRequestID is empty when the request is not paired.
type SearchRequest struct {
	ID                string       `dynamodbav:"id" json:"id"`
	UserID            string       `dynamodbav:"userId" json:"userId"`
	Venue             string       `dynamodbav:"venue" json:"venue"`
	StartTime         time.Time    `dynamodbav:"startTime" json:"startTime"`
	EndTime           time.Time    `dynamodbav:"endTime" json:"endTime"`
	PartySize         int          `dynamodbav:"partySize" json:"partySize"`
	Status            SearchStatus `dynamodbav:"status" json:"status"`
	OpponentRequestID string       `dynamodbav:"opponentRequestId,omitempty" json:"opponentRequestId,omitempty"`
	MatchID           string       `dynamodbav:"matchId,omitempty" json:"matchId,omitempty"`
	CreatedAt         time.Time    `dynamodbav:"createdAt,unixtime" json:"createdAt"`
	UpdatedAt         time.Time    `dynamodbav:"updatedAt,unixtime" json:"updatedAt"`
}

func (r SearchRequest) MarshalBinary() (data []byte, err error) {
	return json.Marshal(r)
}

// Match is a finalized pairing. The engine creates it once and never mutates it.
type Match struct {
	ID                 string    `dynamodbav:"id" json:"id"`
	Player1ID          string    `dynamodbav:"player1Id" json:"player1Id"`
	Player2ID          string    `dynamodbav:"player2Id" json:"player2Id"`
	Player1RequestID   string    `dynamodbav:"player1RequestId" json:"player1RequestId"`
	Player2RequestID   string    `dynamodbav:"player2RequestId" json:"player2RequestId"`
	Venue              string    `dynamodbav:"venue" json:"venue"`
	ScheduledStartTime time.Time `dynamodbav:"scheduledStartTime" json:"scheduledStartTime"`
	CreatedAt          time.Time `dynamodbav:"createdAt,unixtime" json:"createdAt"`
}

// Profile holds the requester attributes copied into a snapshot on enqueue.
type Profile struct {
	UserID      string `dynamodbav:"id" json:"id"`
	DisplayName string `dynamodbav:"username" json:"username"`
	Rating      int    `dynamodbav:"elo" json:"elo"`
	CreditScore int    `dynamodbav:"creditScore" json:"creditScore"`
	Avatar      string `dynamodbav:"profileImage" json:"profileImage"`
}
