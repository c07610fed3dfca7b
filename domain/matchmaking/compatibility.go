package matchmaking

import "github.com/kratos2377/rally-matchmaker/domain/entities"

const DefaultMaxRatingDiff = 300

type CompatibilityRules struct {
	MaxRatingDiff int
}

// TimeOverlaps reports whether the two windows share any instant. Touching
// windows (one ends exactly when the other starts) do not overlap.
func TimeOverlaps(a, b entities.RequestSnapshot) bool {
	return a.StartTime.Before(b.EndTime) && a.EndTime.After(b.StartTime)
}

// Compatible is the pairing predicate: equal party size, overlapping windows
// and a rating gap within the bound. The first compatible candidate wins;
// there is no ranking by closeness.
func Compatible(a, b entities.RequestSnapshot, rules CompatibilityRules) bool {
	diff := a.Rating - b.Rating
	if diff < 0 {
		diff = -diff
	}
	return a.PartySize == b.PartySize && TimeOverlaps(a, b) && diff <= rules.MaxRatingDiff
}
