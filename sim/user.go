package sim

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
)

// UserState is the lifecycle state of a synthetic user.
type UserState int

const (
	UserIdle      UserState = iota // thinking
	UserComposing                  // typing a prompt
	UserWaiting                    // waiting for its request to finish
	UserReading                    // reading the response
)

func (s UserState) String() string {
	switch s {
	case UserIdle:
		return "IDLE"
	case UserComposing:
		return "COMPOSING"
	case UserWaiting:
		return "WAITING"
	case UserReading:
		return "READING"
	default:
		panic(fmt.Sprintf("unknown user state %d", int(s)))
	}
}

// MarshalText renders the state by name in JSON snapshots.
func (s UserState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *UserState) UnmarshalText(text []byte) error {
	return parseEnum(text, "user state", s, UserIdle, UserComposing, UserWaiting, UserReading)
}

// Lifecycle timers, in ticks.
const (
	ComposeTicks          = 5
	ReadTicks             = 40
	PlacementPenaltyTicks = 30
	NoModelIdleTicks      = 20

	idleTicksMin  = 20
	idleTicksSpan = 50
)

// VirtualUser is a synthetic client with at most one outstanding request.
type VirtualUser struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Avatar           string    `json:"avatar"`
	Color            string    `json:"color"`
	State            UserState `json:"state"`
	Timer            int       `json:"timer"` // ticks remaining in the current state
	CurrentRequestID string    `json:"currentRequestId,omitempty"`
	TotalCost        float64   `json:"totalCost"`
	TotalTokens      int       `json:"totalTokens"`
	RequestCount     int       `json:"requestCount"`
}

func newVirtualUser(rng *rand.Rand, cat *Catalog) VirtualUser {
	id, err := uuid.NewRandomFromReader(rng)
	if err != nil {
		// math/rand readers never fail
		panic(fmt.Sprintf("user id: %v", err))
	}
	return VirtualUser{
		ID:     "user-" + id.String()[:8],
		Name:   cat.UserNames[rng.Intn(len(cat.UserNames))],
		Avatar: cat.UserAvatars[rng.Intn(len(cat.UserAvatars))],
		Color:  fmt.Sprintf("hsl(%d, 80%%, 65%%)", rng.Intn(360)),
		State:  UserIdle,
		Timer:  randomIdleTicks(rng),
	}
}

func randomIdleTicks(rng *rand.Rand) int {
	return rng.Intn(idleTicksSpan) + idleTicksMin
}

// resizePopulation reconciles the population with target. Growth appends new
// users. Shrinking removes idle users first, newest first, then truncates;
// a truncated user's request keeps running and is simply never billed.
func resizePopulation(users []VirtualUser, target int, rng *rand.Rand, cat *Catalog) []VirtualUser {
	target = max(target, 0)
	out := make([]VirtualUser, len(users), max(len(users), target))
	copy(out, users)

	for len(out) < target {
		out = append(out, newVirtualUser(rng, cat))
	}
	if len(out) <= target {
		return out
	}

	excess := len(out) - target
	drop := make(map[int]bool, excess)
	for i := len(out) - 1; i >= 0 && len(drop) < excess; i-- {
		if out[i].State == UserIdle {
			drop[i] = true
		}
	}
	kept := out[:0]
	for i, u := range out {
		if !drop[i] {
			kept = append(kept, u)
		}
	}
	if len(kept) > target {
		kept = kept[:target]
	}
	return kept
}
