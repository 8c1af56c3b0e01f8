package sim

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResizePopulation_Grows(t *testing.T) {
	cat := DefaultCatalog()
	rng := rand.New(rand.NewSource(1))

	users := resizePopulation(nil, 6, rng, cat)

	require.Len(t, users, 6)
	ids := make(map[string]bool)
	for _, u := range users {
		assert.Equal(t, UserIdle, u.State)
		assert.GreaterOrEqual(t, u.Timer, idleTicksMin)
		assert.Less(t, u.Timer, idleTicksMin+idleTicksSpan)
		assert.Contains(t, cat.UserNames, u.Name)
		ids[u.ID] = true
	}
	assert.Len(t, ids, 6, "user ids must be unique")
}

func TestResizePopulation_ShrinksIdleFirst(t *testing.T) {
	// GIVEN four users where only the second and fourth are idle
	users := []VirtualUser{
		{ID: "a", State: UserWaiting},
		{ID: "b", State: UserIdle},
		{ID: "c", State: UserReading},
		{ID: "d", State: UserIdle},
	}

	// WHEN the target drops to two
	got := resizePopulation(users, 2, rand.New(rand.NewSource(1)), DefaultCatalog())

	// THEN both idle users are removed and busy users survive
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)

	// AND the input slice is untouched
	assert.Equal(t, "b", users[1].ID)
}

func TestResizePopulation_TruncatesWhenNotEnoughIdle(t *testing.T) {
	users := []VirtualUser{
		{ID: "a", State: UserWaiting},
		{ID: "b", State: UserComposing},
		{ID: "c", State: UserIdle},
	}

	got := resizePopulation(users, 1, rand.New(rand.NewSource(1)), DefaultCatalog())

	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestResizePopulation_NegativeTargetEmpties(t *testing.T) {
	users := []VirtualUser{{ID: "a", State: UserIdle}}
	got := resizePopulation(users, -3, rand.New(rand.NewSource(1)), DefaultCatalog())
	assert.Empty(t, got)
}
