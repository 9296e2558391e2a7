package calcd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestSeed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := Seed(ctx, store, SeedConfig{
		Users:               5,
		CalculationsPerUser: 3,
		MaxConcurrent:       2,
		BcryptCost:          bcrypt.MinCost,
		Seed:                12345,
	})
	require.NoError(t, err)

	require.Len(t, store.users, 5)
	require.Len(t, store.calculations, 15)

	for _, u := range store.users {
		require.True(t, CheckPassword(u.PasswordHash, "changeme123"))
		calcs, err := store.CalculationsByUser(ctx, u.ID)
		require.NoError(t, err)
		require.Len(t, calcs, 3)
		for _, c := range calcs {
			// seeded inputs are always valid for their type
			_, err := c.Result()
			require.NoError(t, err)
		}
	}
}

func TestSeedRejectsZeroUsers(t *testing.T) {
	err := Seed(context.Background(), NewMemoryStore(), SeedConfig{})
	require.Error(t, err)
}

func TestSeedIsDeterministic(t *testing.T) {
	ctx := context.Background()

	usernames := func(seed uint64) map[string]bool {
		store := NewMemoryStore()
		require.NoError(t, Seed(ctx, store, SeedConfig{
			Users:      3,
			BcryptCost: bcrypt.MinCost,
			Seed:       seed,
		}))
		out := make(map[string]bool)
		for _, u := range store.users {
			out[u.Username] = true
		}
		return out
	}

	require.Equal(t, usernames(42), usernames(42))
}
