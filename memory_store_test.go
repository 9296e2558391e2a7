package calcd

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func mustUser(t *testing.T, store Store, username string) *User {
	t.Helper()
	u, err := NewUser("Test", "User", username+"@example.com", username)
	require.NoError(t, err)
	u.PasswordHash = "hash"
	require.NoError(t, store.CreateUser(context.Background(), u))
	return u
}

func mustCalculation(t *testing.T, store Store, userID uuid.UUID, typ CalculationType, inputs []float64) *Calculation {
	t.Helper()
	c, err := NewCalculation(typ, userID, inputs)
	require.NoError(t, err)
	require.NoError(t, store.CreateCalculation(context.Background(), c))
	return c
}

func TestMemoryStoreUsers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	u := mustUser(t, store, "alice")

	got, err := store.UserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	got, err = store.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", got.Username)

	_, err = store.UserByUsername(ctx, "nobody")
	require.ErrorIs(t, err, ErrRecordNotFound)

	// duplicate email or username is rejected
	dup, err := NewUser("Other", "User", "alice@example.com", "alice2")
	require.NoError(t, err)
	require.ErrorIs(t, store.CreateUser(ctx, dup), ErrDuplicateUser)
}

func TestMemoryStoreCalculationsCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	owner := mustUser(t, store, "owner")

	first := mustCalculation(t, store, owner.ID, CalculationAddition, []float64{1, 2})
	time.Sleep(time.Millisecond)
	second := mustCalculation(t, store, owner.ID, CalculationDivision, []float64{10, 2})

	got, err := store.CalculationByID(ctx, owner.ID, first.ID)
	require.NoError(t, err)
	require.Equal(t, first.Inputs, got.Inputs)

	list, err := store.CalculationsByUser(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	// newest first
	require.Equal(t, second.ID, list[0].ID)

	updated, err := store.UpdateCalculationInputs(ctx, owner.ID, first.ID, []float64{7, 8})
	require.NoError(t, err)
	require.Equal(t, []float64{7, 8}, updated.Inputs)
	require.True(t, updated.UpdatedAt.After(first.UpdatedAt))
	require.Equal(t, first.CreatedAt, updated.CreatedAt)

	require.NoError(t, store.DeleteCalculation(ctx, owner.ID, first.ID))
	_, err = store.CalculationByID(ctx, owner.ID, first.ID)
	require.ErrorIs(t, err, ErrRecordNotFound)
	require.ErrorIs(t, store.DeleteCalculation(ctx, owner.ID, first.ID), ErrRecordNotFound)
}

func TestMemoryStoreOwnershipScoping(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	owner := mustUser(t, store, "owner")
	other := mustUser(t, store, "other")

	calc := mustCalculation(t, store, owner.ID, CalculationAddition, []float64{1, 2})

	// a foreign calculation behaves as not found
	_, err := store.CalculationByID(ctx, other.ID, calc.ID)
	require.ErrorIs(t, err, ErrRecordNotFound)

	_, err = store.UpdateCalculationInputs(ctx, other.ID, calc.ID, []float64{9})
	require.ErrorIs(t, err, ErrRecordNotFound)

	require.ErrorIs(t, store.DeleteCalculation(ctx, other.ID, calc.ID), ErrRecordNotFound)

	list, err := store.CalculationsByUser(ctx, other.ID)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	owner := mustUser(t, store, "owner")
	calc := mustCalculation(t, store, owner.ID, CalculationAddition, []float64{1, 2})

	got, err := store.CalculationByID(ctx, owner.ID, calc.ID)
	require.NoError(t, err)
	got.Inputs[0] = 999

	again, err := store.CalculationByID(ctx, owner.ID, calc.ID)
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2}, again.Inputs)
}

func TestMemoryStoreDrop(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	owner := mustUser(t, store, "owner")
	mustCalculation(t, store, owner.ID, CalculationAddition, []float64{1, 2})

	require.NoError(t, store.Drop(ctx))

	_, err := store.UserByID(ctx, owner.ID)
	require.ErrorIs(t, err, ErrRecordNotFound)
}
