package lists

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quarters/api/internal/store"
)

func setupLists(t *testing.T) *Lists {
	t.Helper()
	mr := miniredis.RunT(t)
	kv, err := store.NewRedisStore("redis://"+mr.Addr(), "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	var tick int64
	return New(kv, WithClock(func() time.Time {
		tick++
		return time.UnixMilli(tick)
	}))
}

func TestRequestList(t *testing.T) {
	l := setupLists(t)
	ctx := context.Background()

	got, err := l.Get(ctx, "requests", "jay")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = l.Add(ctx, "requests", "jay", "  gummies ")
	require.NoError(t, err)
	got, err = l.Add(ctx, "requests", "jay", "pre-rolls")
	require.NoError(t, err)
	assert.Equal(t, []string{"gummies", "pre-rolls"}, got)

	_, err = l.Add(ctx, "requests", "jay", "   ")
	assert.ErrorIs(t, err, ErrEmptyText)
	_, err = l.Add(ctx, "requests", "", "x")
	assert.ErrorIs(t, err, ErrNoIdentity)

	got, err = l.Remove(ctx, "requests", "jay", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"pre-rolls"}, got)

	_, err = l.Remove(ctx, "requests", "jay", 5)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = l.Remove(ctx, "requests", "jay", -1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	_, err = l.Add(ctx, "requests", "eric", "drinks")
	require.NoError(t, err)
	all, err := l.All(ctx, "requests")
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"jay": {"pre-rolls"}, "eric": {"drinks"}}, all)

	_, err = l.Remove(ctx, "requests", "jay", 0)
	require.NoError(t, err)
	all, err = l.All(ctx, "requests")
	require.NoError(t, err)
	assert.NotContains(t, all, "jay")
}

func TestCategorize(t *testing.T) {
	tests := map[string]Category{
		"Casamigos Blanco":  CategoryAlcohol,
		"Tito's":            CategoryAlcohol,
		"E&J":               CategoryAlcohol,
		"Hot Cheetos chips": CategorySnack,
		"Strawberry":        CategoryFruit,
		"Sparkling Water":   CategoryDrink,
		"Chicken thighs":    CategoryMeat,
		"Veggie tray":       CategoryVegetable,
		"Paper plates":      CategoryOther,
	}
	for name, want := range tests {
		assert.Equal(t, want, Categorize(name), name)
	}
}

func TestGroceryList(t *testing.T) {
	l := setupLists(t)
	ctx := context.Background()

	limes, err := l.AddItem(ctx, "alexis", "Limes", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, limes.Quantity)
	assert.Equal(t, CategoryOther, limes.Category)

	tequila, err := l.AddItem(ctx, "jay", "Don Julio", 2)
	require.NoError(t, err)
	assert.Equal(t, CategoryAlcohol, tequila.Category)

	_, err = l.AddItem(ctx, "jay", "Chips", 3)
	require.NoError(t, err)

	_, err = l.AddItem(ctx, "jay", "Chips", -1)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	visible, err := l.Items(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, visible, 2)
	assert.Equal(t, "Limes", visible[0].Name)
	assert.Equal(t, "Chips", visible[1].Name)

	hidden, err := l.Items(ctx, Filter{Category: CategoryAlcohol})
	require.NoError(t, err)
	assert.Empty(t, hidden, "alcohol stays hidden until unlocked")

	unlocked, err := l.Items(ctx, Filter{Category: CategoryAlcohol, IncludeAlcohol: true})
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, tequila.ID, unlocked[0].ID)

	updated, err := l.SetBought(ctx, limes.ID, true)
	require.NoError(t, err)
	assert.True(t, updated.Bought)

	require.NoError(t, l.DeleteItem(ctx, tequila.ID))
	assert.ErrorIs(t, l.DeleteItem(ctx, tequila.ID), ErrItemNotFound)
	_, err = l.SetBought(ctx, "missing", true)
	assert.ErrorIs(t, err, ErrItemNotFound)

	all, err := l.Items(ctx, Filter{IncludeAlcohol: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].Bought)
}
