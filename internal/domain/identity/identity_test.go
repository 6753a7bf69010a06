package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowed(t *testing.T) {
	owner := Principal{UserID: "u-1", Role: "customer"}
	admin := Principal{UserID: "a-1", Role: RoleAdmin}
	other := Principal{UserID: "u-2", Role: "customer"}

	assert.True(t, owner.Allowed("u-1", RoleAdmin))
	assert.True(t, admin.Allowed("u-1", RoleAdmin))
	assert.False(t, other.Allowed("u-1", RoleAdmin))
	assert.False(t, admin.Allowed("u-1", ""))
	assert.False(t, Principal{}.Allowed("", RoleAdmin))
}

func TestSplitName(t *testing.T) {
	first, last := Principal{Name: "Nour El Din Ali"}.SplitName()
	assert.Equal(t, "Nour", first)
	assert.Equal(t, "El Din Ali", last)

	first, last = Principal{Name: "Mona"}.SplitName()
	assert.Equal(t, "Mona", first)
	assert.Empty(t, last)
}

func TestContextRoundTrip(t *testing.T) {
	_, ok := From(context.Background())
	assert.False(t, ok)

	ctx := With(context.Background(), Principal{UserID: "u-1"})
	p, ok := From(ctx)
	assert.True(t, ok)
	assert.Equal(t, "u-1", p.UserID)
}
