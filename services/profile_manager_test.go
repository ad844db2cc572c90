package services

import (
	"context"
	"testing"

	"github.com/m-barthelemy/notifyd/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileManager_Resolve(t *testing.T) {
	db := newTestDB(t)
	manager := NewProfileManager(db)
	ctx := context.Background()
	homeowner := createProfile(t, db, "U1", models.RoleHomeowner, "u1@example.com")
	createProfile(t, db, "U2", models.RoleProvider, "u2@example.com")

	byUser, err := manager.Resolve(ctx, "U1", "")
	require.NoError(t, err)
	assert.Equal(t, homeowner.ID, byUser.ID)

	byProfile, err := manager.Resolve(ctx, "", homeowner.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "U1", byProfile.UserID)

	_, err = manager.Resolve(ctx, "U2", homeowner.ID.String())
	assert.ErrorIs(t, err, ErrRecipientNotFound)
	_, err = manager.Resolve(ctx, "nobody", "")
	assert.ErrorIs(t, err, ErrRecipientNotFound)
	_, err = manager.Resolve(ctx, "", "")
	assert.ErrorIs(t, err, ErrRecipientNotFound)
}

func TestProfileManager_ListByRoleAndUpsert(t *testing.T) {
	db := newTestDB(t)
	manager := NewProfileManager(db)
	ctx := context.Background()
	createProfile(t, db, "P1", models.RoleProvider, "")
	createProfile(t, db, "P2", models.RoleProvider, "")
	createProfile(t, db, "H1", models.RoleHomeowner, "")

	providers, err := manager.ListByRole(ctx, models.RoleProvider)
	require.NoError(t, err)
	assert.Len(t, providers, 2)

	all, err := manager.ListByRole(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, manager.Upsert(ctx, &models.Profile{UserID: "H1", Role: models.RoleProvider, Email: "h1@example.com"}))
	providers, err = manager.ListByRole(ctx, models.RoleProvider)
	require.NoError(t, err)
	assert.Len(t, providers, 3)
	assert.Equal(t, int64(3), countRows(t, db, &models.Profile{}, ""))
}
