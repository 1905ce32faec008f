package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/auth"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
)

func TestChangeRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.registerVerified(t, "admin@example.com", "hunter2hunter2")
	target := f.registerVerified(t, "bob@example.com", "hunter2hunter2")

	// No self-promotion or self-demotion.
	_, err := f.svc.ChangeRole(ctx, admin.ID, admin.ID, storage.RoleUser, testReq)
	assert.ErrorIs(t, err, auth.ErrSelfAction)

	f.clock.Advance(time.Second)
	u, err := f.svc.ChangeRole(ctx, admin.ID, target.ID, storage.RoleAdmin, testReq)
	require.NoError(t, err)
	assert.Equal(t, storage.RoleAdmin, u.Role)

	logs, err := f.store.ListAuditLogsForUser(ctx, target.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, "ROLE_CHANGED", logs[0].Action)
	assert.Equal(t, storage.RoleUser, logs[0].Metadata["oldRole"])
	assert.Equal(t, storage.RoleAdmin, logs[0].Metadata["newRole"])
	require.NotNil(t, logs[0].PerformedBy)
	assert.Equal(t, admin.ID, *logs[0].PerformedBy)
}

func TestDeleteUser_SelfGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.registerVerified(t, "admin@example.com", "hunter2hunter2")
	target := f.registerVerified(t, "bob@example.com", "hunter2hunter2")

	err := f.svc.DeleteUser(ctx, admin.ID, admin.ID, testReq)
	assert.ErrorIs(t, err, auth.ErrSelfAction)

	require.NoError(t, f.svc.DeleteUser(ctx, admin.ID, target.ID, testReq))
	_, err = f.store.GetUserByID(ctx, target.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteAllNonAdmins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.registerVerified(t, "admin@example.com", "hunter2hunter2")
	admin.Role = storage.RoleAdmin
	require.NoError(t, f.store.UpdateUser(ctx, admin))
	f.registerVerified(t, "bob@example.com", "hunter2hunter2")
	f.registerVerified(t, "carol@example.com", "hunter2hunter2")

	count, err := f.svc.DeleteAllNonAdmins(ctx, admin.ID, testReq)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	_, err = f.store.GetUserByID(ctx, admin.ID)
	assert.NoError(t, err)
}

func TestDeleteAllUsers_RequiresConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.registerVerified(t, "admin@example.com", "hunter2hunter2")
	f.registerVerified(t, "bob@example.com", "hunter2hunter2")

	_, err := f.svc.DeleteAllUsers(ctx, admin.ID, "delete_all_users", testReq)
	assert.ErrorIs(t, err, auth.ErrBadConfirmation)
	_, err = f.svc.DeleteAllUsers(ctx, admin.ID, "", testReq)
	assert.ErrorIs(t, err, auth.ErrBadConfirmation)

	count, err := f.svc.DeleteAllUsers(ctx, admin.ID, auth.BulkDeleteConfirmation, testReq)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// The caller survives their own purge.
	_, err = f.store.GetUserByID(ctx, admin.ID)
	assert.NoError(t, err)
}

func TestListUsers_Paging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerVerified(t, "a@example.com", "hunter2hunter2")
	f.clock.Advance(time.Second)
	f.registerVerified(t, "b@example.com", "hunter2hunter2")
	f.clock.Advance(time.Second)
	f.registerVerified(t, "c@example.com", "hunter2hunter2")

	page1, total, err := f.svc.ListUsers(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page1, 2)
	assert.Equal(t, "c@example.com", page1[0].Email)

	page2, _, err := f.svc.ListUsers(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, "a@example.com", page2[0].Email)
}
