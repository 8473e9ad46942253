//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goAuthz/permcache"
	"github.com/MrEthical07/goAuthz/permission"
	"github.com/MrEthical07/goAuthz/resolve"
	"github.com/MrEthical07/goAuthz/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("authz_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, New(pool).EnsureSchema(ctx))
	// Second run must be a no-op.
	require.NoError(t, New(pool).EnsureSchema(ctx))
	return pool
}

func TestPostgresStore(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	s := New(pool)
	tracker := NewTracker(pool)

	viewer, err := s.CreateRole(ctx, store.CreateRoleInput{Name: "viewer", Level: 10})
	require.NoError(t, err)
	admin, err := s.CreateRole(ctx, store.CreateRoleInput{Name: "admin", Level: 50})
	require.NoError(t, err)

	t.Run("role integrity", func(t *testing.T) {
		_, err := s.CreateRole(ctx, store.CreateRoleInput{Name: "viewer", Level: 1})
		assert.ErrorIs(t, err, store.ErrDuplicate)

		_, err = s.CreateRole(ctx, store.CreateRoleInput{Name: "root", IsSuperuser: true})
		require.NoError(t, err)
		_, err = s.CreateRole(ctx, store.CreateRoleInput{Name: "root2", IsSuperuser: true})
		assert.ErrorIs(t, err, store.ErrSuperuserExists)

		_, err = s.UpdateRole(ctx, store.UpdateRoleInput{ID: uuid.New(), Name: "ghost"})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	res, err := s.SyncCatalog(ctx, []permission.Spec{{
		Resource:  "users",
		Action:    permission.ActionRead,
		Operation: "list",
		Fields: map[permission.Source][]string{
			permission.SourceQuery: {"name"},
			permission.SourceJSON:  {"password"},
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, store.SyncResult{PermissionsCreated: 1, FieldsCreated: 2}, res)

	read, err := s.GetPermissionByKey(ctx, "USERS:READ:LIST")
	require.NoError(t, err)

	g, err := s.LoadGraph(ctx)
	require.NoError(t, err)
	var password permission.Field
	for _, f := range g.Fields {
		if f.Name == "password" {
			password = f
		}
	}
	require.NotEqual(t, uuid.Nil, password.ID)

	t.Run("grant integrity", func(t *testing.T) {
		fg := store.FieldGrantInput{RoleID: admin.ID, PermissionID: read.ID, FieldID: password.ID, Effect: permission.EffectDeny}
		assert.ErrorIs(t, s.GrantField(ctx, fg), store.ErrDanglingReference)

		other, err := s.CreatePermission(ctx, store.CreatePermissionInput{Resource: "orders", Action: permission.ActionRead, Operation: "list"})
		require.NoError(t, err)
		require.NoError(t, s.GrantPermission(ctx, store.GrantInput{RoleID: admin.ID, PermissionID: other.ID, Scope: permission.ScopeAny}))
		err = s.GrantField(ctx, store.FieldGrantInput{RoleID: admin.ID, PermissionID: other.ID, FieldID: password.ID, Effect: permission.EffectDeny})
		assert.ErrorIs(t, err, store.ErrDanglingReference)
		require.NoError(t, s.DeletePermission(ctx, other.ID))
	})

	user := uuid.New()
	require.NoError(t, s.GrantPermission(ctx, store.GrantInput{RoleID: viewer.ID, PermissionID: read.ID, Scope: permission.ScopeOwn}))
	require.NoError(t, s.GrantPermission(ctx, store.GrantInput{RoleID: admin.ID, PermissionID: read.ID, Scope: permission.ScopeAny}))
	require.NoError(t, s.GrantField(ctx, store.FieldGrantInput{RoleID: admin.ID, PermissionID: read.ID, FieldID: password.ID, Effect: permission.EffectDeny}))
	require.NoError(t, s.AssignRole(ctx, user, viewer.ID))
	require.NoError(t, s.AssignRole(ctx, user, admin.ID))
	assert.ErrorIs(t, s.AssignRole(ctx, user, admin.ID), store.ErrDuplicate)

	t.Run("reader and graph agree", func(t *testing.T) {
		g, err := s.LoadGraph(ctx)
		require.NoError(t, err)
		fromGraph := resolve.ResolveUser(g, user)
		require.Len(t, fromGraph, 1)
		assert.Equal(t, admin.ID, fromGraph[0].RoleID)
		assert.True(t, fromGraph[0].DenyFields.Has(permission.SourceJSON, "password"))

		fromReader, err := resolve.ForUser(ctx, s, user)
		require.NoError(t, err)
		assert.Equal(t, fromGraph, fromReader)
	})

	t.Run("revoke cascades field grants", func(t *testing.T) {
		require.NoError(t, s.RevokePermission(ctx, admin.ID, read.ID))
		fields, err := s.ListFieldGrants(ctx, admin.ID, read.ID)
		require.NoError(t, err)
		assert.Empty(t, fields)
		assert.ErrorIs(t, s.RevokePermission(ctx, admin.ID, read.ID), store.ErrNotFound)
	})

	t.Run("triggers drive the refresher", func(t *testing.T) {
		cache := &permcache.Cache{}
		r := permcache.NewRefresher(cache, tracker, s.LoadGraph, permcache.Options{Clock: clockwork.NewFakeClock()})
		require.NoError(t, r.Prime(ctx))

		e, ok := cache.Load().Get(user, "users:read:list")
		require.True(t, ok)
		assert.Equal(t, viewer.ID, e.RoleID)

		require.NoError(t, s.UnassignRole(ctx, user, viewer.ID))
		mark, err := tracker.Begin(ctx)
		require.NoError(t, err)
		assert.True(t, mark.Dirty)

		out, err := r.Tick(ctx)
		require.NoError(t, err)
		assert.True(t, out.Rebuilt)
		assert.True(t, out.Cleared)
		_, ok = cache.Load().Get(user, "users:read:list")
		assert.False(t, ok)

		out, err = r.Tick(ctx)
		require.NoError(t, err)
		assert.True(t, out.Skipped)
	})
}

func TestPostgresTrackerConditionalClear(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	tracker := NewTracker(pool)

	require.NoError(t, tracker.MarkDirty(ctx))
	first, err := tracker.Begin(ctx)
	require.NoError(t, err)
	require.True(t, first.Dirty)

	require.NoError(t, tracker.MarkDirty(ctx))
	second, err := tracker.Begin(ctx)
	require.NoError(t, err)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

	cleared, err := tracker.Clear(ctx, first)
	require.NoError(t, err)
	assert.False(t, cleared)

	cleared, err = tracker.Clear(ctx, second)
	require.NoError(t, err)
	assert.True(t, cleared)
}

func TestPostgresTrackerWatch(t *testing.T) {
	pool := setupPostgres(t)
	tracker := NewTracker(pool)
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan struct{}, 8)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = tracker.Watch(ctx, func() { got <- struct{}{} })
	}()

	require.Eventually(t, func() bool {
		_, _ = New(pool).CreateRole(context.Background(), store.CreateRoleInput{Name: uuid.NewString(), Level: 1})
		select {
		case <-got:
			return true
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	wg.Wait()
}
