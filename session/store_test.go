package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

func newSessionStoreTest(t *testing.T) (*Store, *redis.Client, *clockwork.FakeClock) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	clock := clockwork.NewFakeClockAt(time.Unix(1_800_000_000, 0))
	return NewStore(rdb, "auth", clock), rdb, clock
}

func testSession(clock clockwork.Clock) *Session {
	now := clock.Now()
	return &Session{
		SessionID:   "sid-1",
		UserID:      "u-1",
		RefreshHash: [32]byte{1},
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(time.Hour).Unix(),
	}
}

func TestEncodeLayoutOffsets(t *testing.T) {
	sess := &Session{UserID: "abc", RefreshHash: [32]byte{0xAA}, CreatedAt: 1, ExpiresAt: 2}
	blob, err := Encode(sess)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(blob) != headerSize+3 {
		t.Fatalf("unexpected blob length %d", len(blob))
	}
	if blob[offsetHash] != 0xAA || blob[offsetExpiresAt+7] != 2 || blob[offsetUserLen] != 3 {
		t.Fatalf("unexpected layout: %v", blob)
	}

	if _, err := Decode([]byte{99}); err == nil {
		t.Fatalf("expected unsupported version error")
	}
	if _, err := Encode(&Session{UserID: string(make([]byte, 256))}); err == nil {
		t.Fatalf("expected user id length error")
	}
}

func TestSaveGetAndIndex(t *testing.T) {
	store, rdb, clock := newSessionStoreTest(t)
	ctx := context.Background()
	sess := testSession(clock)

	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if *got != *sess {
		t.Fatalf("expected %+v, got %+v", sess, got)
	}

	members, err := rdb.SMembers(ctx, store.userKey(sess.UserID)).Result()
	if err != nil {
		t.Fatalf("smembers: %v", err)
	}
	if len(members) != 1 || members[0] != sess.SessionID {
		t.Fatalf("unexpected index members %v", members)
	}

	clock.Advance(2 * time.Hour)
	if _, err := store.Get(ctx, sess.SessionID); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, redis.Nil) || !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not-found sentinel, got %v", err)
	}
}

func TestRotateReplacesHashOnce(t *testing.T) {
	store, _, clock := newSessionStoreTest(t)
	ctx := context.Background()
	sess := testSession(clock)
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	next := [32]byte{2}
	rotated, err := store.Rotate(ctx, sess.SessionID, sess.RefreshHash, next, true)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rotated.RefreshHash != next || rotated.UserID != sess.UserID || rotated.ExpiresAt != sess.ExpiresAt {
		t.Fatalf("unexpected rotated session %+v", rotated)
	}

	// Replaying the old hash is reuse: the session is revoked.
	if _, err := store.Rotate(ctx, sess.SessionID, sess.RefreshHash, [32]byte{3}, true); !errors.Is(err, ErrRefreshHashMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if _, err := store.Rotate(ctx, sess.SessionID, next, [32]byte{4}, true); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected revoked session, got %v", err)
	}
}

func TestRotateMismatchWithoutRevocationKeepsSession(t *testing.T) {
	store, _, clock := newSessionStoreTest(t)
	ctx := context.Background()
	sess := testSession(clock)
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := store.Rotate(ctx, sess.SessionID, [32]byte{9}, [32]byte{2}, false); !errors.Is(err, ErrRefreshHashMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if _, err := store.Get(ctx, sess.SessionID); err != nil {
		t.Fatalf("session should survive: %v", err)
	}
}

func TestRotateSentinelErrors(t *testing.T) {
	store, rdb, clock := newSessionStoreTest(t)
	ctx := context.Background()

	_, err := store.Rotate(ctx, "missing", [32]byte{1}, [32]byte{2}, true)
	if !errors.Is(err, redis.Nil) || !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not-found sentinel, got %v", err)
	}

	expired := testSession(clock)
	expired.SessionID = "sid-expired"
	expired.ExpiresAt = clock.Now().Add(-time.Minute).Unix()
	if err := store.Save(ctx, expired, time.Hour); err != nil {
		t.Fatalf("save expired: %v", err)
	}
	_, err = store.Rotate(ctx, expired.SessionID, expired.RefreshHash, [32]byte{9}, true)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected expired sentinel, got %v", err)
	}
	if n, _ := rdb.Exists(ctx, store.key(expired.SessionID)).Result(); n != 0 {
		t.Fatalf("expired session should be deleted")
	}

	if err := rdb.Set(ctx, store.key("sid-corrupt"), []byte("bad"), time.Hour).Err(); err != nil {
		t.Fatalf("seed corrupt blob: %v", err)
	}
	_, err = store.Rotate(ctx, "sid-corrupt", [32]byte{1}, [32]byte{2}, true)
	if !errors.Is(err, ErrSessionCorrupt) {
		t.Fatalf("expected corrupt sentinel, got %v", err)
	}
}

func TestConcurrentRotateHasSingleWinner(t *testing.T) {
	store, _, clock := newSessionStoreTest(t)
	ctx := context.Background()
	sess := testSession(clock)
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	const workers = 16
	var (
		wg       sync.WaitGroup
		winners  atomic.Int32
		mismatch atomic.Int32
		start    = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := store.Rotate(ctx, sess.SessionID, sess.RefreshHash, [32]byte{byte(i + 10)}, false)
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, ErrRefreshHashMismatch):
				mismatch.Add(1)
			default:
				t.Errorf("unexpected rotate error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if winners.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners.Load())
	}
	if mismatch.Load() != workers-1 {
		t.Fatalf("expected %d mismatches, got %d", workers-1, mismatch.Load())
	}
}

func TestRevokeRequiresCurrentHash(t *testing.T) {
	store, rdb, clock := newSessionStoreTest(t)
	ctx := context.Background()
	sess := testSession(clock)
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := store.Revoke(ctx, sess.SessionID, [32]byte{7}); !errors.Is(err, ErrRefreshHashMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if _, err := store.Get(ctx, sess.SessionID); err != nil {
		t.Fatalf("mismatched revoke must not delete: %v", err)
	}

	if err := store.Revoke(ctx, sess.SessionID, sess.RefreshHash); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := store.Revoke(ctx, sess.SessionID, sess.RefreshHash); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found after revoke, got %v", err)
	}
	members, _ := rdb.SMembers(ctx, store.userKey(sess.UserID)).Result()
	if len(members) != 0 {
		t.Fatalf("expected empty index, got %v", members)
	}
}

func TestDeleteIsIdempotentAndDeleteAllForUser(t *testing.T) {
	store, rdb, clock := newSessionStoreTest(t)
	ctx := context.Background()

	for _, sid := range []string{"a", "b", "c"} {
		sess := testSession(clock)
		sess.SessionID = sid
		if err := store.Save(ctx, sess, time.Hour); err != nil {
			t.Fatalf("save %s: %v", sid, err)
		}
	}

	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	ids, err := store.ActiveSessionIDs(ctx, "u-1")
	if err != nil {
		t.Fatalf("active ids: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 sessions, got %v", ids)
	}

	if err := store.DeleteAllForUser(ctx, "u-1"); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	n, err := rdb.Exists(ctx, store.key("b"), store.key("c"), store.userKey("u-1")).Result()
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected all keys removed, %d remain", n)
	}
}
