package rbac

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, next GrantStore) (*GrantCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewGrantCache(next, client, time.Minute, nil), mr
}

func TestGrantCacheServesFromRedis(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(1)
	_, _ = repo.EnsurePermission(ctx, "users.view", "")
	require.NoError(t, repo.GrantPermission(ctx, 1, "users.view"))
	cache, mr := newTestCache(t, repo)

	g, err := cache.PrincipalGrants(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"users.view"}, g.Direct)
	require.True(t, mr.Exists("rbac:grants:1:v1"))

	_, err = cache.PrincipalGrants(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, repo.loadCount())
}

func TestGrantCacheBumpForcesReload(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(1)
	_, _ = repo.EnsurePermission(ctx, "roles.view", "")
	cache, _ := newTestCache(t, repo)
	resolver := NewResolver(cache, nil)

	ok, err := resolver.HasPermission(ctx, 1, "roles.view")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, repo.GrantPermission(ctx, 1, "roles.view"))
	ok, err = resolver.HasPermission(ctx, 1, "roles.view")
	require.NoError(t, err)
	require.False(t, ok, "stale until bumped")

	require.NoError(t, cache.Bump(ctx))
	ok, err = resolver.HasPermission(ctx, 1, "roles.view")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, repo.loadCount())
}

func TestGrantCacheUnknownPrincipalNotCached(t *testing.T) {
	cache, mr := newTestCache(t, newMemRepo())
	_, err := cache.PrincipalGrants(context.Background(), 5)
	require.ErrorIs(t, err, ErrNotFound)
	require.False(t, mr.Exists("rbac:grants:5:v1"))
}

func TestGrantCacheFallsThroughWhenRedisDown(t *testing.T) {
	repo := newMemRepo(1)
	cache, mr := newTestCache(t, repo)
	mr.Close()

	_, err := cache.PrincipalGrants(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, repo.loadCount())
}

func TestGrantCacheConcurrentLoads(t *testing.T) {
	repo := newMemRepo(1)
	cache, _ := newTestCache(t, repo)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.PrincipalGrants(context.Background(), 1)
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, repo.loadCount(), 20)
	require.GreaterOrEqual(t, repo.loadCount(), 1)
}

func TestNilClientPassThrough(t *testing.T) {
	repo := newMemRepo(1)
	cache := NewGrantCache(repo, nil, time.Minute, nil)
	_, err := cache.PrincipalGrants(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, cache.Bump(context.Background()))
}

// gatedStore parks its first load until release is closed.
type gatedStore struct {
	next    GrantStore
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func newGatedStore(next GrantStore) *gatedStore {
	return &gatedStore{next: next, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedStore) PrincipalGrants(ctx context.Context, id int64) (Grants, error) {
	if g.calls.Add(1) == 1 {
		close(g.entered)
		<-g.release
		if err := ctx.Err(); err != nil {
			return Grants{}, err
		}
	}
	return g.next.PrincipalGrants(ctx, id)
}

type grantsResult struct {
	grants Grants
	err    error
}

func TestGrantCacheLoadAfterBumpDoesNotJoinOlderLoad(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(1)
	_, _ = repo.EnsurePermission(ctx, "users.delete", "")
	gate := newGatedStore(repo)
	cache, _ := newTestCache(t, gate)
	released := false
	t.Cleanup(func() {
		if !released {
			close(gate.release)
		}
	})

	first := make(chan grantsResult, 1)
	go func() {
		g, err := cache.PrincipalGrants(ctx, 1)
		first <- grantsResult{g, err}
	}()
	<-gate.entered

	require.NoError(t, repo.GrantPermission(ctx, 1, "users.delete"))
	require.NoError(t, cache.Bump(ctx))

	second := make(chan grantsResult, 1)
	go func() {
		g, err := cache.PrincipalGrants(ctx, 1)
		second <- grantsResult{g, err}
	}()
	select {
	case res := <-second:
		require.NoError(t, res.err)
		require.Contains(t, res.grants.Direct, "users.delete")
	case <-time.After(2 * time.Second):
		t.Fatal("load after bump waited on the load started before it")
	}

	close(gate.release)
	released = true
	require.NoError(t, (<-first).err)
}

func TestGrantCacheCancelledCallerDoesNotFailWaiters(t *testing.T) {
	repo := newMemRepo(1)
	_, _ = repo.EnsurePermission(context.Background(), "users.view", "")
	require.NoError(t, repo.GrantPermission(context.Background(), 1, "users.view"))
	gate := newGatedStore(repo)
	cache, _ := newTestCache(t, gate)

	leaderCtx, cancel := context.WithCancel(context.Background())
	leader := make(chan grantsResult, 1)
	go func() {
		g, err := cache.PrincipalGrants(leaderCtx, 1)
		leader <- grantsResult{g, err}
	}()
	<-gate.entered

	follower := make(chan grantsResult, 1)
	go func() {
		g, err := cache.PrincipalGrants(context.Background(), 1)
		follower <- grantsResult{g, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.ErrorIs(t, (<-leader).err, context.Canceled)
	close(gate.release)

	res := <-follower
	require.NoError(t, res.err)
	require.Equal(t, []string{"users.view"}, res.grants.Direct)
}
