package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/schoolrun/schoolrun/pkg/redis_client"
	"github.com/schoolrun/schoolrun/pkg/sbdf"
)

const routeCacheExpiration = 90 * time.Minute
const authorizationCacheExpiration = 5 * time.Minute

// CachedDirectory wraps a Lookup with redis-backed caches so the registry's
// per-subscribe authorization check and the tracker's route fetch do not hit
// Mongo every time
type CachedDirectory struct {
	underlying Lookup

	routeCache         *cache.Cache[string]
	authorizationCache *cache.Cache[string]
}

func NewCachedDirectory(underlying Lookup) *CachedDirectory {
	routeStore := redisstore.NewRedis(redis_client.Client, store.WithExpiration(routeCacheExpiration))
	authorizationStore := redisstore.NewRedis(redis_client.Client, store.WithExpiration(authorizationCacheExpiration))

	return &CachedDirectory{
		underlying: underlying,

		routeCache:         cache.New[string](routeStore),
		authorizationCache: cache.New[string](authorizationStore),
	}
}

func (d *CachedDirectory) RouteForBus(ctx context.Context, busIdentifier string) (*sbdf.RouteSnapshot, error) {
	cacheKey := fmt.Sprintf("directory/route/%s", busIdentifier)

	cachedRoute, _ := d.routeCache.Get(ctx, cacheKey)
	if cachedRoute != "" {
		var snapshot *sbdf.RouteSnapshot
		if err := json.Unmarshal([]byte(cachedRoute), &snapshot); err == nil {
			return snapshot, nil
		}
	}

	snapshot, err := d.underlying.RouteForBus(ctx, busIdentifier)
	if err != nil {
		return nil, err
	}

	snapshotJSON, _ := json.Marshal(snapshot)
	d.routeCache.Set(ctx, cacheKey, string(snapshotJSON))

	return snapshot, nil
}

func (d *CachedDirectory) CanWatchRoom(ctx context.Context, principal sbdf.Principal, roomKey string) (bool, error) {
	cacheKey := fmt.Sprintf("directory/authorization/%s/%s", principal.UserIdentifier, roomKey)

	cachedDecision, _ := d.authorizationCache.Get(ctx, cacheKey)
	if cachedDecision != "" {
		return cachedDecision == "allowed", nil
	}

	allowed, err := d.underlying.CanWatchRoom(ctx, principal, roomKey)
	if err != nil {
		return false, err
	}

	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	d.authorizationCache.Set(ctx, cacheKey, decision)

	return allowed, nil
}

func (d *CachedDirectory) BusForChild(ctx context.Context, childIdentifier string) (string, error) {
	return d.underlying.BusForChild(ctx, childIdentifier)
}
