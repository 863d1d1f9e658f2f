package dedup

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisGuard marks transaction ids with SETNX-with-expiry. SETNX is the
// atomic conditional write the guard's contract requires; a read-then-write
// sequence here would be a correctness bug, not an optimization target.
type RedisGuard struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisGuard builds a guard over the shared redis client.
func NewRedisGuard(client *redis.Client, retention time.Duration) *RedisGuard {
	return &RedisGuard{
		client:    client,
		retention: normalizeRetention(retention),
	}
}

func (g *RedisGuard) Admit(ctx context.Context, transactionID string) (Outcome, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return "", ErrEmptyTransactionID
	}

	fresh, err := g.client.SetNX(ctx, markerKey(transactionID), 1, g.retention).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if fresh {
		return OutcomeNew, nil
	}
	return OutcomeDuplicate, nil
}

func (g *RedisGuard) AdmitBatch(ctx context.Context, transactionIDs []string) (map[string]Outcome, error) {
	if len(transactionIDs) == 0 {
		return map[string]Outcome{}, nil
	}

	ids := make([]string, 0, len(transactionIDs))
	for _, id := range transactionIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, ErrEmptyTransactionID
		}
		ids = append(ids, id)
	}

	// One pipeline round trip for the whole batch. A repeated id inside the
	// batch resolves in pipeline order: first occurrence new, rest duplicate.
	pipe := g.client.Pipeline()
	cmds := make([]*redis.BoolCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.SetNX(ctx, markerKey(id), 1, g.retention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	outcomes := make(map[string]Outcome, len(ids))
	for i, cmd := range cmds {
		fresh, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if _, seen := outcomes[ids[i]]; seen && !fresh {
			continue
		}
		if fresh {
			outcomes[ids[i]] = OutcomeNew
		} else {
			outcomes[ids[i]] = OutcomeDuplicate
		}
	}
	return outcomes, nil
}

func (g *RedisGuard) Forget(ctx context.Context, transactionIDs []string) error {
	if len(transactionIDs) == 0 {
		return nil
	}

	keys := make([]string, 0, len(transactionIDs))
	for _, id := range transactionIDs {
		if id = strings.TrimSpace(id); id != "" {
			keys = append(keys, markerKey(id))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	if err := g.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

var _ Guard = (*RedisGuard)(nil)
