package ephemeral

import (
	"context"
	"fmt"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/yoavra/yoman/infrastructure/valkey"
)

// ValkeyKV implements KV on a shared Valkey client. Keys are namespaced with
// the client prefix so several deployments can share one instance.
type ValkeyKV struct {
	client *valkey.Client
}

func NewValkeyKV(client *valkey.Client) *ValkeyKV {
	return &ValkeyKV{client: client}
}

func (v *ValkeyKV) inner() valkeylib.Client { return v.client.Inner() }

func (v *ValkeyKV) key(k string) string { return v.client.Key(k) }

func (v *ValkeyKV) Get(ctx context.Context, key string) (string, bool, error) {
	cmd := v.inner().B().Get().Key(v.key(key)).Build()
	val, err := v.inner().Do(ctx, cmd).ToString()
	if err != nil {
		if valkeylib.IsValkeyNil(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return val, true, nil
}

func (v *ValkeyKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	cmd := v.inner().B().Set().Key(v.key(key)).Value(value).Ex(ttl).Build()
	if err := v.inner().Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (v *ValkeyKV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	cmd := v.inner().B().Set().Key(v.key(key)).Value(value).Nx().Ex(ttl).Build()
	err := v.inner().Do(ctx, cmd).Error()
	if err == nil {
		return true, nil
	}
	if valkeylib.IsValkeyNil(err) {
		return false, nil
	}
	return false, fmt.Errorf("setnx %s: %w", key, err)
}

func (v *ValkeyKV) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	full := v.key(key)
	n, err := v.inner().Do(ctx, v.inner().B().Incr().Key(full).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if n == 1 {
		expire := v.inner().B().Expire().Key(full).Seconds(int64(ttl.Seconds())).Build()
		if err := v.inner().Do(ctx, expire).Error(); err != nil {
			return n, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return n, nil
}

func (v *ValkeyKV) IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	full := v.key(key)
	total, err := v.inner().Do(ctx, v.inner().B().Incrby().Key(full).Increment(n).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("incrby %s: %w", key, err)
	}
	if total == n {
		expire := v.inner().B().Expire().Key(full).Seconds(int64(ttl.Seconds())).Build()
		if err := v.inner().Do(ctx, expire).Error(); err != nil {
			return total, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return total, nil
}

func (v *ValkeyKV) Delete(ctx context.Context, key string) error {
	cmd := v.inner().B().Del().Key(v.key(key)).Build()
	if err := v.inner().Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

func (v *ValkeyKV) ListPush(ctx context.Context, key, value string) error {
	cmd := v.inner().B().Rpush().Key(v.key(key)).Element(value).Build()
	if err := v.inner().Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	return nil
}

func (v *ValkeyKV) ListAll(ctx context.Context, key string) ([]string, error) {
	cmd := v.inner().B().Lrange().Key(v.key(key)).Start(0).Stop(-1).Build()
	vals, err := v.inner().Do(ctx, cmd).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	return vals, nil
}

func (v *ValkeyKV) ListRemove(ctx context.Context, key, value string) error {
	cmd := v.inner().B().Lrem().Key(v.key(key)).Count(0).Element(value).Build()
	if err := v.inner().Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("lrem %s: %w", key, err)
	}
	return nil
}

func (v *ValkeyKV) ZAdd(ctx context.Context, key string, score float64, member string) error {
	cmd := v.inner().B().Zadd().Key(v.key(key)).ScoreMember().ScoreMember(score, member).Build()
	if err := v.inner().Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("zadd %s: %w", key, err)
	}
	return nil
}

func (v *ValkeyKV) ZDue(ctx context.Context, key string, max float64, limit int) ([]string, error) {
	cmd := v.inner().B().Zrangebyscore().Key(v.key(key)).
		Min("-inf").Max(fmt.Sprintf("%f", max)).
		Limit(0, int64(limit)).Build()
	members, err := v.inner().Do(ctx, cmd).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore %s: %w", key, err)
	}
	return members, nil
}

func (v *ValkeyKV) ZRem(ctx context.Context, key, member string) error {
	cmd := v.inner().B().Zrem().Key(v.key(key)).Member(member).Build()
	if err := v.inner().Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("zrem %s: %w", key, err)
	}
	return nil
}

func (v *ValkeyKV) ZNext(ctx context.Context, key string) (string, float64, bool, error) {
	full := v.key(key)
	cmd := v.inner().B().Zrangebyscore().Key(full).Min("-inf").Max("+inf").Limit(0, 1).Build()
	members, err := v.inner().Do(ctx, cmd).AsStrSlice()
	if err != nil {
		return "", 0, false, fmt.Errorf("zrangebyscore %s: %w", key, err)
	}
	if len(members) == 0 || members[0] == "" {
		return "", 0, false, nil
	}
	score, err := v.inner().Do(ctx, v.inner().B().Zscore().Key(full).Member(members[0]).Build()).AsFloat64()
	if err != nil {
		return "", 0, false, fmt.Errorf("zscore %s: %w", key, err)
	}
	return members[0], score, true, nil
}
