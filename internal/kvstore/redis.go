package kvstore

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore implements Store over Redis, using WATCH/MULTI/EXEC
// optimistic transactions for Update's "mutator executed against the
// latest remote value" contract. Pulled from the retrieval pack's
// other_examples manifests (several repos depend on go-redis/v9) since
// the teacher has no KV-store dependency of its own.
type RedisStore struct {
	client *redis.Client
	retry  RetryPolicy
	log    *zap.Logger
}

// RedisOptions configures the underlying client.
type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout int64 // seconds, 0 = client default
}

func NewRedisStore(client *redis.Client, retry RetryPolicy, log *zap.Logger) *RedisStore {
	return &RedisStore{client: client, retry: retry, log: log}
}

func (s *RedisStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &StoreError{Kind: classify(err), Key: key, Err: err}
	}
	return val, true, nil
}

// Update retries the whole WATCH/read/mutate/MULTI-EXEC cycle on
// redis.TxFailedErr (another writer committed between WATCH and EXEC) and
// on transient connection errors, up to retry.MaxAttempts, with
// exponential backoff between attempts (§4.A).
func (s *RedisStore) Update(ctx context.Context, key string, mutate Mutator) ([]byte, error) {
	var committed []byte
	var lastErr error

	for attempt := 0; attempt < s.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := s.retry.Sleep(ctx, attempt-1); err != nil {
				return nil, err
			}
		}

		txErr := s.client.Watch(ctx, func(tx *redis.Tx) error {
			old, err := tx.Get(ctx, key).Bytes()
			exists := true
			if errors.Is(err, redis.Nil) {
				exists = false
				err = nil
			}
			if err != nil {
				return err
			}

			newValue, err := mutate(old, exists)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, newValue, 0)
				return nil
			})
			if err == nil {
				committed = newValue
			}
			return err
		}, key)

		if txErr == nil {
			return committed, nil
		}
		if errors.Is(txErr, ErrAbortUpdate) {
			return nil, txErr
		}

		lastErr = txErr
		kind := classify(txErr)
		if kind == KindPermanent {
			break
		}
		s.log.Warn("profile store update retrying", zap.String("key", key), zap.Int("attempt", attempt), zap.Error(txErr))
	}

	return nil, &StoreError{Kind: classify(lastErr), Key: key, Attempt: s.retry.MaxAttempts, Err: lastErr}
}

// classify distinguishes transient (retryable) from permanent Redis
// failures per spec §7. redis.TxFailedErr (optimistic-lock contention)
// and network errors are transient; anything else is treated as
// permanent so callers don't spin forever on a malformed mutator.
func classify(err error) Kind {
	if err == nil {
		return KindTransient
	}
	if errors.Is(err, redis.TxFailedErr) {
		return KindTransient
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	return KindPermanent
}
