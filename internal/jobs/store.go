package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix = "job:"
)

// Store はジョブレコードの読み書きを抽象化します。
// Merge の変更は1回の呼び出しごとにアトミックに適用されます。
type Store interface {
	// Get はレコードを取得します。存在しない場合は (nil, nil) を返します。
	Get(ctx context.Context, jobID string) (*Record, error)
	// Upsert はレコード全体を保存します（存在しない場合は作成）。
	Upsert(ctx context.Context, record *Record) error
	// Merge は既存レコードに mutate を適用して保存します。
	// 並行する Merge と混ざった中間状態が観測されることはありません。
	Merge(ctx context.Context, jobID string, mutate func(*Record)) error
}

// RedisStore はジョブレコードを Redis に保存する Store 実装です。
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore は RedisStore を作成します。
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		ttl: ttl,
	}
}

// Get はジョブ情報を取得します。
func (s *RedisStore) Get(ctx context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Upsert はジョブ情報を保存します（存在しない場合は作成）。
func (s *RedisStore) Upsert(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, jobKey(record.JobID), payload, s.ttl).Err()
}

// Merge は WATCH による楽観的トランザクションで部分更新を適用します。
// 提出側とワーカー側が同一レコードへ並行して書き込んでも、
// 各 Merge の変更は1つの更新として適用されます。
func (s *RedisStore) Merge(ctx context.Context, jobID string, mutate func(*Record)) error {
	key := jobKey(jobID)
	for {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if err == redis.Nil {
					return fmt.Errorf("job not found: %s", jobID)
				}
				return err
			}
			var record Record
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}
			mutate(&record)
			record.UpdatedAt = time.Now().UTC()
			payload, err := json.Marshal(&record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, s.ttl)
				return nil
			})
			return err
		}, key)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
