package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore はプロセス内メモリのみを使う Store 実装です。
// Redis なしで動かすローカル開発とテストで使用します。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore は MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

// Get はジョブ情報を取得します。存在しない場合は (nil, nil) を返します。
func (s *MemoryStore) Get(ctx context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[jobID]
	if !ok {
		return nil, nil
	}
	clone := *record
	return &clone, nil
}

// Upsert はジョブ情報を保存します（存在しない場合は作成）。
func (s *MemoryStore) Upsert(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *record
	s.records[record.JobID] = &clone
	return nil
}

// Merge はロック保持中に mutate を適用するため、各呼び出しの変更は
// 1つの更新として観測されます。
func (s *MemoryStore) Merge(ctx context.Context, jobID string, mutate func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[jobID]
	if !ok {
		return fmt.Errorf("job not found: %s", jobID)
	}
	mutate(record)
	record.UpdatedAt = time.Now().UTC()
	return nil
}
