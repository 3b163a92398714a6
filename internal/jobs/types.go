// Package jobs はジョブレコードの保存と状態遷移の管理を提供します。
package jobs

import (
	"time"

	"github.com/yourusername/form-forge/internal/form"
)

// Status はジョブの実行状態を表します。
// 状態は enqueued → running → success/failure の順でのみ進みます。
type Status string

const (
	// StatusUnsubmitted はレコード生成済み・未提出を表すゼロ値です。
	StatusUnsubmitted Status = ""

	StatusEnqueued  Status = "enqueued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "success"
	StatusFailed    Status = "failure"
)

// Terminal は終端状態かどうかを返します。
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Record はジョブの現在状態を表します。ドキュメントIDごとに1件です。
type Record struct {
	JobID            string                  `json:"jobId"`
	OriginalFilename string                  `json:"originalFilename"`
	OutputFilename   string                  `json:"outputFilename,omitempty"`
	Config           *form.PreparationConfig `json:"config,omitempty"`
	Status           Status                  `json:"status,omitempty"`

	// 各タイムスタンプは一度だけ設定され、この順で単調に並びます。
	EnqueueTime  *time.Time `json:"enqueueTime,omitempty"`
	RunTime      *time.Time `json:"runTime,omitempty"`
	CompleteTime *time.Time `json:"completeTime,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StatusView はポーリング応答用の読み取り専用ビューです。
type StatusView struct {
	Status    Status  `json:"status"`
	QueueTime float64 `json:"queue_time"`
	RunTime   float64 `json:"run_time"`
}
