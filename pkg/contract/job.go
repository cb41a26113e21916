package contract

import (
	"fmt"
	"time"
)

// JobStatus: 单个目标文件的修复状态。
type JobStatus string

const (
	StatusPending     JobStatus = "pending"
	StatusFixing      JobStatus = "fixing"
	StatusTranslating JobStatus = "translating"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
)

// Terminal 判断是否为终态。
func (s JobStatus) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// 允许的状态边：pending → fixing → (translating)? → completed | failed。
// pending → failed 用于解析失败等在比对前即终止的情形。
var jobEdges = map[JobStatus][]JobStatus{
	StatusPending:     {StatusFixing, StatusFailed},
	StatusFixing:      {StatusTranslating, StatusCompleted, StatusFailed},
	StatusTranslating: {StatusCompleted, StatusFailed},
}

// FillJob: 单文件修复任务（有限状态机）。
// 仅由编排层在单个 goroutine 内修改；不跨进程持久化。
type FillJob struct {
	ID          string
	FileID      FileID
	Status      JobStatus
	Translated  int
	FailedPaths []string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// NewFillJob 创建处于 pending 的任务。
func NewFillJob(id string, fileID FileID, now time.Time) *FillJob {
	return &FillJob{ID: id, FileID: fileID, Status: StatusPending, StartedAt: now}
}

// Transition 迁移至 to；不允许的边返回 ErrInvalidTransition。
func (j *FillJob) Transition(to JobStatus, now time.Time) error {
	for _, next := range jobEdges[j.Status] {
		if next == to {
			j.Status = to
			if to.Terminal() {
				j.FinishedAt = now
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
}
