package chat

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job tracks one async assistant-reply request. The user message is
// persisted before the job is enqueued; the worker produces the
// assistant message.
type Job struct {
	ID string `gorm:"primaryKey;size:26" json:"id"` // ULID length

	UserID uint64 `gorm:"index;not null;index:uniq_job_user_idempo,unique,priority:1" json:"-"`
	ChatID string `gorm:"size:26;index;not null" json:"chatId"`

	Prompt string `gorm:"type:text;not null" json:"-"`
	Model  string `gorm:"type:varchar(64)" json:"model"`

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_job_user_idempo,unique,priority:2" json:"-"`

	Status JobStatus `gorm:"type:varchar(16);index;not null" json:"status"`

	// Filled when succeeded
	ResultMessageID *uint64 `gorm:"index" json:"resultMessageId,omitempty"`

	// Filled when failed
	Error *string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Job) TableName() string { return "chat_jobs" }
