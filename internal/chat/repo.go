package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// orderedMessages keeps message order stable: creation time first, ties
// broken by insertion order. This is also the order sent to providers.
func orderedMessages(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC, id ASC")
}

func (r *Repo) FindOrCreateUser(ctx context.Context, ident UserIdentifier) (*User, error) {
	if ident.Empty() {
		return nil, errors.New("walletAddress or email is required")
	}

	var u User
	q := r.db.WithContext(ctx)
	var err error
	if ident.WalletAddress != "" {
		err = q.Where("wallet_address = ?", ident.WalletAddress).First(&u).Error
	} else {
		err = q.Where("email = ?", ident.Email).First(&u).Error
	}
	if err == nil {
		return &u, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	u = User{}
	if ident.WalletAddress != "" {
		u.WalletAddress = &ident.WalletAddress
	}
	if ident.Email != "" {
		u.Email = &ident.Email
	}
	if createErr := r.db.WithContext(ctx).Create(&u).Error; createErr != nil {
		// A concurrent request may have created the same identity between
		// the lookup and the insert; re-read and hand back the winner.
		var winner User
		var getErr error
		if ident.WalletAddress != "" {
			getErr = r.db.WithContext(ctx).Where("wallet_address = ?", ident.WalletAddress).First(&winner).Error
		} else {
			getErr = r.db.WithContext(ctx).Where("email = ?", ident.Email).First(&winner).Error
		}
		if getErr == nil {
			return &winner, nil
		}
		return nil, createErr
	}
	return &u, nil
}

// CreateChat inserts the chat and its seed messages in one transaction.
// Messages are created one by one so insertion order matches slice order.
func (r *Repo) CreateChat(ctx context.Context, c *Chat, msgs []Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Messages").Create(c).Error; err != nil {
			return err
		}
		for i := range msgs {
			msgs[i].ChatID = c.ChatID
			if err := tx.Create(&msgs[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetChatByID loads a chat with its ordered messages. A chat owned by a
// different user is reported as not found.
func (r *Repo) GetChatByID(ctx context.Context, userID uint64, chatID string) (*Chat, error) {
	var c Chat
	if err := r.db.WithContext(ctx).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Preload("Messages", orderedMessages).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChats returns the user's chats, most recently updated first, each
// with its ordered messages.
func (r *Repo) ListChats(ctx context.Context, userID uint64) ([]Chat, error) {
	var chats []Chat
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Preload("Messages", orderedMessages).
		Find(&chats).Error; err != nil {
		return nil, err
	}
	return chats, nil
}

// InsertMessage appends a message and bumps the chat's updated_at in a
// single transaction. Fails with gorm.ErrRecordNotFound when the chat
// does not exist or is owned by someone else.
func (r *Repo) InsertMessage(ctx context.Context, userID uint64, chatID, role, content string) (*Message, error) {
	m := &Message{ChatID: chatID, Role: role, Content: content}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c Chat
		if err := tx.Where("chat_id = ? AND user_id = ?", chatID, userID).First(&c).Error; err != nil {
			return err
		}
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		return tx.Model(&Chat{}).
			Where("chat_id = ?", chatID).
			Update("updated_at", time.Now()).Error
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// InsertUserMessageOrGetExisting appends a user message unless the
// idempotency key already stored one in this chat, in which case that
// message is returned and the chat is left untouched. The returned bool
// reports whether a new row was inserted.
func (r *Repo) InsertUserMessageOrGetExisting(ctx context.Context, userID uint64, chatID, content string, key *string) (*Message, bool, error) {
	if key == nil || *key == "" {
		m, err := r.InsertMessage(ctx, userID, chatID, RoleUser, content)
		if err != nil {
			return nil, false, err
		}
		return m, true, nil
	}

	m := &Message{ChatID: chatID, Role: RoleUser, Content: content, IdempotencyKey: key}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c Chat
		if err := tx.Where("chat_id = ? AND user_id = ?", chatID, userID).First(&c).Error; err != nil {
			return err
		}
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		return tx.Model(&Chat{}).
			Where("chat_id = ?", chatID).
			Update("updated_at", time.Now()).Error
	})
	if err == nil {
		return m, true, nil
	}

	var existing Message
	getErr := r.db.WithContext(ctx).
		Where("chat_id = ? AND idempotency_key = ?", chatID, *key).
		First(&existing).Error
	if getErr == nil {
		return &existing, false, nil
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}

// UpdateChatTitle renames an owned chat and returns it with messages.
func (r *Repo) UpdateChatTitle(ctx context.Context, userID uint64, chatID, title string) (*Chat, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c Chat
		if err := tx.Where("chat_id = ? AND user_id = ?", chatID, userID).First(&c).Error; err != nil {
			return err
		}
		return tx.Model(&Chat{}).
			Where("chat_id = ?", chatID).
			Update("title", title).Error
	})
	if err != nil {
		return nil, err
	}
	return r.GetChatByID(ctx, userID, chatID)
}

// DeleteChat removes the chat and all its messages atomically.
func (r *Repo) DeleteChat(ctx context.Context, userID uint64, chatID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c Chat
		if err := tx.Where("chat_id = ? AND user_id = ?", chatID, userID).First(&c).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&c).Error
	})
}

// Job CRUD

func (r *Repo) CreateJob(ctx context.Context, job *Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) UpdateJobStatusRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string, assistantMsgID uint64) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            JobSucceeded,
			"result_message_id": assistantMsgID,
			"error":             nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            JobFailed,
			"error":             errMsg,
			"result_message_id": nil,
		}).Error
}

func (r *Repo) GetJobByUserAndIdempotencyKey(ctx context.Context, userID uint64, key string) (*Job, error) {
	var job Job
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateJobOrGetExisting tries to create a job; if the idempotency key
// was already used by this user, the existing job is returned instead.
func (r *Repo) CreateJobOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error) {
	if job.IdempotencyKey == nil || *job.IdempotencyKey == "" {
		job.IdempotencyKey = nil
		if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
			return nil, false, err
		}
		return job, true, nil
	}

	err := r.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, true, nil
	}

	existing, getErr := r.GetJobByUserAndIdempotencyKey(ctx, job.UserID, *job.IdempotencyKey)
	if getErr == nil {
		return existing, false, nil
	}

	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}
