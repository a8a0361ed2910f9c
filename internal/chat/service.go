package chat

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lumenchat/backend/internal/ai"
	"github.com/lumenchat/backend/internal/common"
)

// Service owns all chat persistence and provider dispatch. Every
// operation resolves the caller identity first (find-or-create) and is
// scoped to that user's rows.
type Service struct {
	repo     *Repo
	registry *ai.Registry
	log      *zap.Logger
}

func NewService(repo *Repo, registry *ai.Registry, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, registry: registry, log: log}
}

// ToProviderMessages maps stored messages to the provider-neutral shape,
// preserving order. Fails on a role outside the closed enumeration.
func ToProviderMessages(msgs []Message) ([]ai.Message, error) {
	out := make([]ai.Message, 0, len(msgs))
	for _, m := range msgs {
		if !ValidRole(m.Role) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRole, m.Role)
		}
		out = append(out, ai.Message{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

// CreateChat creates a chat seeded with the system message, plus the
// optional initial message as the second row.
func (s *Service) CreateChat(ctx context.Context, ident UserIdentifier, title, model string, initial *InitialMessage) (*Chat, error) {
	user, err := s.repo.FindOrCreateUser(ctx, ident)
	if err != nil {
		return nil, err
	}

	chatID, err := common.NewULID()
	if err != nil {
		return nil, err
	}

	msgs := []Message{{Role: RoleSystem, Content: SystemPrompt}}
	if initial != nil {
		if !ValidRole(initial.Role) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRole, initial.Role)
		}
		msgs = append(msgs, Message{Role: initial.Role, Content: initial.Content})
	}

	c := &Chat{ChatID: chatID, Title: title, Model: model, UserID: user.ID}
	if err := s.repo.CreateChat(ctx, c, msgs); err != nil {
		return nil, err
	}

	s.log.Info("chat created",
		zap.String("chat_id", chatID),
		zap.String("model", model),
		zap.Uint64("user_id", user.ID))

	return s.repo.GetChatByID(ctx, user.ID, chatID)
}

func (s *Service) GetChats(ctx context.Context, ident UserIdentifier) ([]Chat, error) {
	user, err := s.repo.FindOrCreateUser(ctx, ident)
	if err != nil {
		return nil, err
	}
	return s.repo.ListChats(ctx, user.ID)
}

func (s *Service) GetChatByID(ctx context.Context, ident UserIdentifier, chatID string) (*Chat, error) {
	user, err := s.repo.FindOrCreateUser(ctx, ident)
	if err != nil {
		return nil, err
	}
	return s.repo.GetChatByID(ctx, user.ID, chatID)
}

func (s *Service) AddMessage(ctx context.Context, ident UserIdentifier, chatID, role, content string) (*Message, error) {
	if !ValidRole(role) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	user, err := s.repo.FindOrCreateUser(ctx, ident)
	if err != nil {
		return nil, err
	}
	return s.repo.InsertMessage(ctx, user.ID, chatID, role, content)
}

func (s *Service) UpdateChatTitle(ctx context.Context, ident UserIdentifier, chatID, title string) (*Chat, error) {
	user, err := s.repo.FindOrCreateUser(ctx, ident)
	if err != nil {
		return nil, err
	}
	return s.repo.UpdateChatTitle(ctx, user.ID, chatID, title)
}

func (s *Service) DeleteChat(ctx context.Context, ident UserIdentifier, chatID string) error {
	user, err := s.repo.FindOrCreateUser(ctx, ident)
	if err != nil {
		return err
	}
	return s.repo.DeleteChat(ctx, user.ID, chatID)
}

// SendMessage persists the user message, dispatches the full ordered
// history to the chat's model, and persists the assistant reply.
//
// There is no compensating delete when dispatch fails: the user message
// stays stored even though no reply was produced.
func (s *Service) SendMessage(ctx context.Context, ident UserIdentifier, chatID, content, model string) (userMsg, assistantMsg *Message, err error) {
	user, err := s.repo.FindOrCreateUser(ctx, ident)
	if err != nil {
		return nil, nil, err
	}

	// 1) verify chat ownership and load prior history
	c, err := s.repo.GetChatByID(ctx, user.ID, chatID)
	if err != nil {
		return nil, nil, err
	}
	if model == "" {
		model = c.Model
	}

	// 2) store user message
	userMsg, err = s.repo.InsertMessage(ctx, user.ID, chatID, RoleUser, content)
	if err != nil {
		return nil, nil, err
	}

	// 3) full history, oldest first, ending with the new user message
	history, err := ToProviderMessages(append(c.Messages, *userMsg))
	if err != nil {
		return userMsg, nil, err
	}

	// 4) dispatch
	reply, err := s.registry.GetResponse(ctx, model, history)
	if err != nil {
		s.log.Warn("dispatch failed",
			zap.String("chat_id", chatID),
			zap.String("model", model),
			zap.Error(err))
		return userMsg, nil, err
	}

	// 5) store assistant message
	assistantMsg, err = s.repo.InsertMessage(ctx, user.ID, chatID, RoleAssistant, reply)
	if err != nil {
		return userMsg, nil, err
	}
	return userMsg, assistantMsg, nil
}

// GenerateAssistantReplyAndInsert is the worker-side half of the async
// path: the user message is already stored, so it dispatches the chat's
// current history and appends the reply.
func (s *Service) GenerateAssistantReplyAndInsert(ctx context.Context, userID uint64, chatID, model string) (*Message, error) {
	c, err := s.repo.GetChatByID(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = c.Model
	}

	history, err := ToProviderMessages(c.Messages)
	if err != nil {
		return nil, err
	}

	reply, err := s.registry.GetResponse(ctx, model, history)
	if err != nil {
		return nil, err
	}
	return s.repo.InsertMessage(ctx, userID, chatID, RoleAssistant, reply)
}

// EnqueueReply stores the user message immediately and records a job
// for the worker to produce the assistant reply. The returned bool is
// false when an idempotency key matched an existing job. The key also
// dedupes the user message itself, so a retried request never appends
// the same message twice.
func (s *Service) EnqueueReply(ctx context.Context, ident UserIdentifier, chatID, content, model string, idempotencyKey *string) (*Job, bool, error) {
	user, err := s.repo.FindOrCreateUser(ctx, ident)
	if err != nil {
		return nil, false, err
	}

	// Ownership check happens inside the insert.
	if _, _, err := s.repo.InsertUserMessageOrGetExisting(ctx, user.ID, chatID, content, idempotencyKey); err != nil {
		return nil, false, err
	}

	jobID, err := common.NewULID()
	if err != nil {
		return nil, false, err
	}
	j := &Job{
		ID:             jobID,
		UserID:         user.ID,
		ChatID:         chatID,
		Prompt:         content,
		Model:          model,
		IdempotencyKey: idempotencyKey,
		Status:         JobQueued,
	}
	return s.repo.CreateJobOrGetExisting(ctx, j)
}

// GetJobForUser hides jobs of other users behind not-found.
func (s *Service) GetJobForUser(ctx context.Context, ident UserIdentifier, jobID string) (*Job, error) {
	user, err := s.repo.FindOrCreateUser(ctx, ident)
	if err != nil {
		return nil, err
	}
	j, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.UserID != user.ID {
		return nil, gorm.ErrRecordNotFound
	}
	return j, nil
}
