package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/lumenchat/backend/internal/ai"
)

type recordingProvider struct {
	last  []ai.Message
	reply string
	err   error
}

func (p *recordingProvider) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	_ = ctx
	// copy to avoid mutations
	p.last = append([]ai.Message(nil), messages...)
	if p.err != nil {
		return "", p.err
	}
	if p.reply == "" {
		return "ok", nil
	}
	return p.reply, nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&User{}, &Chat{}, &Message{}, &Job{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (*Service, *recordingProvider, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	prov := &recordingProvider{}
	reg := ai.NewRegistry()
	reg.Register("m1", prov)
	return NewService(NewRepo(db), reg, nil), prov, db
}

func wallet(addr string) UserIdentifier {
	return UserIdentifier{WalletAddress: addr}
}

func TestCreateChat_SeedsSystemMessageFirst(t *testing.T) {
	svc, _, _ := newTestService(t)

	c, err := svc.CreateChat(context.Background(), wallet("0xcreate"), "T", "m1", nil)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if c.ChatID == "" {
		t.Fatalf("expected chat id to be set")
	}
	if len(c.Messages) != 1 {
		t.Fatalf("expected exactly 1 message, got %d", len(c.Messages))
	}
	if c.Messages[0].Role != RoleSystem || c.Messages[0].Content != SystemPrompt {
		t.Fatalf("unexpected first message: role=%q", c.Messages[0].Role)
	}
}

func TestCreateChat_InitialMessageIsSecond(t *testing.T) {
	svc, _, _ := newTestService(t)

	c, err := svc.CreateChat(context.Background(), wallet("0xinitial"), "T", "m1",
		&InitialMessage{Role: RoleAssistant, Content: "welcome"})
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if len(c.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(c.Messages))
	}
	if c.Messages[0].Role != RoleSystem {
		t.Fatalf("expected system message first, got %q", c.Messages[0].Role)
	}
	if c.Messages[1].Role != RoleAssistant || c.Messages[1].Content != "welcome" {
		t.Fatalf("unexpected second message: role=%q content=%q", c.Messages[1].Role, c.Messages[1].Content)
	}
}

func TestCreateChat_RejectsUnknownInitialRole(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CreateChat(context.Background(), wallet("0xbadrole"), "T", "m1",
		&InitialMessage{Role: "moderator", Content: "hi"})
	if !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}

func TestAddMessage_CountAndOrdering(t *testing.T) {
	svc, _, _ := newTestService(t)
	ident := wallet("0xordering")

	c, err := svc.CreateChat(context.Background(), ident, "T", "m1", nil)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	const n = 4
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if _, err := svc.AddMessage(context.Background(), ident, c.ChatID, role, "msg"); err != nil {
			t.Fatalf("add message %d: %v", i, err)
		}
	}

	got, err := svc.GetChatByID(context.Background(), ident, c.ChatID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if len(got.Messages) != n+1 {
		t.Fatalf("expected %d messages, got %d", n+1, len(got.Messages))
	}
	for i := 1; i < len(got.Messages); i++ {
		if got.Messages[i].CreatedAt.Before(got.Messages[i-1].CreatedAt) {
			t.Fatalf("messages out of creation order at index %d", i)
		}
	}
}

func TestAddMessage_RejectsUnknownRole(t *testing.T) {
	svc, _, _ := newTestService(t)
	ident := wallet("0xaddrole")

	c, err := svc.CreateChat(context.Background(), ident, "T", "m1", nil)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if _, err := svc.AddMessage(context.Background(), ident, c.ChatID, "bot", "hi"); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}

func TestUpdateChatTitle_Idempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ident := wallet("0xtitle")

	c, err := svc.CreateChat(context.Background(), ident, "old", "m1", nil)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	first, err := svc.UpdateChatTitle(context.Background(), ident, c.ChatID, "new")
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	second, err := svc.UpdateChatTitle(context.Background(), ident, c.ChatID, "new")
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if first.Title != "new" || second.Title != "new" {
		t.Fatalf("unexpected titles: %q, %q", first.Title, second.Title)
	}
	if len(first.Messages) != len(second.Messages) {
		t.Fatalf("message count changed: %d vs %d", len(first.Messages), len(second.Messages))
	}
}

func TestDeleteChat_RemovesAllMessages(t *testing.T) {
	svc, _, db := newTestService(t)
	ident := wallet("0xdelete")

	c, err := svc.CreateChat(context.Background(), ident, "T", "m1", nil)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := svc.AddMessage(context.Background(), ident, c.ChatID, RoleUser, "msg"); err != nil {
			t.Fatalf("add message: %v", err)
		}
	}

	if err := svc.DeleteChat(context.Background(), ident, c.ChatID); err != nil {
		t.Fatalf("delete chat: %v", err)
	}

	if _, err := svc.GetChatByID(context.Background(), ident, c.ChatID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected record not found, got %v", err)
	}

	var count int64
	if err := db.Model(&Message{}).Where("chat_id = ?", c.ChatID).Count(&count).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 orphaned messages, got %d", count)
	}
}

func TestSendMessage_WritesUserAndAssistant(t *testing.T) {
	svc, prov, _ := newTestService(t)
	ident := wallet("0xsend")
	prov.reply = "sure thing"

	c, err := svc.CreateChat(context.Background(), ident, "T", "m1", nil)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	before := c.UpdatedAt
	time.Sleep(10 * time.Millisecond)

	userMsg, assistantMsg, err := svc.SendMessage(context.Background(), ident, c.ChatID, "hello", "")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if userMsg.Role != RoleUser || userMsg.Content != "hello" {
		t.Fatalf("unexpected user msg: role=%q content=%q", userMsg.Role, userMsg.Content)
	}
	if assistantMsg.Role != RoleAssistant || assistantMsg.Content != "sure thing" {
		t.Fatalf("unexpected assistant msg: role=%q content=%q", assistantMsg.Role, assistantMsg.Content)
	}

	// provider got the full history, oldest first, ending with "hello"
	if len(prov.last) != 2 {
		t.Fatalf("expected provider to receive 2 messages, got %d", len(prov.last))
	}
	if prov.last[0].Role != RoleSystem {
		t.Fatalf("expected system message first, got %q", prov.last[0].Role)
	}
	if prov.last[1].Role != RoleUser || prov.last[1].Content != "hello" {
		t.Fatalf("expected trailing user msg, got role=%q content=%q", prov.last[1].Role, prov.last[1].Content)
	}

	got, err := svc.GetChatByID(context.Background(), ident, c.ChatID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got.Messages))
	}
	if !got.UpdatedAt.After(before) {
		t.Fatalf("expected updated_at to advance: before=%v after=%v", before, got.UpdatedAt)
	}
}

func TestSendMessage_ModelNotFoundKeepsUserMessage(t *testing.T) {
	svc, _, db := newTestService(t)
	ident := wallet("0xnomodel")

	c, err := svc.CreateChat(context.Background(), ident, "T", "m1", nil)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	_, _, err = svc.SendMessage(context.Background(), ident, c.ChatID, "hello", "not-registered")
	if !errors.Is(err, ai.ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound, got %v", err)
	}

	// the user message stays stored even though no reply was produced
	var count int64
	if err := db.Model(&Message{}).
		Where("chat_id = ? AND role = ?", c.ChatID, RoleUser).
		Count(&count).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected user message to be persisted, got %d", count)
	}
}

func TestSendMessage_ProviderFailureKeepsUserMessage(t *testing.T) {
	svc, prov, db := newTestService(t)
	ident := wallet("0xproverr")
	prov.err = errors.New("upstream exploded")

	c, err := svc.CreateChat(context.Background(), ident, "T", "m1", nil)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	_, _, err = svc.SendMessage(context.Background(), ident, c.ChatID, "hello", "")
	if err == nil {
		t.Fatalf("expected provider error")
	}

	var msgs []Message
	if err := db.Where("chat_id = ?", c.ChatID).Order("id ASC").Find(&msgs).Error; err != nil {
		t.Fatalf("query messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(msgs))
	}
	if msgs[1].Role != RoleUser {
		t.Fatalf("expected persisted user message, got role=%q", msgs[1].Role)
	}
}

func TestUserScoping_NoCrossUserAccess(t *testing.T) {
	svc, _, _ := newTestService(t)
	a := wallet("0xaaa-scope")
	b := wallet("0xbbb-scope")

	chatA, err := svc.CreateChat(context.Background(), a, "A", "m1", nil)
	if err != nil {
		t.Fatalf("create chat A: %v", err)
	}
	chatB, err := svc.CreateChat(context.Background(), b, "B", "m1", nil)
	if err != nil {
		t.Fatalf("create chat B: %v", err)
	}

	chatsA, err := svc.GetChats(context.Background(), a)
	if err != nil {
		t.Fatalf("get chats A: %v", err)
	}
	for _, c := range chatsA {
		if c.ChatID == chatB.ChatID {
			t.Fatalf("user A sees user B's chat")
		}
	}

	if _, err := svc.GetChatByID(context.Background(), a, chatB.ChatID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected not found for cross-user get, got %v", err)
	}
	if _, err := svc.UpdateChatTitle(context.Background(), a, chatB.ChatID, "hijack"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected not found for cross-user update, got %v", err)
	}
	if err := svc.DeleteChat(context.Background(), a, chatB.ChatID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected not found for cross-user delete, got %v", err)
	}

	// B's chat is untouched
	if _, err := svc.GetChatByID(context.Background(), b, chatB.ChatID); err != nil {
		t.Fatalf("chat B should still exist: %v", err)
	}
	_ = chatA
}

func TestGetChats_SortedByUpdatedAtDesc(t *testing.T) {
	svc, _, _ := newTestService(t)
	ident := wallet("0xsorted")

	first, err := svc.CreateChat(context.Background(), ident, "first", "m1", nil)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if _, err := svc.CreateChat(context.Background(), ident, "second", "m1", nil); err != nil {
		t.Fatalf("create chat: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	// touching the older chat moves it to the front
	if _, err := svc.AddMessage(context.Background(), ident, first.ChatID, RoleUser, "bump"); err != nil {
		t.Fatalf("add message: %v", err)
	}

	chats, err := svc.GetChats(context.Background(), ident)
	if err != nil {
		t.Fatalf("get chats: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("expected 2 chats, got %d", len(chats))
	}
	if chats[0].ChatID != first.ChatID {
		t.Fatalf("expected most recently updated chat first")
	}
}

func TestFindOrCreateUser_Reuses(t *testing.T) {
	svc, _, _ := newTestService(t)
	ident := UserIdentifier{Email: "dev@example.com"}

	u1, err := svc.repo.FindOrCreateUser(context.Background(), ident)
	if err != nil {
		t.Fatalf("first find-or-create: %v", err)
	}
	u2, err := svc.repo.FindOrCreateUser(context.Background(), ident)
	if err != nil {
		t.Fatalf("second find-or-create: %v", err)
	}
	if u1.ID != u2.ID {
		t.Fatalf("expected same user id, got %d and %d", u1.ID, u2.ID)
	}

	if _, err := svc.repo.FindOrCreateUser(context.Background(), UserIdentifier{}); err == nil {
		t.Fatalf("expected error for empty identifier")
	}
}

func TestFindOrCreateUser_LosesCreateRace(t *testing.T) {
	svc, _, db := newTestService(t)
	addr := "0xrace"

	// second handle to the same shared in-memory database, standing in
	// for a concurrent request
	other, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// sneak the same identity in between the lookup and the insert
	raced := false
	err = db.Callback().Create().Before("gorm:create").Register("race_user_create", func(tx *gorm.DB) {
		if raced {
			return
		}
		if _, ok := tx.Statement.Dest.(*User); !ok {
			return
		}
		raced = true
		if err := other.Create(&User{WalletAddress: &addr}).Error; err != nil {
			t.Errorf("concurrent create: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}
	defer db.Callback().Create().Remove("race_user_create")

	u, err := svc.repo.FindOrCreateUser(context.Background(), wallet(addr))
	if err != nil {
		t.Fatalf("find-or-create after losing the race: %v", err)
	}
	if !raced {
		t.Fatalf("expected the conflicting insert to run")
	}

	var winner User
	if err := other.Where("wallet_address = ?", addr).First(&winner).Error; err != nil {
		t.Fatalf("load winner: %v", err)
	}
	if u.ID != winner.ID {
		t.Fatalf("expected the earlier row to win, got %d and %d", u.ID, winner.ID)
	}

	var count int64
	if err := db.Model(&User{}).Where("wallet_address = ?", addr).Count(&count).Error; err != nil {
		t.Fatalf("count users: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single user row, got %d", count)
	}
}

func TestToProviderMessages_RoleMapping(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "s"},
		{Role: RoleUser, Content: "u"},
		{Role: RoleAssistant, Content: "a"},
	}
	out, err := ToProviderMessages(msgs)
	if err != nil {
		t.Fatalf("to provider messages: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(out))
	}
	for i, m := range msgs {
		if out[i].Role != m.Role || out[i].Content != m.Content {
			t.Fatalf("mapping mismatch at %d", i)
		}
	}

	if _, err := ToProviderMessages([]Message{{Role: "narrator", Content: "x"}}); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}

func TestEnqueueReply_AndWorkerPath(t *testing.T) {
	svc, prov, _ := newTestService(t)
	ident := wallet("0xasync")
	prov.reply = "async reply"

	c, err := svc.CreateChat(context.Background(), ident, "T", "m1", nil)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	job, created, err := svc.EnqueueReply(context.Background(), ident, c.ChatID, "hello", "", nil)
	if err != nil {
		t.Fatalf("enqueue reply: %v", err)
	}
	if !created || job.Status != JobQueued {
		t.Fatalf("expected new queued job, created=%v status=%q", created, job.Status)
	}

	// worker half: generates and appends the assistant message
	assistantMsg, err := svc.GenerateAssistantReplyAndInsert(context.Background(), job.UserID, job.ChatID, job.Model)
	if err != nil {
		t.Fatalf("generate reply: %v", err)
	}
	if assistantMsg.Role != RoleAssistant || assistantMsg.Content != "async reply" {
		t.Fatalf("unexpected assistant msg: role=%q content=%q", assistantMsg.Role, assistantMsg.Content)
	}

	got, err := svc.GetChatByID(context.Background(), ident, c.ChatID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got.Messages))
	}
}

func TestEnqueueReply_IdempotencyKeyDedupes(t *testing.T) {
	svc, _, db := newTestService(t)
	ident := wallet("0xidempo")

	c, err := svc.CreateChat(context.Background(), ident, "T", "m1", nil)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	key := "req-1"
	job1, created1, err := svc.EnqueueReply(context.Background(), ident, c.ChatID, "hello", "", &key)
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	job2, created2, err := svc.EnqueueReply(context.Background(), ident, c.ChatID, "hello", "", &key)
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if !created1 || created2 {
		t.Fatalf("expected first created, second deduped: %v %v", created1, created2)
	}
	if job1.ID != job2.ID {
		t.Fatalf("expected same job, got %s and %s", job1.ID, job2.ID)
	}

	// the retried request must not append the user message a second time
	var count int64
	if err := db.Model(&Message{}).
		Where("chat_id = ? AND role = ?", c.ChatID, RoleUser).
		Count(&count).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 user message, got %d", count)
	}
}

func TestEnqueueReply_SameKeyDifferentUsers(t *testing.T) {
	svc, _, _ := newTestService(t)
	a := wallet("0xkey-a")
	b := wallet("0xkey-b")

	chatA, err := svc.CreateChat(context.Background(), a, "A", "m1", nil)
	if err != nil {
		t.Fatalf("create chat A: %v", err)
	}
	chatB, err := svc.CreateChat(context.Background(), b, "B", "m1", nil)
	if err != nil {
		t.Fatalf("create chat B: %v", err)
	}

	// idempotency keys are scoped per user, so reuse across users is fine
	key := "shared-key"
	jobA, createdA, err := svc.EnqueueReply(context.Background(), a, chatA.ChatID, "hello", "", &key)
	if err != nil {
		t.Fatalf("enqueue A: %v", err)
	}
	jobB, createdB, err := svc.EnqueueReply(context.Background(), b, chatB.ChatID, "hello", "", &key)
	if err != nil {
		t.Fatalf("enqueue B: %v", err)
	}
	if !createdA || !createdB {
		t.Fatalf("expected both jobs created: %v %v", createdA, createdB)
	}
	if jobA.ID == jobB.ID {
		t.Fatalf("expected distinct jobs per user")
	}
}

func TestGetJobForUser_HidesForeignJobs(t *testing.T) {
	svc, _, _ := newTestService(t)
	a := wallet("0xjob-a")
	b := wallet("0xjob-b")

	c, err := svc.CreateChat(context.Background(), a, "T", "m1", nil)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	job, _, err := svc.EnqueueReply(context.Background(), a, c.ChatID, "hello", "", nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, err := svc.GetJobForUser(context.Background(), b, job.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected not found for foreign job, got %v", err)
	}
	if _, err := svc.GetJobForUser(context.Background(), a, job.ID); err != nil {
		t.Fatalf("owner should see job: %v", err)
	}
}
