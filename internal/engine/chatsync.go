package engine

import (
	"context"
	"database/sql"
	"strings"

	"workbridge/internal/domain"
	"workbridge/internal/engine/auth"
	"workbridge/internal/events"
)

// appendSystemMessage writes an immutable system entry into a chat's message
// sequence. System messages have no sender and carry the event tag that
// produced them.
func (e Engine) appendSystemMessage(ctx context.Context, tx *sql.Tx, chatID, tag, content string) error {
	msg := domain.Message{
		ChatID:   chatID,
		Content:  content,
		EventTag: &tag,
		SentAt:   e.nowStr(),
	}
	_, err := e.Repo.AppendMessage(ctx, tx, msg)
	return err
}

// lockChatForModeration freezes a chat and brings the admin in, announcing
// both in the message sequence. Locks are never lifted.
func (e Engine) lockChatForModeration(ctx context.Context, tx *sql.Tx, chatID, now string) error {
	ok, err := e.Repo.LockChat(ctx, tx, chatID, systemAdminID, now)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := e.appendSystemMessage(ctx, tx, chatID, domain.EventAdminManagementEnabled,
		"Admin management enabled: this chat is now moderated"); err != nil {
		return err
	}
	return e.appendSystemMessage(ctx, tx, chatID, domain.EventUserAdded,
		"Admin joined the chat")
}

// AddChatParticipant brings an actor into a chat. Admin only: participants
// are otherwise fixed at chat creation, and moderation is the one reason to
// widen them.
func (e Engine) AddChatParticipant(ctx context.Context, p auth.Principal, chatID, actorID string) (domain.Chat, error) {
	if err := auth.RequireAdmin(p); err != nil {
		return domain.Chat{}, err
	}
	if actorID == "" {
		return domain.Chat{}, validationf("actor id is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Chat{}, err
	}
	defer tx.Rollback()

	chat, err := e.Repo.GetChatTx(ctx, tx, chatID)
	if err != nil {
		return domain.Chat{}, err
	}
	if chat.Status == domain.ChatClosed {
		return domain.Chat{}, invalidStatef("chat %s is closed", chatID)
	}
	for _, id := range chat.Participants {
		if id == actorID {
			return domain.Chat{}, conflictf("actor %s is already in chat %s", actorID, chatID)
		}
	}
	now := e.nowStr()
	if err := e.Repo.EnsureActor(ctx, tx, actorID, domain.RoleClient, now); err != nil {
		return domain.Chat{}, err
	}
	if err := e.Repo.AddParticipant(ctx, tx, chatID, actorID); err != nil {
		return domain.Chat{}, err
	}
	if err := e.appendSystemMessage(ctx, tx, chatID, domain.EventUserAdded,
		actorID+" was added to the chat"); err != nil {
		return domain.Chat{}, err
	}
	projectID := ""
	if chat.ProjectID != nil {
		projectID = *chat.ProjectID
	}
	if err := e.Events.Append(ctx, tx, "chat.participant_added", projectID, "chat", chatID, p.ActorID, events.EventPayload{
		"participant_id": actorID,
	}); err != nil {
		return domain.Chat{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Chat{}, err
	}
	return e.Repo.GetChat(ctx, chatID)
}

// RemoveChatParticipant takes an actor out of a chat. Admin only.
func (e Engine) RemoveChatParticipant(ctx context.Context, p auth.Principal, chatID, actorID string) (domain.Chat, error) {
	if err := auth.RequireAdmin(p); err != nil {
		return domain.Chat{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Chat{}, err
	}
	defer tx.Rollback()

	chat, err := e.Repo.GetChatTx(ctx, tx, chatID)
	if err != nil {
		return domain.Chat{}, err
	}
	member := false
	for _, id := range chat.Participants {
		if id == actorID {
			member = true
			break
		}
	}
	if !member {
		return domain.Chat{}, validationf("actor %s is not in chat %s", actorID, chatID)
	}
	if err := e.Repo.RemoveParticipant(ctx, tx, chatID, actorID); err != nil {
		return domain.Chat{}, err
	}
	if err := e.appendSystemMessage(ctx, tx, chatID, domain.EventUserRemoved,
		actorID+" was removed from the chat"); err != nil {
		return domain.Chat{}, err
	}
	projectID := ""
	if chat.ProjectID != nil {
		projectID = *chat.ProjectID
	}
	if err := e.Events.Append(ctx, tx, "chat.participant_removed", projectID, "chat", chatID, p.ActorID, events.EventPayload{
		"participant_id": actorID,
	}); err != nil {
		return domain.Chat{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Chat{}, err
	}
	return e.Repo.GetChat(ctx, chatID)
}

// SendMessage posts a user message. Participants only; once a chat is locked
// for moderation only admins may write.
func (e Engine) SendMessage(ctx context.Context, p auth.Principal, chatID, content string) (domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, validationf("message content is required")
	}
	chat, err := e.Repo.GetChat(ctx, chatID)
	if err != nil {
		return domain.Message{}, err
	}
	member := false
	for _, id := range chat.Participants {
		if id == p.ActorID {
			member = true
			break
		}
	}
	if !member && !p.IsAdmin() {
		return domain.Message{}, auth.ForbiddenError{Need: "chat membership"}
	}
	if chat.IsLocked && !p.IsAdmin() {
		return domain.Message{}, auth.ForbiddenError{Need: "admin role in a moderated chat"}
	}
	if chat.Status == domain.ChatClosed {
		return domain.Message{}, invalidStatef("chat %s is closed", chatID)
	}
	senderID := p.ActorID
	msg := domain.Message{
		ChatID:   chatID,
		SenderID: &senderID,
		Content:  content,
		SentAt:   e.nowStr(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Message{}, err
	}
	defer tx.Rollback()

	id, err := e.Repo.AppendMessage(ctx, tx, msg)
	if err != nil {
		return domain.Message{}, err
	}
	projectID := ""
	if chat.ProjectID != nil {
		projectID = *chat.ProjectID
	}
	if err := e.Events.Append(ctx, tx, "chat.message_sent", projectID, "chat", chatID, p.ActorID, events.EventPayload{}); err != nil {
		return domain.Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Message{}, err
	}
	msg.ID = id
	return msg, nil
}

// ListChats returns the chats the actor participates in. Admins see all of
// their own chats like anyone else; moderation chats include them as a
// participant.
func (e Engine) ListChats(ctx context.Context, p auth.Principal) ([]domain.Chat, error) {
	return e.Repo.ListChatsFor(ctx, p.ActorID)
}

// GetChatWithMessages returns a chat and its full ordered message sequence.
func (e Engine) GetChatWithMessages(ctx context.Context, p auth.Principal, chatID string) (domain.Chat, []domain.Message, error) {
	chat, err := e.Repo.GetChat(ctx, chatID)
	if err != nil {
		return domain.Chat{}, nil, err
	}
	member := false
	for _, id := range chat.Participants {
		if id == p.ActorID {
			member = true
			break
		}
	}
	if !member && !p.IsAdmin() {
		return domain.Chat{}, nil, auth.ForbiddenError{Need: "chat membership"}
	}
	msgs, err := e.Repo.ListMessages(ctx, chatID, 0)
	if err != nil {
		return domain.Chat{}, nil, err
	}
	return chat, msgs, nil
}

// MarkChatRead marks every message from other senders as read.
func (e Engine) MarkChatRead(ctx context.Context, p auth.Principal, chatID string) error {
	chat, err := e.Repo.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	member := false
	for _, id := range chat.Participants {
		if id == p.ActorID {
			member = true
			break
		}
	}
	if !member {
		return auth.ForbiddenError{Need: "chat membership"}
	}
	return e.Repo.MarkMessagesRead(ctx, chatID, p.ActorID)
}
