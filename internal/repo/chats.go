package repo

import (
	"context"
	"database/sql"

	"workbridge/internal/domain"
)

func scanChat(scan func(dest ...any) error) (domain.Chat, error) {
	var c domain.Chat
	var projectID sql.NullString
	var locked, adminAdded int
	err := scan(&c.ID, &c.Type, &projectID, &c.Status, &locked, &adminAdded, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.ProjectID = strPtr(projectID)
	c.IsLocked = locked != 0
	c.AdminAdded = adminAdded != 0
	return c, nil
}

const chatCols = `id,type,project_id,status,is_locked,admin_added,created_at,updated_at`

func (r Repo) InsertChat(ctx context.Context, tx *sql.Tx, c domain.Chat) error {
	exec := execer(r.DB, tx)
	if _, err := exec(ctx, `INSERT INTO chats(id,type,project_id,status,is_locked,admin_added,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.Type, nullableStringPtr(c.ProjectID), c.Status, boolInt(c.IsLocked), boolInt(c.AdminAdded),
		c.CreatedAt, c.UpdatedAt); err != nil {
		return err
	}
	for _, actorID := range c.Participants {
		if _, err := exec(ctx, `INSERT OR IGNORE INTO chat_participants(chat_id,actor_id) VALUES (?,?)`, c.ID, actorID); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetChat(ctx context.Context, id string) (domain.Chat, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+chatCols+` FROM chats WHERE id=?`, id)
	c, err := scanChat(row.Scan)
	if err != nil {
		return c, err
	}
	c.Participants, err = r.chatParticipants(ctx, nil, id)
	return c, err
}

func (r Repo) GetChatTx(ctx context.Context, tx *sql.Tx, id string) (domain.Chat, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+chatCols+` FROM chats WHERE id=?`, id)
	c, err := scanChat(row.Scan)
	if err != nil {
		return c, err
	}
	c.Participants, err = r.chatParticipants(ctx, tx, id)
	return c, err
}

func (r Repo) chatParticipants(ctx context.Context, tx *sql.Tx, chatID string) ([]string, error) {
	var rows *sql.Rows
	var err error
	query := `SELECT actor_id FROM chat_participants WHERE chat_id=? ORDER BY actor_id`
	if tx != nil {
		rows, err = tx.QueryContext(ctx, query, chatID)
	} else {
		rows, err = r.DB.QueryContext(ctx, query, chatID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

// FindProjectChat returns the chat binding a project to a specific
// freelancer, identified by that freelancer's participation.
func (r Repo) FindProjectChat(ctx context.Context, tx *sql.Tx, projectID, freelancerID string) (domain.Chat, error) {
	query := `SELECT ` + chatCols + ` FROM chats
WHERE project_id=? AND id IN (SELECT chat_id FROM chat_participants WHERE actor_id=?)`
	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, query, projectID, freelancerID)
	} else {
		row = r.DB.QueryRowContext(ctx, query, projectID, freelancerID)
	}
	c, err := scanChat(row.Scan)
	if err != nil {
		return c, err
	}
	c.Participants, err = r.chatParticipants(ctx, tx, c.ID)
	return c, err
}

func (r Repo) ListChatsFor(ctx context.Context, actorID string) ([]domain.Chat, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+chatCols+` FROM chats
WHERE id IN (SELECT chat_id FROM chat_participants WHERE actor_id=?) ORDER BY updated_at DESC, id`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Chat
	for rows.Next() {
		c, err := scanChat(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Participants, err = r.chatParticipants(ctx, nil, res[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// SetChatStatus moves one chat along discussion -> committed -> closed.
func (r Repo) SetChatStatus(ctx context.Context, tx *sql.Tx, chatID, from, to, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE chats SET status=?, updated_at=? WHERE id=? AND status=?`, to, now, chatID, from)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CloseSiblingChats closes every other discussion chat on the project once one
// freelancer is committed. Returns the IDs of the chats actually closed so the
// caller can append the closing system message to each.
func (r Repo) CloseSiblingChats(ctx context.Context, tx *sql.Tx, projectID, keepChatID, now string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM chats WHERE project_id=? AND id!=? AND status=?`,
		projectID, keepChatID, domain.ChatDiscussion)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE chats SET status=?, updated_at=? WHERE id=?`, domain.ChatClosed, now, id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// LockChat freezes a committed chat for admin moderation and brings the admin
// in as a participant.
func (r Repo) LockChat(ctx context.Context, tx *sql.Tx, chatID, adminID, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE chats SET is_locked=1, admin_added=1, updated_at=? WHERE id=? AND is_locked=0`, now, chatID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	_, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO chat_participants(chat_id,actor_id) VALUES (?,?)`, chatID, adminID)
	return true, err
}

func (r Repo) AddParticipant(ctx context.Context, tx *sql.Tx, chatID, actorID string) error {
	exec := execer(r.DB, tx)
	_, err := exec(ctx, `INSERT OR IGNORE INTO chat_participants(chat_id,actor_id) VALUES (?,?)`, chatID, actorID)
	return err
}

func (r Repo) RemoveParticipant(ctx context.Context, tx *sql.Tx, chatID, actorID string) error {
	exec := execer(r.DB, tx)
	_, err := exec(ctx, `DELETE FROM chat_participants WHERE chat_id=? AND actor_id=?`, chatID, actorID)
	return err
}

// --- messages ---

func (r Repo) AppendMessage(ctx context.Context, tx *sql.Tx, m domain.Message) (int64, error) {
	var res sql.Result
	var err error
	query := `INSERT INTO messages(chat_id,sender_id,content,event_tag,read,sent_at) VALUES (?,?,?,?,?,?)`
	args := []any{m.ChatID, nullableStringPtr(m.SenderID), m.Content, nullableStringPtr(m.EventTag), boolInt(m.Read), m.SentAt}
	if tx != nil {
		res, err = tx.ExecContext(ctx, query, args...)
	} else {
		res, err = r.DB.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) ListMessages(ctx context.Context, chatID string, limit int) ([]domain.Message, error) {
	query := `SELECT id,chat_id,sender_id,content,event_tag,read,sent_at FROM messages WHERE chat_id=? ORDER BY id ASC`
	args := []any{chatID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Message
	for rows.Next() {
		var m domain.Message
		var senderID, eventTag sql.NullString
		var read int
		if err := rows.Scan(&m.ID, &m.ChatID, &senderID, &m.Content, &eventTag, &read, &m.SentAt); err != nil {
			return nil, err
		}
		m.SenderID = strPtr(senderID)
		m.EventTag = strPtr(eventTag)
		m.Read = read != 0
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) MarkMessagesRead(ctx context.Context, chatID, readerID string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE messages SET read=1 WHERE chat_id=? AND read=0 AND (sender_id IS NULL OR sender_id!=?)`,
		chatID, readerID)
	return err
}
