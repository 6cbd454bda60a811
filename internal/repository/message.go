package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gymhub/chat/internal/logger"
	"github.com/gymhub/chat/internal/model"
)

const messageCols = `m.id, m.seq, m.conversation_id, m.sender_id, m.sender_type, m.content, m.created_at`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(s scanner, m *model.Message) error {
	return s.Scan(&m.ID, &m.Seq, &m.ConversationID, &m.SenderID, &m.SenderType, &m.Content, &m.CreatedAt)
}

// AppendMessage вставляет сообщение и сдвигает last_message_id беседы в одной транзакции.
func (r *MessageRepository) AppendMessage(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.AppendMessage", time.Now())()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`INSERT INTO messages (id, conversation_id, sender_id, sender_type, content, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING seq`,
			m.ID, m.ConversationID, m.SenderID, string(m.SenderType), m.Content, m.CreatedAt,
		).Scan(&m.Seq); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		tag, err := tx.Exec(ctx,
			`UPDATE conversations SET last_message_id = $2, updated_at = $3 WHERE id = $1`,
			m.ConversationID, m.ID, m.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("msgRepo.AppendMessage: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetMessage", time.Now())()
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	m := &model.Message{}
	err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+messageCols+` FROM messages m WHERE m.id = $1`, id), m)
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetMessage: %w", err)
	}
	return m, nil
}

func (r *MessageRepository) ListMessages(ctx context.Context, q MessageQuery) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListMessages", time.Now())()
	var (
		sql  string
		args = []any{q.ConversationID, q.Limit}
	)
	switch {
	case q.AfterSeq > 0:
		sql = `SELECT ` + messageCols + ` FROM messages m
		       WHERE m.conversation_id = $1 AND m.seq > $3
		       ORDER BY m.seq ASC LIMIT $2`
		args = append(args, q.AfterSeq)
	case q.BeforeSeq > 0:
		sql = `SELECT ` + messageCols + ` FROM messages m
		       WHERE m.conversation_id = $1 AND m.seq < $3
		       ORDER BY m.seq DESC LIMIT $2`
		args = append(args, q.BeforeSeq)
	default:
		sql = `SELECT ` + messageCols + ` FROM messages m
		       WHERE m.conversation_id = $1
		       ORDER BY m.seq DESC LIMIT $2`
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListMessages query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, q.Limit)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.ListMessages scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListMessages rows: %w", err)
	}
	return messages, nil
}
