package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gymhub/chat/internal/logger"
	"github.com/gymhub/chat/internal/model"
)

type ReceiptRepository struct {
	pool *pgxpool.Pool
}

func NewReceiptRepository(pool *pgxpool.Pool) *ReceiptRepository {
	return &ReceiptRepository{pool: pool}
}

func (r *ReceiptRepository) UpsertReceipt(ctx context.Context, rc model.MessageReadReceipt) error {
	defer logger.DeferLogDuration("receipt.UpsertReceipt", time.Now())()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO message_read_receipts (message_id, participant_id, participant_type, read_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (message_id, participant_id, participant_type) DO UPDATE SET read_at = EXCLUDED.read_at`,
			rc.MessageID, rc.ParticipantID, string(rc.ParticipantType), rc.ReadAt,
		); err != nil {
			return fmt.Errorf("upsert receipt: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE conversation_participants cp SET last_read_at = GREATEST(COALESCE(cp.last_read_at, $4), $4)
			 FROM messages m
			 WHERE m.id = $1 AND cp.conversation_id = m.conversation_id
			   AND cp.participant_id = $2 AND cp.participant_type = $3`,
			rc.MessageID, rc.ParticipantID, string(rc.ParticipantType), rc.ReadAt,
		); err != nil {
			return fmt.Errorf("update last_read_at: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("receiptRepo.UpsertReceipt: %w", err)
	}
	return nil
}

func (r *ReceiptRepository) MarkConversationRead(ctx context.Context, conversationID string, p model.Participant, at time.Time) (int, string, error) {
	defer logger.DeferLogDuration("receipt.MarkConversationRead", time.Now())()
	var (
		count int
		last  *string
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`WITH marked AS (
				INSERT INTO message_read_receipts (message_id, participant_id, participant_type, read_at)
				SELECT m.id, $2, $3, $4 FROM messages m
				WHERE m.conversation_id = $1 AND NOT (m.sender_id = $2 AND m.sender_type = $3)
				ON CONFLICT (message_id, participant_id, participant_type) DO UPDATE SET read_at = EXCLUDED.read_at
				RETURNING message_id
			)
			SELECT COUNT(*),
			       (SELECT m.id FROM messages m JOIN marked k ON k.message_id = m.id ORDER BY m.seq DESC LIMIT 1)
			FROM marked`,
			conversationID, p.ID, string(p.Role), at,
		).Scan(&count, &last); err != nil {
			return fmt.Errorf("mark receipts: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE conversation_participants SET last_read_at = $4
			 WHERE conversation_id = $1 AND participant_id = $2 AND participant_type = $3`,
			conversationID, p.ID, string(p.Role), at,
		); err != nil {
			return fmt.Errorf("update last_read_at: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, "", fmt.Errorf("receiptRepo.MarkConversationRead: %w", err)
	}
	if last == nil {
		return count, "", nil
	}
	return count, *last, nil
}

func (r *ReceiptRepository) UnreadCount(ctx context.Context, p model.Participant) (int, error) {
	defer logger.DeferLogDuration("receipt.UnreadCount", time.Now())()
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages m
		 JOIN conversation_participants cp
		   ON cp.conversation_id = m.conversation_id AND cp.participant_id = $1 AND cp.participant_type = $2
		 WHERE NOT (m.sender_id = $1 AND m.sender_type = $2)
		   AND NOT EXISTS (
			SELECT 1 FROM message_read_receipts rr
			WHERE rr.message_id = m.id AND rr.participant_id = $1 AND rr.participant_type = $2)`,
		p.ID, string(p.Role),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("receiptRepo.UnreadCount: %w", err)
	}
	return count, nil
}
