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

const conversationCols = `c.id, c.title, c.is_group, c.direct_key, c.last_message_id, c.created_at, c.updated_at`

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

func scanConversation(s scanner, c *model.Conversation, extra ...any) error {
	dest := append([]any{&c.ID, &c.Title, &c.IsGroup, &c.DirectKey, &c.LastMessageID, &c.CreatedAt, &c.UpdatedAt}, extra...)
	return s.Scan(dest...)
}

func (r *ConversationRepository) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conversation.GetConversation", time.Now())()
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	c := &model.Conversation{}
	err := scanConversation(r.pool.QueryRow(ctx,
		`SELECT `+conversationCols+` FROM conversations c WHERE c.id = $1`, id), c)
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversationRepo.GetConversation: %w", err)
	}
	return c, nil
}

func (r *ConversationRepository) FindDirect(ctx context.Context, directKey string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conversation.FindDirect", time.Now())()
	c := &model.Conversation{}
	err := scanConversation(r.pool.QueryRow(ctx,
		`SELECT `+conversationCols+` FROM conversations c
		 WHERE c.direct_key = $1 AND c.is_group = false`, directKey), c)
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversationRepo.FindDirect: %w", err)
	}
	return c, nil
}

// CreateDirect inserts the conversation and both participants in one
// transaction. The UNIQUE(direct_key) constraint makes concurrent first
// contacts converge: the loser's INSERT waits for the winner to commit and
// then takes the ON CONFLICT branch, returning the winner's row.
func (r *ConversationRepository) CreateDirect(ctx context.Context, a, b model.Participant) (*model.Conversation, bool, error) {
	defer logger.DeferLogDuration("conversation.CreateDirect", time.Now())()
	key := model.DirectKey(a, b)
	now := time.Now().UTC()
	c := &model.Conversation{}
	var inserted bool

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO conversations AS c (id, is_group, direct_key, created_at, updated_at)
			 VALUES ($1, false, $2, $3, $3)
			 ON CONFLICT (direct_key) DO UPDATE SET direct_key = EXCLUDED.direct_key
			 RETURNING `+conversationCols+`, (xmax = 0)`,
			uuid.New().String(), key, now,
		).Scan(&c.ID, &c.Title, &c.IsGroup, &c.DirectKey, &c.LastMessageID, &c.CreatedAt, &c.UpdatedAt, &inserted)
		if err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		for _, p := range []model.Participant{a, b} {
			if _, err := tx.Exec(ctx,
				`INSERT INTO conversation_participants (id, conversation_id, participant_id, participant_type)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (conversation_id, participant_id, participant_type) DO NOTHING`,
				uuid.New().String(), c.ID, p.ID, string(p.Role),
			); err != nil {
				return fmt.Errorf("insert participant %s: %w", p.Key(), err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("conversationRepo.CreateDirect: %w", err)
	}
	return c, inserted, nil
}

func (r *ConversationRepository) IsParticipant(ctx context.Context, conversationID string, p model.Participant) (bool, error) {
	defer logger.DeferLogDuration("conversation.IsParticipant", time.Now())()
	if _, err := uuid.Parse(conversationID); err != nil {
		return false, nil
	}
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM conversation_participants
		 WHERE conversation_id = $1 AND participant_id = $2 AND participant_type = $3)`,
		conversationID, p.ID, string(p.Role),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("conversationRepo.IsParticipant: %w", err)
	}
	return exists, nil
}

func (r *ConversationRepository) ListParticipants(ctx context.Context, conversationID string) ([]model.ConversationParticipant, error) {
	defer logger.DeferLogDuration("conversation.ListParticipants", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, conversation_id, participant_id, participant_type, last_read_at
		 FROM conversation_participants WHERE conversation_id = $1
		 ORDER BY participant_type, participant_id`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("conversationRepo.ListParticipants query: %w", err)
	}
	defer rows.Close()

	out := make([]model.ConversationParticipant, 0, 2)
	for rows.Next() {
		var cp model.ConversationParticipant
		if err := rows.Scan(&cp.ID, &cp.ConversationID, &cp.ParticipantID, &cp.ParticipantType, &cp.LastReadAt); err != nil {
			return nil, fmt.Errorf("conversationRepo.ListParticipants scan: %w", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversationRepo.ListParticipants rows: %w", err)
	}
	return out, nil
}

func (r *ConversationRepository) ListConversationIDs(ctx context.Context, p model.Participant) ([]string, error) {
	defer logger.DeferLogDuration("conversation.ListConversationIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT conversation_id FROM conversation_participants
		 WHERE participant_id = $1 AND participant_type = $2`,
		p.ID, string(p.Role),
	)
	if err != nil {
		return nil, fmt.Errorf("conversationRepo.ListConversationIDs query: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("conversationRepo.ListConversationIDs rows: %w", err)
	}
	return ids, nil
}

// ListConversations returns p's conversations, most recently active first,
// with the last message and p's unread count.
func (r *ConversationRepository) ListConversations(ctx context.Context, p model.Participant) ([]model.ConversationSummary, error) {
	defer logger.DeferLogDuration("conversation.ListConversations", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+conversationCols+`,
		        lm.id, lm.seq, lm.sender_id, lm.sender_type, lm.content, lm.created_at,
		        COALESCE(uc.unread, 0)
		 FROM conversations c
		 JOIN conversation_participants me
		   ON me.conversation_id = c.id AND me.participant_id = $1 AND me.participant_type = $2
		 LEFT JOIN messages lm ON lm.id = c.last_message_id
		 LEFT JOIN LATERAL (
			SELECT COUNT(*) AS unread FROM messages m
			WHERE m.conversation_id = c.id
			  AND NOT (m.sender_id = $1 AND m.sender_type = $2)
			  AND NOT EXISTS (
				SELECT 1 FROM message_read_receipts rr
				WHERE rr.message_id = m.id AND rr.participant_id = $1 AND rr.participant_type = $2)
		 ) uc ON TRUE
		 ORDER BY c.updated_at DESC, c.id DESC`,
		p.ID, string(p.Role),
	)
	if err != nil {
		return nil, fmt.Errorf("conversationRepo.ListConversations query: %w", err)
	}
	defer rows.Close()

	summaries := make([]model.ConversationSummary, 0, 16)
	index := make(map[string]int, 16)
	for rows.Next() {
		var (
			s          model.ConversationSummary
			msgID      *string
			msgSeq     *int64
			senderID   *string
			senderType *string
			content    *string
			createdAt  *time.Time
		)
		if err := scanConversation(rows, &s.Conversation,
			&msgID, &msgSeq, &senderID, &senderType, &content, &createdAt, &s.UnreadCount); err != nil {
			return nil, fmt.Errorf("conversationRepo.ListConversations scan: %w", err)
		}
		if msgID != nil {
			s.LastMessage = &model.Message{
				ID:             *msgID,
				Seq:            *msgSeq,
				ConversationID: s.Conversation.ID,
				SenderID:       *senderID,
				SenderType:     model.ParticipantRole(*senderType),
				Content:        *content,
				CreatedAt:      *createdAt,
			}
		}
		index[s.Conversation.ID] = len(summaries)
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversationRepo.ListConversations rows: %w", err)
	}
	if len(summaries) == 0 {
		return summaries, nil
	}

	ids := make([]string, 0, len(summaries))
	for id := range index {
		ids = append(ids, id)
	}
	prow, err := r.pool.Query(ctx,
		`SELECT id, conversation_id, participant_id, participant_type, last_read_at
		 FROM conversation_participants WHERE conversation_id = ANY($1::uuid[])`, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("conversationRepo.ListConversations participants: %w", err)
	}
	defer prow.Close()
	for prow.Next() {
		var cp model.ConversationParticipant
		if err := prow.Scan(&cp.ID, &cp.ConversationID, &cp.ParticipantID, &cp.ParticipantType, &cp.LastReadAt); err != nil {
			return nil, fmt.Errorf("conversationRepo.ListConversations participants scan: %w", err)
		}
		i := index[cp.ConversationID]
		summaries[i].Participants = append(summaries[i].Participants, cp)
	}
	if err := prow.Err(); err != nil {
		return nil, fmt.Errorf("conversationRepo.ListConversations participants rows: %w", err)
	}
	return summaries, nil
}
