package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gymhub/chat/internal/model"
	"github.com/gymhub/chat/internal/repository"
)

type receiptKey struct {
	messageID string
	member    string
}

// ChatStore — хранилище бесед, сообщений и отметок о прочтении в памяти.
// Используется в режиме -memory и в тестах; семантика совпадает с Postgres-репозиториями.
type ChatStore struct {
	mu       sync.RWMutex
	seq      int64
	convs    map[string]*model.Conversation
	direct   map[string]string
	members  map[string][]model.ConversationParticipant
	messages map[string]*model.Message
	byConv   map[string][]*model.Message
	receipts map[receiptKey]time.Time
}

func NewChatStore() *ChatStore {
	return &ChatStore{
		convs:    make(map[string]*model.Conversation),
		direct:   make(map[string]string),
		members:  make(map[string][]model.ConversationParticipant),
		messages: make(map[string]*model.Message),
		byConv:   make(map[string][]*model.Message),
		receipts: make(map[receiptKey]time.Time),
	}
}

func (s *ChatStore) FindDirect(ctx context.Context, directKey string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.direct[directKey]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *s.convs[id]
	return &c, nil
}

func (s *ChatStore) CreateDirect(ctx context.Context, a, b model.Participant) (*model.Conversation, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	key := model.DirectKey(a, b)
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.direct[key]; ok {
		c := *s.convs[id]
		return &c, false, nil
	}
	now := time.Now().UTC()
	c := &model.Conversation{
		ID:        uuid.New().String(),
		DirectKey: &key,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.convs[c.ID] = c
	s.direct[key] = c.ID
	for _, p := range []model.Participant{a, b} {
		s.members[c.ID] = append(s.members[c.ID], model.ConversationParticipant{
			ID:              uuid.New().String(),
			ConversationID:  c.ID,
			ParticipantID:   p.ID,
			ParticipantType: p.Role,
		})
	}
	out := *c
	return &out, true, nil
}

func (s *ChatStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (s *ChatStore) IsParticipant(ctx context.Context, conversationID string, p model.Participant) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isMember(conversationID, p), nil
}

func (s *ChatStore) isMember(conversationID string, p model.Participant) bool {
	return slices.ContainsFunc(s.members[conversationID], func(cp model.ConversationParticipant) bool {
		return cp.ParticipantID == p.ID && cp.ParticipantType == p.Role
	})
}

func (s *ChatStore) ListParticipants(ctx context.Context, conversationID string) ([]model.ConversationParticipant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.members[conversationID]), nil
}

func (s *ChatStore) ListConversationIDs(ctx context.Context, p model.Participant) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0)
	for id := range s.convs {
		if s.isMember(id, p) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *ChatStore) ListConversations(ctx context.Context, p model.Participant) ([]model.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ConversationSummary, 0)
	for id, c := range s.convs {
		if !s.isMember(id, p) {
			continue
		}
		sum := model.ConversationSummary{
			Conversation: *c,
			Participants: slices.Clone(s.members[id]),
			UnreadCount:  s.unreadIn(id, p),
		}
		if c.LastMessageID != nil {
			m := *s.messages[*c.LastMessageID]
			sum.LastMessage = &m
		}
		out = append(out, sum)
	}
	slices.SortFunc(out, func(a, b model.ConversationSummary) int {
		if c := b.Conversation.UpdatedAt.Compare(a.Conversation.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.Conversation.ID, a.Conversation.ID)
	})
	return out, nil
}

func (s *ChatStore) AppendMessage(ctx context.Context, m *model.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[m.ConversationID]
	if !ok {
		return repository.ErrNotFound
	}
	s.seq++
	m.Seq = s.seq
	stored := *m
	s.messages[m.ID] = &stored
	s.byConv[m.ConversationID] = append(s.byConv[m.ConversationID], &stored)
	c.LastMessageID = &stored.ID
	c.UpdatedAt = m.CreatedAt
	return nil
}

func (s *ChatStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *m
	return &out, nil
}

func (s *ChatStore) ListMessages(ctx context.Context, q repository.MessageQuery) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.byConv[q.ConversationID]
	out := make([]model.Message, 0, q.Limit)
	if q.AfterSeq > 0 {
		for _, m := range all {
			if m.Seq > q.AfterSeq {
				out = append(out, *m)
				if len(out) == q.Limit {
					break
				}
			}
		}
		return out, nil
	}
	for i := len(all) - 1; i >= 0; i-- {
		m := all[i]
		if q.BeforeSeq > 0 && m.Seq >= q.BeforeSeq {
			continue
		}
		out = append(out, *m)
		if len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (s *ChatStore) UpsertReceipt(ctx context.Context, r model.MessageReadReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := model.Participant{ID: r.ParticipantID, Role: r.ParticipantType}
	s.receipts[receiptKey{messageID: r.MessageID, member: p.Key()}] = r.ReadAt
	if m, ok := s.messages[r.MessageID]; ok {
		s.bumpLastRead(m.ConversationID, p, r.ReadAt)
	}
	return nil
}

func (s *ChatStore) MarkConversationRead(ctx context.Context, conversationID string, p model.Participant, at time.Time) (int, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		n    int
		last string
	)
	for _, m := range s.byConv[conversationID] {
		if m.SenderID == p.ID && m.SenderType == p.Role {
			continue
		}
		s.receipts[receiptKey{messageID: m.ID, member: p.Key()}] = at
		n++
		last = m.ID
	}
	s.bumpLastRead(conversationID, p, at)
	return n, last, nil
}

func (s *ChatStore) bumpLastRead(conversationID string, p model.Participant, at time.Time) {
	list := s.members[conversationID]
	for i := range list {
		cp := &list[i]
		if cp.ParticipantID != p.ID || cp.ParticipantType != p.Role {
			continue
		}
		if cp.LastReadAt == nil || cp.LastReadAt.Before(at) {
			t := at
			cp.LastReadAt = &t
		}
	}
}

func (s *ChatStore) UnreadCount(ctx context.Context, p model.Participant) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for id := range s.convs {
		if s.isMember(id, p) {
			n += s.unreadIn(id, p)
		}
	}
	return n, nil
}

func (s *ChatStore) unreadIn(conversationID string, p model.Participant) int {
	n := 0
	key := p.Key()
	for _, m := range s.byConv[conversationID] {
		if m.SenderID == p.ID && m.SenderType == p.Role {
			continue
		}
		if _, ok := s.receipts[receiptKey{messageID: m.ID, member: key}]; !ok {
			n++
		}
	}
	return n
}

// ReceiptCount возвращает число отметок о прочтении (для тестов идемпотентности).
func (s *ChatStore) ReceiptCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.receipts)
}

// MessageCount возвращает число сохранённых сообщений.
func (s *ChatStore) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
