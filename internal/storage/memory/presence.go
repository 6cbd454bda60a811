package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gymhub/chat/internal/model"
)

const presenceTTL = 90 * time.Second

type presenceItem struct {
	exp      time.Time
	lastSeen *time.Time
}

// Presence хранит онлайн-статусы в памяти процесса (режим без Redis).
type Presence struct {
	mu    sync.RWMutex
	items map[string]presenceItem
	now   func() time.Time
}

func NewPresence() *Presence {
	return &Presence{
		items: make(map[string]presenceItem),
		now:   time.Now,
	}
}

func (c *Presence) Close() error { return nil }

func (c *Presence) SetOnline(ctx context.Context, p model.Participant) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it := c.items[p.Key()]
	it.exp = c.now().Add(presenceTTL)
	c.items[p.Key()] = it
	return nil
}

func (c *Presence) SetOffline(ctx context.Context, p model.Participant) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now().UTC()
	c.items[p.Key()] = presenceItem{lastSeen: &now}
	return nil
}

func (c *Presence) Touch(ctx context.Context, ps []model.Participant) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp := c.now().Add(presenceTTL)
	for _, p := range ps {
		it := c.items[p.Key()]
		it.exp = exp
		c.items[p.Key()] = it
	}
	return nil
}

func (c *Presence) Get(ctx context.Context, p model.Participant) (*model.Presence, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := &model.Presence{ParticipantID: p.ID, Role: p.Role, Status: model.StatusOffline}
	it, ok := c.items[p.Key()]
	if !ok {
		return out, nil
	}
	if c.now().Before(it.exp) {
		out.Status = model.StatusOnline
	}
	out.LastSeenAt = it.lastSeen
	return out, nil
}

func (c *Presence) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, it := range c.items {
		it.exp = time.Time{}
		c.items[k] = it
	}
	return nil
}
