package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gymhub/chat/internal/model"
)

// Онлайн-ключ живёт PresenceTTL и продлевается heartbeat-задачей; если процесс
// упал, статусы истекают сами. last_seen хранится 30 дней.
const (
	PresenceTTL = 90 * time.Second
	LastSeenTTL = 30 * 24 * time.Hour
)

const (
	onlinePrefix   = "presence:"
	lastSeenPrefix = "last_seen:"
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

// NewFromClient оборачивает готовый клиент (тесты, общий пул).
func NewFromClient(cli *redis.Client) *Client {
	return &Client{cli: cli}
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) SetOnline(ctx context.Context, p model.Participant) error {
	return c.cli.Set(ctx, onlinePrefix+p.Key(), string(model.StatusOnline), PresenceTTL).Err()
}

// SetOffline удаляет онлайн-ключ и запоминает время последнего визита.
func (c *Client) SetOffline(ctx context.Context, p model.Participant) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	_, err := c.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, onlinePrefix+p.Key())
		pipe.Set(ctx, lastSeenPrefix+p.Key(), now, LastSeenTTL)
		return nil
	})
	return err
}

func (c *Client) Touch(ctx context.Context, ps []model.Participant) error {
	if len(ps) == 0 {
		return nil
	}
	_, err := c.cli.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range ps {
			pipe.Set(ctx, onlinePrefix+p.Key(), string(model.StatusOnline), PresenceTTL)
		}
		return nil
	})
	return err
}

func (c *Client) Get(ctx context.Context, p model.Participant) (*model.Presence, error) {
	out := &model.Presence{ParticipantID: p.ID, Role: p.Role, Status: model.StatusOffline}
	n, err := c.cli.Exists(ctx, onlinePrefix+p.Key()).Result()
	if err != nil {
		return nil, err
	}
	if n > 0 {
		out.Status = model.StatusOnline
	}
	val, err := c.cli.Get(ctx, lastSeenPrefix+p.Key()).Result()
	if errors.Is(err, redis.Nil) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	if sec, perr := strconv.ParseInt(val, 10, 64); perr == nil {
		t := time.Unix(sec, 0).UTC()
		out.LastSeenAt = &t
	}
	return out, nil
}

// Reset удаляет все онлайн-ключи; вызывается при старте процесса.
func (c *Client) Reset(ctx context.Context) error {
	iter := c.cli.Scan(ctx, 0, onlinePrefix+"*", 200).Iterator()
	keys := make([]string, 0, 200)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == cap(keys) {
			if err := c.cli.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return c.cli.Del(ctx, keys...).Err()
	}
	return nil
}
