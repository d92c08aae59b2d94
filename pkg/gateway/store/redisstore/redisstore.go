// Package redisstore keeps interactions and events in Redis lists.
//
// Interactions for a user live newest-first in friday:interactions:{user}
// with a separate counter, so trimming old entries never changes the count.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/store"
)

const (
	defaultPrefix     = "friday"
	defaultMaxPerUser = 1000
	defaultMaxEvents  = 10000
)

type Options struct {
	Prefix     string
	MaxPerUser int64
	MaxEvents  int64
}

type Store struct {
	client     *redis.Client
	prefix     string
	maxPerUser int64
	maxEvents  int64
}

var _ store.Store = (*Store)(nil)

func New(client *redis.Client, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.MaxPerUser <= 0 {
		opts.MaxPerUser = defaultMaxPerUser
	}
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = defaultMaxEvents
	}
	return &Store{client: client, prefix: opts.Prefix, maxPerUser: opts.MaxPerUser, maxEvents: opts.MaxEvents}
}

// Open parses a redis:// URL and pings the server before returning.
func Open(ctx context.Context, rawURL string, opts Options) (*Store, error) {
	ro, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(ro)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, opts), nil
}

func (s *Store) interactionsKey(userID string) string {
	return s.prefix + ":interactions:" + userID
}

func (s *Store) countKey(userID string) string {
	return s.prefix + ":interactions:" + userID + ":count"
}

func (s *Store) eventsKey() string {
	return s.prefix + ":events"
}

func (s *Store) AppendInteraction(ctx context.Context, in store.Interaction) error {
	if err := in.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode interaction: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.interactionsKey(in.UserID), payload)
		pipe.LTrim(ctx, s.interactionsKey(in.UserID), 0, s.maxPerUser-1)
		pipe.Incr(ctx, s.countKey(in.UserID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("append interaction: %w", err)
	}
	return nil
}

func (s *Store) RecentInteractions(ctx context.Context, userID string, limit int) ([]store.Interaction, error) {
	if limit <= 0 || limit > store.MaxRecent {
		limit = store.MaxRecent
	}
	raw, err := s.client.LRange(ctx, s.interactionsKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read interactions: %w", err)
	}
	out := make([]store.Interaction, 0, len(raw))
	for _, item := range raw {
		var in store.Interaction
		if err := json.Unmarshal([]byte(item), &in); err != nil {
			return nil, fmt.Errorf("decode interaction: %w", err)
		}
		out = append(out, in)
	}
	return out, nil
}

func (s *Store) CountInteractions(ctx context.Context, userID string) (int64, error) {
	n, err := s.client.Get(ctx, s.countKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read interaction count: %w", err)
	}
	return n, nil
}

func (s *Store) AppendEvent(ctx context.Context, ev store.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.eventsKey(), payload)
		pipe.LTrim(ctx, s.eventsKey(), 0, s.maxEvents-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
