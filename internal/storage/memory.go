package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"gamefeeds/internal/bot"
)

type memoryStore struct {
	mu       sync.Mutex
	closed   bool
	channels map[string]bot.Channel
	dedup    map[string]int64 // unix milli
}

func newMemory() *memoryStore {
	return &memoryStore{
		channels: map[string]bot.Channel{},
		dedup:    map[string]int64{},
	}
}

func (s *memoryStore) Channels(ctx context.Context, platform string) ([]bot.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return channelsOf(s.channels, platform), nil
}

func (s *memoryStore) AddChannel(ctx context.Context, ch bot.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.channels[channelKey(ch.Platform, ch.ID)] = ch
	return nil
}

func (s *memoryStore) RemoveChannel(ctx context.Context, ch bot.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.channels, channelKey(ch.Platform, ch.ID))
	return nil
}

func (s *memoryStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.dedup[key] = until.UnixMilli()
	return nil
}

func (s *memoryStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return time.Time{}, false, ErrClosed
	}
	ms, ok := s.dedup[strings.TrimSpace(key)]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// channelsOf returns the channels of platform ordered by id.
func channelsOf(m map[string]bot.Channel, platform string) []bot.Channel {
	var out []bot.Channel
	for _, ch := range m {
		if ch.Platform == platform {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
