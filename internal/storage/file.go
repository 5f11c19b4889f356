package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gamefeeds/internal/bot"
	logx "gamefeeds/pkg/logx"
)

// fileStore keeps everything in memory and mirrors it to disk.
//
// Files:
//   - <prefix>.channels.json       (rewritten on every change)
//   - <prefix>.dedup.snapshot.json (periodic snapshot)
//   - <prefix>.dedup.journal.jsonl (append-only journal)
//
// The journal is compacted into the snapshot every compactEvery writes.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	channelsPath string
	channels     map[string]bot.Channel

	dedupSnapshotPath string
	dedupJournalFile  *os.File
	dedup             map[string]int64 // unix milli
	dedupWrites       int
}

const compactEvery = 1000

type channelRecord struct {
	Platform string `json:"platform"`
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:               log,
		channelsPath:      prefix + ".channels.json",
		channels:          map[string]bot.Channel{},
		dedupSnapshotPath: prefix + ".dedup.snapshot.json",
		dedup:             map[string]int64{},
	}
	if err := s.loadChannels(); err != nil {
		return nil, err
	}

	journalPath := prefix + ".dedup.journal.jsonl"
	if err := loadDedupSnapshot(s.dedupSnapshotPath, s.dedup); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("dedup snapshot unreadable", logx.Err(err))
	}
	if err := replayDedupJournal(journalPath, s.dedup); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("dedup journal unreadable", logx.Err(err))
	}
	pruneExpiredDedup(s.dedup)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.dedupJournalFile = jf
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournalFile == nil {
		return nil
	}
	err := s.dedupJournalFile.Close()
	s.dedupJournalFile = nil
	return err
}

func (s *fileStore) Channels(ctx context.Context, platform string) ([]bot.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournalFile == nil {
		return nil, ErrClosed
	}
	return channelsOf(s.channels, platform), nil
}

func (s *fileStore) AddChannel(ctx context.Context, ch bot.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournalFile == nil {
		return ErrClosed
	}
	key := channelKey(ch.Platform, ch.ID)
	old, had := s.channels[key]
	s.channels[key] = ch
	if err := s.saveChannelsLocked(); err != nil {
		if had {
			s.channels[key] = old
		} else {
			delete(s.channels, key)
		}
		return err
	}
	return nil
}

func (s *fileStore) RemoveChannel(ctx context.Context, ch bot.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournalFile == nil {
		return ErrClosed
	}
	key := channelKey(ch.Platform, ch.ID)
	old, had := s.channels[key]
	if !had {
		return nil
	}
	delete(s.channels, key)
	if err := s.saveChannelsLocked(); err != nil {
		s.channels[key] = old
		return err
	}
	return nil
}

func (s *fileStore) loadChannels() error {
	b, err := os.ReadFile(s.channelsPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var recs []channelRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		return err
	}
	for _, r := range recs {
		s.channels[channelKey(r.Platform, r.ID)] = bot.Channel{Platform: r.Platform, ID: r.ID, Name: r.Name}
	}
	return nil
}

func (s *fileStore) saveChannelsLocked() error {
	recs := make([]channelRecord, 0, len(s.channels))
	for _, platform := range platformsOf(s.channels) {
		for _, ch := range channelsOf(s.channels, platform) {
			recs = append(recs, channelRecord{Platform: ch.Platform, ID: ch.ID, Name: ch.Name})
		}
	}
	return writeJSONAtomic(s.channelsPath, recs)
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournalFile == nil {
		return ErrClosed
	}
	s.dedup[key] = ms

	if err := json.NewEncoder(s.dedupJournalFile).Encode(dedupRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) compactLocked() error {
	pruneExpiredDedup(s.dedup)
	if err := writeJSONAtomic(s.dedupSnapshotPath, s.dedup); err != nil {
		return err
	}
	if err := s.dedupJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err := s.dedupJournalFile.Seek(0, io.SeekEnd)
	return err
}

func writeJSONAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func loadDedupSnapshot(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayDedupJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r dedupRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return sc.Err()
}

func pruneExpiredDedup(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, v := range m {
		if v < now {
			delete(m, k)
		}
	}
}

func platformsOf(m map[string]bot.Channel) []string {
	seen := map[string]bool{}
	var out []string
	for _, ch := range m {
		if !seen[ch.Platform] {
			seen[ch.Platform] = true
			out = append(out, ch.Platform)
		}
	}
	sort.Strings(out)
	return out
}
