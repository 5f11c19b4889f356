package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gamefeeds/internal/bot"
	logx "gamefeeds/pkg/logx"
)

func openTest(t *testing.T, driver string) (Store, Config) {
	t.Helper()
	cfg := Config{Driver: driver, Path: filepath.Join(t.TempDir(), "bot.db")}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, cfg
}

func TestStoreChannels(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"memory", "file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, _ := openTest(t, driver)

			for _, ch := range []bot.Channel{
				{Platform: "telegram", ID: "-200", Name: "Group"},
				{Platform: "telegram", ID: "-100"},
				{Platform: "discord", ID: "55", Name: "news"},
			} {
				if err := st.AddChannel(ctx, ch); err != nil {
					t.Fatalf("AddChannel: %v", err)
				}
			}
			if err := st.AddChannel(ctx, bot.Channel{Platform: "telegram", ID: "-100", Name: "News"}); err != nil {
				t.Fatalf("re-AddChannel: %v", err)
			}

			got, err := st.Channels(ctx, "telegram")
			if err != nil {
				t.Fatalf("Channels: %v", err)
			}
			want := []bot.Channel{
				{Platform: "telegram", ID: "-100", Name: "News"},
				{Platform: "telegram", ID: "-200", Name: "Group"},
			}
			if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
				t.Fatalf("Channels = %+v, want %+v", got, want)
			}

			if err := st.RemoveChannel(ctx, bot.Channel{Platform: "telegram", ID: "-100"}); err != nil {
				t.Fatalf("RemoveChannel: %v", err)
			}
			if err := st.RemoveChannel(ctx, bot.Channel{Platform: "telegram", ID: "missing"}); err != nil {
				t.Fatalf("RemoveChannel(missing): %v", err)
			}
			if got, _ := st.Channels(ctx, "telegram"); len(got) != 1 || got[0].ID != "-200" {
				t.Fatalf("after remove = %+v", got)
			}
			if got, _ := st.Channels(ctx, "discord"); len(got) != 1 {
				t.Fatalf("discord channels = %+v", got)
			}
		})
	}
}

func TestStoreDedup(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"memory", "file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, _ := openTest(t, driver)

			if _, ok, err := st.GetDedup(ctx, "factorio|https://x/1"); err != nil || ok {
				t.Fatalf("GetDedup before put = %v, %v", ok, err)
			}
			until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
			if err := st.PutDedup(ctx, "factorio|https://x/1", until); err != nil {
				t.Fatalf("PutDedup: %v", err)
			}
			got, ok, err := st.GetDedup(ctx, "factorio|https://x/1")
			if err != nil || !ok || !got.Equal(until) {
				t.Fatalf("GetDedup = %v, %v, %v; want %v", got, ok, err, until)
			}
			if err := st.PutDedup(ctx, "  ", until); err != nil {
				t.Fatalf("PutDedup(blank): %v", err)
			}
		})
	}
}

func TestPersistentDriversSurviveReopen(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			cfg := Config{Driver: driver, Path: filepath.Join(t.TempDir(), "bot.db")}
			st, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
			if err := st.AddChannel(ctx, bot.Channel{Platform: "discord", ID: "1", Name: "news"}); err != nil {
				t.Fatalf("AddChannel: %v", err)
			}
			if err := st.PutDedup(ctx, "k", until); err != nil {
				t.Fatalf("PutDedup: %v", err)
			}
			if err := st.PutDedup(ctx, "expired", time.Now().Add(-time.Hour)); err != nil {
				t.Fatalf("PutDedup: %v", err)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			st, err = Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer st.Close()
			chs, err := st.Channels(ctx, "discord")
			if err != nil || len(chs) != 1 || chs[0].Name != "news" {
				t.Fatalf("Channels after reopen = %+v, %v", chs, err)
			}
			if got, ok, _ := st.GetDedup(ctx, "k"); !ok || !got.Equal(until) {
				t.Fatalf("GetDedup after reopen = %v, %v", got, ok)
			}
		})
	}
}

func TestClosedStore(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = st.Close()
	if _, err := st.Channels(context.Background(), "telegram"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Channels after Close = %v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for file driver without path")
	}
}
