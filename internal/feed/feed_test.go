package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"

	"gamefeeds/internal/notification"
	"gamefeeds/internal/notifier"
	"gamefeeds/internal/storage"
	logx "gamefeeds/pkg/logx"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func rss(items ...string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>Factorio News</title><link>https://factorio.example/news</link>
` + strings.Join(items, "\n") + `
</channel></rss>`
}

func rssItem(title, link string, published time.Time, desc string) string {
	return fmt.Sprintf(`<item><title>%s</title><link>%s</link><pubDate>%s</pubDate><description><![CDATA[%s]]></description></item>`,
		title, link, published.Format(time.RFC1123Z), desc)
}

type recorder struct {
	mu      sync.Mutex
	got     []notification.Notification
	fail    error
	partial bool // record n but report that some channels were dropped
}

func (r *recorder) Publish(_ context.Context, n notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.got = append(r.got, n)
	if r.partial {
		return &notifier.PartialError{Queued: 1, Dropped: 1}
	}
	return nil
}

func (r *recorder) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.got))
	for _, n := range r.got {
		out = append(out, n.Title.Text)
	}
	return out
}

type feedBody struct {
	mu sync.Mutex
	s  string
}

func (b *feedBody) set(s string) {
	b.mu.Lock()
	b.s = s
	b.mu.Unlock()
}

func (b *feedBody) get() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.s
}

func newTestPoller(t *testing.T, initial string) (*Poller, *recorder, *feedBody) {
	t.Helper()
	body := &feedBody{s: initial}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			http.Error(w, "nope", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(body.get()))
	}))
	t.Cleanup(srv.Close)

	st, err := storage.Open(storage.Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	rec := &recorder{}
	p := New(Config{DedupWindow: 7 * 24 * time.Hour}, st, rec, logx.Nop())
	p.now = func() time.Time { return testNow }
	p.SetSources([]Source{{
		Game: notification.Game{Name: "factorio", Label: "Factorio"},
		URLs: []string{srv.URL + "/broken", srv.URL + "/rss"},
	}})
	return p, rec, body
}

func TestPollPublishesNewItemsOnce(t *testing.T) {
	t.Parallel()
	body := rss(
		rssItem("Patch 2", "https://factorio.example/p2", testNow.Add(-time.Hour), "<p>Second</p>"),
		rssItem("Patch 1", "https://factorio.example/p1", testNow.Add(-2*time.Hour), "<p>First</p>"),
		rssItem("Ancient", "https://factorio.example/p0", testNow.Add(-30*24*time.Hour), "old"),
	)
	p, rec, feed := newTestPoller(t, body)
	ctx := context.Background()

	if got := p.Poll(ctx); got != 2 {
		t.Fatalf("first Poll = %d, want 2", got)
	}
	if got := strings.Join(rec.titles(), ","); got != "Patch 1,Patch 2" {
		t.Fatalf("published = %s", got)
	}
	if got := p.Poll(ctx); got != 0 {
		t.Fatalf("second Poll = %d, want 0", got)
	}

	feed.set(rss(rssItem("Patch 3", "https://factorio.example/p3", testNow, "third")))
	if got := p.Poll(ctx); got != 1 {
		t.Fatalf("third Poll = %d, want 1", got)
	}
}

func TestPollRetriesFailedPublish(t *testing.T) {
	t.Parallel()
	body := rss(rssItem("Patch", "https://factorio.example/p", testNow, ""))
	p, rec, _ := newTestPoller(t, body)
	ctx := context.Background()

	rec.fail = errors.New("queue full")
	if got := p.Poll(ctx); got != 0 {
		t.Fatalf("Poll with failing publisher = %d", got)
	}
	rec.fail = nil
	if got := p.Poll(ctx); got != 1 {
		t.Fatalf("Poll after recovery = %d, want 1", got)
	}
}

func TestPollMarksPartialPublishSeen(t *testing.T) {
	t.Parallel()
	body := rss(rssItem("Patch", "https://factorio.example/p", testNow, ""))
	p, rec, _ := newTestPoller(t, body)
	ctx := context.Background()

	rec.partial = true
	if got := p.Poll(ctx); got != 1 {
		t.Fatalf("Poll with partial publish = %d, want 1", got)
	}
	rec.partial = false
	if got := p.Poll(ctx); got != 0 {
		t.Fatalf("second Poll = %d, want 0", got)
	}
	if got := rec.titles(); len(got) != 1 {
		t.Fatalf("published = %v, want one delivery", got)
	}
}

func TestPollRetriesQueueFull(t *testing.T) {
	t.Parallel()
	body := rss(rssItem("Patch", "https://factorio.example/p", testNow, ""))
	p, rec, _ := newTestPoller(t, body)
	ctx := context.Background()

	rec.fail = notifier.ErrQueueFull
	if got := p.Poll(ctx); got != 0 {
		t.Fatalf("Poll with full queue = %d", got)
	}
	rec.fail = nil
	if got := p.Poll(ctx); got != 1 {
		t.Fatalf("Poll after queue drained = %d, want 1", got)
	}
}

func TestPollCapsBacklog(t *testing.T) {
	t.Parallel()
	var items []string
	for i := 0; i < maxItemsPerFeed+3; i++ {
		items = append(items, rssItem(fmt.Sprintf("Item %d", i), fmt.Sprintf("https://x/%d", i), testNow.Add(-time.Duration(i)*time.Minute), ""))
	}
	body := rss(items...)
	p, rec, _ := newTestPoller(t, body)

	if got := p.Poll(context.Background()); got != maxItemsPerFeed {
		t.Fatalf("Poll = %d, want %d", got, maxItemsPerFeed)
	}
	titles := rec.titles()
	if titles[len(titles)-1] != "Item 0" {
		t.Fatalf("newest item not last: %v", titles)
	}
	if got := p.Poll(context.Background()); got != 0 {
		t.Fatalf("skipped backlog republished: %d", got)
	}
}

func TestConvert(t *testing.T) {
	t.Parallel()
	f, err := gofeed.NewParser().ParseString(`<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>RimWorld</title>
  <link href="https://ludeon.example/"/>
  <entry>
    <title> Update 1.5 </title>
    <link href="https://ludeon.example/1.5"/>
    <author><name>Tynan</name></author>
    <updated>2026-03-01T10:00:00Z</updated>
    <summary type="html">&lt;p&gt;Big &amp;amp; shiny&lt;/p&gt;&lt;p&gt;Second   line&lt;/p&gt;</summary>
  </entry>
</feed>`)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	game := notification.Game{Name: "rimworld", Label: "RimWorld"}
	n := Convert(game, f, f.Items[0], testNow)

	if n.Title != (notification.Link{Text: "Update 1.5", URL: "https://ludeon.example/1.5"}) {
		t.Fatalf("Title = %+v", n.Title)
	}
	if n.Author.Text != "Tynan" {
		t.Fatalf("Author = %+v", n.Author)
	}
	if n.Content != "Big & shiny\nSecond line" {
		t.Fatalf("Content = %q", n.Content)
	}
	if !n.Published.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("Published = %v", n.Published)
	}
	if n.Key() != "rimworld|https://ludeon.example/1.5" {
		t.Fatalf("Key = %q", n.Key())
	}
}

func TestConvertFallsBackToFeedAuthor(t *testing.T) {
	t.Parallel()
	f := &gofeed.Feed{Title: "Factorio News", Link: "https://factorio.example/news"}
	item := &gofeed.Item{
		Link:       "https://factorio.example/p",
		Enclosures: []*gofeed.Enclosure{{URL: "https://cdn/x.png", Type: "image/png"}},
	}
	n := Convert(notification.Game{Name: "factorio"}, f, item, testNow)
	if n.Title.Text != "Untitled" {
		t.Fatalf("Title = %+v", n.Title)
	}
	if n.Author != (notification.Link{Text: "Factorio News", URL: "https://factorio.example/news"}) {
		t.Fatalf("Author = %+v", n.Author)
	}
	if n.Image != "https://cdn/x.png" {
		t.Fatalf("Image = %q", n.Image)
	}
	if !n.Published.Equal(testNow) {
		t.Fatalf("Published = %v", n.Published)
	}
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	for _, spec := range []string{"@every 10m", "*/5 * * * *", "0 */5 * * * *", "@hourly"} {
		if _, err := ParseSchedule(spec); err != nil {
			t.Errorf("ParseSchedule(%q): %v", spec, err)
		}
	}
	if _, err := ParseSchedule("soon"); err == nil {
		t.Error("expected error for invalid spec")
	}
}

func TestStartApplyStop(t *testing.T) {
	t.Parallel()
	body := rss()
	p, _, _ := newTestPoller(t, body)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Apply(Config{Schedule: "not a schedule"}); err == nil {
		t.Fatal("Apply accepted an invalid schedule")
	}
	if err := p.Apply(Config{Schedule: "@every 1h"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	p.Stop(stopCtx)
	p.Stop(stopCtx)
}
