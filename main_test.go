package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/internal/bookmark"
	"github.com/dgnsrekt/readaloud/internal/chunk"
	"github.com/dgnsrekt/readaloud/internal/clock"
	"github.com/dgnsrekt/readaloud/internal/content"
	"github.com/dgnsrekt/readaloud/internal/estimate"
	"github.com/dgnsrekt/readaloud/internal/playback"
	"github.com/dgnsrekt/readaloud/internal/speech/simulated"
)

const sample = "The first sentence is here. The second one follows it. And a third closes."

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestSourceFromArg(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "docs", "README.md"), "# Docs\n\nHello.")
	writeFile(t, filepath.Join(dir, "post.txt"), "Plain words.")

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "<p>From the web.</p>")
	}))
	defer ts.Close()

	tests := []struct {
		name    string
		arg     string
		want    string
		local   bool
		wantErr string
	}{
		{name: "file", arg: filepath.Join(dir, "post.txt"), want: "Plain words.", local: true},
		{name: "directory readme", arg: filepath.Join(dir, "docs"), want: "# Docs\n\nHello.", local: true},
		{name: "url", arg: ts.URL + "/post", want: "<p>From the web.</p>"},
		{name: "http error", arg: ts.URL + "/missing", wantErr: "HTTP status 404"},
		{name: "protocol", arg: "ftp://example.com/a.md", wantErr: "ftp is not a supported protocol"},
		{name: "missing file", arg: filepath.Join(dir, "nope.md"), wantErr: "unable to open file"},
		{name: "no readme", arg: t.TempDir(), wantErr: ErrNoSource.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := sourceFromArg(tt.arg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("sourceFromArg() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("sourceFromArg() error = %v", err)
			}
			if src.local() != tt.local {
				t.Errorf("local() = %v, want %v", src.local(), tt.local)
			}
			got, err := readSource(src)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("body = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateEngine(t *testing.T) {
	for _, name := range engineNames {
		if err := validateEngine(name); err != nil {
			t.Errorf("validateEngine(%q) error = %v", name, err)
		}
	}
	if err := validateEngine("espeak"); err == nil {
		t.Error("validateEngine(espeak) succeeded")
	}
}

func TestFormatClock(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "0:00"},
		{0.4, "0:00"},
		{65, "1:05"},
		{599.6, "10:00"},
		{3725, "1:02:05"},
	}
	for _, tt := range tests {
		if got := formatClock(tt.seconds); got != tt.want {
			t.Errorf("formatClock(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestPreview(t *testing.T) {
	if got := preview("one\n  two\tthree", 40); got != "one two three" {
		t.Errorf("preview() = %q", got)
	}
	got := preview(strings.Repeat("word ", 20), 12)
	if !strings.HasSuffix(got, "…") || len([]rune(got)) > 12 {
		t.Errorf("preview() = %q, want 12 cells ending in an ellipsis", got)
	}
}

func TestChunkTable(t *testing.T) {
	chunks := chunk.Split(sample, 40)
	out := chunkTable(chunks, estimate.New(chunks, 150))
	for _, want := range []string{"Words", "Length", "3 chunks", "And a third closes."} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	doc := content.Parse("# Title\n\nSome *words* here.")
	if err := writeText(&buf, doc, false); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(buf.String()); got != doc.Text {
		t.Errorf("writeText() = %q, want %q", got, doc.Text)
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	alpha := "# Alpha\n\nOne two three four five."
	writeFile(t, filepath.Join(dir, "alpha.md"), alpha)
	writeFile(t, filepath.Join(dir, "notes", "beta.txt"), "Beta has a few words too.")
	writeFile(t, filepath.Join(dir, "main.go"), "package main")

	marks := bookmark.NewMemory()
	ctx := context.Background()
	if err := marks.Save(ctx, bookmark.Bookmark{
		DocID:     bookmark.DocID(content.Parse(alpha).Text),
		Progress:  0.5,
		UpdatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	docs, err := discover(ctx, dir, false, marks, 150)
	if err != nil {
		t.Fatalf("discover() error = %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("discover() found %d documents, want 2: %+v", len(docs), docs)
	}
	byPath := map[string]docEntry{}
	for _, d := range docs {
		byPath[filepath.ToSlash(d.Path)] = d
	}
	a, ok := byPath["alpha.md"]
	if !ok {
		t.Fatalf("alpha.md missing: %+v", docs)
	}
	if a.Title != "Alpha" || !a.Saved || a.Progress != 0.5 || a.Seconds <= 0 {
		t.Errorf("alpha = %+v", a)
	}
	if b := byPath["notes/beta.txt"]; b.Saved {
		t.Errorf("beta has a bookmark: %+v", b)
	}

	if _, err := discover(ctx, filepath.Join(dir, "alpha.md"), false, marks, 150); err == nil {
		t.Error("discover() on a file succeeded")
	}
}

func TestFilterDocs(t *testing.T) {
	docs := []docEntry{
		{Path: "alpha.md", Title: "Alpha"},
		{Path: "notes/beta.txt"},
		{Path: "gamma.html", Title: "betamax history"},
	}
	if got := filterDocs(docs, "  "); len(got) != 3 {
		t.Errorf("empty filter kept %d, want 3", len(got))
	}
	got := filterDocs(docs, "beta")
	if len(got) != 2 {
		t.Fatalf("filter kept %d, want 2: %+v", len(got), got)
	}
	for _, d := range got {
		if d.Path == "alpha.md" {
			t.Errorf("alpha.md matched %q", "beta")
		}
	}
}

func TestImportBookmarks(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	marks := bookmark.NewMemory()
	if err := marks.Save(ctx, bookmark.Bookmark{DocID: "kept", Progress: 0.7, UpdatedAt: now}); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	err := bookmark.ExportTOML(&buf, []bookmark.Bookmark{
		{DocID: "kept", Progress: 0.1, UpdatedAt: now.Add(-time.Hour)},
		{DocID: "new", Title: "New one", Progress: 0.3, UpdatedAt: now},
		{Title: "no id"},
	})
	if err != nil {
		t.Fatal(err)
	}

	n, err := importBookmarks(ctx, marks, &buf)
	if err != nil {
		t.Fatalf("importBookmarks() error = %v", err)
	}
	if n != 1 {
		t.Errorf("imported %d, want 1", n)
	}
	if b, _ := marks.Get(ctx, "kept"); b.Progress != 0.7 {
		t.Errorf("kept progress = %v, want 0.7", b.Progress)
	}
	if b, err := marks.Get(ctx, "new"); err != nil || b.Title != "New one" {
		t.Errorf("new = %+v, %v", b, err)
	}

	if _, err := importBookmarks(ctx, marks, strings.NewReader("not = [toml")); err == nil {
		t.Error("importBookmarks() accepted broken input")
	}
}

func TestResolveDocID(t *testing.T) {
	ctx := context.Background()
	marks := bookmark.NewMemory()
	for _, id := range []string{"abc123", "abd456"} {
		if err := marks.Save(ctx, bookmark.Bookmark{DocID: id, UpdatedAt: time.Now()}); err != nil {
			t.Fatal(err)
		}
	}
	if id, err := resolveDocID(ctx, marks, "abc"); err != nil || id != "abc123" {
		t.Errorf("resolveDocID(abc) = %q, %v", id, err)
	}
	if _, err := resolveDocID(ctx, marks, "ab"); !errors.Is(err, errAmbiguousID) {
		t.Errorf("resolveDocID(ab) error = %v, want ambiguous", err)
	}
	if _, err := resolveDocID(ctx, marks, "zz"); !errors.Is(err, bookmark.ErrNotFound) {
		t.Errorf("resolveDocID(zz) error = %v, want not found", err)
	}
}

func TestBookmarkTable(t *testing.T) {
	now := time.Now()
	out := bookmarkTable([]bookmark.Bookmark{
		{DocID: "0123456789abcdef", Title: "Reading", Source: "article.md", Chunk: 1, Chunks: 3, Progress: 0.5, UpdatedAt: now.Add(-time.Hour)},
	}, now)
	for _, want := range []string{"01234567", "Reading", "article.md", "2/3", "50%", "1 hour ago"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func newTestEngine(t *testing.T) (*playback.Engine, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.Unix(0, 0))
	cfg := playback.DefaultConfig()
	cfg.MaxChunkLen = 40
	e, err := playback.New(simulated.New(fc), cfg, playback.WithClock(fc), playback.WithLogger(log.New(io.Discard)))
	if err != nil {
		t.Fatalf("playback.New() error = %v", err)
	}
	t.Cleanup(func() { _ = e.Destroy() })
	return e, fc
}

// drive advances the fake clock until errc yields.
func drive(t *testing.T, fc *clock.Fake, errc <-chan error) error {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-errc:
			return err
		case <-deadline:
			t.Fatal("playback did not finish")
		default:
			fc.Advance(100 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestReadThrough(t *testing.T) {
	e, fc := newTestEngine(t)
	if err := e.LoadText(sample); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	errc := make(chan error, 1)
	go func() { errc <- readThrough(context.Background(), e, &buf) }()
	if err := drive(t, fc, errc); err != nil {
		t.Fatalf("readThrough() error = %v", err)
	}

	want := "The first sentence is here.\nThe second one follows it.\nAnd a third closes.\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
	if st := e.GetState(); st.Phase != playback.PhaseIdle {
		t.Errorf("phase = %v, want idle", st.Phase)
	}
}

func TestRunHeadless_Resume(t *testing.T) {
	e, fc := newTestEngine(t)
	marks := bookmark.NewMemory()
	ctx := context.Background()
	if err := marks.Save(ctx, bookmark.Bookmark{
		DocID:     bookmark.DocID(content.Normalize(sample)),
		Chunk:     2,
		Chunks:    3,
		Progress:  0.9,
		UpdatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	resume = true
	t.Cleanup(func() { resume = false })

	var buf bytes.Buffer
	errc := make(chan error, 1)
	go func() { errc <- runHeadless(ctx, e, marks, sample, "sample", &buf) }()
	if err := drive(t, fc, errc); err != nil {
		t.Fatalf("runHeadless() error = %v", err)
	}
	if got := buf.String(); got != "And a third closes.\n" {
		t.Errorf("output = %q, want only the last chunk", got)
	}
}

func TestRunHeadless_InterruptSaves(t *testing.T) {
	e, fc := newTestEngine(t)
	marks := bookmark.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- runHeadless(ctx, e, marks, sample, "sample", io.Discard) }()

	deadline := time.After(5 * time.Second)
	for e.GetState().Phase != playback.PhasePlaying {
		select {
		case <-deadline:
			t.Fatal("never started playing")
		default:
			fc.Advance(10 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("runHeadless() error = %v", err)
	}

	b, err := marks.Get(context.Background(), bookmark.DocID(e.Text()))
	if err != nil {
		t.Fatalf("no bookmark saved: %v", err)
	}
	if b.Source != "sample" || b.Chunks != 3 {
		t.Errorf("bookmark = %+v", b)
	}
	if st := e.GetState(); st.Phase != playback.PhasePaused {
		t.Errorf("phase = %v, want paused", st.Phase)
	}
}

func TestRunHeadless_Empty(t *testing.T) {
	e, _ := newTestEngine(t)
	err := runHeadless(context.Background(), e, bookmark.NewMemory(), "   ", "blank", io.Discard)
	if err == nil {
		t.Fatal("runHeadless() with nothing to say succeeded")
	}
}

func TestServe_Shutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- serve(ctx, ln, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "ok")
		}))
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(body) != "ok" {
		t.Errorf("body = %q", body)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("serve() error = %v", err)
		}
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("serve() did not return after cancel")
	}
}

func TestSessionSimulated(t *testing.T) {
	s, err := openSession(sessionOptions{engine: "sim", clock: clock.NewFake(time.Unix(0, 0))})
	if err != nil {
		t.Fatalf("openSession() error = %v", err)
	}
	if s.lock != nil || s.cache != nil {
		t.Error("simulated session took the speaker lock or opened a cache")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := s.engine.Play(); !errors.Is(err, playback.ErrDestroyed) {
		t.Errorf("Play() after Close error = %v, want ErrDestroyed", err)
	}
}

func TestSpeakerLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speaker.lock")
	first := &session{}
	if err := first.acquireSpeaker(path); err != nil {
		t.Fatalf("first lock error = %v", err)
	}
	second := &session{}
	if err := second.acquireSpeaker(path); !errors.Is(err, ErrSpeakerBusy) {
		t.Fatalf("second lock error = %v, want ErrSpeakerBusy", err)
	}
	if err := first.release(); err != nil {
		t.Fatal(err)
	}
	if err := second.acquireSpeaker(path); err != nil {
		t.Fatalf("lock after release error = %v", err)
	}
	_ = second.release()
}
