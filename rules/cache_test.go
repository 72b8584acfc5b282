package rules

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestCachePutGetDelete(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewCache(dir, "", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}

	rules := []Rule{{Selector: ".comments", Type: Exclude}}
	if err := cache.Put("WWW.Example.jp", rules, true); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "example.jp.json")); err != nil {
		t.Fatalf("expected rules file on disk: %v", err)
	}

	// A fresh cache must read the file back.
	fresh, _ := NewCache(dir, "", zaptest.NewLogger(t))
	s := fresh.Get("example.jp")
	if s == nil {
		t.Fatal("expected rules for example.jp")
	}
	if got := s.Rules(); len(got) != 1 || got[0].Selector != ".comments" {
		t.Errorf("unexpected rules: %+v", got)
	}

	domains, err := fresh.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	sort.Strings(domains)
	if len(domains) != 1 || domains[0] != "example.jp" {
		t.Errorf("expected [example.jp], got %v", domains)
	}

	if err := fresh.Delete("example.jp"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if fresh.Get("example.jp") != nil {
		t.Error("expected no rules after delete")
	}
}

func TestCacheForURL(t *testing.T) {
	dir := t.TempDir()
	global := filepath.Join(dir, "global.json")
	os.WriteFile(global, []byte(`[{"selector": "footer", "type": "exclude"}]`), 0644)

	cache, err := NewCache(filepath.Join(dir, "domains"), global, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	cache.Put("news.example.jp", []Rule{{Selector: "aside", Type: Exclude}}, false)

	if s := cache.ForURL("https://www.news.example.jp/article/1"); s.Rules()[0].Selector != "aside" {
		t.Errorf("expected domain rules, got %+v", s.Rules())
	}
	if s := cache.ForURL("https://other.example.jp/"); s.Source() != global {
		t.Errorf("expected global rules, got %q", s.Source())
	}

	noGlobal, _ := NewCache(filepath.Join(dir, "empty"), "", zaptest.NewLogger(t))
	if s := noGlobal.ForURL("file:///tmp/page.html"); s.Source() != "default" {
		t.Errorf("expected built-in rules, got %q", s.Source())
	}
}

func TestCacheRejectsBadDomainFile(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "broken.jp.json"), []byte(`not json`), 0644)
	cache, _ := NewCache(dir, "", zaptest.NewLogger(t))
	if cache.Get("broken.jp") != nil {
		t.Error("expected nil for unparsable domain rules")
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")
	os.WriteFile(path, []byte(`[]`), 0644)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Set, 1)
	errc := make(chan error, 1)
	go func() {
		errc <- Watch(ctx, path, zaptest.NewLogger(t), func(s *Set) {
			select {
			case got <- s:
			default:
			}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	os.WriteFile(path, []byte(`[{"selector": "nav", "type": "exclude"}]`), 0644)

	select {
	case s := <-got:
		if rs := s.Rules(); len(rs) != 1 || rs[0].Selector != "nav" {
			t.Errorf("unexpected reloaded rules: %+v", rs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Watch returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Watch did not stop after cancel")
	}
}
