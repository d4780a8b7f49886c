package images

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestCache(t *testing.T) *DerivativeCache {
	t.Helper()
	c, err := NewDerivativeCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewDerivativeCache failed: %v", err)
	}
	return c
}

func TestCachePutGetRoundTrip(t *testing.T) {
	c := newTestCache(t)
	key := "abc_150x150_jpeg"

	if _, ok := c.Get(key, "jpeg"); ok {
		t.Fatal("Get before Put should miss")
	}
	if err := c.Put(key, "jpeg", []byte("rendered bytes")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, ok := c.Get(key, "jpeg")
	if !ok {
		t.Fatal("Get after Put should hit")
	}
	if !bytes.Equal(got, []byte("rendered bytes")) {
		t.Fatalf("cache returned %q", got)
	}
}

func TestCachePutOverwritesAndLeavesNoTempFiles(t *testing.T) {
	c := newTestCache(t)
	key := "abc_300x300_png"

	if err := c.Put(key, "png", []byte("first")); err != nil {
		t.Fatalf("first Put failed: %v", err)
	}
	if err := c.Put(key, "png", []byte("second")); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	got, ok := c.Get(key, "png")
	if !ok || string(got) != "second" {
		t.Fatalf("Get = (%q, %v), want the second write", got, ok)
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		t.Fatalf("read cache dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".render-") {
			t.Fatalf("temp file %q left behind", e.Name())
		}
	}
}

func TestCachePutSameKeyConcurrently(t *testing.T) {
	c := newTestCache(t)
	key := "ccc_800x800_webp"

	payloads := make([][]byte, 8)
	for i := range payloads {
		payloads[i] = bytes.Repeat([]byte{byte('a' + i)}, 512)
	}

	var wg sync.WaitGroup
	for i := range payloads {
		wg.Add(1)
		go func(data []byte) {
			defer wg.Done()
			if err := c.Put(key, "webp", data); err != nil {
				t.Errorf("Put failed: %v", err)
			}
		}(payloads[i])
	}
	wg.Wait()

	got, ok := c.Get(key, "webp")
	if !ok {
		t.Fatal("Get after concurrent Puts should hit")
	}
	intact := false
	for _, p := range payloads {
		if bytes.Equal(got, p) {
			intact = true
			break
		}
	}
	if !intact {
		t.Fatalf("cache entry holds %d bytes of interleaved writes", len(got))
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		t.Fatalf("read cache dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("cache dir holds %d files, want exactly 1", len(entries))
	}
}

func TestCachePurgeRemovesOnlyThatImage(t *testing.T) {
	c := newTestCache(t)

	puts := []struct{ key, format string }{
		{"aaa_150x150_jpeg", "jpeg"},
		{"aaa_300x300_png", "png"},
		{"bbb_150x150_jpeg", "jpeg"},
	}
	for _, p := range puts {
		if err := c.Put(p.key, p.format, []byte(p.key)); err != nil {
			t.Fatalf("Put %q failed: %v", p.key, err)
		}
	}

	if removed := c.Purge("aaa"); removed != 2 {
		t.Fatalf("Purge removed %d entries, want 2", removed)
	}
	if _, ok := c.Get("aaa_150x150_jpeg", "jpeg"); ok {
		t.Fatal("purged entry still readable")
	}
	if _, ok := c.Get("bbb_150x150_jpeg", "jpeg"); !ok {
		t.Fatal("unrelated entry was purged")
	}
	if removed := c.Purge("aaa"); removed != 0 {
		t.Fatalf("second Purge removed %d entries, want 0", removed)
	}
}

func TestCachePurgeMatchesIDLiterally(t *testing.T) {
	c := newTestCache(t)

	if err := c.Put("aaa_150x150_jpeg", "jpeg", []byte("a")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := c.Put("bbb_150x150_jpeg", "jpeg", []byte("b")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	for _, id := range []string{"*", "?bb", "[ab]aa"} {
		if removed := c.Purge(id); removed != 0 {
			t.Fatalf("Purge(%q) removed %d entries, want 0", id, removed)
		}
	}
	if _, ok := c.Get("aaa_150x150_jpeg", "jpeg"); !ok {
		t.Fatal("aaa entry gone after metacharacter purges")
	}
	if _, ok := c.Get("bbb_150x150_jpeg", "jpeg"); !ok {
		t.Fatal("bbb entry gone after metacharacter purges")
	}
}

func TestCacheFilenameJoinsKeyAndFormat(t *testing.T) {
	c := newTestCache(t)
	got := c.filename("id_10x10_gif", "gif")
	want := filepath.Join(c.dir, "id_10x10_gif.gif")
	if got != want {
		t.Fatalf("filename = %q, want %q", got, want)
	}
}
