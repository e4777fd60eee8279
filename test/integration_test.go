//go:build integration

package test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/FranksOps/imgfetch/internal/download"
	"github.com/FranksOps/imgfetch/internal/fetcher"
	"github.com/FranksOps/imgfetch/internal/fingerprint"
	"github.com/FranksOps/imgfetch/internal/search/google"
	"github.com/FranksOps/imgfetch/internal/storage"
	"github.com/FranksOps/imgfetch/internal/storage/sqlite"
	"github.com/FranksOps/imgfetch/pkg/proxy"
	"github.com/FranksOps/imgfetch/pkg/ratelimit"
	"github.com/FranksOps/imgfetch/pkg/useragent"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func writePNG(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/png")
	_ = imaging.Encode(w, imaging.New(40, 30, color.NRGBA{G: 255, A: 255}), imaging.PNG)
}

// cseHandler answers every search with the given image links.
func cseHandler(links func() []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var items []map[string]string
		for _, l := range links() {
			items = append(items, map[string]string{"link": l})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
	}
}

func newFetcher(t *testing.T, endpoint string, dl *download.Downloader, progress io.Writer, rec storage.Backend) *fetcher.ImageFetcher {
	t.Helper()
	provider, err := google.New(google.Config{Endpoint: endpoint, Downloader: dl, Logger: discard})
	if err != nil {
		t.Fatalf("google.New: %v", err)
	}
	f, err := fetcher.New(fetcher.Options{Provider: provider, Progress: progress, Logger: discard, Recorder: rec})
	if err != nil {
		t.Fatalf("fetcher.New: %v", err)
	}
	return f
}

func TestIntegration_StopsAtBlockedImage(t *testing.T) {
	var base string
	mux := http.NewServeMux()
	mux.HandleFunc("/customsearch/v1", cseHandler(func() []string {
		return []string{base + "/img/one.png", base + "/img/two.png", base + "/blocked/three.png", base + "/img/four.png"}
	}))
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) { writePNG(w) })
	mux.HandleFunc("/blocked/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "cloudflare")
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `<html><body>cf-browser-verification</body></html>`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()
	base = ts.URL

	rec, err := sqlite.New(filepath.Join(t.TempDir(), "manifest.db"))
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	defer rec.Close()

	dl, err := download.New(download.Config{Timeout: 5 * time.Second, Fingerprint: fingerprint.ProfileGo, Logger: discard})
	if err != nil {
		t.Fatalf("download.New: %v", err)
	}

	var progress bytes.Buffer
	out := filepath.Join(t.TempDir(), "out")
	f := newFetcher(t, ts.URL+"/customsearch/v1", dl, &progress, rec)

	_, err = f.FetchImages(context.Background(), "green squares", 4, out, "key", "cx")
	if !errors.Is(err, fetcher.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if !strings.Contains(err.Error(), "blocked by Cloudflare") {
		t.Errorf("expected block source in error, got %v", err)
	}

	if got := strings.Count(progress.String(), "Saved image"); got != 2 {
		t.Errorf("expected 2 progress lines, got %d:\n%s", got, progress.String())
	}
	entries, _ := os.ReadDir(out)
	if len(entries) != 2 {
		t.Errorf("expected 2 files, got %d", len(entries))
	}

	records, err := rec.Query(context.Background(), storage.Filter{Query: "green squares"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 manifest records, got %d", len(records))
	}
	if !records[0].Failed() || records[0].Index != 3 {
		t.Errorf("expected newest record to be the failed third image, got %+v", records[0])
	}
}

func TestIntegration_ProxyRotation(t *testing.T) {
	var proxyHits int32
	var mu sync.Mutex
	var agents []string
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&proxyHits, 1)
		mu.Lock()
		agents = append(agents, r.UserAgent())
		mu.Unlock()
		writePNG(w)
	}))
	defer proxySrv.Close()

	// Image hosts are not resolvable: only the proxy can serve them.
	cse := httptest.NewServer(cseHandler(func() []string {
		var links []string
		for i := 1; i <= 3; i++ {
			links = append(links, "http://images.example.invalid/pic"+strconv.Itoa(i)+".png")
		}
		return links
	}))
	defer cse.Close()

	pPool := proxy.NewPool(proxy.Config{})
	if err := pPool.Add(proxySrv.URL); err != nil {
		t.Fatal(err)
	}

	dl, err := download.New(download.Config{
		Timeout:     5 * time.Second,
		Fingerprint: fingerprint.ProfileGo,
		Proxies:     pPool,
		Agents:      useragent.NewPool([]string{"IntegrationTest-UA"}),
		Logger:      discard,
	})
	if err != nil {
		t.Fatalf("download.New: %v", err)
	}

	out := t.TempDir()
	f := newFetcher(t, cse.URL, dl, io.Discard, nil)
	run, err := f.FetchImages(context.Background(), "pics", 3, out, "key", "cx")
	if err != nil {
		t.Fatalf("FetchImages: %v", err)
	}

	if got := atomic.LoadInt32(&proxyHits); got != 3 {
		t.Errorf("expected 3 proxy hits, got %d", got)
	}
	mu.Lock()
	defer mu.Unlock()
	for _, ua := range agents {
		if ua != "IntegrationTest-UA" {
			t.Errorf("unexpected User-Agent %q", ua)
		}
	}
	for _, p := range run.Paths {
		img, err := imaging.Open(p)
		if err != nil {
			t.Fatalf("open %s: %v", p, err)
		}
		if b := img.Bounds(); b.Dx() != fetcher.Width || b.Dy() != fetcher.Height {
			t.Errorf("%s is %dx%d", p, b.Dx(), b.Dy())
		}
	}
}

func TestIntegration_RateLimitedDownloads(t *testing.T) {
	var base string
	mux := http.NewServeMux()
	mux.HandleFunc("/customsearch/v1", cseHandler(func() []string {
		return []string{base + "/img/a.png", base + "/img/b.png", base + "/img/c.png"}
	}))
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) { writePNG(w) })
	ts := httptest.NewServer(mux)
	defer ts.Close()
	base = ts.URL

	dl, err := download.New(download.Config{
		Timeout:     5 * time.Second,
		Fingerprint: fingerprint.ProfileGo,
		Limiter:     ratelimit.NewLimiter(10, 0),
		Logger:      discard,
	})
	if err != nil {
		t.Fatalf("download.New: %v", err)
	}

	f := newFetcher(t, ts.URL+"/customsearch/v1", dl, io.Discard, nil)
	start := time.Now()
	if _, err := f.FetchImages(context.Background(), "letters", 3, t.TempDir(), "key", "cx"); err != nil {
		t.Fatalf("FetchImages: %v", err)
	}

	// Three downloads at 10/s wait at least two intervals.
	if elapsed := time.Since(start); elapsed < 180*time.Millisecond {
		t.Errorf("expected paced downloads, finished in %s", elapsed)
	}
}
