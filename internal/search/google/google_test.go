package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/FranksOps/imgfetch/internal/download"
	"github.com/FranksOps/imgfetch/internal/fingerprint"
	"github.com/FranksOps/imgfetch/internal/search"
	"github.com/disintegration/imaging"
)

// fakeCSE serves a Custom Search lookalike with total distinct images and
// the images themselves under /img/.
type fakeCSE struct {
	t     *testing.T
	total int
	dupe  bool // repeat the first link at the start of every page

	mu       sync.Mutex
	requests []map[string]string
}

func (f *fakeCSE) handler(base func() string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/customsearch/v1", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f.mu.Lock()
		got := map[string]string{}
		for k := range q {
			got[k] = q.Get(k)
		}
		f.requests = append(f.requests, got)
		f.mu.Unlock()

		if q.Get("key") == "bad" {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`)
			return
		}

		start, _ := strconv.Atoi(q.Get("start"))
		num, _ := strconv.Atoi(q.Get("num"))

		type img struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		}
		type it struct {
			Title string `json:"title"`
			Link  string `json:"link"`
			Image img    `json:"image"`
		}
		var items []it
		if f.dupe && start > 1 {
			items = append(items, it{Title: "dupe", Link: base() + "/img/1.png"})
		}
		for i := start; i < start+num && i <= f.total; i++ {
			items = append(items, it{
				Title: "image " + strconv.Itoa(i),
				Link:  base() + "/img/" + strconv.Itoa(i) + ".png",
				Image: img{Width: 64, Height: 48},
			})
		}

		resp := map[string]any{"items": items}
		if start+num <= f.total {
			resp["queries"] = map[string]any{"nextPage": []map[string]int{{"startIndex": start + num}}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		_ = imaging.Encode(&buf, imaging.New(64, 48, color.White), imaging.PNG)
		_, _ = w.Write(buf.Bytes())
	})
	return mux
}

func newTestProvider(t *testing.T, f *fakeCSE) (*Provider, *httptest.Server) {
	t.Helper()
	var ts *httptest.Server
	ts = httptest.NewServer(f.handler(func() string { return ts.URL }))
	t.Cleanup(ts.Close)

	dl, err := download.New(download.Config{Fingerprint: fingerprint.ProfileGo})
	if err != nil {
		t.Fatalf("downloader: %v", err)
	}
	p, err := New(Config{Endpoint: ts.URL + "/customsearch/v1", Downloader: dl})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	return p, ts
}

func request(t *testing.T, count int, key string) search.Request {
	t.Helper()
	r, err := search.NewRequest("lighthouses", count, search.Credentials{APIKey: key, EngineID: "engine-1"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return r
}

func TestSearch_Parameters(t *testing.T) {
	f := &fakeCSE{t: t, total: 3}
	p, _ := newTestProvider(t, f)

	results, err := p.Search(context.Background(), request(t, 3, "secret"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if len(f.requests) != 1 {
		t.Fatalf("expected a single API call, got %d", len(f.requests))
	}

	want := map[string]string{
		"key":        "secret",
		"cx":         "engine-1",
		"q":          "lighthouses",
		"searchType": "image",
		"fileType":   "png",
		"safe":       "off",
		"num":        "3",
		"start":      "1",
	}
	for k, v := range want {
		if got := f.requests[0][k]; got != v {
			t.Errorf("param %s = %q, want %q", k, got, v)
		}
	}
}

func TestSearch_Paging(t *testing.T) {
	f := &fakeCSE{t: t, total: 40}
	p, _ := newTestProvider(t, f)

	results, err := p.Search(context.Background(), request(t, 15, "k"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 15 {
		t.Fatalf("expected 15 results, got %d", len(results))
	}
	if len(f.requests) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(f.requests))
	}
	if f.requests[1]["start"] != "11" || f.requests[1]["num"] != "5" {
		t.Errorf("unexpected second page params %v", f.requests[1])
	}

	for i, r := range results {
		want := "/img/" + strconv.Itoa(i+1) + ".png"
		if got := r.SourceURL(); len(got) < len(want) || got[len(got)-len(want):] != want {
			t.Errorf("result %d: expected provider order, got %s", i, got)
		}
	}
}

func TestSearch_FewerThanRequested(t *testing.T) {
	f := &fakeCSE{t: t, total: 4}
	p, _ := newTestProvider(t, f)

	results, err := p.Search(context.Background(), request(t, 25, "k"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 4 {
		t.Errorf("expected the 4 available results, got %d", len(results))
	}
}

func TestSearch_NoResults(t *testing.T) {
	f := &fakeCSE{t: t, total: 0}
	p, _ := newTestProvider(t, f)

	results, err := p.Search(context.Background(), request(t, 5, "k"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestSearch_DropsDuplicates(t *testing.T) {
	f := &fakeCSE{t: t, total: 30, dupe: true}
	p, _ := newTestProvider(t, f)

	results, err := p.Search(context.Background(), request(t, 20, "k"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seen := map[string]bool{}
	for _, r := range results {
		if seen[r.SourceURL()] {
			t.Fatalf("duplicate link %s", r.SourceURL())
		}
		seen[r.SourceURL()] = true
	}
	if len(results) != 20 {
		t.Errorf("expected 20 distinct results, got %d", len(results))
	}
}

func TestSearch_APIError(t *testing.T) {
	f := &fakeCSE{t: t, total: 5}
	p, _ := newTestProvider(t, f)

	_, err := p.Search(context.Background(), request(t, 5, "bad"))

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.HTTPStatus != http.StatusForbidden || apiErr.Status != "PERMISSION_DENIED" {
		t.Errorf("unexpected api error %+v", apiErr)
	}
}

func TestSearch_InvalidRequest(t *testing.T) {
	f := &fakeCSE{t: t, total: 5}
	p, _ := newTestProvider(t, f)

	_, err := p.Search(context.Background(), search.Request{Query: "x", Count: 0})
	if !errors.Is(err, search.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if len(f.requests) != 0 {
		t.Errorf("expected no API call, got %d", len(f.requests))
	}
}

func TestImage_DownloadAndResize(t *testing.T) {
	f := &fakeCSE{t: t, total: 1}
	p, _ := newTestProvider(t, f)

	results, err := p.Search(context.Background(), request(t, 1, "k"))
	if err != nil || len(results) != 1 {
		t.Fatalf("search: %v (%d results)", err, len(results))
	}

	res := results[0]
	if err := res.Resize(500, 500); err == nil {
		t.Fatal("expected resize before download to fail")
	}

	dir := t.TempDir()
	path, err := res.Download(context.Background(), dir)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if res.Path() != path {
		t.Errorf("Path() = %s, want %s", res.Path(), path)
	}
	if err := res.Resize(500, 500); err != nil {
		t.Fatalf("resize: %v", err)
	}

	img, err := imaging.Open(res.Path())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 500 || b.Dy() != 500 {
		t.Errorf("expected 500x500, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestNew_RequiresDownloader(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without downloader")
	}
}
