package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/FranksOps/imgfetch/internal/fetcher"
)

// newSearchServer fakes the Custom Search API with total png results.
func newSearchServer(t *testing.T, total int) *httptest.Server {
	t.Helper()
	var ts *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/customsearch/v1", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("key") != "test-key" || q.Get("cx") != "test-cx" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`)
			return
		}
		start, _ := strconv.Atoi(q.Get("start"))
		num, _ := strconv.Atoi(q.Get("num"))
		var items []map[string]string
		for i := start; i < start+num && i <= total; i++ {
			items = append(items, map[string]string{"link": ts.URL + "/img/photo" + strconv.Itoa(i) + ".png"})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		img := imaging.New(90, 60, color.NRGBA{B: 255, A: 255})
		w.Header().Set("Content-Type", "image/png")
		_ = imaging.Encode(w, img, imaging.PNG)
	})
	ts = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	chdir(t, t.TempDir())
	buf := new(bytes.Buffer)
	cmd := NewRootCmd()
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCmd_Help(t *testing.T) {
	out, err := execute(t, "--help")
	if err != nil {
		t.Fatalf("--help failed: %v", err)
	}
	for _, want := range []string{"imgfetch", "num_images", "--manifest", "--summary"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected help output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestRootCmd_Args(t *testing.T) {
	cases := map[string][]string{
		"too few":      {"cats", "3", "out", "key"},
		"too many":     {"cats", "3", "out", "key", "cx", "extra"},
		"not a number": {"cats", "three", "out", "key", "cx"},
		"zero":         {"cats", "0", "out", "key", "cx"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := execute(t, args...); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	_, err := execute(t, "--", "cats", "-2", "out", "key", "cx")
	if !errors.Is(err, fetcher.ErrInvalidArgument) {
		t.Errorf("negative count err = %v, want ErrInvalidArgument", err)
	}
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	_, err := execute(t, "cats", "1", "out", "k", "c", "--log-level", "loud")
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Fatalf("err = %v, want config error", err)
	}
}

func TestRootCmd_FetchesImages(t *testing.T) {
	ts := newSearchServer(t, 12)
	dir := t.TempDir()
	out := filepath.Join(dir, "pictures", "cats")
	manifest := filepath.Join(dir, "manifest.jsonl")

	stdout, err := execute(t, "cats", "3", out, "test-key", "test-cx",
		"--endpoint", ts.URL+"/customsearch/v1",
		"--manifest", "json",
		"--manifest-dsn", manifest,
		"--summary", "json",
	)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	for i := 1; i <= 3; i++ {
		want := fmt.Sprintf("Saved image %d to %s\n", i, out)
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}
	if !strings.Contains(stdout, `"Saved": 3`) {
		t.Errorf("expected json summary, got:\n%s", stdout)
	}

	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("files = %d, want 3", len(entries))
	}
	for _, e := range entries {
		img, err := imaging.Open(filepath.Join(out, e.Name()))
		if err != nil {
			t.Fatalf("open %s: %v", e.Name(), err)
		}
		if b := img.Bounds(); b.Dx() != 500 || b.Dy() != 500 {
			t.Errorf("%s is %dx%d, want 500x500", e.Name(), b.Dx(), b.Dy())
		}
	}

	data, err := os.ReadFile(manifest)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if n := strings.Count(string(data), "\n"); n != 3 {
		t.Errorf("manifest lines = %d, want 3", n)
	}
}

func TestRootCmd_ProviderError(t *testing.T) {
	ts := newSearchServer(t, 5)
	out := filepath.Join(t.TempDir(), "out")

	stdout, err := execute(t, "cats", "2", out, "wrong-key", "test-cx",
		"--endpoint", ts.URL+"/customsearch/v1",
		"--summary", "text",
	)
	if !errors.Is(err, fetcher.ErrProvider) {
		t.Fatalf("err = %v, want ErrProvider", err)
	}
	if !strings.Contains(err.Error(), "API key not valid") {
		t.Errorf("err = %v, want API message", err)
	}
	if strings.Contains(stdout, "Saved image") {
		t.Errorf("unexpected progress:\n%s", stdout)
	}
	if !strings.Contains(stdout, "0 processed") {
		t.Errorf("expected empty text summary, got:\n%s", stdout)
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
