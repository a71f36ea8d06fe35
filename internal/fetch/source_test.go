package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/multierr"
)

func TestReader_ReadKeepsOrderAndDedupes(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		switch r.URL.Path {
		case "/a":
			_, _ = w.Write([]byte("A"))
		case "/b":
			_, _ = w.Write([]byte("B"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	dir := t.TempDir()
	local := filepath.Join(dir, "local.txt")
	if err := os.WriteFile(local, []byte("L"), 0o644); err != nil {
		t.Fatalf("write local: %v", err)
	}

	r := NewReader(ReaderOptions{Concurrency: 2}, nil)
	got := r.Read(context.Background(), []string{
		ts.URL + "/a",
		" " + ts.URL + "/b ",
		ts.URL + "/a",
		ts.URL + "/missing",
		local,
		"",
	})

	if len(got) != 4 {
		t.Fatalf("len=%d, want=4", len(got))
	}
	wantText := []string{"A", "B", "", "L"}
	wantOK := []bool{true, true, false, true}
	for i := range got {
		if got[i].Text != wantText[i] || got[i].OK != wantOK[i] {
			t.Fatalf("[%d] text=%q ok=%v, want=%q/%v", i, got[i].Text, got[i].OK, wantText[i], wantOK[i])
		}
	}
	if got[1].ID != ts.URL+"/b" {
		t.Fatalf("id=%q, want trimmed location", got[1].ID)
	}
	if n := atomic.LoadInt32(&hits); n != 3 {
		t.Fatalf("hits=%d, want=3", n)
	}

	err := Errors(got)
	if len(multierr.Errors(err)) != 1 {
		t.Fatalf("errors=%v, want exactly one", err)
	}
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Upstream != http.StatusNotFound {
		t.Fatalf("aggregated error=%v, want the 404 FetchError", err)
	}
}

func TestReader_ReadMissingLocalFile(t *testing.T) {
	r := NewReader(ReaderOptions{}, nil)
	got := r.Read(context.Background(), []string{filepath.Join(t.TempDir(), "nope.txt")})
	if len(got) != 1 || got[0].OK {
		t.Fatalf("got=%+v, want one failed source", got)
	}
	var fe *FetchError
	if !errors.As(got[0].Err, &fe) {
		t.Fatalf("expected *FetchError, got %T", got[0].Err)
	}
	if fe.AppError.Code != "SOURCE_NOT_FOUND" {
		t.Fatalf("code=%q, want=%q", fe.AppError.Code, "SOURCE_NOT_FOUND")
	}
}

func TestReader_ResolveLocations(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/list" {
			_, _ = w.Write([]byte("# sources\nhttps://x.example/1\n\nhttps://x.example/2\nhttps://x.example/1\n"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	r := NewReader(ReaderOptions{}, nil)
	ctx := context.Background()

	locs, fallback, err := r.ResolveLocations(ctx, []string{"https://x.example/0"}, ts.URL+"/list", []string{"https://fb.example"}, nil)
	if err != nil || fallback {
		t.Fatalf("err=%v fallback=%v, want primary list", err, fallback)
	}
	want := "https://x.example/0,https://x.example/1,https://x.example/2"
	if strings.Join(locs, ",") != want {
		t.Fatalf("locations=%v, want=%s", locs, want)
	}

	locs, fallback, err = r.ResolveLocations(ctx, nil, ts.URL+"/gone", []string{"https://fb.example"}, []string{"https://cached.example"})
	if err == nil || !fallback {
		t.Fatalf("err=%v fallback=%v, want list error and fallback", err, fallback)
	}
	if strings.Join(locs, ",") != "https://fb.example,https://cached.example" {
		t.Fatalf("locations=%v", locs)
	}

	locs, fallback, err = r.ResolveLocations(ctx, nil, "", nil, []string{"https://cached.example"})
	if err != nil || !fallback || len(locs) != 1 {
		t.Fatalf("locs=%v fallback=%v err=%v, want cache only", locs, fallback, err)
	}
}

func TestSplitLines(t *testing.T) {
	got := SplitLines("\uFEFFa\r\n  # c\n\n b \n")
	if strings.Join(got, "|") != "a|b" {
		t.Fatalf("lines=%q, want=[a b]", got)
	}
}
