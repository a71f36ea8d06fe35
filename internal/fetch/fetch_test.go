package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

func TestFetchText_UnsupportedScheme(t *testing.T) {
	_, err := FetchText(context.Background(), KindSubscription, "file:///etc/passwd")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T: %v", err, err)
	}
	if fe.Temporary() {
		t.Fatalf("temporary=true, want=false")
	}
	if fe.AppError.Code != "INVALID_ARGUMENT" {
		t.Fatalf("code=%q, want=%q", fe.AppError.Code, "INVALID_ARGUMENT")
	}
	if fe.AppError.Stage != "fetch_sub" {
		t.Fatalf("stage=%q, want=%q", fe.AppError.Stage, "fetch_sub")
	}
}

func TestFetchText_TooLarge(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 32)))
	}))
	defer ts.Close()

	_, err := FetchTextWithOptions(context.Background(), KindSourceList, ts.URL, Options{MaxBytes: 10})
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T: %v", err, err)
	}
	if fe.AppError.Code != "TOO_LARGE" {
		t.Fatalf("code=%q, want=%q", fe.AppError.Code, "TOO_LARGE")
	}
	if fe.AppError.Stage != "fetch_source_list" {
		t.Fatalf("stage=%q, want=%q", fe.AppError.Stage, "fetch_source_list")
	}
}

func TestFetchText_InvalidUTF8(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 0xff is always invalid in UTF-8.
		_, _ = w.Write([]byte{0xff, 0xfe, 0xfd})
	}))
	defer ts.Close()

	_, err := FetchText(context.Background(), KindSourceList, ts.URL)
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T: %v", err, err)
	}
	if fe.AppError.Code != "FETCH_INVALID_UTF8" {
		t.Fatalf("code=%q, want=%q", fe.AppError.Code, "FETCH_INVALID_UTF8")
	}
	if fe.AppError.Stage != "fetch_source_list" {
		t.Fatalf("stage=%q, want=%q", fe.AppError.Stage, "fetch_source_list")
	}
}

func TestFetchText_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	_, err := FetchTextWithOptions(context.Background(), KindSubscription, ts.URL, Options{Timeout: 50 * time.Millisecond})
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T: %v", err, err)
	}
	if !fe.Temporary() {
		t.Fatalf("temporary=false, want=true")
	}
	if fe.AppError.Code != "FETCH_TIMEOUT" {
		t.Fatalf("code=%q, want=%q", fe.AppError.Code, "FETCH_TIMEOUT")
	}
	if fe.AppError.Stage != "fetch_sub" {
		t.Fatalf("stage=%q, want=%q", fe.AppError.Stage, "fetch_sub")
	}
}

func TestFetchText_TooManyRedirects(t *testing.T) {
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, ts.URL, http.StatusFound)
	}))
	defer ts.Close()

	_, err := FetchTextWithOptions(context.Background(), KindSubscription, ts.URL, Options{MaxRedirects: 2})
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T: %v", err, err)
	}
	if fe.AppError.Code != "FETCH_FAILED" {
		t.Fatalf("code=%q, want=%q", fe.AppError.Code, "FETCH_FAILED")
	}
}

func TestFetchText_RedirectToNonHTTP(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "file:///etc/passwd", http.StatusFound)
	}))
	defer ts.Close()

	_, err := FetchTextWithOptions(context.Background(), KindSubscription, ts.URL, Options{MaxRedirects: 5})
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T: %v", err, err)
	}
	if fe.Temporary() {
		t.Fatalf("temporary=true, want=false")
	}
	if fe.AppError.Code != "INVALID_ARGUMENT" {
		t.Fatalf("code=%q, want=%q", fe.AppError.Code, "INVALID_ARGUMENT")
	}
}

func TestFetchText_SendsBrowserUserAgent(t *testing.T) {
	var gotUA, gotAE string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAE = r.Header.Get("Accept-Encoding")
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	text, err := FetchText(context.Background(), KindSubscription, ts.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "ok" {
		t.Fatalf("text=%q, want=%q", text, "ok")
	}
	if gotUA != DefaultUserAgent {
		t.Fatalf("user-agent=%q, want=%q", gotUA, DefaultUserAgent)
	}
	if !strings.Contains(gotAE, "zstd") || !strings.Contains(gotAE, "gzip") {
		t.Fatalf("accept-encoding=%q, want gzip and zstd", gotAE)
	}
}

func TestFetchText_DecompressesBody(t *testing.T) {
	const payload = "ss://YWVzLTEyOC1nY206cGFzcw==@example.com:8388#Node%201\n"

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, _ = zw.Write([]byte(payload))
	_ = zw.Close()

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	zs := enc.EncodeAll([]byte(payload), nil)
	_ = enc.Close()

	bodies := map[string][]byte{"gzip": gz.Bytes(), "zstd": zs}
	for encoding, body := range bodies {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Encoding", encoding)
			_, _ = w.Write(body)
		}))
		text, err := FetchText(context.Background(), KindSubscription, ts.URL)
		ts.Close()
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", encoding, err)
		}
		if text != payload {
			t.Fatalf("%s: text=%q, want=%q", encoding, text, payload)
		}
	}
}

func TestFetchText_UpstreamStatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		temporary bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusNotFound, false},
		{http.StatusForbidden, false},
	}
	for _, tc := range cases {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		_, err := FetchText(context.Background(), KindSubscription, ts.URL)
		ts.Close()

		var fe *FetchError
		if !errors.As(err, &fe) {
			t.Fatalf("expected *FetchError, got %T: %v", err, err)
		}
		if fe.Upstream != tc.status {
			t.Fatalf("upstream=%d, want=%d", fe.Upstream, tc.status)
		}
		if fe.Temporary() != tc.temporary {
			t.Fatalf("status %d: temporary=%v, want=%v", tc.status, fe.Temporary(), tc.temporary)
		}
	}
}
