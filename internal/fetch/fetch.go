package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/John-Robertt/nodesift/internal/model"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

type Kind int

const (
	KindSubscription Kind = iota
	KindSourceList
)

func (k Kind) stage() string {
	switch k {
	case KindSubscription:
		return "fetch_sub"
	case KindSourceList:
		return "fetch_source_list"
	default:
		return "fetch"
	}
}

func (k Kind) defaultMaxBytes() int64 {
	switch k {
	case KindSubscription:
		return 5 * 1024 * 1024
	case KindSourceList:
		return 256 * 1024
	default:
		return 1 * 1024 * 1024
	}
}

// DefaultUserAgent is sent when Options.UserAgent is empty. Several
// subscription hosts reject non-browser agents outright.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

type Options struct {
	Timeout      time.Duration // default 15s
	MaxBytes     int64         // default per kind, applied after decompression
	MaxRedirects int           // default 5
	UserAgent    string
	Transport    http.RoundTripper // default http.DefaultTransport
}

type FetchError struct {
	// Upstream is the HTTP status the server answered with, 0 when there was
	// no response.
	Upstream  int
	AppError  model.AppError
	Cause     error
	temporary bool
}

func (e *FetchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// Temporary reports whether retrying the same request may succeed: timeouts,
// transport failures, 5xx and 429.
func (e *FetchError) Temporary() bool { return e != nil && e.temporary }

func newFetchError(stage, rawURL, code, message string, cause error) *FetchError {
	return &FetchError{
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   stage,
			URL:     rawURL,
		},
		Cause: cause,
	}
}

var (
	errTooManyRedirects   = errors.New("too many redirects")
	errRedirectBadScheme  = errors.New("redirect target scheme is not http/https")
	errInvalidURLOrScheme = errors.New("invalid url or scheme")
)

func FetchText(ctx context.Context, kind Kind, rawURL string) (string, error) {
	return FetchTextWithOptions(ctx, kind, rawURL, Options{})
}

func FetchTextWithOptions(ctx context.Context, kind Kind, rawURL string, opt Options) (string, error) {
	stage := kind.stage()

	timeout := opt.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	maxRedirects := opt.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = 5
	}
	maxBytes := opt.MaxBytes
	if maxBytes == 0 {
		maxBytes = kind.defaultMaxBytes()
	}
	if maxBytes <= 0 {
		return "", newFetchError(stage, rawURL, "INVALID_ARGUMENT", "响应大小上限必须大于 0", nil)
	}
	userAgent := opt.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	transport := opt.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	u, err := url.Parse(rawURL)
	if err != nil || u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", newFetchError(stage, rawURL, "INVALID_ARGUMENT", "仅允许 http/https URL", errors.Join(errInvalidURLOrScheme, err))
	}

	client := &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// 1st redirect => len(via)==1, 5th redirect => len(via)==5.
			if len(via) > maxRedirects {
				return errTooManyRedirects
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return errRedirectBadScheme
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", newFetchError(stage, rawURL, "INVALID_ARGUMENT", "请求 URL 不合法", err)
	}
	req.Header.Set("User-Agent", userAgent)
	// Setting Accept-Encoding by hand turns off net/http's transparent gzip,
	// so every advertised encoding is handled in decodeBody.
	req.Header.Set("Accept-Encoding", "gzip, deflate, zstd")

	resp, err := client.Do(req)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}

		if errors.Is(err, errTooManyRedirects) {
			return "", newFetchError(stage, rawURL, "FETCH_FAILED", fmt.Sprintf("重定向次数超过上限（>%d）", maxRedirects), err)
		}
		if errors.Is(err, errRedirectBadScheme) {
			return "", newFetchError(stage, rawURL, "INVALID_ARGUMENT", "重定向目标仅允许 http/https", err)
		}
		if isTimeout(err) {
			fe := newFetchError(stage, rawURL, "FETCH_TIMEOUT", "拉取远程资源超时", err)
			fe.temporary = true
			return "", fe
		}
		if errors.Is(err, context.Canceled) {
			return "", newFetchError(stage, rawURL, "FETCH_CANCELED", "拉取已取消", err)
		}
		fe := newFetchError(stage, rawURL, "FETCH_FAILED", "拉取远程资源失败", err)
		fe.temporary = true
		return "", fe
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		fe := newFetchError(stage, rawURL, "FETCH_FAILED", fmt.Sprintf("上游返回非 2xx 状态码：%d", resp.StatusCode), nil)
		fe.Upstream = resp.StatusCode
		fe.temporary = resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return "", fe
	}

	body, err := decodeBody(resp)
	if err != nil {
		return "", newFetchError(stage, rawURL, "FETCH_FAILED", "响应内容编码无法解码", err)
	}
	defer body.Close()

	// Read at most maxBytes+1 to detect overflow deterministically.
	data, err := io.ReadAll(io.LimitReader(body, maxBytes+1))
	if err != nil {
		if isTimeout(err) {
			fe := newFetchError(stage, rawURL, "FETCH_TIMEOUT", "拉取远程资源超时", err)
			fe.temporary = true
			return "", fe
		}
		return "", newFetchError(stage, rawURL, "FETCH_FAILED", "读取上游响应失败", err)
	}
	return checkText(stage, rawURL, data, maxBytes)
}

func checkText(stage, location string, data []byte, maxBytes int64) (string, error) {
	if int64(len(data)) > maxBytes {
		return "", newFetchError(stage, location, "TOO_LARGE", fmt.Sprintf("远程资源过大（>%d bytes）", maxBytes), nil)
	}
	if !utf8.Valid(data) {
		return "", newFetchError(stage, location, "FETCH_INVALID_UTF8", "远程资源不是合法 UTF-8 文本", nil)
	}
	return string(data), nil
}

func isTimeout(err error) bool {
	// Go may wrap errors (e.g. *url.Error).
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// decodeBody wraps the response body according to Content-Encoding. The
// returned reader must be closed; it does not close resp.Body.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch enc {
	case "", "identity":
		return io.NopCloser(resp.Body), nil
	case "gzip", "x-gzip":
		return gzip.NewReader(resp.Body)
	case "deflate":
		return zlib.NewReader(resp.Body)
	case "zstd":
		dec, err := zstd.NewReader(resp.Body, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported content-encoding %q", enc)
	}
}
