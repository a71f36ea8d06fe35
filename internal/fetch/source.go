package fetch

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Source is the outcome of reading one location. Text is only meaningful
// when OK is true.
type Source struct {
	ID   string
	Text string
	OK   bool
	Err  error
}

type ReaderOptions struct {
	Fetch       Options
	Retry       RetryPolicy
	Concurrency int // default 4
}

// Reader turns source locations into raw subscription text. http(s)
// locations are fetched; anything else is read as a local file.
type Reader struct {
	opt ReaderOptions
	log logrus.FieldLogger
}

func NewReader(opt ReaderOptions, log logrus.FieldLogger) *Reader {
	if opt.Concurrency <= 0 {
		opt.Concurrency = 4
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reader{opt: opt, log: log}
}

// Read returns one Source per distinct location, in first-appearance order.
// A failing location never affects the others.
func (r *Reader) Read(ctx context.Context, locations []string) []Source {
	locs := cleanLocations(locations)
	out := make([]Source, len(locs))

	var g errgroup.Group
	g.SetLimit(r.opt.Concurrency)
	for i, loc := range locs {
		g.Go(func() error {
			text, err := r.readOne(ctx, KindSubscription, loc)
			out[i] = Source{ID: loc, Text: text, OK: err == nil, Err: err}
			if err != nil {
				r.log.WithFields(logrus.Fields{"source": loc, "stage": KindSubscription.stage()}).Warnf("source unavailable: %v", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (r *Reader) readOne(ctx context.Context, kind Kind, loc string) (string, error) {
	if !isRemote(loc) {
		return readLocal(kind, loc, r.opt.Fetch.MaxBytes)
	}
	var text string
	err := r.opt.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		text, err = FetchTextWithOptions(ctx, kind, loc, r.opt.Fetch)
		return err
	})
	return text, err
}

// ResolveLocations builds the list of sources to read. The primary list is
// the configured sources plus every line of the optional remote source list.
// When the remote list cannot be read, or the primary list comes out empty,
// the fallback sources and the last-known-good cache are used instead; usedFallback
// reports that. listErr is the remote list failure, if any, for reporting.
func (r *Reader) ResolveLocations(ctx context.Context, primary []string, listURL string, fallback []string, cached []string) (locations []string, usedFallback bool, listErr error) {
	locs := cleanLocations(primary)
	if listURL = strings.TrimSpace(listURL); listURL != "" {
		text, err := r.readOne(ctx, KindSourceList, listURL)
		if err != nil {
			listErr = err
			r.log.WithField("source", listURL).Warnf("source list unavailable, using fallback: %v", err)
		} else {
			locs = cleanLocations(append(locs, SplitLines(text)...))
		}
	}
	if listErr == nil && len(locs) > 0 {
		return locs, false, nil
	}
	return cleanLocations(append(append(locs, fallback...), cached...)), true, listErr
}

// Errors aggregates the failures of every unavailable source.
func Errors(sources []Source) error {
	var err error
	for _, s := range sources {
		if !s.OK {
			err = multierr.Append(err, s.Err)
		}
	}
	return err
}

// SplitLines returns the trimmed non-empty lines of text, skipping '#'
// comments.
func SplitLines(text string) []string {
	lines := strings.Split(stripBOM(text), "\n")
	return lo.FilterMap(lines, func(line string, _ int) (string, bool) {
		line = strings.TrimSpace(line)
		return line, line != "" && !strings.HasPrefix(line, "#")
	})
}

func cleanLocations(locations []string) []string {
	trimmed := lo.FilterMap(locations, func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	})
	return lo.Uniq(trimmed)
}

func isRemote(loc string) bool {
	l := strings.ToLower(loc)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

func readLocal(kind Kind, path string, maxBytes int64) (string, error) {
	stage := kind.stage()
	if maxBytes <= 0 {
		maxBytes = kind.defaultMaxBytes()
	}
	f, err := os.Open(strings.TrimPrefix(path, "file://"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", newFetchError(stage, path, "SOURCE_NOT_FOUND", "本地订阅文件不存在", err)
		}
		return "", newFetchError(stage, path, "FETCH_FAILED", "读取本地订阅文件失败", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return "", newFetchError(stage, path, "FETCH_FAILED", "读取本地订阅文件失败", err)
	}
	return checkText(stage, path, data, maxBytes)
}

func stripBOM(s string) string {
	return strings.TrimPrefix(s, "\uFEFF")
}
