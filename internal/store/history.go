package store

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/John-Robertt/nodesift/internal/fileutil"
)

// HistoryDepth is how many recent scores are kept per node key.
const HistoryDepth = 10

// History maps a node key (host:port) to its most recent quality scores,
// oldest first. It is read before probing and written after; it is not
// safe for concurrent use.
type History struct {
	scores map[string][]float64
}

func NewHistory() *History {
	return &History{scores: make(map[string][]float64)}
}

// LoadHistory reads a history file. Each line is
//
//	host:port<TAB>s1,s2,...
//
// A missing file yields an empty history.
func LoadHistory(path string) (*History, error) {
	h := NewHistory()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return h, nil
		}
		return nil, newStoreError(path, "STORE_READ_FAILED", "读取质量历史失败", 0, "", err)
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, scores, err := parseHistoryLine(line)
		if err != nil {
			return nil, newStoreError(path, "STORE_INVALID_LINE", "质量历史格式错误", lineNo, line, err)
		}
		for _, s := range scores {
			h.Record(key, s)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, newStoreError(path, "STORE_READ_FAILED", "读取质量历史失败", 0, "", err)
	}
	return h, nil
}

func parseHistoryLine(line string) (string, []float64, error) {
	key, list, ok := strings.Cut(line, "\t")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, errors.New("expected key<TAB>scores")
	}
	var scores []float64
	for _, f := range strings.Split(list, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return "", nil, fmt.Errorf("invalid score %q: %w", f, err)
		}
		scores = append(scores, v)
	}
	return key, scores, nil
}

// Record appends score for key, dropping the oldest beyond HistoryDepth.
func (h *History) Record(key string, score float64) {
	s := append(h.scores[key], score)
	if len(s) > HistoryDepth {
		s = append([]float64(nil), s[len(s)-HistoryDepth:]...)
	}
	h.scores[key] = s
}

// Scores returns a copy of the recorded scores for key, oldest first.
func (h *History) Scores(key string) []float64 {
	return append([]float64(nil), h.scores[key]...)
}

// Average is the mean recorded score for key; ok is false when there is none.
func (h *History) Average(key string) (avg float64, ok bool) {
	s := h.scores[key]
	if len(s) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s)), true
}

func (h *History) Len() int { return len(h.scores) }

// Save writes the history sorted by key so unchanged histories produce
// identical files.
func (h *History) Save(path string) error {
	keys := make([]string, 0, len(h.scores))
	for k := range h.scores {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('\t')
		for i, v := range h.scores[k] {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		}
		b.WriteByte('\n')
	}
	if err := fileutil.WriteAtomic(path, []byte(b.String()), 0o644); err != nil {
		return newStoreError(path, "STORE_WRITE_FAILED", "写入质量历史失败", 0, "", err)
	}
	return nil
}
