package store

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"strings"

	"github.com/John-Robertt/nodesift/internal/fileutil"
)

// ReadLines returns the trimmed lines of a line-oriented side file, skipping
// blanks and '#' comments. A missing file reads as empty.
func ReadLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, newStoreError(path, "STORE_READ_FAILED", "读取文件失败", 0, "", err)
	}

	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\uFEFF"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, newStoreError(path, "STORE_READ_FAILED", "读取文件失败", 0, "", err)
	}
	return out, nil
}

// WriteLines atomically replaces path with one entry per line.
func WriteLines(path string, lines []string) error {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	if err := fileutil.WriteAtomic(path, []byte(b.String()), 0o644); err != nil {
		return newStoreError(path, "STORE_WRITE_FAILED", "写入文件失败", 0, "", err)
	}
	return nil
}
