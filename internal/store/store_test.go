package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_RecordKeepsLastScores(t *testing.T) {
	h := NewHistory()
	for i := 1; i <= HistoryDepth+3; i++ {
		h.Record("a.example.com:443", float64(i))
	}

	got := h.Scores("a.example.com:443")
	require.Len(t, got, HistoryDepth)
	assert.Equal(t, 4.0, got[0])
	assert.Equal(t, float64(HistoryDepth+3), got[len(got)-1])

	avg, ok := h.Average("a.example.com:443")
	require.True(t, ok)
	assert.InDelta(t, 8.5, avg, 1e-9)

	_, ok = h.Average("missing:1")
	assert.False(t, ok)
	assert.Empty(t, h.Scores("missing:1"))
}

func TestHistory_ScoresIsACopy(t *testing.T) {
	h := NewHistory()
	h.Record("k:1", 10)
	s := h.Scores("k:1")
	s[0] = 99
	assert.Equal(t, []float64{10}, h.Scores("k:1"))
}

func TestHistory_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "history.tsv")

	h := NewHistory()
	h.Record("b.example.com:443", 71.5)
	h.Record("b.example.com:443", 80)
	h.Record("[2001:db8::1]:8388", 42.25)
	require.NoError(t, h.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[2001:db8::1]:8388\t42.25\nb.example.com:443\t71.5,80\n", string(data))

	loaded, err := LoadHistory(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Len())
	assert.Equal(t, []float64{71.5, 80}, loaded.Scores("b.example.com:443"))

	// Last write wins across runs.
	loaded.Record("b.example.com:443", 90)
	require.NoError(t, loaded.Save(path))
	again, err := LoadHistory(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{71.5, 80, 90}, again.Scores("b.example.com:443"))
}

func TestLoadHistory_MissingFileIsEmpty(t *testing.T) {
	h, err := LoadHistory(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Equal(t, 0, h.Len())
}

func TestLoadHistory_InvalidLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.tsv")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nok:1\t1,2\nbad:2\tx\n"), 0o644))

	_, err := LoadHistory(path)
	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "STORE_INVALID_LINE", se.AppError.Code)
	assert.Equal(t, "store", se.AppError.Stage)
	assert.Equal(t, 3, se.AppError.Line)
}

func TestLines_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blacklist.txt")

	lines, err := ReadLines(path)
	require.NoError(t, err)
	assert.Empty(t, lines)

	require.NoError(t, WriteLines(path, []string{"bad.example.com", "1.2.3.4"}))
	require.NoError(t, os.WriteFile(path+".extra", []byte("\uFEFF# hosts\n\n  bad.example.com  \n#x\n1.2.3.4\n"), 0o644))

	got, err := ReadLines(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"bad.example.com", "1.2.3.4"}, got)

	got, err = ReadLines(path + ".extra")
	require.NoError(t, err)
	assert.Equal(t, []string{"bad.example.com", "1.2.3.4"}, got)
}

func TestWriteLines_Failure(t *testing.T) {
	dir := t.TempDir()
	err := WriteLines(dir, []string{"x"})
	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "STORE_WRITE_FAILED", se.AppError.Code)
}
