package destination

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
)

// FileWriter writes each payload to its own new file under Dir, named from
// a template with a monotonic counter for uniqueness.
type FileWriter struct {
	Dir       string
	Pattern   string // e.g. "msg-%d.hl7"; %d is replaced by a counter
	counter   int64
	QueueFull bool
}

// NewFileWriter builds a writer rooted at dir.
func NewFileWriter(dir, pattern string) *FileWriter {
	if pattern == "" {
		pattern = "msg-%d.out"
	}
	return &FileWriter{Dir: dir, Pattern: pattern}
}

func (f *FileWriter) Name() string { return "file:" + f.Dir }

func (f *FileWriter) QueueOnFailure() bool { return f.QueueFull }

// Send writes payload to a new file under Dir, returning the file's path as
// the response.
func (f *FileWriter) Send(ctx context.Context, payload []byte) (string, error) {
	n := atomic.AddInt64(&f.counter, 1)
	name := formatPattern(f.Pattern, n)
	path := filepath.Join(f.Dir, name)

	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return "", fmt.Errorf("file writer: mkdir %s: %w", f.Dir, err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", fmt.Errorf("file writer: write %s: %w", path, err)
	}
	return path, nil
}

func formatPattern(pattern string, n int64) string {
	out := make([]byte, 0, len(pattern))
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '%' && i+1 < len(pattern) && pattern[i+1] == 'd' {
			out = append(out, []byte(strconv.FormatInt(n, 10))...)
			i++
			continue
		}
		out = append(out, pattern[i])
	}
	return string(out)
}
