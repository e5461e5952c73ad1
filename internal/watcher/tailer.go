package watcher

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
)

// Tailer reads newly appended complete lines from a single file. It tracks
// its byte offset across polls, re-opens on rotation or truncation, and
// never re-delivers lines already returned. A partial trailing line (no
// newline yet) is buffered until the writer completes it.
type Tailer struct {
	path         string
	readExisting bool

	file     *os.File
	fileInfo os.FileInfo
	offset   int64
	partial  []byte
	opened   bool
}

// NewTailer creates a tailer for path. The file does not need to exist yet;
// Poll reports an error until it does. When readExisting is false the first
// open seeks to the end of the file so only appended content is delivered.
func NewTailer(path string, readExisting bool) *Tailer {
	return &Tailer{
		path:         path,
		readExisting: readExisting,
	}
}

// Path returns the watched file path.
func (t *Tailer) Path() string {
	return t.path
}

// Open positions the tailer now instead of at the first Poll. The offset
// recorded here is the boundary between existing content and appended
// content, so callers that need "everything after this instant" must Open
// before that instant. Poll still opens lazily if Open was never called.
func (t *Tailer) Open() error {
	if t.file != nil {
		return nil
	}
	info, err := os.Stat(t.path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", t.path, err)
	}
	return t.open(info.Size())
}

// Poll returns the complete lines appended since the last call. An empty
// slice with nil error means no new content. An error means the source is
// currently unavailable; the tailer stays usable and the next Poll retries.
func (t *Tailer) Poll() ([]string, error) {
	info, err := os.Stat(t.path)
	if err != nil {
		t.closeFile()
		return nil, fmt.Errorf("stat %s: %w", t.path, err)
	}

	if t.file == nil {
		if err := t.open(info.Size()); err != nil {
			return nil, err
		}
	}

	// Rotation (path now names a different file) or truncation (the file
	// shrank below our offset): re-open from the start and discard any
	// buffered partial line.
	if !os.SameFile(t.fileInfo, info) || info.Size() < t.offset {
		t.closeFile()
		t.partial = nil
		if err := t.reopen(); err != nil {
			return nil, err
		}
		info, err = t.file.Stat()
		if err != nil {
			t.closeFile()
			return nil, fmt.Errorf("stat %s: %w", t.path, err)
		}
	}

	if info.Size() == t.offset {
		return nil, nil
	}

	if _, err := t.file.Seek(t.offset, io.SeekStart); err != nil {
		t.closeFile()
		return nil, fmt.Errorf("seek %s: %w", t.path, err)
	}

	data := make([]byte, info.Size()-t.offset)
	n, err := io.ReadFull(t.file, data)
	if err != nil && err != io.ErrUnexpectedEOF {
		t.closeFile()
		return nil, fmt.Errorf("read %s: %w", t.path, err)
	}
	data = data[:n]
	t.offset += int64(n)

	return t.splitLines(data), nil
}

// splitLines appends data to the partial buffer and returns the complete
// lines, keeping any trailing fragment for the next poll.
func (t *Tailer) splitLines(data []byte) []string {
	buf := append(t.partial, data...)

	var lines []string
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(buf[:idx]), "\r")
		buf = buf[idx+1:]
		if line != "" {
			lines = append(lines, line)
		}
	}

	if len(buf) > 0 {
		t.partial = append([]byte(nil), buf...)
	} else {
		t.partial = nil
	}
	return lines
}

// open opens the file for the first time, positioning at the end unless the
// tailer replays existing content.
func (t *Tailer) open(size int64) error {
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", t.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat %s: %w", t.path, err)
	}
	t.file = f
	t.fileInfo = info

	if t.opened || t.readExisting {
		t.offset = 0
	} else {
		t.offset = size
	}
	t.opened = true
	return nil
}

// reopen opens the file after rotation, always from the start.
func (t *Tailer) reopen() error {
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("reopen %s: %w", t.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat %s: %w", t.path, err)
	}
	t.file = f
	t.fileInfo = info
	t.offset = 0
	return nil
}

func (t *Tailer) closeFile() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}

// Close releases the underlying file handle.
func (t *Tailer) Close() {
	t.closeFile()
}
