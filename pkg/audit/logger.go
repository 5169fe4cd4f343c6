package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vlanhop/vlanhop/pkg/util"
)

// Logger stores and queries events.
type Logger interface {
	Log(event *Event) error
	Query(filter Filter) ([]*Event, error)
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Log(*Event) error                { return nil }
func (Nop) Query(Filter) ([]*Event, error) { return nil, nil }
func (Nop) Close() error                    { return nil }

// RotationConfig bounds the log file. Zero values disable rotation.
type RotationConfig struct {
	MaxSize    int64 `json:"max_size,omitempty"`
	MaxBackups int   `json:"max_backups,omitempty"`
}

// maxLine bounds one encoded event; a change with many warnings stays well
// under it.
const maxLine = 1 << 20

// FileLogger appends events to a JSON-lines file. Rotated files are named
// <path>.<timestamp>.
type FileLogger struct {
	path     string
	rotation RotationConfig

	mu  sync.RWMutex
	out *os.File
	enc *json.Encoder
}

// NewFileLogger opens path for appending, creating its directory.
func NewFileLogger(path string, rotation RotationConfig) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	l := &FileLogger{path: path, rotation: rotation}
	if err := l.open(); err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return l, nil
}

func (l *FileLogger) open() error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.out, l.enc = f, json.NewEncoder(f)
	return nil
}

func (l *FileLogger) full() bool {
	if l.rotation.MaxSize <= 0 {
		return false
	}
	info, err := l.out.Stat()
	return err == nil && info.Size() >= l.rotation.MaxSize
}

// Log appends event, rotating first when the file is full.
func (l *FileLogger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.full() {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotating audit log: %w", err)
		}
	}
	return l.enc.Encode(event)
}

// Query returns matching events from the current file, oldest first.
// Malformed lines are skipped.
func (l *FileLogger) Query(filter Filter) ([]*Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var events []*Event
	err := scanEvents(l.path, func(ev *Event) {
		if ev.matches(filter) {
			events = append(events, ev)
		}
	})
	if err != nil {
		return nil, err
	}
	return page(events, filter.Offset, filter.Limit), nil
}

func scanEvents(path string, fn func(*Event)) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(nil, maxLine)
	for n := 1; sc.Scan(); n++ {
		ev := new(Event)
		if err := json.Unmarshal(sc.Bytes(), ev); err != nil {
			util.Warnf("audit: %s line %d: %v", path, n, err)
			continue
		}
		fn(ev)
	}
	return sc.Err()
}

func page(events []*Event, offset, limit int) []*Event {
	if offset >= len(events) {
		return []*Event{}
	}
	if offset > 0 {
		events = events[offset:]
	}
	if limit > 0 && limit < len(events) {
		events = events[:limit]
	}
	return events
}

// Close closes the file.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return nil
	}
	err := l.out.Close()
	l.out = nil
	return err
}

func (l *FileLogger) rotate() error {
	if err := l.out.Close(); err != nil {
		return err
	}
	if err := os.Rename(l.path, l.path+"."+time.Now().Format("20060102-150405.000000")); err != nil {
		return err
	}
	if err := l.open(); err != nil {
		return err
	}
	l.prune()
	return nil
}

// prune keeps the newest MaxBackups rotated files. The timestamp suffix
// sorts chronologically.
func (l *FileLogger) prune() {
	keep := l.rotation.MaxBackups
	if keep <= 0 {
		return
	}
	old, err := filepath.Glob(l.path + ".*")
	if err != nil || len(old) <= keep {
		return
	}
	sort.Strings(old)
	for _, p := range old[:len(old)-keep] {
		if err := os.Remove(p); err != nil {
			util.Warnf("audit: removing %s: %v", p, err)
		}
	}
}
