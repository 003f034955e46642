// Package audit appends one JSON line per governance call. Free-text fields
// pass through the secret registry before they reach disk.
package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gzhole/outputguard/internal/secrets"
)

const defaultMaxLogBytes = 10 << 20

// Operation names what produced an event.
const (
	OpValidate = "validate"
	OpRepair   = "repair"
)

type Event struct {
	ID             string   `json:"id"`
	Timestamp      string   `json:"timestamp"`
	Operation      string   `json:"operation"`
	Source         string   `json:"source,omitempty"`
	Contract       string   `json:"contract,omitempty"`
	Found          bool     `json:"found"`
	Valid          bool     `json:"valid"`
	Violations     []string `json:"violations,omitempty"`
	ViolationKinds []string `json:"violation_kinds,omitempty"`
	SecretsMasked  []string `json:"secrets_masked,omitempty"`
	Attempts       int      `json:"attempts,omitempty"`
	DurationMS     int64    `json:"duration_ms"`
	Error          string   `json:"error,omitempty"`
}

// Logger writes events to a JSONL file, rotating it to "<path>.1" once it
// would grow past the size limit. Safe for concurrent use.
type Logger struct {
	path     string
	file     *os.File
	size     int64
	maxBytes int64
	registry *secrets.Registry
	mu       sync.Mutex
}

type Option func(*Logger)

// WithMaxBytes sets the rotation threshold; n <= 0 keeps the default.
func WithMaxBytes(n int64) Option {
	return func(l *Logger) {
		if n > 0 {
			l.maxBytes = n
		}
	}
}

// WithRegistry redacts with r instead of the built-in rules.
func WithRegistry(r *secrets.Registry) Option {
	return func(l *Logger) {
		if r != nil {
			l.registry = r
		}
	}
}

func New(path string, opts ...Option) (*Logger, error) {
	l := &Logger{
		path:     path,
		maxBytes: defaultMaxLogBytes,
		registry: secrets.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) open() error {
	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return err
	}
	l.file = file
	l.size = info.Size()
	return nil
}

// Log fills in ID and Timestamp when empty, redacts, and appends the event.
func (l *Logger) Log(event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	// Violations quote payload values, so they can carry secrets too.
	event.Source = l.registry.Redact(event.Source)
	if len(event.Violations) > 0 {
		redacted := make([]string, len(event.Violations))
		for i, v := range event.Violations {
			redacted[i] = l.registry.Redact(v)
		}
		event.Violations = redacted
	}
	if event.Error != "" {
		event.Error = l.registry.Redact(event.Error)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return os.ErrClosed
	}
	if l.size > 0 && l.size+int64(len(data)) > l.maxBytes {
		if err := l.rotate(); err != nil {
			return err
		}
	}

	n, err := l.file.Write(data)
	l.size += int64(n)
	return err
}

// rotate moves the current file to "<path>.1" and reopens path. On failure
// the logger is left closed, so later calls report os.ErrClosed.
func (l *Logger) rotate() error {
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return err
	}
	if err := os.Rename(l.path, l.path+".1"); err != nil {
		return err
	}
	return l.open()
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// ReadEvents loads every well-formed event from path. A missing file yields
// no events; malformed lines are skipped.
func ReadEvents(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}
