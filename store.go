package ddns

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"github.com/facebookgo/atomicfile"
)

// Store persists the single State record.
//
// Load never fails: a missing record yields the zero State,
// and an unreadable one yields the zero State after the implementation has reported the problem.
type Store interface {
	Load() State
	Save(State) error
}

// FileStore keeps State as a JSON object in one file.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore returns a store backed by the file at path. The file does not need to exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, logger: discard}
}

// SetLogger sets the logger used to report unreadable state files.
func (s *FileStore) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = discard
	}
	s.logger = logger
}

// Path returns the location of the state file.
func (s *FileStore) Path() string { return s.path }

// stateRecord is the on-disk shape of State.
type stateRecord struct {
	AttemptCount *int    `json:"attempt_count"`
	CurrentIP    *string `json:"current_ip"`
	LastUpdated  *string `json:"last_updated"`
	LastError    *string `json:"last_error"`
	IsError      bool    `json:"is_error"`

	// files written by early releases used this spelling
	LegacyAttemptCount *int `json:"attemp_count,omitempty"`
}

// Load implements Store.
func (s *FileStore) Load() State {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return State{}
	}
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			s.logger.Error("permission denied reading state file; using defaults", "path", s.path, "error", err)
		} else {
			s.logger.Error("error reading state file; using defaults", "path", s.path, "error", err)
		}
		return State{}
	}
	st, err := decodeState(b)
	if err != nil {
		s.logger.Error("corrupt state file; using defaults", "path", s.path, "error", err)
		return State{}
	}
	return st
}

// Save implements Store. The previous file is replaced only once the new content is fully written.
func (s *FileStore) Save(st State) error {
	b, err := encodeState(st)
	if err != nil {
		return NewError(KindPersistence, "encode state", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return NewError(KindPersistence, "create state directory", err)
	}
	f, err := atomicfile.New(s.path, 0o644)
	if err != nil {
		return NewError(KindPersistence, "open state file", err)
	}
	if _, err := f.Write(b); err != nil {
		f.Abort()
		return NewError(KindPersistence, "write state file", err)
	}
	if err := f.Close(); err != nil {
		return NewError(KindPersistence, "replace state file", err)
	}
	return nil
}

func encodeState(st State) ([]byte, error) {
	count := st.AttemptCount
	rec := stateRecord{
		AttemptCount: &count,
		IsError:      st.IsError,
	}
	if st.CurrentIP.IsValid() {
		ip := st.CurrentIP.String()
		rec.CurrentIP = &ip
	}
	rec.LastUpdated = encodeTime(st.LastUpdated)
	rec.LastError = encodeTime(st.LastError)

	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func decodeState(b []byte) (st State, err error) {
	var rec stateRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return State{}, fmt.Errorf("error parsing JSON: %w", err)
	}

	switch {
	case rec.AttemptCount != nil:
		st.AttemptCount = *rec.AttemptCount
	case rec.LegacyAttemptCount != nil:
		st.AttemptCount = *rec.LegacyAttemptCount
	}
	if st.AttemptCount < 0 {
		return State{}, fmt.Errorf("negative attempt_count %d", st.AttemptCount)
	}

	if rec.CurrentIP != nil && *rec.CurrentIP != "" {
		if st.CurrentIP, err = netip.ParseAddr(*rec.CurrentIP); err != nil {
			return State{}, fmt.Errorf("invalid current_ip: %w", err)
		}
	}
	if st.LastUpdated, err = decodeTime(rec.LastUpdated); err != nil {
		return State{}, fmt.Errorf("invalid last_updated: %w", err)
	}
	if st.LastError, err = decodeTime(rec.LastError); err != nil {
		return State{}, fmt.Errorf("invalid last_error: %w", err)
	}
	st.IsError = rec.IsError
	return st, nil
}

func encodeTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.UTC().Format(TimeLayout)
	return &s
}

func decodeTime(s *string) (time.Time, error) {
	if s == nil || *s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, *s)
}
