package settings

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
)

const DefaultPath = "config/config.toml"

var renameFile = os.Rename

// Store mirrors the configuration document at a fixed path.
type Store struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

type StoreOption func(*Store)

func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewStore(path string, opts ...StoreOption) *Store {
	if path == "" {
		path = DefaultPath
	}
	s := &Store{path: path, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Path() string {
	return s.path
}

// Load reads and decodes the document. Absent managed sections come back
// as empty tables.
func (s *Store) Load() (Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, &ConfigReadError{Path: s.path, Err: err}
	}
	return decode(s.path, data)
}

func decode(path string, data []byte) (Document, error) {
	raw := map[string]any{}
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, &ConfigReadError{Path: path, Err: err}
	}
	doc := Document(raw)
	if err := doc.normalize(); err != nil {
		return nil, &ConfigReadError{Path: path, Err: err}
	}
	return doc, nil
}

// Save encodes the whole document and replaces the file in one rename, so
// readers never observe a partial write.
func (s *Store) Save(doc Document) error {
	var buf bytes.Buffer
	if err := encode(&buf, doc); err != nil {
		return &ConfigWriteError{Path: s.path, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeAtomic(s.path, buf.Bytes()); err != nil {
		return &ConfigWriteError{Path: s.path, Err: err}
	}
	s.logger.Debug("configuration saved", zap.String("path", s.path), zap.Int("bytes", buf.Len()))
	return nil
}

func encode(buf *bytes.Buffer, doc Document) error {
	if doc == nil {
		doc = NewDocument()
	}
	return toml.NewEncoder(buf).Encode(map[string]any(doc))
}

func writeAtomic(path string, data []byte) error {
	mode := fs.FileMode(0o600)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		cleanup()
		return err
	}
	if err := renameFile(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// Update applies form values to the current document and saves it. A
// missing file starts from an empty document; a malformed one is left alone.
func (s *Store) Update(form Form, mode SaveMode) (Document, error) {
	current, err := s.Load()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		current = NewDocument()
	}
	next, dropped := ApplyForm(current, form, mode)
	if len(dropped) > 0 {
		s.logger.Warn("fields not represented in the form were dropped on save",
			zap.String("path", s.path),
			zap.Strings("fields", dropped),
		)
	}
	if err := s.Save(next); err != nil {
		return nil, err
	}
	return next, nil
}
