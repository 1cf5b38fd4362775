package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"outbound-router/internal/clientconfig"
	"outbound-router/internal/common/errors"
	"outbound-router/internal/common/logging"
)

// DefaultDebounce is how long a FileSource waits after the last write before
// reloading.
const DefaultDebounce = 200 * time.Millisecond

// Document is the layout of a configuration file:
//
//	configs:
//	  - id: partner
//	    host_patterns: ["api\\.partner\\.com"]
//	    rank: 10
type Document struct {
	Configs []clientconfig.Raw `yaml:"configs"`
}

// DecodeFile parses a configuration document. Unknown keys are errors.
func DecodeFile(r io.Reader) ([]clientconfig.Raw, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, errors.ConfigError("invalid configuration file").WithCause(err)
	}
	return doc.Configs, nil
}

// LoadFile reads and parses the configuration document at path.
func LoadFile(path string) ([]clientconfig.Raw, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ResourceError(fmt.Sprintf("cannot read configuration file %s", path), err)
	}
	return DecodeFile(bytes.NewReader(data))
}

// FileSource loads configurations from a YAML file and reloads it on change.
type FileSource struct {
	path     string
	rec      *Reconciler
	logger   logging.Logger
	debounce time.Duration
}

// NewFileSource creates a source for the file at path.
func NewFileSource(path string, rec *Reconciler, logger logging.Logger) *FileSource {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &FileSource{path: path, rec: rec, logger: logger, debounce: DefaultDebounce}
}

// SetDebounce overrides DefaultDebounce.
func (s *FileSource) SetDebounce(d time.Duration) {
	s.debounce = d
}

// Path returns the watched file.
func (s *FileSource) Path() string {
	return s.path
}

// Sync loads the file and reconciles it. An unreadable or unparsable file
// leaves the registered set untouched.
func (s *FileSource) Sync() (Result, error) {
	raws, err := LoadFile(s.path)
	if err != nil {
		return Result{}, err
	}
	return s.rec.Sync(raws), nil
}

// Watch reloads the file after it changes until ctx is done. The parent
// directory is watched so editors that replace the file by rename are seen.
func (s *FileSource) Watch(ctx context.Context) error {
	abs, err := filepath.Abs(s.path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	s.logger.Info("Watching configuration file", logging.String("path", abs))

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	reload := func() {
		if ctx.Err() != nil {
			return
		}
		res, err := s.Sync()
		if err != nil {
			s.logger.Error("Failed to reload configuration file", err, logging.String("path", abs))
			return
		}
		if err := res.Err(); err != nil {
			s.logger.Warn("Configuration file reloaded with errors", logging.Err(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(s.debounce, reload)
			mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("Configuration file watcher error", err)
		}
	}
}
