package tlscontext

import (
	stderrors "errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"outbound-router/internal/common/errors"
)

// ResourceLoader reads key and trust store bytes addressed by a path string.
type ResourceLoader interface {
	// Load returns the store bytes and the location they were read from.
	Load(location string) ([]byte, string, error)
}

// FallbackLoader reads from the filesystem first and falls back to an
// embedded or bundled file system when the path does not exist on disk.
type FallbackLoader struct {
	// Fallback is consulted with the cleaned, slash-separated path without
	// its leading "/". Nil disables the fallback.
	Fallback fs.FS
}

// Load implements ResourceLoader. A store present in neither place yields a
// resource error with code CodeCertNotFound naming the resolved path.
func (l FallbackLoader) Load(location string) ([]byte, string, error) {
	resolved, err := filepath.Abs(location)
	if err != nil {
		resolved = location
	}

	data, err := os.ReadFile(resolved)
	if err == nil {
		return data, resolved, nil
	}
	if !stderrors.Is(err, fs.ErrNotExist) {
		return nil, resolved, errors.ResourceError("failed to read store", err).
			WithContext("path", resolved)
	}

	if l.Fallback != nil {
		name := strings.TrimPrefix(path.Clean(filepath.ToSlash(location)), "/")
		if fs.ValidPath(name) {
			data, ferr := fs.ReadFile(l.Fallback, name)
			if ferr == nil {
				return data, "embedded:" + name, nil
			}
			if !stderrors.Is(ferr, fs.ErrNotExist) {
				return nil, name, errors.ResourceError("failed to read embedded store", ferr).
					WithContext("path", name)
			}
		}
	}

	return nil, resolved, errors.ResourceError("certificate not found: "+resolved, err).
		WithCode(CodeCertNotFound).
		WithContext("path", resolved)
}
