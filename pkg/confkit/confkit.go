// Package confkit holds the helpers shared by the service config and the
// side files it points at (strategies, advisory model, exchange).
package confkit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/conf"
)

// ResolvePath expands env vars in file and joins it to base unless it is
// already absolute.
func ResolvePath(base, file string) string {
	file = os.ExpandEnv(strings.TrimSpace(file))
	if file == "" || filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(base, file)
}

// LoadFile loads a go-zero style config file into T.
func LoadFile[T any](path string, useEnv bool) (*T, error) {
	var cfg T
	var opts []conf.Option
	if useEnv {
		opts = append(opts, conf.UseEnv())
	}
	if err := conf.Load(path, &cfg, opts...); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return &cfg, nil
}

// Section is a config block that lives in its own file. The main file only
// names the path; Hydrate fills Value.
type Section[T any] struct {
	File     string `json:",optional"`
	Required bool   `json:",optional"`
	Value    *T     `json:"-"`
}

// ErrMissingSection is returned by Hydrate for a required section with no file.
var ErrMissingSection = errors.New("confkit: section file is required")

// Hydrate resolves File against base and runs loader on it. An empty File
// is a no-op unless the section is Required.
func (s *Section[T]) Hydrate(base string, loader func(string) (*T, error)) error {
	if strings.TrimSpace(s.File) == "" {
		if s.Required {
			return ErrMissingSection
		}
		return nil
	}
	p := ResolvePath(base, s.File)
	v, err := loader(p)
	if err != nil {
		return err
	}
	s.File, s.Value = p, v
	return nil
}

// Loaded reports whether Hydrate produced a value.
func (s *Section[T]) Loaded() bool { return s.Value != nil }

// Duration parses raw with time.ParseDuration. Empty input yields fallback.
// field names the setting in the error.
func Duration(field, raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", field, raw)
	}
	return d, nil
}

// FindRoot walks up from start to the first directory holding go.mod or
// .git. It returns start when none is found within a few levels.
func FindRoot(start string) string {
	dir := start
	for i := 0; i < 8; i++ {
		if fileExists(filepath.Join(dir, "go.mod")) || fileExists(filepath.Join(dir, ".git")) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return start
}

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}
