package blob

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Filesystem archives uploads under a root directory.
type Filesystem struct {
	root string
}

// NewFilesystem returns a filesystem archive rooted at dir, creating it if needed.
func NewFilesystem(dir string) (*Filesystem, error) {
	if dir == "" {
		dir = "./uploads"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "blob: create dir %s", dir)
	}
	return &Filesystem{root: dir}, nil
}

func (s *Filesystem) Driver() Driver { return DriverFilesystem }

func (s *Filesystem) pathFor(key string) (string, error) {
	if strings.TrimSpace(key) == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return "", eris.Errorf("blob: invalid key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *Filesystem) Put(_ context.Context, key string, data []byte, contentType string) (Object, error) {
	p, err := s.pathFor(key)
	if err != nil {
		return Object{}, err
	}
	if _, err := os.Stat(p); err == nil {
		return Object{}, eris.Errorf("blob: %s already exists", key)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return Object{}, eris.Wrapf(err, "blob: create dir for %s", key)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return Object{}, eris.Wrapf(err, "blob: write %s", key)
	}
	fi, err := os.Stat(p)
	if err != nil {
		return Object{}, eris.Wrapf(err, "blob: stat %s", key)
	}
	return Object{Key: key, Size: fi.Size(), ContentType: contentType, LastModified: fi.ModTime().UTC()}, nil
}

func (s *Filesystem) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	return data, eris.Wrapf(err, "blob: read %s", key)
}

func (s *Filesystem) Delete(_ context.Context, key string) error {
	p, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrapf(err, "blob: delete %s", key)
	}
	return nil
}

func (s *Filesystem) List(_ context.Context, prefix string) ([]Object, error) {
	var out []Object
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, Object{Key: key, Size: fi.Size(), ContentType: ContentType(key), LastModified: fi.ModTime().UTC()})
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "blob: list")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
