package persist

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// FS is the slice of filesystem the file backends need.
type FS interface {
	Exists(path string) (bool, error)
	IsRegularFile(path string) (bool, error)
	ReadFile(path string) ([]byte, error)
	// WriteFile replaces path atomically, creating parent directories.
	WriteFile(path string, data []byte) error
	ModTime(path string) (time.Time, error)
	// Remove deletes path; a missing path is not an error.
	Remove(path string) error
}

type aferoFS struct {
	fs afero.Fs
}

var _ FS = aferoFS{}

// NewFS adapts an afero filesystem.
func NewFS(fs afero.Fs) FS { return aferoFS{fs: fs} }

// OS is the host filesystem.
func OS() FS { return NewFS(afero.NewOsFs()) }

func (a aferoFS) Exists(path string) (bool, error) {
	return afero.Exists(a.fs, path)
}

func (a aferoFS) IsRegularFile(path string) (bool, error) {
	fi, err := a.fs.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fi.Mode().IsRegular(), nil
}

func (a aferoFS) ReadFile(path string) ([]byte, error) {
	return afero.ReadFile(a.fs, path)
}

func (a aferoFS) WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := a.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := afero.TempFile(a.fs, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = a.fs.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = a.fs.Remove(name)
		return err
	}
	if err := a.fs.Chmod(name, 0o644); err != nil {
		_ = a.fs.Remove(name)
		return err
	}
	if err := a.fs.Rename(name, path); err != nil {
		_ = a.fs.Remove(name)
		return err
	}
	return nil
}

func (a aferoFS) ModTime(path string) (time.Time, error) {
	fi, err := a.fs.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

func (a aferoFS) Remove(path string) error {
	err := a.fs.Remove(path)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
