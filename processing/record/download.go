package record

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Downloader delivers a finished recording to the user.
type Downloader interface {
	// Save stores blob under name and returns where it ended up.
	Save(name string, blob []byte) (string, error)
}

// FileDownloader saves recordings into Dir the way a browser download does:
// the blob lands in a transient file first, is published under its final
// name, and the transient file is removed whatever the outcome. An existing
// file is never overwritten; "name (1).ext" and so on are tried instead.
type FileDownloader struct {
	Dir string
}

const maxNameAttempts = 1000

func (d FileDownloader) Save(name string, blob []byte) (string, error) {
	dir := d.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating download dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".download-*.part")
	if err != nil {
		return "", fmt.Errorf("creating transient file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing transient file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing transient file: %w", err)
	}

	for i := 0; i < maxNameAttempts; i++ {
		path := filepath.Join(dir, numberedName(name, i))
		err := os.Link(tmp.Name(), path)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("publishing %s: %w", path, err)
		}
	}
	return "", fmt.Errorf("no free file name for %s in %s", name, dir)
}

// numberedName returns name for n == 0, and "base (n).ext" otherwise.
func numberedName(name string, n int) string {
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(name, ext), n, ext)
}
