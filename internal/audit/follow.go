package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// followPoll drains the file periodically in case the filesystem does
// not deliver write events (NFS, some container mounts).
const followPoll = time.Second

// Follow copies bytes appended to the current file to w until ctx is
// cancelled. It starts at the current end of file and reopens from the
// beginning after a rotation.
func (l *Log) Follow(ctx context.Context, w io.Writer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("audit: follow: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		return fmt.Errorf("audit: follow: %w", err)
	}

	f, err := os.Open(l.path)
	switch {
	case err == nil:
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return fmt.Errorf("audit: follow: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
		f = nil
	default:
		return fmt.Errorf("audit: follow: %w", err)
	}
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	drain := func() error {
		if f == nil {
			nf, err := os.Open(l.path)
			if err != nil {
				return nil
			}
			f = nf
		}
		_, err := io.Copy(w, f)
		return err
	}

	ticker := time.NewTicker(followPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if err := drain(); err != nil {
				return err
			}

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != l.path {
				continue
			}
			switch {
			case event.Has(fsnotify.Rename), event.Has(fsnotify.Remove):
				// Flush what the old file still holds, then wait for the new one.
				if f != nil {
					_, _ = io.Copy(w, f)
					f.Close()
					f = nil
				}
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				if err := drain(); err != nil {
					return err
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("audit follow watcher error", zap.Error(err))
		}
	}
}
