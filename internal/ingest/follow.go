package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/xHacka/access-log-analyzer/internal/models"
)

// Source is a log file bound to the host its entries belong to.
type Source struct {
	Path     string
	Hostname string
	Follow   bool
}

// Follower imports a source incrementally. It resumes from the recorded file
// metadata, then optionally tails the file for appended lines.
type Follower struct {
	Loader       *Loader
	Source       Source
	PollInterval time.Duration

	offset int64
}

func NewFollower(loader *Loader, src Source) *Follower {
	return &Follower{Loader: loader, Source: src, PollInterval: 2 * time.Second}
}

// Run performs the catch-up import and, if the source follows, blocks until
// ctx is done.
func (f *Follower) Run(ctx context.Context) error {
	if err := f.resume(ctx); err != nil {
		return err
	}
	if err := f.Poll(ctx); err != nil {
		return err
	}
	if !f.Source.Follow {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory so rotation (rename + create) is observed.
	path := filepath.Clean(f.Source.Path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	ticker := time.NewTicker(f.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Has(fsnotify.Create) {
				// Rotated: the new file starts empty even if it grows past the old offset.
				f.offset = 0
			}
			if event.Has(fsnotify.Write | fsnotify.Create) {
				f.pollAndLog(ctx)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithField("path", path).Warnf("fsnotify error: %v", err)
		case <-ticker.C:
			f.pollAndLog(ctx)
		}
	}
}

// resume positions the follower after what a previous run already imported.
func (f *Follower) resume(ctx context.Context) error {
	if f.Source.Hostname == "" {
		return ErrInvalidHost
	}
	info, err := os.Stat(f.Source.Path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrInputNotFound, f.Source.Path)
	}
	if err != nil {
		return err
	}
	meta, err := f.Loader.Repo.FileMetadata(ctx, f.Source.Path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	f.offset = 0
	if meta == nil || meta.Hostname != f.Source.Hostname || info.Size() < meta.Size {
		return nil
	}
	f.offset = meta.Size
	if meta.Unchanged(info.Size(), info.ModTime()) {
		log.WithField("path", f.Source.Path).Info("source unchanged since last load, skipping catch-up")
	}
	return nil
}

func (f *Follower) pollAndLog(ctx context.Context) {
	if err := f.Poll(ctx); err != nil {
		log.WithField("path", f.Source.Path).Errorf("ingest: %v", err)
	}
}

// Poll imports complete lines appended since the last poll. A file that
// shrank is treated as rotated and read from the start.
func (f *Follower) Poll(ctx context.Context) error {
	file, err := os.Open(f.Source.Path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < f.offset {
		log.WithField("path", f.Source.Path).Info("source truncated or rotated, restarting from offset 0")
		f.offset = 0
	}
	if info.Size() == f.offset {
		return nil
	}

	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return err
	}
	data, err := io.ReadAll(io.LimitReader(file, info.Size()-f.offset))
	if err != nil {
		return err
	}
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return nil // partial line, wait for the rest
	}
	chunk := data[:end+1]

	_, err = f.Loader.LoadReader(ctx, bytes.NewReader(chunk), f.Source.Hostname, f.Source.Path)
	switch {
	case errors.Is(err, ErrEmptyResult):
		log.WithField("path", f.Source.Path).Warnf("no valid entries in %d appended bytes", len(chunk))
	case err != nil:
		return err
	}
	f.offset += int64(len(chunk))

	meta := models.FileMetadata{
		Path:         f.Source.Path,
		Hostname:     f.Source.Hostname,
		LastModified: info.ModTime(),
		Size:         f.offset,
		ProcessedAt:  f.Loader.now(),
	}
	if err := f.Loader.Repo.RecordFile(ctx, meta); err != nil {
		log.WithField("path", f.Source.Path).Warnf("record file metadata: %v", err)
	}
	return nil
}

// Offset is the number of bytes of the source already imported.
func (f *Follower) Offset() int64 { return f.offset }
