package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/itish2003/legaldoc/logger"
	"github.com/itish2003/legaldoc/store"

	"github.com/fsnotify/fsnotify"
	"github.com/romdo/go-debounce"
)

// DefaultQuietPeriod is how long a file must go without events before the watcher ingests it.
const DefaultQuietPeriod = 500 * time.Millisecond

// InboxService keeps the documents of one owner in sync with the PDFs in a directory.
// Every document of that owner is treated as inbox-managed, so the owner should be dedicated to it.
type InboxService struct {
	dir       string
	ownerID   string
	service   RAGService
	documents store.DocumentStore
	quiet     time.Duration
	log       logger.Logger
}

func NewInboxService(dir, ownerID string, service RAGService, documents store.DocumentStore, log logger.Logger) *InboxService {
	if log == nil {
		log = logger.GetDefault()
	}
	return &InboxService{
		dir:       dir,
		ownerID:   ownerID,
		service:   service,
		documents: documents,
		quiet:     DefaultQuietPeriod,
		log:       log.With("component", "INBOX"),
	}
}

// SetQuietPeriod changes the debounce applied to create and write events. Non-positive values are ignored.
func (s *InboxService) SetQuietPeriod(d time.Duration) {
	if d > 0 {
		s.quiet = d
	}
}

// WatchDirectory ingests PDFs as they are created or rewritten and drops them when removed.
// A file is ingested once it has been quiet for the quiet period, so a copy in progress is not
// read half-written. It blocks until ctx is cancelled.
func (s *InboxService) WatchDirectory(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}
	s.log.Info("watching directory", "path", s.dir, "owner", s.ownerID, "quiet", s.quiet)

	// pending holds one debouncer per path; it fires into settled once the path has been quiet.
	// A path removed before it settles is dropped from pending, and its late delivery is ignored.
	pending := make(map[string]debouncer)
	settled := make(chan string)
	done := make(chan struct{})
	defer func() {
		close(done)
		for _, d := range pending {
			d.cancel()
		}
	}()
	schedule := func(path string) {
		d, ok := pending[path]
		if !ok {
			d.trigger, d.cancel = debounce.New(s.quiet, func() {
				go func() {
					select {
					case settled <- path:
					case <-done:
					}
				}()
			})
			pending[path] = d
		}
		d.trigger()
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isPDF(event.Name) {
				continue
			}
			s.log.Debug("watcher event", "event", event.String())

			// Editors often write via create+rename, so create and write are handled alike.
			switch {
			case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
				schedule(event.Name)
			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				if d, ok := pending[event.Name]; ok {
					d.cancel()
					delete(pending, event.Name)
				}
				if err := s.RemoveFile(ctx, event.Name); err != nil {
					s.log.Error("failed to remove file from index", "path", event.Name, "err", err)
				}
			}

		case path := <-settled:
			d, ok := pending[path]
			if !ok {
				continue
			}
			d.cancel()
			delete(pending, path)
			if err := s.SyncFile(ctx, path); err != nil {
				s.log.Error("failed to index file", "path", path, "err", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Error("watcher error", "err", err)

		case <-ctx.Done():
			s.log.Info("context cancelled, shutting down watcher")
			return nil
		}
	}
}

type debouncer struct {
	trigger func()
	cancel  func()
}

// ScanDirectory brings the store in line with the directory: new or changed PDFs are ingested,
// and documents whose file is gone are deleted.
func (s *InboxService) ScanDirectory(ctx context.Context) error {
	s.log.Info("starting directory scan", "path", s.dir)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", s.dir, err)
	}
	local := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() || !isPDF(entry.Name()) {
			continue
		}
		local[entry.Name()] = true
		if err := s.SyncFile(ctx, filepath.Join(s.dir, entry.Name())); err != nil {
			s.log.Error("failed to index file", "file", entry.Name(), "err", err)
		}
	}

	indexed, err := s.documents.ListDocuments(ctx, s.ownerID)
	if err != nil {
		return fmt.Errorf("could not get current index state: %w", err)
	}
	for _, info := range indexed {
		if local[info.Filename] {
			continue
		}
		s.log.Info("file deleted, removing from index", "file", info.Filename)
		if err := s.documents.DeleteDocument(ctx, info.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.log.Error("failed to delete records", "file", info.Filename, "err", err)
		}
	}
	s.log.Info("directory scan finished", "files", len(local))
	return nil
}

// SyncFile ingests path unless the stored document for it has the same content hash.
// The previous version is deleted only after the new one is stored.
func (s *InboxService) SyncFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read %s: %w", path, err)
	}
	name := filepath.Base(path)
	hash := contentHash(data)

	previous, err := s.documents.FindByFilename(ctx, s.ownerID, name)
	switch {
	case err == nil && previous.ContentHash == hash:
		s.log.Debug("file unchanged, skipping", "file", name)
		return nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return err
	}

	info, err := s.service.IngestDocument(ctx, s.ownerID, name, data)
	if err != nil {
		return err
	}
	s.log.Info("indexed file", "file", name, "id", info.ID, "chunks", info.ChunkCount)

	if previous != nil {
		if err := s.documents.DeleteDocument(ctx, previous.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to delete old version of %s: %w", name, err)
		}
	}
	return nil
}

// RemoveFile deletes every stored version of the file at path.
func (s *InboxService) RemoveFile(ctx context.Context, path string) error {
	name := filepath.Base(path)
	for {
		doc, err := s.documents.FindByFilename(ctx, s.ownerID, name)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.documents.DeleteDocument(ctx, doc.ID); err != nil {
			return err
		}
		s.log.Info("file removed from index", "file", name, "id", doc.ID)
	}
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}
