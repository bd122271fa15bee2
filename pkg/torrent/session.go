package torrent

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/NamanBalaji/tordisk/internal/config"
	"github.com/NamanBalaji/tordisk/internal/errors"
	"github.com/NamanBalaji/tordisk/internal/filesystem"
	"github.com/NamanBalaji/tordisk/internal/logger"
	"github.com/NamanBalaji/tordisk/internal/repository"
	"github.com/NamanBalaji/tordisk/pkg/torrent/fdcache"
	"github.com/NamanBalaji/tordisk/pkg/torrent/metainfo"
	"github.com/NamanBalaji/tordisk/pkg/torrent/storage"
	"github.com/NamanBalaji/tordisk/pkg/variant"
)

const torrentsDir = "torrents"

// Session owns the torrents, the shared file cache and block cache, and
// the persistent state of one running instance.
type Session struct {
	mu sync.RWMutex

	id    uuid.UUID
	cfg   *config.Config
	fs    *filesystem.OSFileSystem
	files *fdcache.Cache
	io    *storage.IO
	repo  repository.Repository
	stats *sessionStats

	torrents    map[string]*Torrent
	verifyQueue []*Torrent
}

// NewSession creates a session and restores the torrents registered in
// repo. The caller keeps ownership of repo.
func NewSession(cfg *config.Config, repo repository.Repository) (*Session, error) {
	if cfg == nil {
		defaults := config.DefaultConfig()
		cfg = &defaults
	}

	fs := filesystem.NewOSFileSystem()
	if err := fs.EnsureDirectory(fs.BuildPath(cfg.StateDir, torrentsDir)); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	files, err := fdcache.New(cfg.OpenFileLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to create file cache: %w", err)
	}

	s := &Session{
		id:       uuid.New(),
		cfg:      cfg,
		fs:       fs,
		files:    files,
		repo:     repo,
		stats:    loadStats(repo),
		torrents: make(map[string]*Torrent),
	}

	s.io, err = storage.New(files, storage.Options{
		Preallocation:        fdcache.ParsePreallocation(cfg.Preallocation),
		IncompleteFileNaming: cfg.IncompleteFileNaming,
		CacheSize:            int64(cfg.CacheSize.Bytes()),
		OnFileCreated:        s.stats.fileCreated,
	})
	if err != nil {
		files.Close()
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	if err := s.restore(); err != nil {
		s.Close()
		return nil, err
	}

	logger.Infof("Session %s started with %d torrents", s.id, len(s.torrents))

	return s, nil
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

func (s *Session) restore() error {
	records, err := s.repo.FindAllTorrents()
	if err != nil {
		return fmt.Errorf("failed to load torrents: %w", err)
	}

	for _, rec := range records {
		top, err := variant.FromFile(rec.DescriptionPath, variant.FormatBenc)
		if err != nil {
			logger.Warnf("Skipping %s: %v", rec.Name, err)
			continue
		}

		info, infoDictLength, err := metainfo.Parse(top)
		if err != nil {
			logger.Warnf("Skipping %s: %v", rec.Name, err)
			continue
		}

		if _, err := s.add(rec.ID, info, infoDictLength, rec.DescriptionPath, rec.AddedAt); err != nil {
			logger.Warnf("Skipping %s: %v", rec.Name, err)
		}
	}

	return nil
}

func (s *Session) descriptionPath(hash string) string {
	return s.fs.BuildPath(s.cfg.StateDir, torrentsDir, hash+".torrent")
}

// AddTorrentFile adds the torrent described by a .torrent file. The file
// is copied into the session's state directory. A torrent without saved
// resume state is queued for verification.
func (s *Session) AddTorrentFile(path string) (*Torrent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIOError(err, "read", path)
	}

	top, _, err := variant.ParseBenc(data)
	if err != nil {
		return nil, errors.NewProtocolError(err, path)
	}

	info, infoDictLength, err := metainfo.Parse(top)
	if err != nil {
		return nil, errors.NewProtocolError(err, path)
	}

	if s.has(info.HashString) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTorrent, info.Name)
	}

	dest := s.descriptionPath(info.HashString)
	if err := s.fs.WriteFileAtomic(dest, data); err != nil {
		return nil, errors.NewIOError(err, "write", dest)
	}

	return s.add(uuid.New(), info, infoDictLength, dest, time.Now())
}

// AddMagnet adds a magnet-only torrent. Its description holds what the
// link tells until the metadata is fetched.
func (s *Session) AddMagnet(uri string) (*Torrent, error) {
	m, err := metainfo.ParseMagnet(uri)
	if err != nil {
		return nil, errors.NewProtocolError(err, "magnet")
	}

	desc := m.Description()

	info, infoDictLength, err := metainfo.Parse(desc)
	if err != nil {
		return nil, errors.NewProtocolError(err, "magnet")
	}

	if s.has(info.HashString) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTorrent, info.Name)
	}

	dest := s.descriptionPath(info.HashString)
	if err := variant.ToFile(desc, variant.FormatBenc, dest); err != nil {
		return nil, errors.NewIOError(err, "write", dest)
	}

	return s.add(uuid.New(), info, infoDictLength, dest, time.Now())
}

func (s *Session) has(hash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.torrents[hash]
	return ok
}

func (s *Session) add(id uuid.UUID, info *metainfo.Info, infoDictLength int, descriptionPath string, addedAt time.Time) (*Torrent, error) {
	t := newTorrent(s, id, info, infoDictLength, descriptionPath, addedAt)

	resumed, err := t.loadResume()
	if err != nil {
		t.log.Warnf("Ignoring resume state: %v", err)
	}

	rec := &repository.TorrentRecord{
		ID:              t.id,
		Hash:            info.HashString,
		Name:            info.Name,
		DescriptionPath: descriptionPath,
		AddedAt:         t.addedAt,
	}
	if err := s.repo.SaveTorrent(rec); err != nil {
		return nil, fmt.Errorf("failed to register torrent: %w", err)
	}

	s.mu.Lock()
	if _, ok := s.torrents[info.HashString]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTorrent, info.Name)
	}
	s.torrents[info.HashString] = t
	s.mu.Unlock()

	if info.HasMetadata() && !resumed {
		s.QueueVerify(t)
	}

	t.log.Infof("Added %s", t.MagnetLink())

	return t, nil
}

// Torrent returns the torrent with the given hex info-hash.
func (s *Session) Torrent(hash string) (*Torrent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.torrents[hash]
	if !ok {
		return nil, ErrTorrentNotFound
	}

	return t, nil
}

// Torrents returns every torrent, oldest first.
func (s *Session) Torrents() []*Torrent {
	s.mu.RLock()
	list := make([]*Torrent, 0, len(s.torrents))
	for _, t := range s.torrents {
		list = append(list, t)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].addedAt.Before(list[j].addedAt)
	})

	return list
}

// RemoveTorrent forgets a torrent along with its description and resume
// state. Downloaded data is left alone.
func (s *Session) RemoveTorrent(hash string) error {
	s.mu.Lock()
	t, ok := s.torrents[hash]
	if ok {
		delete(s.torrents, hash)
		for i, q := range s.verifyQueue {
			if q == t {
				s.verifyQueue = append(s.verifyQueue[:i], s.verifyQueue[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if !ok {
		return ErrTorrentNotFound
	}

	t.Stop()
	s.io.DropTorrent(t)

	if err := s.repo.DeleteResume(hash); err != nil {
		return err
	}
	if err := s.repo.DeleteTorrent(hash); err != nil && !errors.Is(err, repository.ErrTorrentNotFound) {
		return err
	}

	return s.fs.DeleteFile(t.descriptionPath)
}

// QueueVerify schedules t to have all of its data verified by the next
// VerifyPending call.
func (s *Session) QueueVerify(t *Torrent) {
	t.mu.Lock()
	if t.status == StatusCheckWait || t.status == StatusCheck {
		t.mu.Unlock()
		return
	}
	t.startAfterVerify = t.status == StatusDownload
	t.status = StatusCheckWait
	t.mu.Unlock()

	s.enqueueVerify(t)
}

func (s *Session) enqueueVerify(t *Torrent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.verifyQueue = append(s.verifyQueue, t)
}

// VerifyPending verifies every queued torrent, at most
// config.VerifyWorkers at a time.
func (s *Session) VerifyPending(ctx context.Context) error {
	s.mu.Lock()
	queue := s.verifyQueue
	s.verifyQueue = nil
	s.mu.Unlock()

	if len(queue) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.cfg.VerifyWorkers))

	for _, t := range queue {
		t := t
		g.Go(func() error {
			return t.verify(ctx)
		})
	}

	return g.Wait()
}

// SaveDirty writes the resume state of every torrent that changed.
func (s *Session) SaveDirty() error {
	var firstErr error

	for _, t := range s.Torrents() {
		if !t.IsDirty() {
			continue
		}

		if err := t.SaveResume(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Stats returns the counters of this session and the totals over all
// sessions.
func (s *Session) Stats() (single, cumulative Stats) {
	return s.stats.current()
}

// Close saves state and closes every open file.
func (s *Session) Close() error {
	err := s.SaveDirty()

	if statsErr := s.stats.save(); statsErr != nil && err == nil {
		err = statsErr
	}

	if s.io != nil {
		s.io.Close()
	}
	s.files.Close()

	return err
}
