package torrent

import (
	"errors"
	"sync"
	"time"

	"github.com/NamanBalaji/tordisk/internal/logger"
	"github.com/NamanBalaji/tordisk/internal/repository"
	"github.com/NamanBalaji/tordisk/pkg/variant"
)

var (
	keyFilesAdded    = variant.NewQuark("files-added")
	keySessionCount  = variant.NewQuark("session-count")
	keySecondsActive = variant.NewQuark("seconds-active")
)

// Stats are counters kept across sessions.
type Stats struct {
	FilesAdded    int64
	SessionCount  int64
	SecondsActive int64
}

func (s Stats) add(o Stats) Stats {
	return Stats{
		FilesAdded:    s.FilesAdded + o.FilesAdded,
		SessionCount:  s.SessionCount + o.SessionCount,
		SecondsActive: s.SecondsActive + o.SecondsActive,
	}
}

type sessionStats struct {
	mu        sync.Mutex
	repo      repository.Repository
	old       Stats
	single    Stats
	startedAt time.Time
}

func loadStats(repo repository.Repository) *sessionStats {
	s := &sessionStats{
		repo:      repo,
		single:    Stats{SessionCount: 1},
		startedAt: time.Now(),
	}

	data, err := repo.LoadStats()
	if err != nil {
		if !errors.Is(err, repository.ErrStatsNotFound) {
			logger.Warnf("Loading session stats: %v", err)
		}
		return s
	}

	top, _, err := variant.ParseJSON(data, "stats")
	if err != nil {
		logger.Warnf("Ignoring session stats: %v", err)
		return s
	}

	s.old.FilesAdded, _ = top.DictFindInt(keyFilesAdded)
	s.old.SessionCount, _ = top.DictFindInt(keySessionCount)
	s.old.SecondsActive, _ = top.DictFindInt(keySecondsActive)

	return s
}

func (s *sessionStats) fileCreated() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.single.FilesAdded++
}

// current returns this session's counters and the cumulative totals.
func (s *sessionStats) current() (single, cumulative Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	single = s.single
	single.SecondsActive = int64(time.Since(s.startedAt) / time.Second)

	return single, s.old.add(single)
}

func (s *sessionStats) save() error {
	_, cumulative := s.current()

	top := variant.New()
	top.InitDict(3)
	top.DictAddInt(keyFilesAdded, cumulative.FilesAdded)
	top.DictAddInt(keySecondsActive, cumulative.SecondsActive)
	top.DictAddInt(keySessionCount, cumulative.SessionCount)

	return s.repo.SaveStats(variant.ToJSON(top, false))
}
