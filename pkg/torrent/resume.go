package torrent

import (
	"errors"
	"fmt"
	"time"

	"github.com/NamanBalaji/tordisk/internal/repository"
	"github.com/NamanBalaji/tordisk/pkg/variant"
)

var (
	keyDestination   = variant.NewQuark("destination")
	keyIncompleteDir = variant.NewQuark("incomplete-dir")
	keyHave          = variant.NewQuark("have")
	keyAddedDate     = variant.NewQuark("added-date")
	keyCorrupt       = variant.NewQuark("corrupt")
)

// SaveResume writes the torrent's resume state to the repository.
func (t *Torrent) SaveResume() error {
	t.mu.Lock()

	top := variant.New()
	top.InitDict(5)
	top.DictAddStr(keyDestination, t.downloadDir)
	if t.incompleteDir != "" {
		top.DictAddStr(keyIncompleteDir, t.incompleteDir)
	}
	if t.info.HasMetadata() {
		top.DictAddStr(keyHave, t.have.Hex())
	}
	top.DictAddInt(keyAddedDate, t.addedAt.Unix())
	top.DictAddInt(keyCorrupt, t.corrupt)

	hash := t.info.HashString
	t.dirty = false
	t.mu.Unlock()

	if err := t.session.repo.SaveResume(hash, variant.ToJSON(top, true)); err != nil {
		return fmt.Errorf("saving resume state: %w", err)
	}

	return nil
}

// loadResume applies saved resume state. It reports false when there is
// none, in which case the data must be verified before it is trusted.
// Called before the torrent is shared.
func (t *Torrent) loadResume() (bool, error) {
	hash := t.info.HashString

	data, err := t.session.repo.FindResume(hash)
	if errors.Is(err, repository.ErrResumeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	top, _, err := variant.ParseJSON(data, hash)
	if err != nil {
		return false, fmt.Errorf("parsing resume state: %w", err)
	}

	if s, ok := top.DictFindStr(keyDestination); ok && s != "" {
		t.downloadDir = s
	}
	if s, ok := top.DictFindStr(keyIncompleteDir); ok {
		t.incompleteDir = s
	}
	if i, ok := top.DictFindInt(keyAddedDate); ok && i > 0 {
		t.addedAt = time.Unix(i, 0)
	}
	if i, ok := top.DictFindInt(keyCorrupt); ok {
		t.corrupt = i
	}

	if !t.info.HasMetadata() {
		return true, nil
	}

	s, ok := top.DictFindStr(keyHave)
	if !ok {
		return false, nil
	}

	have, err := ParseBitfield(s, t.info.PieceCount())
	if err != nil {
		t.log.Warnf("Ignoring saved pieces: %v", err)
		return false, nil
	}
	t.have = have

	return true, nil
}
