package torrent

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/NamanBalaji/tordisk/internal/logger"
	"github.com/NamanBalaji/tordisk/pkg/torrent/metainfo"
	"github.com/NamanBalaji/tordisk/pkg/torrent/storage"
)

// Status represents the activity of a torrent.
type Status int

const (
	StatusStopped Status = iota
	// StatusCheckWait means the torrent is queued for verification.
	StatusCheckWait
	StatusCheck
	StatusDownload
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusCheckWait:
		return "check-wait"
	case StatusCheck:
		return "checking"
	case StatusDownload:
		return "downloading"
	default:
		return "unknown"
	}
}

// Torrent is one torrent of a session: its description, where its data
// lives, which pieces are verified and, for magnet links, the metadata
// being assembled.
type Torrent struct {
	mu sync.RWMutex

	id      uuid.UUID
	session *Session
	log     *logrus.Entry

	info           *metainfo.Info
	blockSize      uint32
	infoDictLength int
	// position of the info dict within the description file, or -1
	infoDictOffset       int64
	infoDictOffsetCached bool

	descriptionPath string
	downloadDir     string
	incompleteDir   string

	localError string
	have       *Bitfield
	status     Status
	addedAt    time.Time
	editedAt   time.Time
	dirty      bool
	corrupt    int64

	magnetVerify     bool
	startAfterVerify bool
	incomplete       *incompleteMetadata
	metadataErr      error
}

var _ storage.Torrent = (*Torrent)(nil)

func newTorrent(s *Session, id uuid.UUID, info *metainfo.Info, infoDictLength int, descriptionPath string, addedAt time.Time) *Torrent {
	t := &Torrent{
		id:              id,
		session:         s,
		descriptionPath: descriptionPath,
		downloadDir:     s.cfg.DownloadDir,
		incompleteDir:   s.cfg.IncompleteDir,
		addedAt:         addedAt,
		status:          StatusStopped,
	}
	t.setInfo(info, infoDictLength)

	return t
}

// setInfo installs a new description. Callers hold mu or own t exclusively.
func (t *Torrent) setInfo(info *metainfo.Info, infoDictLength int) {
	t.info = info
	t.infoDictLength = infoDictLength
	t.infoDictOffsetCached = false
	t.blockSize = metainfo.BlockSizeFor(info.PieceSize)
	t.have = NewBitfield(info.PieceCount())
	t.log = logger.Torrent(info.Name)
}

func (t *Torrent) ID() uuid.UUID {
	return t.id
}

func (t *Torrent) Name() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.info.Name
}

// Hash returns the hex info-hash.
func (t *Torrent) Hash() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.info.HashString
}

func (t *Torrent) Info() *metainfo.Info {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.info
}

// HasMetadata reports whether the file table is known.
func (t *Torrent) HasMetadata() bool {
	return t.Info().HasMetadata()
}

func (t *Torrent) BlockSize() uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.blockSize
}

func (t *Torrent) DownloadDir() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.downloadDir
}

// SetDownloadDir changes where the torrent's data is looked for and
// created. Open files are closed so the next access resolves paths again.
func (t *Torrent) SetDownloadDir(dir string) {
	t.mu.Lock()
	t.downloadDir = dir
	t.dirty = true
	t.mu.Unlock()

	t.session.io.DropTorrent(t)
}

// CurrentDir is where missing files are created: the incomplete directory
// while the torrent is unfinished, if one is configured.
func (t *Torrent) CurrentDir() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.incompleteDir != "" && !t.have.IsComplete() {
		return t.incompleteDir
	}

	return t.downloadDir
}

// FindFile looks for a file under its final and partial names in the
// download directory, then in the incomplete directory.
func (t *Torrent) FindFile(fileIndex int) (string, string, bool) {
	t.mu.RLock()
	name := t.info.Files[fileIndex].Name
	dirs := []string{t.downloadDir, t.incompleteDir}
	t.mu.RUnlock()

	fs := t.session.fs
	for _, subpath := range []string{name, storage.PartialName(name)} {
		for _, dir := range dirs {
			if dir == "" {
				continue
			}

			if ok, err := fs.FileExists(fs.BuildPath(dir, subpath)); err == nil && ok {
				return dir, subpath, true
			}
		}
	}

	return "", "", false
}

// SetLocalError records a problem with the torrent's local data.
func (t *Torrent) SetLocalError(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.setLocalErrorLocked(msg)
}

func (t *Torrent) setLocalErrorLocked(msg string) {
	t.localError = msg
	t.log.Errorf("Local error: %s", msg)
}

func (t *Torrent) HasLocalError() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.localError != ""
}

// LocalError returns the recorded local error, if any.
func (t *Torrent) LocalError() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.localError
}

// ClearLocalError forgets the local error so a later failure is recorded.
func (t *Torrent) ClearLocalError() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.localError = ""
}

func (t *Torrent) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.status
}

// Have returns the set of verified pieces.
func (t *Torrent) Have() *Bitfield {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.have
}

// Corrupt returns how many bytes failed verification after download.
func (t *Torrent) Corrupt() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.corrupt
}

func (t *Torrent) AddedAt() time.Time {
	return t.addedAt
}

// EditedAt returns when the description was last replaced.
func (t *Torrent) EditedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.editedAt
}

// IsDirty reports whether the resume state has unsaved changes.
func (t *Torrent) IsDirty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.dirty
}

// DescriptionPath returns the session's copy of the torrent description.
func (t *Torrent) DescriptionPath() string {
	return t.descriptionPath
}

// Start marks a torrent with metadata as downloading.
func (t *Torrent) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status == StatusCheckWait || t.status == StatusCheck {
		t.startAfterVerify = true
		return true
	}

	if !t.info.HasMetadata() || t.localError != "" {
		return false
	}

	t.status = StatusDownload
	return true
}

func (t *Torrent) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.startAfterVerify = false
	if t.status == StatusDownload {
		t.status = StatusStopped
	}
}

// ReadPiece reads len(buf) bytes at begin within piece.
func (t *Torrent) ReadPiece(piece int, begin uint32, buf []byte) error {
	return t.session.io.Read(t, piece, begin, buf)
}

// WritePiece writes data at begin within piece.
func (t *Torrent) WritePiece(piece int, begin uint32, data []byte) error {
	return t.session.io.Write(t, piece, begin, data)
}

// PrefetchPiece hints that a range of piece will be read soon.
func (t *Torrent) PrefetchPiece(piece int, begin uint32, length uint32) error {
	return t.session.io.Prefetch(t, piece, begin, length)
}

// VerifyPiece reports whether the piece on disk matches its digest.
func (t *Torrent) VerifyPiece(piece int) bool {
	return t.session.io.VerifyPiece(t, piece)
}

// CheckPiece is VerifyPiece telling a mismatch from a read failure.
func (t *Torrent) CheckPiece(piece int) storage.PieceCheck {
	return t.session.io.CheckPiece(t, piece)
}

// LocatePiece maps a byte of a piece to a file and an offset in it.
func (t *Torrent) LocatePiece(piece int, offset uint32) (int, int64) {
	return storage.LocatePiece(t.Info(), piece, offset)
}

// CompletePiece verifies a piece once all of its blocks have been written.
// A good piece is marked as present; a bad one is counted as corrupt and
// must be fetched again.
func (t *Torrent) CompletePiece(piece int) bool {
	check := t.CheckPiece(piece)

	t.mu.Lock()
	defer t.mu.Unlock()

	switch check {
	case storage.PieceMatched:
		_ = t.have.SetPiece(piece)
		t.dirty = true
		return true
	case storage.PieceMismatched:
		size := t.info.PieceSizeAt(piece)
		t.corrupt += int64(size)
		_ = t.have.ClearPiece(piece)
		t.dirty = true
		t.log.Warnf("Piece %d failed its checksum, discarding %s", piece, humanize.IBytes(uint64(size)))
	}

	return false
}

// verify hashes every piece from disk and rebuilds the have-bitfield.
func (t *Torrent) verify(ctx context.Context) error {
	t.mu.Lock()
	info := t.info
	log := t.log
	if !info.HasMetadata() {
		t.status = StatusStopped
		t.mu.Unlock()
		return nil
	}
	t.status = StatusCheck
	t.mu.Unlock()

	start := time.Now()
	have := NewBitfield(info.PieceCount())

	for p := 0; p < info.PieceCount(); p++ {
		if err := ctx.Err(); err != nil {
			t.mu.Lock()
			t.status = StatusStopped
			t.mu.Unlock()
			return err
		}

		if t.session.io.VerifyPiece(t, p) {
			_ = have.SetPiece(p)
		}
	}

	t.mu.Lock()
	t.have = have
	t.dirty = true
	t.magnetVerify = false
	if t.startAfterVerify && t.localError == "" {
		t.status = StatusDownload
	} else {
		t.status = StatusStopped
	}
	t.startAfterVerify = false
	t.mu.Unlock()

	log.Infof("Verified %d of %d pieces (%s) in %s", have.Count(), info.PieceCount(),
		humanize.IBytes(uint64(info.TotalSize)), time.Since(start).Round(time.Millisecond))

	return t.SaveResume()
}
