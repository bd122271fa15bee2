package torrent

import (
	"bytes"
	"crypto/sha1"
	"math"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/NamanBalaji/tordisk/internal/errors"
	"github.com/NamanBalaji/tordisk/internal/logger"
	"github.com/NamanBalaji/tordisk/internal/repository"
	"github.com/NamanBalaji/tordisk/pkg/torrent/metainfo"
	"github.com/NamanBalaji/tordisk/pkg/variant"
)

const (
	// MetadataPieceSize is the unit the info dict is exchanged in.
	MetadataPieceSize = 1024 * 16
	// MinRepeatInterval is how long a metadata piece must wait before it
	// is requested again.
	MinRepeatInterval = 3 * time.Second
)

var keyInfo = variant.NewQuark("info")

type metadataNode struct {
	piece       int
	requestedAt time.Time
}

// incompleteMetadata is an info dict being fetched from peers. needed is
// ordered oldest request first.
type incompleteMetadata struct {
	metadata   []byte
	pieceCount int
	needed     []metadataNode
}

func (m *incompleteMetadata) pieceLength(piece int) int {
	if piece+1 == m.pieceCount {
		return len(m.metadata) - piece*MetadataPieceSize
	}

	return MetadataPieceSize
}

func (m *incompleteMetadata) neededIndex(piece int) int {
	for i, n := range m.needed {
		if n.piece == piece {
			return i
		}
	}

	return -1
}

func (m *incompleteMetadata) reset() {
	m.needed = m.needed[:0]
	for i := 0; i < m.pieceCount; i++ {
		m.needed = append(m.needed, metadataNode{piece: i})
	}
}

// SetMetadataSizeHint starts assembling an info dict of size bytes, as
// announced by a peer. It fails if the metadata is already known, if
// assembly has already started or if size is not plausible.
func (t *Torrent) SetMetadataSizeHint(size int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.info.HasMetadata() || t.incomplete != nil {
		return false
	}

	if size <= 0 || size > math.MaxInt32 {
		return false
	}

	n := int((size + MetadataPieceSize - 1) / MetadataPieceSize)

	m := &incompleteMetadata{
		metadata:   make([]byte, size),
		pieceCount: n,
		needed:     make([]metadataNode, 0, n),
	}
	m.reset()
	t.incomplete = m

	t.log.Debugf("metadata is %s in %d pieces", humanize.IBytes(uint64(size)), n)

	return true
}

// GetNextMetadataRequest returns the needed piece that was requested
// longest ago, unless that was less than MinRepeatInterval before now.
// The piece moves to the back of the queue.
func (t *Torrent) GetNextMetadataRequest(now time.Time) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.incomplete
	if m == nil || len(m.needed) == 0 || !m.needed[0].requestedAt.Add(MinRepeatInterval).Before(now) {
		return 0, false
	}

	piece := m.needed[0].piece
	copy(m.needed, m.needed[1:])
	m.needed[len(m.needed)-1] = metadataNode{piece: piece, requestedAt: now}

	t.log.Debugf("next piece to request: %d", piece)

	return piece, true
}

// GetMetadataPercent returns how much of the metadata is known.
func (t *Torrent) GetMetadataPercent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.info.HasMetadata() {
		return 1.0
	}

	m := t.incomplete
	if m == nil || m.pieceCount == 0 {
		return 0.0
	}

	return float64(m.pieceCount-len(m.needed)) / float64(m.pieceCount)
}

// MetadataPieces returns how many metadata pieces are still needed and
// how many there are in total; both are 0 when nothing is being assembled.
func (t *Torrent) MetadataPieces() (needed, total int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.incomplete == nil {
		return 0, 0
	}

	return len(t.incomplete.needed), t.incomplete.pieceCount
}

// MetadataError returns why the last assembled info dict was rejected, as
// a data error wrapping a *MetadataError.
func (t *Torrent) MetadataError() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.metadataErr
}

// MagnetLink returns a magnet URI for the torrent.
func (t *Torrent) MagnetLink() string {
	return metainfo.BuildMagnetLink(t.Info())
}

// GetMetadataPiece returns one piece of the info dict for serving to
// peers. It is only available once the metadata is complete.
func (t *Torrent) GetMetadataPiece(piece int) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.info.HasMetadata() || piece < 0 || t.infoDictLength <= 0 {
		return nil, false
	}

	if !t.infoDictOffsetCached {
		t.infoDictOffset = t.findInfoDictOffset()
		t.infoDictOffsetCached = true
	}

	if t.infoDictOffset < 0 {
		return nil, false
	}

	o := piece * MetadataPieceSize
	l := MetadataPieceSize
	if o+MetadataPieceSize > t.infoDictLength {
		l = t.infoDictLength - o
	}

	if l <= 0 || l > MetadataPieceSize {
		return nil, false
	}

	f, err := os.Open(t.descriptionPath)
	if err != nil {
		t.log.Warnf("Opening description: %v", err)
		return nil, false
	}
	defer f.Close()

	buf := make([]byte, l)
	if _, err := f.ReadAt(buf, t.infoDictOffset+int64(o)); err != nil {
		return nil, false
	}

	return buf, true
}

// findInfoDictOffset locates the bencoded info dict inside the description
// file, or returns -1.
func (t *Torrent) findInfoDictOffset() int64 {
	data, err := os.ReadFile(t.descriptionPath)
	if err != nil {
		return -1
	}

	top, _, err := variant.ParseBenc(data)
	if err != nil {
		return -1
	}

	infoDict := top.DictFindDict(keyInfo)
	if infoDict == nil {
		return -1
	}

	return int64(bytes.Index(data, variant.ToBenc(infoDict)))
}

// SetMetadataPiece stores one piece of the info dict. Pieces that are out
// of range, of the wrong length or not needed are ignored. When the last
// piece arrives the whole dict is checked and, if good, becomes the
// torrent's description; otherwise every piece is needed again.
func (t *Torrent) SetMetadataPiece(piece int, data []byte) {
	t.mu.Lock()

	t.log.Debugf("got metadata piece %d of %d bytes", piece, len(data))

	m := t.incomplete
	if m == nil || piece < 0 || piece >= m.pieceCount || m.pieceLength(piece) != len(data) {
		t.mu.Unlock()
		return
	}

	idx := m.neededIndex(piece)
	if idx == -1 {
		t.mu.Unlock()
		return
	}

	copy(m.metadata[piece*MetadataPieceSize:], data)
	m.needed = append(m.needed[:idx], m.needed[idx+1:]...)

	t.log.Debugf("saving metainfo piece %d... %d remain", piece, len(m.needed))

	if len(m.needed) > 0 {
		t.mu.Unlock()
		return
	}

	err := t.commitMetadata(m.metadata)
	if err != nil {
		m.reset()
		t.metadataErr = errors.NewDataError(err, t.descriptionPath)
		t.log.Debugf("metadata error; trying again. %d pieces left", m.pieceCount)
		logger.Errorf("%v", err)
		t.mu.Unlock()
		return
	}

	t.incomplete = nil
	t.metadataErr = nil
	t.magnetVerify = true
	t.startAfterVerify = !t.session.cfg.PrefetchMagnetMetadata
	t.status = StatusCheckWait
	t.editedAt = time.Now()
	t.dirty = true
	t.mu.Unlock()

	t.session.enqueueVerify(t)
}

// commitMetadata validates an assembled info dict and, if it is usable,
// merges it into the description file and adopts it. Called with mu held.
func (t *Torrent) commitMetadata(data []byte) error {
	t.log.Debugf("metainfo is complete, %s", humanize.IBytes(uint64(len(data))))

	if sha1.Sum(data) != t.info.Hash {
		return newMetadataError(ErrHashMismatch, false, false, "")
	}

	infoDict, _, err := variant.ParseBenc(data)
	if err != nil {
		return newMetadataError(err, true, false, "")
	}
	if !infoDict.IsDict() {
		return newMetadataError(variant.ErrInvalidBencode, true, false, "info is not a dict")
	}

	desc, err := variant.FromFile(t.descriptionPath, variant.FormatBenc)
	if err != nil {
		return newMetadataError(err, true, true, "reading description")
	}

	variant.MergeDicts(desc.DictAddDict(keyInfo, infoDict.DictSize()), infoDict)

	info, infoDictLength, err := metainfo.Parse(desc)
	if err != nil {
		return newMetadataError(ErrUnusableMetadata, true, true, err.Error())
	}

	if metainfo.BlockSizeFor(info.PieceSize) == 0 {
		t.setLocalErrorLocked("Magnet torrent's metadata is not usable")
		return newMetadataError(ErrUnusableMetadata, true, true, "no block size for piece size "+humanize.IBytes(uint64(info.PieceSize)))
	}

	if info.Hash != t.info.Hash {
		return newMetadataError(ErrUnusableMetadata, true, true, "info dict is not canonically encoded")
	}

	t.log.Debugf("Saving completed metadata to %q", t.descriptionPath)

	if err := variant.ToFile(desc, variant.FormatBenc, t.descriptionPath); err != nil {
		return newMetadataError(err, true, true, "writing description")
	}

	// the old resume state describes no pieces; drop it so everything is
	// verified again
	repo := t.session.repo
	if err := repo.DeleteResume(info.HashString); err != nil {
		t.log.Warnf("Removing resume state: %v", err)
	}

	t.setInfo(info, infoDictLength)

	rec := &repository.TorrentRecord{
		ID:              t.id,
		Hash:            info.HashString,
		Name:            info.Name,
		DescriptionPath: t.descriptionPath,
		AddedAt:         t.addedAt,
	}
	if err := repo.SaveTorrent(rec); err != nil {
		t.log.Warnf("Registering description: %v", err)
	}

	return nil
}
