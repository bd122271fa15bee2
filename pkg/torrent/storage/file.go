package storage

// This file maps piece ranges onto the torrent's files and performs the
// reads, writes and read-ahead hints against them. Descriptors come from
// the session's file cache and are held for the duration of one call.

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/NamanBalaji/tordisk/internal/errors"
	"github.com/NamanBalaji/tordisk/internal/logger"
	"github.com/NamanBalaji/tordisk/pkg/torrent/fdcache"
	"github.com/NamanBalaji/tordisk/pkg/torrent/metainfo"
)

type ioMode int

const (
	ioRead ioMode = iota
	ioPrefetch
	// modes from ioWrite on need a writable descriptor
	ioWrite
)

func (m ioMode) String() string {
	switch m {
	case ioRead:
		return "read"
	case ioPrefetch:
		return "prefetch"
	default:
		return "write"
	}
}

// Options configure an IO.
type Options struct {
	Preallocation fdcache.Preallocation
	// IncompleteFileNaming creates new files under their PartialName.
	IncompleteFileNaming bool
	// CacheSize is the byte budget of the block cache; 0 disables it.
	CacheSize int64
	// OnFileCreated is called each time a write creates a file.
	OnFileCreated func()
}

// IO is the file backed Storage shared by every torrent of a session.
type IO struct {
	files  *fdcache.Cache
	blocks *blockCache
	opts   Options
}

var _ Storage = (*IO)(nil)

// New creates an IO that checks descriptors out of files.
func New(files *fdcache.Cache, opts Options) (*IO, error) {
	blocks, err := newBlockCache(opts.CacheSize)
	if err != nil {
		return nil, err
	}

	if blocks != nil {
		logger.Debugf("Block cache enabled: %s", humanize.IBytes(uint64(opts.CacheSize)))
	}

	return &IO{files: files, blocks: blocks, opts: opts}, nil
}

// LocatePiece returns the file holding byte offset of piece, and the
// position of that byte within the file. The byte must lie inside the
// torrent's data; anything else is a programming error and panics.
func LocatePiece(info *metainfo.Info, piece int, offset uint32) (fileIndex int, fileOffset int64) {
	abs := info.PieceOffset(piece, offset)
	if abs < 0 || abs >= info.TotalSize {
		panic(fmt.Sprintf("storage: offset %d outside of %d bytes of data", abs, info.TotalSize))
	}

	// zero-length files never contain a byte, so the first file ending
	// past abs is the one holding it
	fileIndex = sort.Search(len(info.Files), func(i int) bool {
		f := &info.Files[i]
		return abs < f.Offset+f.Length
	})

	return fileIndex, abs - info.Files[fileIndex].Offset
}

// Read fills buf with data starting at begin within piece.
func (s *IO) Read(t Torrent, piece int, begin uint32, buf []byte) error {
	return s.readOrWritePiece(t, ioRead, piece, begin, buf, int64(len(buf)))
}

// Write stores data starting at begin within piece, creating files as
// needed. The first failing write of a torrent also sets its local error.
func (s *IO) Write(t Torrent, piece int, begin uint32, data []byte) error {
	err := s.readOrWritePiece(t, ioWrite, piece, begin, data, int64(len(data)))
	s.blocks.dropPiece(t.ID(), piece)
	return err
}

// Prefetch hints that a range will be read soon.
func (s *IO) Prefetch(t Torrent, piece int, begin uint32, length uint32) error {
	return s.readOrWritePiece(t, ioPrefetch, piece, begin, nil, int64(length))
}

// DropTorrent forgets everything cached for t and closes its files.
func (s *IO) DropTorrent(t Torrent) {
	s.blocks.dropTorrent(t.ID())
	s.files.CloseTorrent(t.ID())
}

// Close empties the block cache. The file cache belongs to the session.
func (s *IO) Close() error {
	s.blocks.purge()
	return nil
}

// CachedBlocks returns how many blocks the block cache holds.
func (s *IO) CachedBlocks() int {
	return s.blocks.size()
}

func (s *IO) readOrWritePiece(t Torrent, mode ioMode, piece int, begin uint32, buf []byte, length int64) error {
	info := t.Info()

	if piece < 0 || piece >= info.PieceCount() || info.PieceOffset(piece, begin)+length > info.TotalSize {
		return errors.NewIOError(errors.ErrInvalidArgument, mode.String(), t.Name())
	}

	if length == 0 {
		return nil
	}

	fileIndex, fileOffset := LocatePiece(info, piece, begin)

	var err error
	for length != 0 && err == nil {
		file := &info.Files[fileIndex]

		bytesThisPass := file.Length - fileOffset
		if length < bytesThisPass {
			bytesThisPass = length
		}

		var chunk []byte
		if buf != nil {
			chunk = buf[:bytesThisPass]
			buf = buf[bytesThisPass:]
		}

		err = s.readOrWriteBytes(t, mode, fileIndex, fileOffset, chunk, bytesThisPass)
		length -= bytesThisPass
		fileIndex++
		fileOffset = 0

		if err != nil && mode == ioWrite && !t.HasLocalError() {
			path := filepath.Join(t.DownloadDir(), file.Name)
			t.SetLocalError(fmt.Sprintf("%s (%s)", errors.Reason(err), path))
		}
	}

	return err
}

func (s *IO) readOrWriteBytes(t Torrent, mode ioMode, fileIndex int, fileOffset int64, buf []byte, length int64) error {
	file := &t.Info().Files[fileIndex]
	doWrite := mode >= ioWrite

	if file.Length == 0 || length == 0 {
		return nil
	}

	log := logger.Torrent(t.Name())

	f := s.files.GetCached(t.ID(), fileIndex, doWrite)
	if f == nil {
		dir, subpath, ok := t.FindFile(fileIndex)
		if !ok {
			// a file that does not exist can't be read
			if !doWrite {
				return errors.NewIOError(errors.ErrNotFound, mode.String(), file.Name)
			}

			dir = t.CurrentDir()
			subpath = file.Name
			if s.opts.IncompleteFileNaming {
				subpath = PartialName(file.Name)
			}
		}

		path := filepath.Join(dir, subpath)

		prealloc := s.opts.Preallocation
		if file.DND || !doWrite {
			prealloc = fdcache.PreallocateNone
		}

		var (
			created bool
			err     error
		)
		f, created, err = s.files.Checkout(t.ID(), fileIndex, path, doWrite, prealloc, file.Length)
		if err != nil {
			log.Errorf("Checkout failed for %q: %s", path, errors.Reason(err))
			return err
		}

		if created && s.opts.OnFileCreated != nil {
			s.opts.OnFileCreated()
		}
	}
	defer f.Release()

	switch mode {
	case ioRead:
		if _, err := f.ReadAt(buf, fileOffset); err != nil {
			log.Errorf("Read failed for %q: %s", file.Name, errors.Reason(err))
			return errors.NewIOError(err, "read", file.Name)
		}
	case ioWrite:
		if _, err := f.WriteAt(buf, fileOffset); err != nil {
			log.Errorf("Write failed for %q: %s", file.Name, errors.Reason(err))
			return errors.NewIOError(err, "write", file.Name)
		}
	case ioPrefetch:
		adviseWillNeed(f.File, fileOffset, length)
	}

	return nil
}

// VerifyPiece reports whether the piece on disk hashes to its expected
// digest. A piece that cannot be read does not match.
func (s *IO) VerifyPiece(t Torrent, piece int) bool {
	return s.CheckPiece(t, piece) == PieceMatched
}

// CheckPiece hashes a piece block by block through the block cache and
// compares it with its expected digest.
func (s *IO) CheckPiece(t Torrent, piece int) PieceCheck {
	info := t.Info()
	if piece < 0 || piece >= info.PieceCount() {
		return PieceReadError
	}

	bytesLeft := info.PieceSizeAt(piece)
	_ = s.Prefetch(t, piece, 0, bytesLeft)

	bufLen := t.BlockSize()
	if bufLen == 0 {
		bufLen = metainfo.MaxBlockSize
	}
	buf := make([]byte, bufLen)

	h := sha1.New()
	var offset uint32

	for bytesLeft != 0 {
		n := bufLen
		if bytesLeft < n {
			n = bytesLeft
		}

		if err := s.readBlock(t, piece, offset, buf[:n]); err != nil {
			logger.Torrent(t.Name()).Debugf("Piece %d unreadable: %v", piece, err)
			return PieceReadError
		}

		h.Write(buf[:n])
		offset += n
		bytesLeft -= n
	}

	if !bytes.Equal(h.Sum(nil), info.Pieces[piece].Hash[:]) {
		return PieceMismatched
	}

	return PieceMatched
}

func (s *IO) readBlock(t Torrent, piece int, offset uint32, buf []byte) error {
	k := blockKey{torrent: t.ID(), piece: piece, offset: offset, length: uint32(len(buf))}

	if data, ok := s.blocks.get(k); ok {
		copy(buf, data)
		return nil
	}

	if err := s.Read(t, piece, offset, buf); err != nil {
		return err
	}

	s.blocks.put(k, buf)

	return nil
}

