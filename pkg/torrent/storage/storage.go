package storage

import (
	"github.com/google/uuid"

	"github.com/NamanBalaji/tordisk/pkg/torrent/metainfo"
)

// Storage defines how a session reads and writes torrent data. Every call
// addresses data by piece index and offset within the piece; for
// multi‑file torrents the implementation transparently crosses file
// boundaries. Implementations must be safe for concurrent use by the
// torrents of one session.
type Storage interface {
	Read(t Torrent, piece int, begin uint32, buf []byte) error
	Write(t Torrent, piece int, begin uint32, data []byte) error
	Prefetch(t Torrent, piece int, begin uint32, length uint32) error
	VerifyPiece(t Torrent, piece int) bool
	CheckPiece(t Torrent, piece int) PieceCheck
	DropTorrent(t Torrent)
	Close() error
}

// Torrent is the view of a torrent the storage layer needs.
type Torrent interface {
	ID() uuid.UUID
	Name() string
	Info() *metainfo.Info
	// BlockSize is the unit pieces are hashed and cached in.
	BlockSize() uint32
	DownloadDir() string
	// CurrentDir is where files that do not exist yet are created.
	CurrentDir() string
	// FindFile locates an existing file under any of its candidate
	// names and directories.
	FindFile(fileIndex int) (dir, subpath string, ok bool)
	SetLocalError(msg string)
	HasLocalError() bool
}

// PieceCheck is the outcome of hashing a piece from disk.
type PieceCheck int

const (
	PieceMatched PieceCheck = iota
	PieceMismatched
	// PieceReadError means the piece could not be read in full.
	PieceReadError
)

func (c PieceCheck) String() string {
	switch c {
	case PieceMatched:
		return "matched"
	case PieceMismatched:
		return "mismatched"
	default:
		return "read error"
	}
}

// PartialSuffix is appended to the names of files still being downloaded
// when incomplete file naming is on.
const PartialSuffix = ".part"

// PartialName returns the in-progress name of a file.
func PartialName(name string) string {
	return name + PartialSuffix
}
