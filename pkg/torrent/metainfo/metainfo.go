// Package metainfo derives a torrent's file table, piece table, trackers
// and webseeds from its description.
package metainfo

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/jackpal/bencode-go"

	"github.com/NamanBalaji/tordisk/internal/filesystem"
	"github.com/NamanBalaji/tordisk/pkg/variant"
)

const (
	// MaxBlockSize is the largest unit a piece is transferred and cached in.
	MaxBlockSize = 16 * 1024
	// HashSize is the length of a SHA-1 digest.
	HashSize = sha1.Size
)

// ErrInvalidMetainfo is wrapped by every description validation failure.
var ErrInvalidMetainfo = errors.New("invalid metainfo")

var (
	keyInfo         = variant.NewQuark("info")
	keyMagnetInfo   = variant.NewQuark("magnet-info")
	keyInfoHash     = variant.NewQuark("info_hash")
	keyDisplayName  = variant.NewQuark("display-name")
	keyWebseeds     = variant.NewQuark("webseeds")
	keyAnnounce     = variant.NewQuark("announce")
	keyAnnounceList = variant.NewQuark("announce-list")
	keyURLList      = variant.NewQuark("url-list")
	keyComment      = variant.NewQuark("comment")
	keyCreatedBy    = variant.NewQuark("created by")
	keyCreationDate = variant.NewQuark("creation date")
)

// File is one entry of the file table. Offset is the file's position in
// the concatenation of all files.
type File struct {
	Name   string
	Length int64
	Offset int64
	// DND marks a file the user does not want downloaded.
	DND bool
}

// Piece holds the expected digest of one piece.
type Piece struct {
	Hash [HashSize]byte
}

// Tracker is an announce URL and the tier it belongs to.
type Tracker struct {
	Announce string
	Tier     int
}

// Info describes a torrent. A magnet-only torrent has a hash, maybe a
// name and trackers, but no files or pieces.
type Info struct {
	Hash        [HashSize]byte
	HashString  string
	Name        string
	Comment     string
	Creator     string
	DateCreated int64
	Private     bool

	PieceSize uint32
	TotalSize int64

	Files    []File
	Pieces   []Piece
	Trackers []Tracker
	Webseeds []string
}

type rawFile struct {
	Length   int64    `bencode:"length"`
	Path     []string `bencode:"path"`
	PathUTF8 []string `bencode:"path.utf-8"`
}

type rawInfo struct {
	Name        string    `bencode:"name"`
	NameUTF8    string    `bencode:"name.utf-8"`
	PieceLength int64     `bencode:"piece length"`
	Pieces      string    `bencode:"pieces"`
	Length      int64     `bencode:"length"`
	Files       []rawFile `bencode:"files"`
	Private     int64     `bencode:"private"`
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidMetainfo, fmt.Sprintf(format, args...))
}

// Parse builds an Info from a torrent description. When the description
// carries an info dict, the second result is the length of that dict's
// bencoding; it is 0 for magnet-only descriptions.
func Parse(top *variant.Variant) (*Info, int, error) {
	if !top.IsDict() {
		return nil, 0, invalid("description is not a dict")
	}

	info := &Info{}
	infoDictLength := 0

	if infoDict := top.DictFindDict(keyInfo); infoDict != nil {
		benc := variant.ToBenc(infoDict)
		infoDictLength = len(benc)
		info.Hash = sha1.Sum(benc)

		if err := info.parseInfoDict(benc); err != nil {
			return nil, 0, err
		}
	} else if magnet := top.DictFindDict(keyMagnetInfo); magnet != nil {
		raw, ok := magnet.DictFindRaw(keyInfoHash)
		if !ok || len(raw) != HashSize {
			return nil, 0, invalid("magnet-info has no usable info_hash")
		}
		copy(info.Hash[:], raw)

		info.Name, _ = magnet.DictFindStr(keyDisplayName)

		if ws := magnet.DictFindList(keyWebseeds); ws != nil {
			for i := 0; i < ws.ListSize(); i++ {
				if s, ok := ws.ListChild(i).Str(); ok {
					info.addWebseed(s)
				}
			}
		}
	} else {
		return nil, 0, invalid("no info dict")
	}

	info.HashString = hex.EncodeToString(info.Hash[:])
	if info.Name == "" {
		info.Name = info.HashString
	}

	info.Comment, _ = top.DictFindStr(keyComment)
	info.Creator, _ = top.DictFindStr(keyCreatedBy)
	info.DateCreated, _ = top.DictFindInt(keyCreationDate)

	info.parseTrackers(top)

	if urls := top.DictFind(keyURLList); urls != nil {
		if s, ok := urls.Str(); ok {
			info.addWebseed(s)
		}
		for i := 0; i < urls.ListSize(); i++ {
			if s, ok := urls.ListChild(i).Str(); ok {
				info.addWebseed(s)
			}
		}
	}

	return info, infoDictLength, nil
}

func (info *Info) parseInfoDict(benc []byte) error {
	var raw rawInfo
	if err := bencode.Unmarshal(bytes.NewReader(benc), &raw); err != nil {
		return invalid("info dict: %v", err)
	}

	info.Name = raw.Name
	if raw.NameUTF8 != "" {
		info.Name = raw.NameUTF8
	}
	if !filesystem.IsSafeComponent(info.Name) {
		return invalid("unsafe name %q", info.Name)
	}

	if raw.PieceLength <= 0 || raw.PieceLength > int64(^uint32(0)) {
		return invalid("piece length %d", raw.PieceLength)
	}
	info.PieceSize = uint32(raw.PieceLength)
	info.Private = raw.Private == 1

	if len(raw.Files) > 0 {
		for i, f := range raw.Files {
			components := f.Path
			if len(f.PathUTF8) > 0 {
				components = f.PathUTF8
			}
			if len(components) == 0 {
				return invalid("file %d has no path", i)
			}
			for _, c := range components {
				if !filesystem.IsSafeComponent(c) {
					return invalid("file %d has unsafe path component %q", i, c)
				}
			}
			if f.Length < 0 {
				return invalid("file %d has negative length", i)
			}

			info.Files = append(info.Files, File{
				Name:   filepath.Join(append([]string{info.Name}, components...)...),
				Length: f.Length,
				Offset: info.TotalSize,
			})
			info.TotalSize += f.Length
		}
	} else {
		if raw.Length < 0 {
			return invalid("negative length")
		}
		info.Files = []File{{Name: info.Name, Length: raw.Length}}
		info.TotalSize = raw.Length
	}

	if info.TotalSize == 0 {
		return invalid("torrent has no data")
	}

	if len(raw.Pieces)%HashSize != 0 {
		return invalid("pieces length %d is not a multiple of %d", len(raw.Pieces), HashSize)
	}

	count := len(raw.Pieces) / HashSize
	if want := (info.TotalSize + int64(info.PieceSize) - 1) / int64(info.PieceSize); int64(count) != want {
		return invalid("%d piece hashes for %d pieces", count, want)
	}

	info.Pieces = make([]Piece, count)
	for i := range info.Pieces {
		copy(info.Pieces[i].Hash[:], raw.Pieces[i*HashSize:])
	}

	return nil
}

func validTrackerURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "http", "https", "udp":
		return true
	default:
		return false
	}
}

// parseTrackers reads announce-list tiers, falling back to announce.
// Duplicates are dropped and empty tiers do not consume a tier number.
func (info *Info) parseTrackers(top *variant.Variant) {
	seen := make(map[string]bool)

	add := func(announce string, tier int) bool {
		if !validTrackerURL(announce) || seen[announce] {
			return false
		}
		seen[announce] = true
		info.Trackers = append(info.Trackers, Tracker{Announce: announce, Tier: tier})
		return true
	}

	if tiers := top.DictFindList(keyAnnounceList); tiers != nil {
		tier := 0
		for i := 0; i < tiers.ListSize(); i++ {
			list := tiers.ListChild(i)
			added := false
			for j := 0; j < list.ListSize(); j++ {
				if s, ok := list.ListChild(j).Str(); ok && add(s, tier) {
					added = true
				}
			}
			if added {
				tier++
			}
		}
	}

	if len(info.Trackers) == 0 {
		if s, ok := top.DictFindStr(keyAnnounce); ok {
			add(s, 0)
		}
	}
}

func (info *Info) addWebseed(s string) {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return
	}
	for _, existing := range info.Webseeds {
		if existing == s {
			return
		}
	}
	info.Webseeds = append(info.Webseeds, s)
}

// HasMetadata reports whether the file table is known.
func (info *Info) HasMetadata() bool {
	return len(info.Files) > 0
}

func (info *Info) PieceCount() int {
	return len(info.Pieces)
}

// PieceSizeAt returns the length of piece i; only the last piece may be
// short.
func (info *Info) PieceSizeAt(i int) uint32 {
	if i == len(info.Pieces)-1 {
		if rem := info.TotalSize % int64(info.PieceSize); rem != 0 {
			return uint32(rem)
		}
	}
	return info.PieceSize
}

// PieceOffset returns the absolute position of a byte within the torrent.
func (info *Info) PieceOffset(piece int, offset uint32) int64 {
	return int64(piece)*int64(info.PieceSize) + int64(offset)
}

// BlockSizeFor returns the largest power-of-two fraction of pieceSize
// that is no bigger than MaxBlockSize, or 0 when pieceSize cannot be
// split evenly that way.
func BlockSizeFor(pieceSize uint32) uint32 {
	b := pieceSize
	for b > MaxBlockSize {
		b /= 2
	}

	if b == 0 || pieceSize%b != 0 {
		return 0
	}

	return b
}
