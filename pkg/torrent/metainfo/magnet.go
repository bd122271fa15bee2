package metainfo

import (
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/NamanBalaji/tordisk/pkg/variant"
)

// ErrInvalidMagnet is wrapped by every magnet link parse failure.
var ErrInvalidMagnet = errors.New("invalid magnet link")

// Magnet represents a parsed magnet link. It exposes the 20 byte
// info-hash, an optional display name, tracker URLs and webseeds. A
// magnet link may contain zero or more trackers; absence of trackers
// means peers must be discovered via DHT or other mechanisms.
type Magnet struct {
	InfoHash    [HashSize]byte
	DisplayName string
	Trackers    []string
	Webseeds    []string
}

// ParseMagnet parses a magnet link string and returns a Magnet
// structure. Both hex and base32 encoded info-hashes are supported.
func ParseMagnet(raw string) (*Magnet, error) {
	if !strings.HasPrefix(raw, "magnet:") {
		return nil, fmt.Errorf("%w: not a magnet link", ErrInvalidMagnet)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMagnet, err)
	}

	q := u.Query()

	xt := q.Get("xt")
	if !strings.HasPrefix(xt, "urn:btih:") {
		return nil, fmt.Errorf("%w: missing or invalid xt parameter", ErrInvalidMagnet)
	}

	hash, err := decodeHash(strings.TrimPrefix(xt, "urn:btih:"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMagnet, err)
	}

	m := &Magnet{
		InfoHash:    hash,
		DisplayName: q.Get("dn"),
	}

	for _, tr := range q["tr"] {
		if tr != "" {
			m.Trackers = append(m.Trackers, tr)
		}
	}

	for _, ws := range q["ws"] {
		if ws != "" {
			m.Webseeds = append(m.Webseeds, ws)
		}
	}

	return m, nil
}

// decodeHash decodes either a 40 character hex or a 32 character base32
// encoded info-hash into a 20 byte array.
func decodeHash(s string) ([HashSize]byte, error) {
	var out [HashSize]byte

	switch len(s) {
	case 40:
		_, err := hex.Decode(out[:], []byte(s))
		return out, err
	case 32:
		_, err := base32.StdEncoding.Decode(out[:], []byte(strings.ToUpper(s)))
		return out, err
	default:
		return out, errors.New("info_hash length invalid")
	}
}

// Description builds the benc-ready description of a magnet-only torrent:
// the hash, name and webseeds under "magnet-info" plus one tracker per
// tier in "announce-list".
func (m *Magnet) Description() *variant.Variant {
	top := variant.New()
	top.InitDict(2)

	mi := top.DictAddDict(keyMagnetInfo, 3)
	mi.DictAddRaw(keyInfoHash, m.InfoHash[:])
	if m.DisplayName != "" {
		mi.DictAddStr(keyDisplayName, m.DisplayName)
	}
	if len(m.Webseeds) > 0 {
		ws := mi.DictAddList(keyWebseeds, len(m.Webseeds))
		for _, s := range m.Webseeds {
			ws.ListAddStr(s)
		}
	}

	if len(m.Trackers) > 0 {
		tiers := top.DictAddList(keyAnnounceList, len(m.Trackers))
		for _, tr := range m.Trackers {
			tiers.ListAddList(1).ListAddStr(tr)
		}
	}

	return top
}

// BuildMagnetLink returns the magnet URI for info: the hex info-hash, then
// the name, every tracker and every webseed, each percent-encoded.
func BuildMagnetLink(info *Info) string {
	var b strings.Builder

	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(info.HashString)

	if info.Name != "" {
		b.WriteString("&dn=")
		escape(&b, info.Name)
	}

	for _, tr := range info.Trackers {
		b.WriteString("&tr=")
		escape(&b, tr.Announce)
	}

	for _, ws := range info.Webseeds {
		b.WriteString("&ws=")
		escape(&b, ws)
	}

	return b.String()
}

// escape percent-encodes everything except letters, digits and ",-._~".
// Reserved characters such as '/' and ':' are encoded too.
func escape(b *strings.Builder, s string) {
	const upperhex = "0123456789ABCDEF"

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == ',', c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&15])
		}
	}
}
