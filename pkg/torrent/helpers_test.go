package torrent_test

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/jackpal/bencode-go"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/tordisk/internal/config"
	"github.com/NamanBalaji/tordisk/internal/repository"
	"github.com/NamanBalaji/tordisk/pkg/torrent"
	"github.com/NamanBalaji/tordisk/pkg/variant"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		DownloadDir:   t.TempDir(),
		StateDir:      t.TempDir(),
		Preallocation: config.PreallocationSparse,
		OpenFileLimit: 8,
		CacheSize:     1 * datasize.MB,
		VerifyWorkers: 2,
	}
}

func openRepo(t *testing.T) repository.Repository {
	t.Helper()

	repo, err := repository.NewBboltRepository(filepath.Join(t.TempDir(), "tordisk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	return repo
}

func newSession(t *testing.T, cfg *config.Config, repo repository.Repository) *torrent.Session {
	t.Helper()

	s, err := torrent.NewSession(cfg, repo)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func pieceHashes(data []byte, pieceLength int) string {
	var b strings.Builder
	for off := 0; off < len(data); off += pieceLength {
		end := min(off+pieceLength, len(data))
		sum := sha1.Sum(data[off:end])
		b.Write(sum[:])
	}
	return b.String()
}

// infoDict builds a single-file info dict for data. A non-zero pad adds a
// filler key so the encoding can be grown to an exact size.
func infoDict(name string, pieceLength int, data []byte, pad int) *variant.Variant {
	v := variant.New()
	v.InitDict(5)
	v.DictAddInt(variant.NewQuark("length"), int64(len(data)))
	v.DictAddStr(variant.NewQuark("name"), name)
	v.DictAddInt(variant.NewQuark("piece length"), int64(pieceLength))
	v.DictAddStr(variant.NewQuark("pieces"), pieceHashes(data, pieceLength))
	if pad > 0 {
		v.DictAddStr(variant.NewQuark("x-pad"), strings.Repeat("x", pad))
	}
	return v
}

// sizedInfoDict returns a bencoded info dict of exactly size bytes.
func sizedInfoDict(t *testing.T, data []byte, size int) []byte {
	t.Helper()

	pad := 0
	for n := 0; n < 5; n++ {
		b := variant.ToBenc(infoDict("fixture.bin", 16384, data, pad))
		if len(b) == size {
			return b
		}
		pad += size - len(b)
	}

	t.Fatalf("could not pad info dict to %d bytes", size)
	return nil
}

func magnetURI(infoBytes []byte, name string) string {
	sum := sha1.Sum(infoBytes)
	return "magnet:?xt=urn:btih:" + hex.EncodeToString(sum[:]) +
		"&dn=" + url.QueryEscape(name) +
		"&tr=" + url.QueryEscape("http://a.example/ann")
}

// writeTorrentFile writes a .torrent for data using an independent
// bencoder and returns its path.
func writeTorrentFile(t *testing.T, name string, pieceLength int, data []byte) string {
	t.Helper()

	desc := map[string]interface{}{
		"announce": "http://a.example/ann",
		"info": map[string]interface{}{
			"length":       len(data),
			"name":         name,
			"piece length": pieceLength,
			"pieces":       pieceHashes(data, pieceLength),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, bencode.Marshal(&buf, desc))

	path := filepath.Join(t.TempDir(), name+".torrent")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	return path
}
