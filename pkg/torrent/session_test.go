package torrent_test

import (
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/tordisk/internal/errors"
	"github.com/NamanBalaji/tordisk/internal/repository"
	"github.com/NamanBalaji/tordisk/pkg/torrent"
	"github.com/NamanBalaji/tordisk/pkg/torrent/storage"
	"github.com/NamanBalaji/tordisk/pkg/variant"
)

const pieceLength = 16384

func randomData(t *testing.T, n int) []byte {
	t.Helper()

	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)

	return b
}

func TestAddTorrentFileVerifiesExistingData(t *testing.T) {
	cfg := testConfig(t)
	data := randomData(t, 40000)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DownloadDir, "data.bin"), data, 0o644))

	s := newSession(t, cfg, openRepo(t))
	tor, err := s.AddTorrentFile(writeTorrentFile(t, "data.bin", pieceLength, data))
	require.NoError(t, err)

	assert.True(t, tor.HasMetadata())
	assert.Equal(t, "data.bin", tor.Name())
	assert.Equal(t, uint32(pieceLength), tor.BlockSize())
	assert.Equal(t, torrent.StatusCheckWait, tor.Status())

	require.NoError(t, s.VerifyPending(context.Background()))

	assert.Equal(t, torrent.StatusStopped, tor.Status())
	assert.Equal(t, 3, tor.Have().Count())
	assert.True(t, tor.Have().IsComplete())

	buf := make([]byte, 100)
	require.NoError(t, tor.ReadPiece(2, 0, buf))
	assert.Equal(t, data[2*pieceLength:2*pieceLength+100], buf)
}

func TestAddTorrentFileServesMetadata(t *testing.T) {
	cfg := testConfig(t)
	data := randomData(t, 40000)

	s := newSession(t, cfg, openRepo(t))
	tor, err := s.AddTorrentFile(writeTorrentFile(t, "data.bin", pieceLength, data))
	require.NoError(t, err)

	desc, err := variant.FromFile(tor.DescriptionPath(), variant.FormatBenc)
	require.NoError(t, err)
	infoBytes := variant.ToBenc(desc.DictFindDict(variant.NewQuark("info")))
	require.Less(t, len(infoBytes), torrent.MetadataPieceSize)

	b, ok := tor.GetMetadataPiece(0)
	require.True(t, ok)
	assert.Equal(t, infoBytes, b)

	_, ok = tor.GetMetadataPiece(1)
	assert.False(t, ok)
	_, ok = tor.GetMetadataPiece(-1)
	assert.False(t, ok)

	assert.False(t, tor.SetMetadataSizeHint(int64(len(infoBytes))), "metadata is already known")
}

func TestAddTorrentFileErrors(t *testing.T) {
	s := newSession(t, testConfig(t), openRepo(t))

	_, err := s.AddTorrentFile(filepath.Join(t.TempDir(), "missing.torrent"))
	require.Error(t, err)
	assert.True(t, errors.IsIOError(err))

	garbage := filepath.Join(t.TempDir(), "garbage.torrent")
	require.NoError(t, os.WriteFile(garbage, []byte("not bencode"), 0o644))
	_, err = s.AddTorrentFile(garbage)
	require.Error(t, err)
	assert.True(t, errors.IsProtocolError(err))

	path := writeTorrentFile(t, "data.bin", pieceLength, randomData(t, 1000))
	_, err = s.AddTorrentFile(path)
	require.NoError(t, err)
	_, err = s.AddTorrentFile(path)
	assert.ErrorIs(t, err, torrent.ErrDuplicateTorrent)

	_, err = s.AddMagnet("magnet:?dn=nohash")
	assert.True(t, errors.IsProtocolError(err))
}

func TestWriteAndCompletePieces(t *testing.T) {
	cfg := testConfig(t)
	data := randomData(t, 40000)

	s := newSession(t, cfg, openRepo(t))
	tor, err := s.AddTorrentFile(writeTorrentFile(t, "data.bin", pieceLength, data))
	require.NoError(t, err)
	require.NoError(t, s.VerifyPending(context.Background()))
	require.Zero(t, tor.Have().Count())

	// two blocks' worth split across calls
	require.NoError(t, tor.WritePiece(0, 0, data[:8192]))
	require.NoError(t, tor.WritePiece(0, 8192, data[8192:pieceLength]))
	assert.True(t, tor.CompletePiece(0))
	assert.True(t, tor.Have().HasPiece(0))

	bad := append([]byte(nil), data[pieceLength:2*pieceLength]...)
	bad[100] ^= 0xff
	require.NoError(t, tor.WritePiece(1, 0, bad))
	assert.Equal(t, storage.PieceMismatched, tor.CheckPiece(1))
	assert.False(t, tor.CompletePiece(1))
	assert.False(t, tor.Have().HasPiece(1))
	assert.Equal(t, int64(pieceLength), tor.Corrupt())

	require.NoError(t, tor.WritePiece(2, 0, data[2*pieceLength:]))
	assert.True(t, tor.CompletePiece(2))
	assert.Equal(t, 2, tor.Have().Count())
	assert.True(t, tor.IsDirty())

	single, cumulative := s.Stats()
	assert.Equal(t, int64(1), single.FilesAdded)
	assert.Equal(t, int64(1), single.SessionCount)
	assert.Equal(t, single.FilesAdded, cumulative.FilesAdded)

	file, off := tor.LocatePiece(2, 10)
	assert.Zero(t, file)
	assert.Equal(t, int64(2*pieceLength+10), off)
}

func TestStartAndStop(t *testing.T) {
	s := newSession(t, testConfig(t), openRepo(t))
	tor, err := s.AddTorrentFile(writeTorrentFile(t, "data.bin", pieceLength, randomData(t, 1000)))
	require.NoError(t, err)

	// starting while queued takes effect once verification finishes
	assert.True(t, tor.Start())
	require.NoError(t, s.VerifyPending(context.Background()))
	assert.Equal(t, torrent.StatusDownload, tor.Status())

	tor.Stop()
	assert.Equal(t, torrent.StatusStopped, tor.Status())

	tor.SetLocalError("No space left on device (/x)")
	assert.False(t, tor.Start())
	tor.ClearLocalError()
	assert.True(t, tor.Start())

	magnet, err := s.AddMagnet(magnetURI([]byte("d4:name1:xe"), "x"))
	require.NoError(t, err)
	assert.False(t, magnet.Start(), "no metadata yet")
}

func TestSessionRestoresFromResume(t *testing.T) {
	cfg := testConfig(t)
	repo := openRepo(t)
	data := randomData(t, 40000)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DownloadDir, "data.bin"), data, 0o644))

	first, err := torrent.NewSession(cfg, repo)
	require.NoError(t, err)

	tor, err := first.AddTorrentFile(writeTorrentFile(t, "data.bin", pieceLength, data))
	require.NoError(t, err)
	require.NoError(t, first.VerifyPending(context.Background()))
	require.True(t, tor.Have().IsComplete())
	hash := tor.Hash()
	addedAt := tor.AddedAt()

	require.NoError(t, first.Close())

	second := newSession(t, cfg, repo)
	restored, err := second.Torrent(hash)
	require.NoError(t, err)

	assert.NotSame(t, tor, restored)
	assert.Equal(t, torrent.StatusStopped, restored.Status(), "resumed torrents are not verified again")
	assert.True(t, restored.Have().IsComplete())
	assert.Equal(t, addedAt.Unix(), restored.AddedAt().Unix())
	assert.Equal(t, cfg.DownloadDir, restored.DownloadDir())

	require.NoError(t, second.VerifyPending(context.Background()))
	assert.Equal(t, torrent.StatusStopped, restored.Status())

	_, cumulative := second.Stats()
	assert.Equal(t, int64(2), cumulative.SessionCount)
}

func TestSessionReverifiesWithoutResume(t *testing.T) {
	cfg := testConfig(t)
	repo := openRepo(t)
	data := randomData(t, 40000)

	first, err := torrent.NewSession(cfg, repo)
	require.NoError(t, err)
	tor, err := first.AddTorrentFile(writeTorrentFile(t, "data.bin", pieceLength, data))
	require.NoError(t, err)
	hash := tor.Hash()
	require.NoError(t, first.Close())

	require.NoError(t, repo.DeleteResume(hash))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DownloadDir, "data.bin"), data, 0o644))

	second := newSession(t, cfg, repo)
	restored, err := second.Torrent(hash)
	require.NoError(t, err)
	assert.Equal(t, torrent.StatusCheckWait, restored.Status())

	require.NoError(t, second.VerifyPending(context.Background()))
	assert.True(t, restored.Have().IsComplete())
}

func TestVerifyPendingHonorsCancel(t *testing.T) {
	s := newSession(t, testConfig(t), openRepo(t))
	tor, err := s.AddTorrentFile(writeTorrentFile(t, "data.bin", pieceLength, randomData(t, 40000)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.VerifyPending(ctx), context.Canceled)
	assert.Equal(t, torrent.StatusStopped, tor.Status())
}

func TestRemoveTorrent(t *testing.T) {
	repo := openRepo(t)
	s := newSession(t, testConfig(t), repo)

	first, err := s.AddTorrentFile(writeTorrentFile(t, "a.bin", pieceLength, randomData(t, 1000)))
	require.NoError(t, err)
	second, err := s.AddTorrentFile(writeTorrentFile(t, "b.bin", pieceLength, randomData(t, 2000)))
	require.NoError(t, err)

	list := s.Torrents()
	require.Len(t, list, 2)
	assert.Same(t, first, list[0])
	assert.Same(t, second, list[1])

	require.NoError(t, s.RemoveTorrent(first.Hash()))

	_, err = s.Torrent(first.Hash())
	assert.ErrorIs(t, err, torrent.ErrTorrentNotFound)
	assert.ErrorIs(t, s.RemoveTorrent(first.Hash()), torrent.ErrTorrentNotFound)

	_, err = repo.FindTorrent(first.Hash())
	assert.ErrorIs(t, err, repository.ErrTorrentNotFound)
	assert.NoFileExists(t, first.DescriptionPath())
	assert.FileExists(t, second.DescriptionPath())

	// the removed torrent is no longer verified
	require.NoError(t, s.VerifyPending(context.Background()))
	assert.Equal(t, torrent.StatusCheckWait, first.Status())
	assert.Equal(t, torrent.StatusStopped, second.Status())
}

func TestSetDownloadDirMovesLookups(t *testing.T) {
	cfg := testConfig(t)
	data := randomData(t, 1000)

	s := newSession(t, cfg, openRepo(t))
	tor, err := s.AddTorrentFile(writeTorrentFile(t, "data.bin", pieceLength, data))
	require.NoError(t, err)
	require.NoError(t, s.VerifyPending(context.Background()))
	require.Zero(t, tor.Have().Count())

	other := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(other, "data.bin"), data, 0o644))

	tor.SetDownloadDir(other)
	assert.True(t, tor.VerifyPiece(0))

	dir, sub, ok := tor.FindFile(0)
	require.True(t, ok)
	assert.Equal(t, other, dir)
	assert.Equal(t, "data.bin", sub)
}
