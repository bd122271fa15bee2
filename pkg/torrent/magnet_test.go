package torrent_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/tordisk/internal/errors"
	"github.com/NamanBalaji/tordisk/internal/repository"
	"github.com/NamanBalaji/tordisk/pkg/torrent"
	"github.com/NamanBalaji/tordisk/pkg/variant"
)

const metadataSize = 40000

func addMagnet(t *testing.T, s *torrent.Session, infoBytes []byte) *torrent.Torrent {
	t.Helper()

	tor, err := s.AddMagnet(magnetURI(infoBytes, "Fixture"))
	require.NoError(t, err)
	require.False(t, tor.HasMetadata())

	return tor
}

func metadataPieces(b []byte) [][]byte {
	var pieces [][]byte
	for off := 0; off < len(b); off += torrent.MetadataPieceSize {
		pieces = append(pieces, b[off:min(off+torrent.MetadataPieceSize, len(b))])
	}
	return pieces
}

func TestMetadataAssembly(t *testing.T) {
	infoBytes := sizedInfoDict(t, make([]byte, 32768), metadataSize)
	cfg := testConfig(t)
	s := newSession(t, cfg, openRepo(t))
	tor := addMagnet(t, s, infoBytes)

	assert.Equal(t, "Fixture", tor.Name())
	assert.Equal(t, 0.0, tor.GetMetadataPercent())

	require.True(t, tor.SetMetadataSizeHint(metadataSize))
	assert.False(t, tor.SetMetadataSizeHint(metadataSize), "assembly already in progress")

	needed, total := tor.MetadataPieces()
	assert.Equal(t, 3, needed)
	assert.Equal(t, 3, total)

	pieces := metadataPieces(infoBytes)
	require.Len(t, pieces, 3)
	assert.Len(t, pieces[0], 16384)
	assert.Len(t, pieces[1], 16384)
	assert.Len(t, pieces[2], 7232)

	tor.SetMetadataPiece(0, pieces[0])
	assert.InDelta(t, 1.0/3, tor.GetMetadataPercent(), 1e-9)
	tor.SetMetadataPiece(1, pieces[1])
	assert.InDelta(t, 2.0/3, tor.GetMetadataPercent(), 1e-9)
	tor.SetMetadataPiece(2, pieces[2])

	require.NoError(t, tor.MetadataError())
	require.True(t, tor.HasMetadata())
	assert.Equal(t, 1.0, tor.GetMetadataPercent())

	needed, total = tor.MetadataPieces()
	assert.Zero(t, needed)
	assert.Zero(t, total)

	info := tor.Info()
	assert.Equal(t, "fixture.bin", info.Name)
	assert.Equal(t, 2, info.PieceCount())
	require.Len(t, info.Trackers, 1)
	assert.Equal(t, "http://a.example/ann", info.Trackers[0].Announce)
	assert.Equal(t, torrent.StatusCheckWait, tor.Status())
	assert.True(t, tor.IsDirty())
	assert.False(t, tor.EditedAt().IsZero())

	// the description on disk now carries the info dict
	desc, err := variant.FromFile(tor.DescriptionPath(), variant.FormatBenc)
	require.NoError(t, err)
	got := desc.DictFindDict(variant.NewQuark("info"))
	require.NotNil(t, got)
	assert.Equal(t, infoBytes, variant.ToBenc(got))

	// and can be served back piece by piece
	for i, want := range pieces {
		b, ok := tor.GetMetadataPiece(i)
		require.True(t, ok, "piece %d", i)
		assert.Equal(t, want, b, "piece %d", i)
	}
	_, ok := tor.GetMetadataPiece(3)
	assert.False(t, ok)

	require.NoError(t, s.VerifyPending(context.Background()))
	assert.Equal(t, torrent.StatusDownload, tor.Status())
	assert.Zero(t, tor.Have().Count())
}

func TestMetadataAssemblyPrefetchOnly(t *testing.T) {
	infoBytes := sizedInfoDict(t, make([]byte, 32768), metadataSize)
	cfg := testConfig(t)
	cfg.PrefetchMagnetMetadata = true
	s := newSession(t, cfg, openRepo(t))
	tor := addMagnet(t, s, infoBytes)

	require.True(t, tor.SetMetadataSizeHint(metadataSize))
	for i, p := range metadataPieces(infoBytes) {
		tor.SetMetadataPiece(i, p)
	}
	require.True(t, tor.HasMetadata())

	require.NoError(t, s.VerifyPending(context.Background()))
	assert.Equal(t, torrent.StatusStopped, tor.Status())
}

func TestMetadataChecksumMismatchResets(t *testing.T) {
	infoBytes := sizedInfoDict(t, make([]byte, 32768), metadataSize)
	s := newSession(t, testConfig(t), openRepo(t))
	tor := addMagnet(t, s, infoBytes)
	require.True(t, tor.SetMetadataSizeHint(metadataSize))

	now := time.Unix(1_000_000, 0)
	for n := 0; n < 3; n++ {
		_, ok := tor.GetNextMetadataRequest(now)
		require.True(t, ok)
	}
	_, ok := tor.GetNextMetadataRequest(now)
	require.False(t, ok)

	bad := append([]byte(nil), infoBytes...)
	bad[len(bad)-2] ^= 0xff
	for i, p := range metadataPieces(bad) {
		tor.SetMetadataPiece(i, p)
	}

	assert.False(t, tor.HasMetadata())
	assert.ErrorIs(t, tor.MetadataError(), torrent.ErrHashMismatch)
	assert.True(t, errors.IsDataError(tor.MetadataError()))
	assert.True(t, errors.IsRetryable(tor.MetadataError()))
	var metaErr *torrent.MetadataError
	require.True(t, errors.As(tor.MetadataError(), &metaErr))
	assert.False(t, metaErr.ChecksumPassed)
	assert.Equal(t, 0.0, tor.GetMetadataPercent())

	needed, total := tor.MetadataPieces()
	assert.Equal(t, 3, needed)
	assert.Equal(t, 3, total)

	// every piece is unrequested again
	for want := 0; want < 3; want++ {
		piece, ok := tor.GetNextMetadataRequest(now)
		require.True(t, ok)
		assert.Equal(t, want, piece)
	}

	// a good set afterwards still completes
	for i, p := range metadataPieces(infoBytes) {
		tor.SetMetadataPiece(i, p)
	}
	assert.True(t, tor.HasMetadata())
	assert.NoError(t, tor.MetadataError())
}

func TestMetadataCommitDropsResume(t *testing.T) {
	infoBytes := sizedInfoDict(t, make([]byte, 32768), metadataSize)
	repo := openRepo(t)
	s := newSession(t, testConfig(t), repo)
	tor := addMagnet(t, s, infoBytes)
	hash := tor.Hash()

	require.NoError(t, tor.SaveResume())
	_, err := repo.FindResume(hash)
	require.NoError(t, err)

	require.True(t, tor.SetMetadataSizeHint(metadataSize))
	for i, p := range metadataPieces(infoBytes) {
		tor.SetMetadataPiece(i, p)
	}
	require.True(t, tor.HasMetadata())

	_, err = repo.FindResume(hash)
	assert.ErrorIs(t, err, repository.ErrResumeNotFound)

	// verification writes fresh state that covers the pieces
	require.NoError(t, s.VerifyPending(context.Background()))
	_, err = repo.FindResume(hash)
	assert.NoError(t, err)
}

func TestMetadataRequestThrottle(t *testing.T) {
	infoBytes := sizedInfoDict(t, make([]byte, 32768), metadataSize)
	s := newSession(t, testConfig(t), openRepo(t))
	tor := addMagnet(t, s, infoBytes)

	_, ok := tor.GetNextMetadataRequest(time.Now())
	assert.False(t, ok, "no assembly yet")

	require.True(t, tor.SetMetadataSizeHint(metadataSize))

	now := time.Unix(1_000_000, 0)
	seen := map[int]bool{}
	for n := 0; n < 3; n++ {
		piece, ok := tor.GetNextMetadataRequest(now)
		require.True(t, ok)
		assert.False(t, seen[piece], "piece %d requested twice", piece)
		seen[piece] = true
	}

	_, ok = tor.GetNextMetadataRequest(now.Add(time.Second))
	assert.False(t, ok)
	_, ok = tor.GetNextMetadataRequest(now.Add(torrent.MinRepeatInterval))
	assert.False(t, ok, "interval must have fully passed")

	piece, ok := tor.GetNextMetadataRequest(now.Add(torrent.MinRepeatInterval + time.Second))
	require.True(t, ok)
	assert.Equal(t, 0, piece)

	// received pieces are never requested again
	tor.SetMetadataPiece(1, metadataPieces(infoBytes)[1])
	later := now.Add(time.Minute)
	var order []int
	for {
		p, ok := tor.GetNextMetadataRequest(later)
		if !ok {
			break
		}
		order = append(order, p)
	}
	assert.Equal(t, []int{2, 0}, order)
}

func TestSetMetadataPieceIgnoresBadInput(t *testing.T) {
	infoBytes := sizedInfoDict(t, make([]byte, 32768), metadataSize)
	s := newSession(t, testConfig(t), openRepo(t))
	tor := addMagnet(t, s, infoBytes)
	pieces := metadataPieces(infoBytes)

	// nothing is being assembled yet
	tor.SetMetadataPiece(0, pieces[0])
	needed, total := tor.MetadataPieces()
	assert.Zero(t, needed+total)

	require.True(t, tor.SetMetadataSizeHint(metadataSize))

	tests := []struct {
		name  string
		piece int
		data  []byte
	}{
		{"short piece", 0, pieces[0][:100]},
		{"last piece full size", 2, pieces[0]},
		{"index past end", 3, pieces[2]},
		{"negative index", -1, pieces[0]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tor.SetMetadataPiece(tt.piece, tt.data)
			needed, _ := tor.MetadataPieces()
			assert.Equal(t, 3, needed)
			assert.Equal(t, 0.0, tor.GetMetadataPercent())
		})
	}

	tor.SetMetadataPiece(0, pieces[0])
	tor.SetMetadataPiece(0, pieces[0])
	needed, _ = tor.MetadataPieces()
	assert.Equal(t, 2, needed, "duplicate piece must not count twice")
}

func TestSetMetadataSizeHint(t *testing.T) {
	infoBytes := sizedInfoDict(t, make([]byte, 32768), metadataSize)

	tests := []struct {
		name string
		size int64
		want bool
	}{
		{"zero", 0, false},
		{"negative", -5, false},
		{"too large", math.MaxInt32 + 1, false},
		{"one byte", 1, true},
		{"exact piece", torrent.MetadataPieceSize, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(t, testConfig(t), openRepo(t))
			tor := addMagnet(t, s, infoBytes)
			assert.Equal(t, tt.want, tor.SetMetadataSizeHint(tt.size))
			if tt.want {
				_, total := tor.MetadataPieces()
				assert.Equal(t, 1, total)
			}
		})
	}
}

func TestUnusableMetadataSetsLocalError(t *testing.T) {
	data := make([]byte, 32771)
	infoBytes := variant.ToBenc(infoDict("odd.bin", 32771, data, 0))

	s := newSession(t, testConfig(t), openRepo(t))
	tor := addMagnet(t, s, infoBytes)

	require.True(t, tor.SetMetadataSizeHint(int64(len(infoBytes))))
	tor.SetMetadataPiece(0, infoBytes)

	assert.False(t, tor.HasMetadata())
	assert.ErrorIs(t, tor.MetadataError(), torrent.ErrUnusableMetadata)
	assert.Equal(t, "Magnet torrent's metadata is not usable", tor.LocalError())

	needed, total := tor.MetadataPieces()
	assert.Equal(t, 1, needed)
	assert.Equal(t, 1, total)
}

func TestMagnetLink(t *testing.T) {
	infoBytes := sizedInfoDict(t, make([]byte, 32768), metadataSize)
	s := newSession(t, testConfig(t), openRepo(t))

	tor, err := s.AddMagnet(magnetURI(infoBytes, "Foo Bar"))
	require.NoError(t, err)

	want := "magnet:?xt=urn:btih:" + tor.Hash() + "&dn=Foo%20Bar&tr=http%3A%2F%2Fa.example%2Fann"
	assert.Equal(t, want, tor.MagnetLink())
}

func TestGetMetadataPieceNeedsMetadata(t *testing.T) {
	infoBytes := sizedInfoDict(t, make([]byte, 32768), metadataSize)
	s := newSession(t, testConfig(t), openRepo(t))
	tor := addMagnet(t, s, infoBytes)

	_, ok := tor.GetMetadataPiece(0)
	assert.False(t, ok)
}
