package repository

// Repository persists the session's torrent registry, per-torrent resume
// state and cumulative statistics.
type Repository interface {
	SaveTorrent(rec *TorrentRecord) error
	FindTorrent(hash string) (*TorrentRecord, error)
	FindAllTorrents() ([]*TorrentRecord, error)
	DeleteTorrent(hash string) error

	SaveResume(hash string, data []byte) error
	FindResume(hash string) ([]byte, error)
	DeleteResume(hash string) error

	SaveStats(data []byte) error
	LoadStats() ([]byte, error)

	Close() error
}
