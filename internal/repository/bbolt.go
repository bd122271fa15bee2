package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const (
	torrentsBucket = "torrents"
	resumeBucket   = "resume"
	statsBucket    = "stats"
	metadataBucket = "metadata"
	schemaVersion  = 1

	sessionStatsKey = "session"
)

var (
	// ErrTorrentNotFound is returned when a torrent is not registered
	ErrTorrentNotFound = errors.New("torrent not found")
	// ErrResumeNotFound is returned when a torrent has no saved resume state
	ErrResumeNotFound = errors.New("resume state not found")
	// ErrStatsNotFound is returned before the first stats save
	ErrStatsNotFound = errors.New("stats not found")
)

// TorrentRecord registers a torrent description file with the session.
type TorrentRecord struct {
	ID              uuid.UUID `json:"id"`
	Hash            string    `json:"hash"`
	Name            string    `json:"name"`
	DescriptionPath string    `json:"descriptionPath"`
	AddedAt         time.Time `json:"addedAt"`
}

// BboltRepository implements Repository on top of a bbolt database
type BboltRepository struct {
	db *bbolt.DB
}

// NewBboltRepository creates a new bbolt repository
func NewBboltRepository(dbPath string) (*BboltRepository, error) {
	options := &bbolt.Options{
		Timeout: 1 * time.Second,
	}

	db, err := bbolt.Open(dbPath, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := &BboltRepository{
		db: db,
	}

	if err := repo.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return repo, nil
}

// initialize sets up buckets and schema
func (r *BboltRepository) initialize() error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{torrentsBucket, resumeBucket, statsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}

		metadataBucket, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return fmt.Errorf("failed to create metadata bucket: %w", err)
		}

		versionBytes := []byte(fmt.Sprintf("%d", schemaVersion))
		err = metadataBucket.Put([]byte("schema_version"), versionBytes)
		if err != nil {
			return fmt.Errorf("failed to store schema version: %w", err)
		}

		return nil
	})
}

// SaveTorrent persists a torrent registration
func (r *BboltRepository) SaveTorrent(rec *TorrentRecord) error {
	if rec == nil {
		return errors.New("cannot save nil torrent")
	}
	if rec.Hash == "" {
		return errors.New("torrent hash cannot be empty")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal torrent: %w", err)
	}

	return r.put(torrentsBucket, rec.Hash, data)
}

// FindTorrent retrieves a torrent registration by info-hash
func (r *BboltRepository) FindTorrent(hash string) (*TorrentRecord, error) {
	data, err := r.get(torrentsBucket, hash, ErrTorrentNotFound)
	if err != nil {
		return nil, err
	}

	rec := &TorrentRecord{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal torrent: %w", err)
	}

	return rec, nil
}

// FindAllTorrents retrieves all torrent registrations
func (r *BboltRepository) FindAllTorrents() ([]*TorrentRecord, error) {
	var records []*TorrentRecord

	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(torrentsBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", torrentsBucket)
		}

		return bucket.ForEach(func(k, v []byte) error {
			rec := &TorrentRecord{}

			if err := json.Unmarshal(v, rec); err != nil {
				return fmt.Errorf("failed to unmarshal torrent: %w", err)
			}

			records = append(records, rec)
			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return records, nil
}

// DeleteTorrent removes a torrent registration
func (r *BboltRepository) DeleteTorrent(hash string) error {
	return r.delete(torrentsBucket, hash, ErrTorrentNotFound)
}

// SaveResume stores the serialized resume state of a torrent
func (r *BboltRepository) SaveResume(hash string, data []byte) error {
	if hash == "" {
		return errors.New("torrent hash cannot be empty")
	}

	return r.put(resumeBucket, hash, data)
}

// FindResume returns the serialized resume state of a torrent
func (r *BboltRepository) FindResume(hash string) ([]byte, error) {
	return r.get(resumeBucket, hash, ErrResumeNotFound)
}

// DeleteResume drops a torrent's resume state. Deleting absent state is
// not an error.
func (r *BboltRepository) DeleteResume(hash string) error {
	err := r.delete(resumeBucket, hash, ErrResumeNotFound)
	if errors.Is(err, ErrResumeNotFound) {
		return nil
	}
	return err
}

// SaveStats stores the serialized session statistics
func (r *BboltRepository) SaveStats(data []byte) error {
	return r.put(statsBucket, sessionStatsKey, data)
}

// LoadStats returns the serialized session statistics
func (r *BboltRepository) LoadStats() ([]byte, error) {
	return r.get(statsBucket, sessionStatsKey, ErrStatsNotFound)
}

// Close closes the database
func (r *BboltRepository) Close() error {
	return r.db.Close()
}

func (r *BboltRepository) put(name, key string, data []byte) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(name))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", name)
		}

		if err := bucket.Put([]byte(key), data); err != nil {
			return fmt.Errorf("failed to save %s/%s: %w", name, key, err)
		}

		return nil
	})
}

func (r *BboltRepository) get(name, key string, notFound error) ([]byte, error) {
	if key == "" {
		return nil, errors.New("key cannot be empty")
	}

	var data []byte
	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(name))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", name)
		}

		v := bucket.Get([]byte(key))
		if v == nil {
			return notFound
		}

		// bbolt values are only valid for the life of the transaction
		data = append([]byte(nil), v...)
		return nil
	})

	if err != nil {
		return nil, err
	}

	return data, nil
}

func (r *BboltRepository) delete(name, key string, notFound error) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}

	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(name))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", name)
		}

		if bucket.Get([]byte(key)) == nil {
			return notFound
		}

		return bucket.Delete([]byte(key))
	})
}
