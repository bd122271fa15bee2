package torrent

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrDuplicateTorrent = errors.New("torrent already added")
	ErrTorrentNotFound  = errors.New("torrent not found")
	ErrHashMismatch     = errors.New("metadata checksum mismatch")
	ErrUnusableMetadata = errors.New("magnet torrent's metadata is not usable")
)

// MetadataError describes why an assembled info dict was thrown away.
type MetadataError struct {
	Type           error // Sentinel error type
	ChecksumPassed bool
	Parsed         bool
	Message        string
}

func (e *MetadataError) Error() string {
	msg := fmt.Sprintf("magnet status: checksum passed %t, metainfo parsed %t", e.ChecksumPassed, e.Parsed)
	if e.Message != "" {
		msg += ": " + e.Message
	}

	return fmt.Sprintf("%v (%s)", e.Type, msg)
}

func (e *MetadataError) Unwrap() error {
	return e.Type
}

func newMetadataError(errType error, checksumPassed, parsed bool, message string) *MetadataError {
	return &MetadataError{
		Type:           errType,
		ChecksumPassed: checksumPassed,
		Parsed:         parsed,
		Message:        message,
	}
}
