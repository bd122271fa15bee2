package variant

import (
	"fmt"
	"os"

	"github.com/NamanBalaji/tordisk/internal/filesystem"
)

// Format selects a serialization.
type Format int

const (
	FormatBenc Format = iota
	FormatJSON
	FormatJSONLean
)

func (f Format) String() string {
	switch f {
	case FormatBenc:
		return "benc"
	case FormatJSON:
		return "json"
	case FormatJSONLean:
		return "json-lean"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Serialize renders v in the given format.
func Serialize(v *Variant, f Format) []byte {
	switch f {
	case FormatJSON:
		return ToJSON(v, false)
	case FormatJSONLean:
		return ToJSON(v, true)
	default:
		return ToBenc(v)
	}
}

// Parse decodes the first value of data in the given format.
func Parse(data []byte, f Format, source string) (*Variant, int, error) {
	if f == FormatBenc {
		return ParseBenc(data)
	}
	return ParseJSON(data, source)
}

// FromFile reads and decodes a whole file.
func FromFile(path string, f Format) (*Variant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	v, _, err := Parse(data, f, path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return v, nil
}

// ToFile atomically replaces path with the serialization of v.
func ToFile(v *Variant, f Format, path string) error {
	return filesystem.NewOSFileSystem().WriteFileAtomic(path, Serialize(v, f))
}
