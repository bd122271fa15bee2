package variant

import (
	"fmt"
	"syscall"

	"github.com/NamanBalaji/tordisk/internal/errors"
)

var (
	// ErrNoContent is returned when the input holds no value at all.
	ErrNoContent = fmt.Errorf("no content: %w", errors.ErrInvalidArgument)
	// ErrIllegalSequence is wrapped by every JSON syntax error.
	ErrIllegalSequence = fmt.Errorf("illegal byte sequence: %w", syscall.EILSEQ)
	// ErrInvalidBencode is wrapped by every bencode decoding error.
	ErrInvalidBencode = fmt.Errorf("invalid bencode: %w", syscall.EILSEQ)
	// ErrTooDeep is returned when containers nest deeper than MaxDepth.
	ErrTooDeep = errors.New("nesting too deep")
)

// SyntaxError describes where a JSON document stopped making sense.
type SyntaxError struct {
	Source    string // label of the input, may be empty
	Pos       int    // byte offset of the failure
	Msg       string
	Remaining []byte // at most 16 bytes of input starting at Pos
}

func (e *SyntaxError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("JSON parse failed in %s at pos %d: %s -- remaining text %q", e.Source, e.Pos, e.Msg, e.Remaining)
	}

	return fmt.Sprintf("JSON parse failed at pos %d: %s -- remaining text %q", e.Pos, e.Msg, e.Remaining)
}

func (e *SyntaxError) Unwrap() error {
	return ErrIllegalSequence
}
