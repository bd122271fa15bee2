package variant

import (
	"bytes"
	"fmt"
	"strconv"
)

// ParseBenc decodes the first bencoded value in data and returns it with
// the offset one past its last byte. Dict entries keep their file order.
func ParseBenc(data []byte) (*Variant, int, error) {
	top := New()

	pos, err := parseBenc(data, 0, top, 0)
	if err != nil {
		return nil, pos, err
	}

	return top, pos, nil
}

func bencError(pos int, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s at offset %d", ErrInvalidBencode, fmt.Sprintf(format, args...), pos)
}

func parseBenc(data []byte, pos int, v *Variant, depth int) (int, error) {
	if pos >= len(data) {
		if pos == 0 {
			return pos, ErrNoContent
		}
		return pos, bencError(pos, "unexpected end of input")
	}

	switch c := data[pos]; {
	case c == 'i':
		i, next, err := parseBencInt(data, pos)
		if err != nil {
			return pos, err
		}
		v.InitInt(i)
		return next, nil

	case c >= '0' && c <= '9':
		s, next, err := parseBencString(data, pos)
		if err != nil {
			return pos, err
		}
		v.InitStr(s)
		return next, nil

	case c == 'l':
		if depth >= MaxDepth {
			return pos, fmt.Errorf("%w: %w", ErrInvalidBencode, ErrTooDeep)
		}
		v.InitList(0)
		pos++
		for {
			if pos >= len(data) {
				return pos, bencError(pos, "unterminated list")
			}
			if data[pos] == 'e' {
				return pos + 1, nil
			}
			next, err := parseBenc(data, pos, v.ListAdd(), depth+1)
			if err != nil {
				return next, err
			}
			pos = next
		}

	case c == 'd':
		if depth >= MaxDepth {
			return pos, fmt.Errorf("%w: %w", ErrInvalidBencode, ErrTooDeep)
		}
		v.InitDict(0)
		pos++
		for {
			if pos >= len(data) {
				return pos, bencError(pos, "unterminated dict")
			}
			if data[pos] == 'e' {
				return pos + 1, nil
			}
			if data[pos] < '0' || data[pos] > '9' {
				return pos, bencError(pos, "dict key is not a string")
			}
			key, next, err := parseBencString(data, pos)
			if err != nil {
				return pos, err
			}
			next, err = parseBenc(data, next, v.DictAdd(NewQuark(string(key))), depth+1)
			if err != nil {
				return next, err
			}
			pos = next
		}

	default:
		return pos, bencError(pos, "unexpected byte %q", c)
	}
}

func parseBencInt(data []byte, pos int) (int64, int, error) {
	end := bytes.IndexByte(data[pos:], 'e')
	if end < 0 {
		return 0, pos, bencError(pos, "unterminated integer")
	}

	text := string(data[pos+1 : pos+end])
	if text == "" || text == "-" || text == "-0" ||
		(len(text) > 1 && text[0] == '0') ||
		(len(text) > 2 && text[0] == '-' && text[1] == '0') {
		return 0, pos, bencError(pos, "malformed integer %q", text)
	}

	i, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, pos, bencError(pos, "malformed integer %q", text)
	}

	return i, pos + end + 1, nil
}

func parseBencString(data []byte, pos int) ([]byte, int, error) {
	colon := bytes.IndexByte(data[pos:], ':')
	if colon < 0 {
		return nil, pos, bencError(pos, "string length without ':'")
	}

	n, err := strconv.Atoi(string(data[pos : pos+colon]))
	if err != nil || n < 0 {
		return nil, pos, bencError(pos, "malformed string length")
	}

	start := pos + colon + 1
	if n > len(data)-start {
		return nil, pos, bencError(pos, "string length %d past end of input", n)
	}

	return data[start : start+n], start + n, nil
}

// ToBenc serializes v as canonical bencode: dict keys in byte order.
// Bools become 0 or 1 and reals become their "%f" text.
func ToBenc(v *Variant) []byte {
	var buf bytes.Buffer

	writeString := func(s []byte) {
		buf.WriteString(strconv.Itoa(len(s)))
		buf.WriteByte(':')
		buf.Write(s)
	}

	walk(v, &walkFuncs{
		intFunc: func(v *Variant) {
			fmt.Fprintf(&buf, "i%de", v.i)
		},
		boolFunc: func(v *Variant) {
			if v.b {
				buf.WriteString("i1e")
			} else {
				buf.WriteString("i0e")
			}
		},
		realFunc: func(v *Variant) {
			writeString([]byte(fmt.Sprintf("%f", v.r)))
		},
		stringFunc: func(v *Variant) {
			writeString(v.s)
		},
		unsetFunc: func(*Variant) {
			writeString(nil)
		},
		dictBegin: func(*Variant) {
			buf.WriteByte('d')
		},
		listBegin: func(*Variant) {
			buf.WriteByte('l')
		},
		containerEnd: func(*Variant) {
			buf.WriteByte('e')
		},
	}, true)

	return buf.Bytes()
}
