package variant

import (
	"bytes"
	"strconv"
	"unicode/utf8"

	"github.com/NamanBalaji/tordisk/internal/logger"
)

// MaxDepth bounds container nesting in both JSON and bencode input.
const MaxDepth = 64

type jsonParser struct {
	data   []byte
	pos    int
	source string

	top        *Variant
	stack      []*Variant
	key        []byte
	hasContent bool

	// A container's children are often alike, so the size of the last
	// container closed at each depth seeds the next one opened there.
	preallocGuess [MaxDepth]int

	keybuf []byte
	strbuf []byte
}

// ParseJSON decodes the first JSON value in data. It returns the value and
// the offset one past the last byte consumed, so a buffer holding several
// values can be decoded in sequence. source labels the input in errors and
// may be empty.
func ParseJSON(data []byte, source string) (*Variant, int, error) {
	p := &jsonParser{
		data:   data,
		source: source,
		top:    New(),
	}

	err := p.parse()
	if err == nil && !p.hasContent {
		err = ErrNoContent
	}
	if err != nil {
		return nil, p.pos, err
	}

	return p.top, p.pos, nil
}

func (p *jsonParser) parse() error {
	p.skipSpace()
	if p.pos >= len(p.data) {
		return nil
	}
	return p.value(0)
}

func (p *jsonParser) fail(msg string) error {
	end := p.pos + 16
	if end > len(p.data) {
		end = len(p.data)
	}

	pos := p.pos
	if pos > len(p.data) {
		pos = len(p.data)
	}

	err := &SyntaxError{
		Source:    p.source,
		Pos:       pos,
		Msg:       msg,
		Remaining: append([]byte(nil), p.data[pos:end]...),
	}
	logger.Errorf("%v", err)

	return err
}

func (p *jsonParser) skipSpace() {
	for p.pos < len(p.data) {
		switch p.data[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

// node returns the variant the next decoded value goes into: the top
// value, a new list element, or a new dict entry under the pending key.
func (p *jsonParser) node() *Variant {
	if len(p.stack) == 0 {
		return p.top
	}

	parent := p.stack[len(p.stack)-1]
	if parent.IsList() {
		return parent.ListAdd()
	}

	child := parent.DictAdd(NewQuark(string(p.key)))
	p.key = nil
	return child
}

func (p *jsonParser) push(t Type) {
	p.hasContent = true
	v := p.node()
	p.stack = append(p.stack, v)

	depth := len(p.stack)
	n := 0
	if depth < MaxDepth {
		n = p.preallocGuess[depth]
	}

	if t == TypeList {
		v.InitList(n)
	} else {
		v.InitDict(n)
	}
}

func (p *jsonParser) pop() {
	depth := len(p.stack)
	v := p.stack[depth-1]
	p.stack = p.stack[:depth-1]

	if depth < MaxDepth {
		if v.IsList() {
			p.preallocGuess[depth] = v.ListSize()
		} else {
			p.preallocGuess[depth] = v.DictSize()
		}
	}
}

func (p *jsonParser) value(level int) error {
	if p.pos >= len(p.data) {
		return p.fail("unexpected end of input")
	}

	switch c := p.data[p.pos]; {
	case c == '{':
		return p.object(level + 1)
	case c == '[':
		return p.array(level + 1)
	case c == '"':
		s, err := p.str(&p.strbuf)
		if err != nil {
			return err
		}
		p.hasContent = true
		p.node().InitStr(s)
		return nil
	case c == 't':
		return p.literal("true", func(v *Variant) { v.InitBool(true) })
	case c == 'f':
		return p.literal("false", func(v *Variant) { v.InitBool(false) })
	case c == 'n':
		return p.literal("null", func(v *Variant) { v.InitQuark(QuarkNone) })
	case c == '-' || (c >= '0' && c <= '9'):
		return p.number()
	default:
		return p.fail("unexpected character")
	}
}

func (p *jsonParser) object(level int) error {
	if level > MaxDepth {
		return p.fail("too many levels of nesting")
	}

	p.push(TypeDict)
	p.pos++
	p.skipSpace()

	if p.pos < len(p.data) && p.data[p.pos] == '}' {
		p.pos++
		p.pop()
		return nil
	}

	for {
		if p.pos >= len(p.data) || p.data[p.pos] != '"' {
			return p.fail("expected object key")
		}

		key, err := p.str(&p.keybuf)
		if err != nil {
			return err
		}
		p.key = key

		p.skipSpace()
		if p.pos >= len(p.data) || p.data[p.pos] != ':' {
			return p.fail("expected ':' after object key")
		}
		p.pos++
		p.skipSpace()

		if err := p.value(level); err != nil {
			return err
		}

		p.skipSpace()
		if p.pos >= len(p.data) {
			return p.fail("unterminated object")
		}

		switch p.data[p.pos] {
		case ',':
			p.pos++
			p.skipSpace()
		case '}':
			p.pos++
			p.pop()
			return nil
		default:
			return p.fail("expected ',' or '}'")
		}
	}
}

func (p *jsonParser) array(level int) error {
	if level > MaxDepth {
		return p.fail("too many levels of nesting")
	}

	p.push(TypeList)
	p.pos++
	p.skipSpace()

	if p.pos < len(p.data) && p.data[p.pos] == ']' {
		p.pos++
		p.pop()
		return nil
	}

	for {
		if err := p.value(level); err != nil {
			return err
		}

		p.skipSpace()
		if p.pos >= len(p.data) {
			return p.fail("unterminated array")
		}

		switch p.data[p.pos] {
		case ',':
			p.pos++
			p.skipSpace()
		case ']':
			p.pos++
			p.pop()
			return nil
		default:
			return p.fail("expected ',' or ']'")
		}
	}
}

func (p *jsonParser) literal(word string, init func(v *Variant)) error {
	if !bytes.HasPrefix(p.data[p.pos:], []byte(word)) {
		return p.fail("invalid literal")
	}
	p.pos += len(word)
	p.hasContent = true
	init(p.node())
	return nil
}

func (p *jsonParser) number() error {
	start := p.pos
	isReal := false

	if p.data[p.pos] == '-' {
		p.pos++
	}

	if p.digits() == 0 {
		return p.fail("invalid number")
	}

	if p.pos < len(p.data) && p.data[p.pos] == '.' {
		isReal = true
		p.pos++
		if p.digits() == 0 {
			return p.fail("invalid number")
		}
	}

	if p.pos < len(p.data) && (p.data[p.pos] == 'e' || p.data[p.pos] == 'E') {
		isReal = true
		p.pos++
		if p.pos < len(p.data) && (p.data[p.pos] == '+' || p.data[p.pos] == '-') {
			p.pos++
		}
		if p.digits() == 0 {
			return p.fail("invalid number")
		}
	}

	text := string(p.data[start:p.pos])
	p.hasContent = true

	if isReal {
		r, _ := strconv.ParseFloat(text, 64)
		p.node().InitReal(r)
		return nil
	}

	// out of range values keep whatever ParseInt clamps them to
	i, _ := strconv.ParseInt(text, 10, 64)
	p.node().InitInt(i)
	return nil
}

func (p *jsonParser) digits() int {
	n := 0
	for p.pos < len(p.data) && p.data[p.pos] >= '0' && p.data[p.pos] <= '9' {
		p.pos++
		n++
	}
	return n
}

// str scans a quoted string starting at the opening quote. The result
// aliases either the input or scratch, so it is only valid until the next
// call; InitStr copies it into the tree, which never shares the input.
func (p *jsonParser) str(scratch *[]byte) ([]byte, error) {
	p.pos++
	start := p.pos
	escaped := false

	for {
		if p.pos >= len(p.data) {
			return nil, p.fail("unterminated string")
		}

		c := p.data[p.pos]
		switch {
		case c == '"':
			raw := p.data[start:p.pos]
			p.pos++
			if !escaped {
				return raw, nil
			}
			*scratch = unescape((*scratch)[:0], raw)
			return *scratch, nil
		case c == '\\':
			escaped = true
			if p.pos+1 >= len(p.data) {
				p.pos++
				return nil, p.fail("unterminated string")
			}
			switch p.data[p.pos+1] {
			case 'b', 'f', 'n', 'r', 't', '"', '\\', '/':
				p.pos += 2
			case 'u':
				if p.pos+6 > len(p.data) || !isHex4(p.data[p.pos+2:p.pos+6]) {
					p.pos++
					return nil, p.fail("invalid \\u escape")
				}
				p.pos += 6
			default:
				p.pos++
				return nil, p.fail("invalid escape")
			}
		case c < 0x20:
			return nil, p.fail("control character in string")
		default:
			p.pos++
		}
	}
}

func isHex4(b []byte) bool {
	for _, c := range b {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

func unhex(c byte) rune {
	switch {
	case c >= '0' && c <= '9':
		return rune(c - '0')
	case c >= 'a' && c <= 'f':
		return rune(c-'a') + 10
	default:
		return rune(c-'A') + 10
	}
}

// unescape decodes validated escapes. A \u escape is one UTF-16 code unit;
// surrogate halves cannot be expressed in UTF-8 alone and are dropped.
func unescape(out, in []byte) []byte {
	for i := 0; i < len(in); {
		if in[i] != '\\' {
			out = append(out, in[i])
			i++
			continue
		}

		switch in[i+1] {
		case 'b':
			out = append(out, '\b')
		case 'f':
			out = append(out, '\f')
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'u':
			var r rune
			for _, c := range in[i+2 : i+6] {
				r = r<<4 | unhex(c)
			}
			if !(r >= 0xd800 && r <= 0xdfff) {
				out = utf8.AppendRune(out, r)
			}
			i += 6
			continue
		default:
			// '"', '\\' and '/' stand for themselves
			out = append(out, in[i+1])
		}
		i += 2
	}

	return out
}
