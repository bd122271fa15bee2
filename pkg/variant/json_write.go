package variant

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

type parentState struct {
	typ        Type
	childIndex int
	// dicts count keys and values separately
	childCount int
}

type jsonWriter struct {
	doIndent bool
	parents  []parentState
	out      *bytes.Buffer
}

// ToJSON serializes v. Indented output puts every container child on its
// own line, four spaces per level; lean output has no whitespace at all.
// Non-empty output ends with a single newline.
func ToJSON(v *Variant, lean bool) []byte {
	var buf bytes.Buffer
	WriteJSON(&buf, v, lean)
	return buf.Bytes()
}

// WriteJSON appends the serialization of v to buf.
func WriteJSON(buf *bytes.Buffer, v *Variant, lean bool) {
	w := &jsonWriter{doIndent: !lean, out: buf}
	start := buf.Len()

	walk(v, &walkFuncs{
		intFunc:      w.intFunc,
		boolFunc:     w.boolFunc,
		realFunc:     w.realFunc,
		stringFunc:   w.stringFunc,
		unsetFunc:    w.unsetFunc,
		dictBegin:    w.dictBegin,
		listBegin:    w.listBegin,
		containerEnd: w.containerEnd,
	}, false)

	if buf.Len() != start {
		buf.WriteByte('\n')
	}
}

func (w *jsonWriter) indent() {
	if !w.doIndent {
		return
	}
	w.out.WriteByte('\n')
	w.out.WriteString(strings.Repeat(" ", len(w.parents)*4))
}

// childDone emits whatever separates the node just written from the next
// sibling in its parent.
func (w *jsonWriter) childDone() {
	if len(w.parents) == 0 {
		return
	}

	p := &w.parents[len(w.parents)-1]
	i := p.childIndex
	p.childIndex++

	if p.typ == TypeDict && i%2 == 0 {
		if w.doIndent {
			w.out.WriteString(": ")
		} else {
			w.out.WriteByte(':')
		}
		return
	}

	if p.childIndex != p.childCount {
		w.out.WriteByte(',')
		w.indent()
	}
}

func (w *jsonWriter) push(v *Variant) {
	n := len(v.list)
	if v.typ == TypeDict {
		n = v.dict.Len() * 2
	}
	w.parents = append(w.parents, parentState{typ: v.typ, childCount: n})
}

func (w *jsonWriter) intFunc(v *Variant) {
	w.out.WriteString(strconv.FormatInt(v.i, 10))
	w.childDone()
}

func (w *jsonWriter) boolFunc(v *Variant) {
	if v.b {
		w.out.WriteString("true")
	} else {
		w.out.WriteString("false")
	}
	w.childDone()
}

func (w *jsonWriter) realFunc(v *Variant) {
	w.out.WriteString(formatReal(v.r))
	w.childDone()
}

func (w *jsonWriter) unsetFunc(*Variant) {
	w.out.WriteString("null")
	w.childDone()
}

func (w *jsonWriter) stringFunc(v *Variant) {
	writeJSONString(w.out, v.s)
	w.childDone()
}

func (w *jsonWriter) dictBegin(v *Variant) {
	w.push(v)
	w.out.WriteByte('{')
	if v.dict.Len() != 0 {
		w.indent()
	}
}

func (w *jsonWriter) listBegin(v *Variant) {
	w.push(v)
	w.out.WriteByte('[')
	if len(v.list) != 0 {
		w.indent()
	}
}

func (w *jsonWriter) containerEnd(v *Variant) {
	w.parents = w.parents[:len(w.parents)-1]
	w.indent()

	if v.typ == TypeDict {
		w.out.WriteByte('}')
	} else {
		w.out.WriteByte(']')
	}

	w.childDone()
}

// formatReal prints x as an integer when it is within 1e-5 of one, else
// with four decimals, truncated rather than rounded.
func formatReal(x float64) string {
	if r := math.Round(x); math.Abs(x-r) < 0.00001 && math.Abs(r) < math.MaxInt64 {
		return strconv.FormatInt(int64(r), 10)
	}

	s := strconv.FormatFloat(x, 'f', 15, 64)
	if dot := strings.IndexByte(s, '.'); dot >= 0 && len(s) > dot+5 {
		s = s[:dot+5]
	}

	return s
}

func writeJSONString(out *bytes.Buffer, s []byte) {
	out.WriteByte('"')

	for i := 0; i < len(s); {
		c := s[i]

		switch c {
		case '\b':
			out.WriteString(`\b`)
		case '\f':
			out.WriteString(`\f`)
		case '\n':
			out.WriteString(`\n`)
		case '\r':
			out.WriteString(`\r`)
		case '\t':
			out.WriteString(`\t`)
		case '"':
			out.WriteString(`\"`)
		case '\\':
			out.WriteString(`\\`)
		default:
			if c >= 0x20 && c <= 0x7e {
				out.WriteByte(c)
				break
			}

			r, size := utf8.DecodeRune(s[i:])
			switch {
			case r == utf8.RuneError && size <= 1:
				// malformed, pass the byte through
				out.WriteByte(c)
			case r > 0xffff:
				out.Write(s[i : i+size])
			default:
				fmt.Fprintf(out, `\u%04x`, r)
			}

			i += size
			continue
		}

		i++
	}

	out.WriteByte('"')
}
