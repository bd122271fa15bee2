// Package variant implements a schema-less tagged value (int, bool, real,
// string, list, dict) with JSON and bencode serializations. It is the
// exchange format for torrent descriptions, resume state and statistics.
package variant

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/elliotchance/orderedmap"
)

// Type identifies what a Variant holds.
type Type int

const (
	TypeUnset Type = iota
	TypeInt
	TypeBool
	TypeReal
	TypeString
	TypeList
	TypeDict
)

func (t Type) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypeReal:
		return "real"
	case TypeString:
		return "string"
	case TypeList:
		return "list"
	case TypeDict:
		return "dict"
	default:
		return "unset"
	}
}

// Variant is a tagged union. The zero value is unset and must be given a
// type by exactly one Init call; containers own their children.
type Variant struct {
	typ  Type
	i    int64
	b    bool
	r    float64
	s    []byte
	list []*Variant
	// Quark -> *Variant, in insertion order
	dict *orderedmap.OrderedMap
}

// New returns an unset Variant.
func New() *Variant {
	return &Variant{}
}

func (v *Variant) init(t Type) {
	if v.typ != TypeUnset {
		panic(fmt.Sprintf("variant: init %s on a variant already typed %s", t, v.typ))
	}
	v.typ = t
}

func (v *Variant) InitInt(i int64) {
	v.init(TypeInt)
	v.i = i
}

func (v *Variant) InitBool(b bool) {
	v.init(TypeBool)
	v.b = b
}

func (v *Variant) InitReal(r float64) {
	v.init(TypeReal)
	v.r = r
}

// InitStr makes v a string holding a copy of b.
func (v *Variant) InitStr(b []byte) {
	v.init(TypeString)
	v.s = append(make([]byte, 0, len(b)), b...)
}

func (v *Variant) InitString(s string) {
	v.init(TypeString)
	v.s = []byte(s)
}

// InitQuark makes v a string holding the quark's text.
func (v *Variant) InitQuark(q Quark) {
	v.InitString(q.String())
}

// InitList makes v an empty list. reserve is a capacity hint.
func (v *Variant) InitList(reserve int) {
	v.init(TypeList)
	if reserve < 0 {
		reserve = 0
	}
	v.list = make([]*Variant, 0, reserve)
}

// InitDict makes v an empty dict. reserve is accepted for symmetry with
// InitList; the ordered map grows on demand.
func (v *Variant) InitDict(reserve int) {
	v.init(TypeDict)
	v.dict = orderedmap.NewOrderedMap()
}

func (v *Variant) Type() Type {
	if v == nil {
		return TypeUnset
	}
	return v.typ
}

func (v *Variant) IsInt() bool    { return v.Type() == TypeInt }
func (v *Variant) IsBool() bool   { return v.Type() == TypeBool }
func (v *Variant) IsReal() bool   { return v.Type() == TypeReal }
func (v *Variant) IsString() bool { return v.Type() == TypeString }
func (v *Variant) IsList() bool   { return v.Type() == TypeList }
func (v *Variant) IsDict() bool   { return v.Type() == TypeDict }

// Int returns the integer value. Bools read as 0 or 1.
func (v *Variant) Int() (int64, bool) {
	switch v.Type() {
	case TypeInt:
		return v.i, true
	case TypeBool:
		if v.b {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Bool returns the boolean value. The integers 0 and 1 and the strings
// "true" and "false" are accepted too.
func (v *Variant) Bool() (bool, bool) {
	switch v.Type() {
	case TypeBool:
		return v.b, true
	case TypeInt:
		if v.i == 0 || v.i == 1 {
			return v.i == 1, true
		}
	case TypeString:
		switch string(v.s) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

// Real returns the floating point value; ints widen and numeric strings
// are parsed.
func (v *Variant) Real() (float64, bool) {
	switch v.Type() {
	case TypeReal:
		return v.r, true
	case TypeInt:
		return float64(v.i), true
	case TypeString:
		r, err := strconv.ParseFloat(string(v.s), 64)
		return r, err == nil
	default:
		return 0, false
	}
}

// Bytes returns the raw string value. The slice aliases v's storage.
func (v *Variant) Bytes() ([]byte, bool) {
	if v.Type() != TypeString {
		return nil, false
	}
	return v.s, true
}

func (v *Variant) Str() (string, bool) {
	if v.Type() != TypeString {
		return "", false
	}
	return string(v.s), true
}

// String renders v as lean JSON.
func (v *Variant) String() string {
	return string(bytes.TrimSuffix(ToJSON(v, true), []byte("\n")))
}

func (v *Variant) ListSize() int {
	if v.Type() != TypeList {
		return 0
	}
	return len(v.list)
}

// ListChild returns the i-th element, or nil when out of range.
func (v *Variant) ListChild(i int) *Variant {
	if v.Type() != TypeList || i < 0 || i >= len(v.list) {
		return nil
	}
	return v.list[i]
}

// ListAdd appends an unset element and returns it.
func (v *Variant) ListAdd() *Variant {
	if v.Type() != TypeList {
		panic("variant: ListAdd on " + v.Type().String())
	}
	child := &Variant{}
	v.list = append(v.list, child)
	return child
}

func (v *Variant) ListAddInt(i int64) *Variant {
	child := v.ListAdd()
	child.InitInt(i)
	return child
}

func (v *Variant) ListAddBool(b bool) *Variant {
	child := v.ListAdd()
	child.InitBool(b)
	return child
}

func (v *Variant) ListAddReal(r float64) *Variant {
	child := v.ListAdd()
	child.InitReal(r)
	return child
}

func (v *Variant) ListAddStr(s string) *Variant {
	child := v.ListAdd()
	child.InitString(s)
	return child
}

func (v *Variant) ListAddRaw(b []byte) *Variant {
	child := v.ListAdd()
	child.InitStr(b)
	return child
}

func (v *Variant) ListAddList(reserve int) *Variant {
	child := v.ListAdd()
	child.InitList(reserve)
	return child
}

func (v *Variant) ListAddDict(reserve int) *Variant {
	child := v.ListAdd()
	child.InitDict(reserve)
	return child
}

func (v *Variant) DictSize() int {
	if v.Type() != TypeDict {
		return 0
	}
	return v.dict.Len()
}

// DictFind returns the value stored under key, or nil.
func (v *Variant) DictFind(key Quark) *Variant {
	if v.Type() != TypeDict {
		return nil
	}
	child, ok := v.dict.Get(key)
	if !ok {
		return nil
	}
	return child.(*Variant)
}

func (v *Variant) DictFindInt(key Quark) (int64, bool) {
	return v.DictFind(key).Int()
}

func (v *Variant) DictFindBool(key Quark) (bool, bool) {
	return v.DictFind(key).Bool()
}

func (v *Variant) DictFindReal(key Quark) (float64, bool) {
	return v.DictFind(key).Real()
}

func (v *Variant) DictFindStr(key Quark) (string, bool) {
	return v.DictFind(key).Str()
}

func (v *Variant) DictFindRaw(key Quark) ([]byte, bool) {
	return v.DictFind(key).Bytes()
}

func (v *Variant) DictFindList(key Quark) *Variant {
	if child := v.DictFind(key); child.IsList() {
		return child
	}
	return nil
}

func (v *Variant) DictFindDict(key Quark) *Variant {
	if child := v.DictFind(key); child.IsDict() {
		return child
	}
	return nil
}

// DictAdd stores a fresh unset value under key and returns it. An existing
// entry keeps its position but loses its old value.
func (v *Variant) DictAdd(key Quark) *Variant {
	if v.Type() != TypeDict {
		panic("variant: DictAdd on " + v.Type().String())
	}
	child := &Variant{}
	v.dict.Set(key, child)
	return child
}

func (v *Variant) DictAddInt(key Quark, i int64) *Variant {
	child := v.DictAdd(key)
	child.InitInt(i)
	return child
}

func (v *Variant) DictAddBool(key Quark, b bool) *Variant {
	child := v.DictAdd(key)
	child.InitBool(b)
	return child
}

func (v *Variant) DictAddReal(key Quark, r float64) *Variant {
	child := v.DictAdd(key)
	child.InitReal(r)
	return child
}

func (v *Variant) DictAddStr(key Quark, s string) *Variant {
	child := v.DictAdd(key)
	child.InitString(s)
	return child
}

func (v *Variant) DictAddRaw(key Quark, b []byte) *Variant {
	child := v.DictAdd(key)
	child.InitStr(b)
	return child
}

func (v *Variant) DictAddList(key Quark, reserve int) *Variant {
	child := v.DictAdd(key)
	child.InitList(reserve)
	return child
}

func (v *Variant) DictAddDict(key Quark, reserve int) *Variant {
	child := v.DictAdd(key)
	child.InitDict(reserve)
	return child
}

// DictSet stores child under key, replacing any existing value in place.
func (v *Variant) DictSet(key Quark, child *Variant) {
	if v.Type() != TypeDict {
		panic("variant: DictSet on " + v.Type().String())
	}
	v.dict.Set(key, child)
}

// DictRemove deletes key and reports whether it was present.
func (v *Variant) DictRemove(key Quark) bool {
	if v.Type() != TypeDict {
		return false
	}
	return v.dict.Delete(key)
}

// DictEach calls fn for every entry in insertion order until fn returns
// false.
func (v *Variant) DictEach(fn func(key Quark, child *Variant) bool) {
	if v.Type() != TypeDict {
		return
	}
	for el := v.dict.Front(); el != nil; el = el.Next() {
		if !fn(el.Key.(Quark), el.Value.(*Variant)) {
			return
		}
	}
}

// Equal reports whether a and b hold the same tree. Dicts compare by key
// set regardless of order. Numbers compare by value, so the real 1.0
// equals the int 1.
func Equal(a, b *Variant) bool {
	if isNumber(a) && isNumber(b) && a.Type() != b.Type() {
		x, _ := a.Real()
		y, _ := b.Real()
		return x == y
	}

	if a.Type() != b.Type() {
		return false
	}

	switch a.Type() {
	case TypeUnset:
		return true
	case TypeInt:
		return a.i == b.i
	case TypeBool:
		return a.b == b.b
	case TypeReal:
		return a.r == b.r
	case TypeString:
		return bytes.Equal(a.s, b.s)
	case TypeList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case TypeDict:
		if a.dict.Len() != b.dict.Len() {
			return false
		}
		equal := true
		a.DictEach(func(key Quark, child *Variant) bool {
			other := b.DictFind(key)
			equal = other != nil && Equal(child, other)
			return equal
		})
		return equal
	}

	return false
}

func isNumber(v *Variant) bool {
	return v.Type() == TypeInt || v.Type() == TypeReal
}

// Clone returns a deep copy of v.
func (v *Variant) Clone() *Variant {
	out := &Variant{}
	if v == nil {
		return out
	}

	switch v.typ {
	case TypeInt:
		out.InitInt(v.i)
	case TypeBool:
		out.InitBool(v.b)
	case TypeReal:
		out.InitReal(v.r)
	case TypeString:
		out.InitStr(v.s)
	case TypeList:
		out.InitList(len(v.list))
		for _, child := range v.list {
			out.list = append(out.list, child.Clone())
		}
	case TypeDict:
		out.InitDict(v.dict.Len())
		v.DictEach(func(key Quark, child *Variant) bool {
			out.dict.Set(key, child.Clone())
			return true
		})
	}

	return out
}
