package variant

import "sync"

// Quark is an interned dictionary key. Equal strings always intern to the
// same Quark, so keys compare by value without touching the text.
type Quark uint32

// QuarkNone is the empty key.
const QuarkNone Quark = 0

var quarks = struct {
	sync.RWMutex
	byName map[string]Quark
	names  []string
}{
	byName: map[string]Quark{"": QuarkNone},
	names:  []string{""},
}

// NewQuark interns s and returns its Quark.
func NewQuark(s string) Quark {
	quarks.RLock()
	q, ok := quarks.byName[s]
	quarks.RUnlock()
	if ok {
		return q
	}

	quarks.Lock()
	defer quarks.Unlock()

	if q, ok := quarks.byName[s]; ok {
		return q
	}

	q = Quark(len(quarks.names))
	quarks.names = append(quarks.names, s)
	quarks.byName[s] = q

	return q
}

// LookupQuark returns the Quark for s without interning it.
func LookupQuark(s string) (Quark, bool) {
	quarks.RLock()
	defer quarks.RUnlock()

	q, ok := quarks.byName[s]
	return q, ok
}

// String returns the interned text.
func (q Quark) String() string {
	quarks.RLock()
	defer quarks.RUnlock()

	if int(q) >= len(quarks.names) {
		return ""
	}
	return quarks.names[q]
}
