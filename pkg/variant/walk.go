package variant

import (
	"bytes"
	"sort"
)

// walkFuncs receives one callback per node of a depth-first walk. Dict
// keys are delivered through stringFunc just before their value.
type walkFuncs struct {
	intFunc      func(v *Variant)
	boolFunc     func(v *Variant)
	realFunc     func(v *Variant)
	stringFunc   func(v *Variant)
	unsetFunc    func(v *Variant)
	dictBegin    func(v *Variant)
	listBegin    func(v *Variant)
	containerEnd func(v *Variant)
}

type walkFrame struct {
	v        *Variant
	children []*Variant
	next     int
}

// childrenOf flattens a container into the sequence the walk visits:
// elements for lists, key then value for dicts.
func childrenOf(v *Variant, sortDicts bool) []*Variant {
	if v.typ == TypeList {
		return v.list
	}

	type entry struct {
		key   []byte
		value *Variant
	}

	entries := make([]entry, 0, v.dict.Len())
	v.DictEach(func(key Quark, child *Variant) bool {
		entries = append(entries, entry{key: []byte(key.String()), value: child})
		return true
	})

	if sortDicts {
		sort.SliceStable(entries, func(i, j int) bool {
			return bytes.Compare(entries[i].key, entries[j].key) < 0
		})
	}

	out := make([]*Variant, 0, len(entries)*2)
	for _, e := range entries {
		k := &Variant{typ: TypeString, s: e.key}
		out = append(out, k, e.value)
	}

	return out
}

// walk visits top depth-first without recursion; the frame stack holds
// the containers that are still open.
func walk(top *Variant, funcs *walkFuncs, sortDicts bool) {
	var stack []*walkFrame

	node := top
	for {
		switch node.Type() {
		case TypeInt:
			funcs.intFunc(node)
		case TypeBool:
			funcs.boolFunc(node)
		case TypeReal:
			funcs.realFunc(node)
		case TypeString:
			funcs.stringFunc(node)
		case TypeList:
			funcs.listBegin(node)
			stack = append(stack, &walkFrame{v: node, children: childrenOf(node, sortDicts)})
		case TypeDict:
			funcs.dictBegin(node)
			stack = append(stack, &walkFrame{v: node, children: childrenOf(node, sortDicts)})
		default:
			funcs.unsetFunc(node)
		}

		node = nil
		for len(stack) > 0 {
			f := stack[len(stack)-1]
			if f.next < len(f.children) {
				node = f.children[f.next]
				f.next++
				break
			}

			stack = stack[:len(stack)-1]
			funcs.containerEnd(f.v)
		}

		if node == nil {
			return
		}
	}
}
