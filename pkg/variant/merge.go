package variant

// MergeDicts copies every entry of source into target. Where both hold a
// dict under the same key the merge recurses; anything else in source
// replaces target's value with a deep copy. Non-dict arguments are ignored.
func MergeDicts(target, source *Variant) {
	if !target.IsDict() || !source.IsDict() {
		return
	}

	source.DictEach(func(key Quark, child *Variant) bool {
		if child.IsDict() {
			existing := target.DictFind(key)
			if !existing.IsDict() {
				existing = target.DictAddDict(key, child.DictSize())
			}
			MergeDicts(existing, child)
			return true
		}

		target.DictSet(key, child.Clone())
		return true
	})
}
