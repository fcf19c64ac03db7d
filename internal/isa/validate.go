package isa

import "fmt"

// validate enforces the unambiguity invariant of spec §3/§8: for any pair of
// declarations whose patterns can simultaneously match some word, one must
// dominate the other (strictly more mask bits), or the two must disagree
// somewhere within their pattern intersection, or a third, strictly more
// specific declaration must dominate both everywhere they overlap.
func validate(set *Set) error {
	decls := set.Declarations

	for i := 0; i < len(decls); i++ {
		for j := i + 1; j < len(decls); j++ {
			a, b := decls[i], decls[j]

			if a.Size != b.Size {
				continue // disjoint word widths never collide
			}

			if err := checkPair(decls, a, b); err != nil {
				return err
			}
		}
	}

	return nil
}

func checkPair(all []Declaration, a, b Declaration) error {
	maskA, maskB := a.PatternMask, b.PatternMask

	// Comparable masks: the more specific declaration simply dominates
	// wherever both match.
	if maskA&maskB == maskA || maskA&maskB == maskB {
		return nil
	}

	intersect := maskA & maskB
	if a.Pattern&intersect != b.Pattern&intersect {
		// Patterns disagree somewhere in the shared mask bits: no word can
		// match both.
		return nil
	}

	// Masks are incomparable and the patterns agree everywhere they
	// overlap: some word matches both. This is only safe if a third
	// declaration strictly dominates both at every such word, i.e. its mask
	// is a superset of maskA|maskB and its pattern agrees with both on that
	// union.
	union := maskA | maskB

	for _, c := range all {
		if c.Name == a.Name || c.Name == b.Name || c.Size != a.Size {
			continue
		}

		if c.PatternMask&union != union {
			continue
		}

		if c.Pattern&maskA == a.Pattern&maskA && c.Pattern&maskB == b.Pattern&maskB {
			return nil // dominated
		}
	}

	return fmt.Errorf("isa: ambiguous declarations %q and %q (masks %#x, %#x)",
		a.Name, b.Name, maskA, maskB)
}
