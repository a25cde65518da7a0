package richdata

// inferRelationshipIndexBase disambiguates whether local-image
// identifiers index the relationship-ID table 0- or 1-based, scoring
// each interpretation by how many identifiers it successfully resolves
// to a relationship target and breaking ties toward whichever base is
// consistent with an observed boundary value (spec.md §4.6).
func inferRelationshipIndexBase(richValues map[uint32]richValueImage, relIndices []*int, relIDs []string, ridToTarget map[string]string) relIndexBase {
	relCount := len(relIDs)
	if relCount == 0 {
		return baseUnknown
	}

	var values []uint32
	for _, rv := range richValues {
		values = append(values, rv.localImageIdentifier)
	}
	for _, v := range relIndices {
		if v != nil && *v >= 0 {
			values = append(values, uint32(*v))
		}
	}
	if len(values) == 0 {
		return baseUnknown
	}

	zeroPossible := true
	onePossible := true
	for _, v := range values {
		if v >= uint32(relCount) {
			zeroPossible = false
		}
		if v < 1 || v > uint32(relCount) {
			onePossible = false
		}
	}

	switch {
	case zeroPossible && !onePossible:
		return baseZero
	case !zeroPossible && onePossible:
		return baseOne
	case !zeroPossible && !onePossible:
		return baseUnknown
	default:
		score := func(base relIndexBase) int {
			n := 0
			for _, v := range values {
				if _, ok := resolveImageTarget(v, base, relIDs, ridToTarget); ok {
					n++
				}
			}
			return n
		}
		scoreZero, scoreOne := score(baseZero), score(baseOne)
		switch {
		case scoreZero > scoreOne:
			return baseZero
		case scoreOne > scoreZero:
			return baseOne
		default:
			hasZero, hasBoundary := false, false
			for _, v := range values {
				if v == 0 {
					hasZero = true
				}
				if v == uint32(relCount) {
					hasBoundary = true
				}
			}
			switch {
			case hasZero:
				return baseZero
			case hasBoundary:
				return baseOne
			default:
				return baseUnknown
			}
		}
	}
}

// resolveImageTarget resolves a local-image identifier to an image
// part name under the given index base, trying the base's primary
// interpretation and, for baseUnknown, both offsets.
func resolveImageTarget(localImageIdentifier uint32, base relIndexBase, relIDs []string, ridToTarget map[string]string) (string, bool) {
	tryIdx := func(idx int) (string, bool) {
		if idx < 0 || idx >= len(relIDs) {
			return "", false
		}
		rid := relIDs[idx]
		if rid == "" {
			return "", false
		}
		target, ok := ridToTarget[rid]
		return target, ok
	}

	switch base {
	case baseZero:
		return tryIdx(int(localImageIdentifier))
	case baseOne:
		if localImageIdentifier == 0 {
			return "", false
		}
		return tryIdx(int(localImageIdentifier) - 1)
	default:
		if target, ok := tryIdx(int(localImageIdentifier)); ok {
			return target, true
		}
		if localImageIdentifier > 0 {
			return tryIdx(int(localImageIdentifier) - 1)
		}
		return "", false
	}
}
