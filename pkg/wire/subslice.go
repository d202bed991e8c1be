package wire

// SubsliceOf reports whether needle occurs as a contiguous run inside
// haystack. A needle longer than the haystack simply doesn't occur; an empty
// needle occurs everywhere.
func SubsliceOf[T comparable](needle, haystack []T) bool {
	if len(needle) > len(haystack) {
		return false
	}

outer:
	for i := 0; i <= len(haystack)-len(needle); i++ {
		for j := range needle {
			if haystack[i+j] != needle[j] {
				continue outer
			}
		}
		return true
	}

	return false
}
