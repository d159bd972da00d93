package util

// CloneSlice clones slice with cloneSize.
// This function will use src length as the clons size if cloneSize is 0.
func CloneSlice[T any](src []T, cloneSize int) []T {
	if cloneSize == 0 {
		cloneSize = len(src)
	}
	clone := make([]T, cloneSize)
	copy(clone, src)

	return clone
}

// SplitFields splits s on sep into at most limit parts, like strings.SplitN,
// but returns nil for an empty string.
func SplitFields(s string, sep byte, limit int) []string {
	if s == "" {
		return nil
	}

	n := 1
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			n++
		}
	}

	if limit > 0 && n > limit {
		n = limit
	}

	out := make([]string, 0, n)
	start := 0
	for i := 0; i < len(s) && len(out) < n-1; i++ {
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}

	return append(out, s[start:])
}

// FieldAt returns fields[i], or "" when i is out of range.
func FieldAt(fields []string, i int) string {
	if i < 0 || i >= len(fields) {
		return ""
	}

	return fields[i]
}
