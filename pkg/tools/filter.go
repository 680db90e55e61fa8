package tools

// FilterResult holds the outcome of filtering named entries against an
// allow list.
type FilterResult[T any] struct {
	// Allowed contains the entries that passed the filter.
	Allowed map[string]T

	// Skipped names the entries that were not in the allow list.
	Skipped []string

	// Missing names allow list entries that matched nothing.
	Missing []string
}

// FilterAllowed checks each named entry against the allowed list. If
// allowed is empty or nil, every entry is kept.
func FilterAllowed[T any](entries map[string]T, allowed []string) FilterResult[T] {
	if len(allowed) == 0 {
		return FilterResult[T]{Allowed: entries}
	}

	set := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		set[name] = true
	}

	result := FilterResult[T]{Allowed: make(map[string]T)}
	for name, v := range entries {
		if set[name] {
			result.Allowed[name] = v
		} else {
			result.Skipped = append(result.Skipped, name)
		}
	}
	for _, name := range allowed {
		if _, ok := entries[name]; !ok {
			result.Missing = append(result.Missing, name)
		}
	}
	return result
}
