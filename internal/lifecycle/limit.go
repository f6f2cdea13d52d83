package lifecycle

// ClampLimit returns a sane page-size limit given a default and a maximum.
// Non-positive values yield the default; values above max clamp to max.
func ClampLimit(limit, defaultLimit, max int) int {
	if defaultLimit <= 0 {
		defaultLimit = 25
	}
	if max <= 0 {
		max = defaultLimit
	}
	if limit <= 0 {
		return defaultLimit
	}
	if limit > max {
		return max
	}
	return limit
}
