// Package utils provides small helpers shared across layers that carry
// no domain knowledge of their own.
package utils

import "strconv"

// IntOr parses s as a base-10 integer, returning def when s is empty or
// not a valid int. Whitespace is not tolerated: query parameters arrive
// URL-decoded and a padded value is a client bug.
func IntOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
