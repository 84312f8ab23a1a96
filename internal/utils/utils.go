package utils

import "regexp"

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s is safe to interpolate as a SQL table name.
func ValidIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

// UniqueStrings returns input with duplicates removed, keeping first occurrences in order.
func UniqueStrings(input []string) []string {
	seen := make(map[string]bool, len(input))
	result := make([]string, 0, len(input))
	for _, val := range input {
		if !seen[val] {
			result = append(result, val)
			seen[val] = true
		}
	}
	return result
}
