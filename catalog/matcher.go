package catalog

import "strings"

// Match reports whether an event name matches a subscription pattern.
//
//	"case.created" exact
//	"case.*"       one segment: case.created, case.closed
//	"*.created"    case.created, ...
//	"*"            everything
func Match(pattern, name string) bool {
	if pattern == "*" || pattern == name {
		return true
	}

	patternParts := strings.Split(pattern, ".")
	nameParts := strings.Split(name, ".")
	if len(patternParts) != len(nameParts) {
		return false
	}

	for i, pp := range patternParts {
		if pp != "*" && pp != nameParts[i] {
			return false
		}
	}
	return true
}
