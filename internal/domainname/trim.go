// Package domainname normalizes DNS names into the parent domains they are
// tracked under and validates user-supplied domain names.
package domainname

import (
	"slices"
	"strings"
)

// fedUSSuffix marks names registered under the three-label fed.us zone.
const fedUSSuffix = ".fed.us"

// Parent returns the lowercase registrable parent of name: its last two
// labels, or its last three when name ends in ".fed.us". Names with fewer
// labels are returned lowercased and otherwise untouched.
func Parent(name string) string {
	name = strings.ToLower(name)
	keep := 2
	if strings.HasSuffix(name, fedUSSuffix) {
		keep = 3
	}
	labels := strings.Split(name, ".")
	if len(labels) <= keep {
		return name
	}
	return strings.Join(labels[len(labels)-keep:], ".")
}

// Trim maps every name to its parent and returns the distinct parents in
// sorted order.
func Trim(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		p := Parent(n)
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
