package domainname

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalid is returned for names that are not well-formed DNS names with at
// least two labels.
var ErrInvalid = errors.New("invalid domain name")

var nameRE = regexp.MustCompile(
	`^(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.?$`,
)

const maxNameLength = 253

// Validate checks name against the DNS label grammar. Matching is case
// insensitive and a single trailing dot is allowed.
func Validate(name string) error {
	lower := strings.ToLower(name)
	if len(strings.TrimSuffix(lower, ".")) > maxNameLength || !nameRE.MatchString(lower) {
		return fmt.Errorf("%w: %q", ErrInvalid, name)
	}
	return nil
}
