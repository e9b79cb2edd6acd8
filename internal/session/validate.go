package session

import (
	"fmt"
	"regexp"
)

// Session names become directory names under ~/.convo, so the charset
// is restricted to what is safe on every filesystem.
var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateName rejects names that cannot be used as a session directory.
func ValidateName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("session name %q: use 1-64 lowercase letters, digits, '-' or '_'", name)
	}
	return nil
}
