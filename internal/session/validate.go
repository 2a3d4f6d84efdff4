package session

import (
	"errors"
	"fmt"
	"regexp"
)

// Session names become directory names under the state root, so the
// accepted alphabet is deliberately narrow.
var namePattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName rejects names that cannot safely name a session directory.
func ValidateName(name string) error {
	if name == "" {
		return errors.New("session name is empty")
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("session name %q: use lowercase letters, digits, '-' or '_', at most 64 characters", name)
	}
	return nil
}
