package containers

import (
	"regexp"

	"github.com/frostyard/kapsule/pkg/kapsuleerrors"
)

// nameRule matches the backend's naming rule: letters, digits, hyphens;
// begins with a letter.
var nameRule = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]*$`)

// ValidateName rejects empty names and names violating nameRule.
func ValidateName(name string) error {
	if name == "" {
		return kapsuleerrors.New(kapsuleerrors.InvalidArgument, "container name must not be empty")
	}
	if !nameRule.MatchString(name) {
		return kapsuleerrors.New(kapsuleerrors.InvalidArgument,
			"container name must start with a letter and contain only letters, digits, and hyphens")
	}
	return nil
}
