package resolver

import (
	"errors"
	"fmt"
)

// errDependencyNotFound is wrapped with the missing name by
// expandDependencies, and unwrapped by Start to pick ExitDependencyNotFound.
var errDependencyNotFound = errors.New("resolver: dependency not found")

func errNoSuchCandidate(id int) error {
	return fmt.Errorf("resolver: no candidate with id %d", id)
}
