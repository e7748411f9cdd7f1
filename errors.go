package registryaware

import (
	"fmt"

	"github.com/friendsofgo/errors"
)

// ErrClientClosed is returned for any request or resolution attempted after
// Close.
var ErrClientClosed = errors.New("client is closed")

// MissingServiceError is returned when a lookup matched no service
// instances. It carries the query that came up empty.
type MissingServiceError struct {
	ServiceName      string
	PreferredVersion string
	MinimumVersion   string
}

func newMissingServiceError(identifier ServiceIdentifier) *MissingServiceError {
	return &MissingServiceError{
		ServiceName:      identifier.serviceName,
		PreferredVersion: identifier.preferredVersion,
		MinimumVersion:   identifier.minimumVersion,
	}
}

func (e *MissingServiceError) Error() string {
	preferred := e.PreferredVersion
	if preferred == "" {
		preferred = "[latest]"
	}
	minimum := e.MinimumVersion
	if minimum == "" {
		minimum = "[none]"
	}
	return fmt.Sprintf("No service instances found with name %s, preferred version %s, min version %s",
		e.ServiceName, preferred, minimum)
}
