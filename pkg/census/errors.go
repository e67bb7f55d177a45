package census

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrMissingAPIKey is returned when the API rejects a request for lack of a
// key. Keys are free: https://api.census.gov/data/key_signup.html.
var ErrMissingAPIKey = eris.New("census: missing API key; obtain one at https://api.census.gov/data/key_signup.html")

// APIError is a non-2xx response from the Data API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("census: API returned status %d: %s", e.StatusCode, e.Message)
}

// UnknownVariableError reports variables requested but absent from the
// dataset's variable index.
type UnknownVariableError struct {
	Names []string
}

func (e *UnknownVariableError) Error() string {
	return fmt.Sprintf("census: unknown variables: %v", e.Names)
}

// UnknownGroupError reports groups requested but absent from the dataset.
type UnknownGroupError struct {
	Names []string
}

func (e *UnknownGroupError) Error() string {
	return fmt.Sprintf("census: unknown groups: %v", e.Names)
}

// UnknownGeographyError reports a geography level or name the dataset does
// not support.
type UnknownGeographyError struct {
	Requested string
}

func (e *UnknownGeographyError) Error() string {
	return fmt.Sprintf("census: geography %q is not available for this dataset", e.Requested)
}

// HierarchyError reports a set of geography filters that cannot be resolved
// inside the Census parent/child hierarchy rules.
type HierarchyError struct {
	Reason string
}

func (e *HierarchyError) Error() string {
	return "census: invalid geography hierarchy: " + e.Reason
}
