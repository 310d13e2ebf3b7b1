package gateway

import (
	"errors"
	"fmt"
	"io"
)

var (
	ErrAuth            = errors.New("authentication token not available")
	ErrNoFieldFound    = errors.New("no field data found at this location")
	ErrEmptyResult     = errors.New("no fields found in selected area")
	ErrNoSensorData    = errors.New("no sensor data found")
	ErrNoImageData     = errors.New("no image data found")
	ErrMissingSensorID = errors.New("image sensor id not available")
	ErrTimeout         = errors.New("request timed out")
	ErrUnavailable     = errors.New("upstream temporarily unavailable")
	ErrNotConfigured   = errors.New("service endpoint not configured")
)

const maxErrorBody = 512

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Status, e.Body)
}

// clientError reports a 4xx, which does not count against the breaker.
func (e *StatusError) clientError() bool {
	return e.Status >= 400 && e.Status < 500
}

func readBodyForError(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBody+1))
	if err != nil {
		return "(failed to read response body)"
	}
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "... (truncated)"
	}
	return string(body)
}
