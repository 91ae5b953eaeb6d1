package stock

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when the Stock endpoint or API
// key has not been saved.
var ErrNotConfigured = errors.New(
	"stock api not configured: set " + SettingURL + " and " +
		SettingKey + " (PUT /api/v1/settings/stock)",
)

// RemoteAPIError is the single normalized failure of a Stock
// call: transport errors, non-2xx responses and malformed
// payloads all end up here.
type RemoteAPIError struct {
	Message    string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *RemoteAPIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf(
			"stock api: %s (status %d)", e.Message, e.StatusCode,
		)
	}
	return "stock api: " + e.Message
}

func (e *RemoteAPIError) Unwrap() error { return e.Err }

func remoteErr(err error, format string, args ...any) error {
	return &RemoteAPIError{
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// IsRemoteError reports whether err came from the Stock API.
func IsRemoteError(err error) bool {
	var re *RemoteAPIError
	return errors.As(err, &re)
}
