package admission

import "github.com/cockroachdb/errors"

// Rejection is a user-facing refusal to admit a request. The code keys the
// message catalog; MinutesLeft is set for cooldown rejections. Anything that
// is not a Rejection is a transient failure and safe to retry.
type Rejection struct {
	Code        string
	MinutesLeft int
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	return "request rejected: " + r.Code
}

// AsRejection extracts a Rejection from an error chain.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
