package games

import "errors"

// ErrIgnored drops an event silently: wrong phase, unknown sender, stale
// click. Nothing is persisted or broadcast.
var ErrIgnored = errors.New("event ignored")

// Rejection is a user-visible refusal sent back to the sender only.
type Rejection struct {
	Text string
}

func (r *Rejection) Error() string {
	return r.Text
}

func IsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
