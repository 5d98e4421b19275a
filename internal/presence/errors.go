package presence

import "errors"

var (
	ErrNilSession = errors.New("session record is nil or missing an ID")
)
