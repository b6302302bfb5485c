package operation

import "errors"

var (
	errPayloadTooLarge = errors.New("payload too large")
	errInvalidJSON     = errors.New("payload is not valid JSON")
)
