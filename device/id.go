package device

import (
	"errors"
	"strings"
)

var (
	ErrorInvalidDeviceID = errors.New("device identifiers must be non-empty strings")
)

// ID is the opaque device identifier assigned by the extension.  IDs are
// treated as case-sensitive tokens; the relay imposes no structure on them
// beyond being non-empty.
type ID string

func (id ID) Bytes() []byte {
	return []byte(id)
}

// ParseID validates a raw identifier from the wire.  Leading and trailing
// whitespace is stripped.
func ParseID(value string) (ID, error) {
	value = strings.TrimSpace(value)
	if len(value) == 0 {
		return ID(""), ErrorInvalidDeviceID
	}

	return ID(value), nil
}
