package sensor

import (
	"strconv"

	"github.com/pkg/errors"
)

func itoa(v uint64) string { return strconv.FormatUint(v, 10) }

func errInvalidTimestamp(ts, lo, hi uint64) error {
	return errors.Wrapf(ErrInvalidPayload, "timestamp %d out of tolerance [%d,%d]", ts, lo, hi)
}
