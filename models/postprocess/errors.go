package postprocess

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrDecode matches every *DecodeError.
	ErrDecode = errors.New("decode error")
	// ErrConfiguration matches every *ConfigurationError.
	ErrConfiguration = errors.New("configuration error")
)

// DecodeError reports a raw output buffer whose length does not match the
// declared box count and class count.
type DecodeError struct {
	// Expected is the number of values (or bytes) the layout requires.
	Expected int
	// Got is the number of values (or bytes) received.
	Got int
	// Unit names what Expected and Got count.
	Unit string
}

func (e *DecodeError) Error() string {
	unit := e.Unit
	if unit == "" {
		unit = "values"
	}
	return fmt.Sprintf("decode: output buffer holds %d %s, expected %d", e.Got, unit, e.Expected)
}

// Is reports whether target is ErrDecode.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// ConfigurationError reports an invalid detector configuration detected at
// construction time.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
