package zenwifi

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAPI is the root of every error returned by the Zen client.
	ErrAPI = errors.New("zenwifi api error")
	// ErrCommunication covers transport failures and timeouts.
	ErrCommunication = fmt.Errorf("%w: communication failed", ErrAPI)
	// ErrAuthentication means the account credentials were rejected and
	// must be re-entered.
	ErrAuthentication = fmt.Errorf("%w: invalid credentials", ErrAPI)

	ErrUnsupportedMode   = errors.New("unsupported mode")
	ErrUnknownThermostat = errors.New("unknown thermostat")
	// ErrTemperatureUnsupported is returned when a target temperature is
	// set while the thermostat is neither heating nor cooling.
	ErrTemperatureUnsupported = errors.New("target temperature requires heat or cool mode")
)

// HTTPStatusError carries an unexpected response status.
type HTTPStatusError struct {
	Status int
	Body   string
}

func (e HTTPStatusError) Error() string {
	return fmt.Sprintf("zenwifi api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}
