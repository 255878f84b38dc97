package operator

import (
	"fmt"
	"strings"
)

// ValidationError is returned when requested devices are not block devices
type ValidationError struct {
	Devices []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("not a block device: %s", strings.Join(e.Devices, ", "))
}

// VerificationError is returned in strict mode when requested devices are not
// active as swap after the run
type VerificationError struct {
	Devices []string
	Err     error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("swap not enabled on %d device(s): %v", len(e.Devices), e.Err)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}
