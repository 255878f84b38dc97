package swap

import "fmt"

// ProbeError is returned when device or swap state cannot be determined
type ProbeError struct {
	Err error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("failed to determine swap state: %v", e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// FormatError is returned when a device could not be formatted as swap
type FormatError struct {
	Device string
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("failed to format %s as swap: %v", e.Device, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// ActivationError is returned when mounting or activating the table fails
type ActivationError struct {
	Command []string
	Err     error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("activation command %v failed: %v", e.Command, e.Err)
}

func (e *ActivationError) Unwrap() error {
	return e.Err
}
