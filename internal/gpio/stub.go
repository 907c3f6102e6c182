//go:build !linux

package gpio

// Input is not available on non-Linux platforms.
func (s *ChipSource) Input() (Input, error) {
	return nil, ErrUnsupported
}

// Outputs is not available on non-Linux platforms.
func (s *ChipSource) Outputs() (Outputs, error) {
	return nil, ErrUnsupported
}

// ReadSwitch is not available on non-Linux platforms.
func ReadSwitch(cfg ChipConfig) (bool, error) {
	return false, ErrUnsupported
}
