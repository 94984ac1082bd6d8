package serial

// Port is the contract for the underlying byte transport. Implementations
// handle platform-specific serial I/O (Linux/Windows); this interface
// enables dependency injection and mocking for unit tests, the same role
// the teacher's SerialPortInterface played for dxl.Driver.
type Port interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
}
