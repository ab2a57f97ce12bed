package device

import "context"

// RegisterInterface reads and writes whole register payloads. len(data) is
// the payload size in bytes.
type RegisterInterface interface {
	ReadRegister(ctx context.Context, address uint64, sizeBits uint, data []byte) error
	WriteRegister(ctx context.Context, address uint64, sizeBits uint, data []byte) error
}

// CommandInterface performs one command exchange. out is sized to the
// response payload and may be empty.
type CommandInterface interface {
	ExchangeCommand(ctx context.Context, address uint64, in []byte, out []byte) error
}

// BufferInterface moves raw bytes through a buffer address.
type BufferInterface interface {
	ReadBuffer(ctx context.Context, address uint64, p []byte) (int, error)
	WriteBuffer(ctx context.Context, address uint64, p []byte) (int, error)
}

// Interface is the full transport capability.
type Interface interface {
	RegisterInterface
	CommandInterface
	BufferInterface
}

// Unsupported can be embedded by transports that only implement part of
// Interface.
type Unsupported struct{}

func (Unsupported) ReadRegister(context.Context, uint64, uint, []byte) error  { return ErrUnsupported }
func (Unsupported) WriteRegister(context.Context, uint64, uint, []byte) error { return ErrUnsupported }
func (Unsupported) ExchangeCommand(context.Context, uint64, []byte, []byte) error {
	return ErrUnsupported
}
func (Unsupported) ReadBuffer(context.Context, uint64, []byte) (int, error)  { return 0, ErrUnsupported }
func (Unsupported) WriteBuffer(context.Context, uint64, []byte) (int, error) { return 0, ErrUnsupported }
