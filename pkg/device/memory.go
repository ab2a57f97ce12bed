package device

import (
	"context"
	"sync"
)

// CommandHandler answers a command exchange for Memory.
type CommandHandler func(in []byte, out []byte) error

// Memory is an in-memory transport. Registers hold their last written
// payload, buffers behave as FIFOs and commands dispatch to handlers.
type Memory struct {
	mu        sync.Mutex
	registers map[uint64][]byte
	buffers   map[uint64][]byte
	commands  map[uint64]CommandHandler

	// Fail, when set, is returned by every operation.
	Fail error
}

func NewMemory() *Memory {
	return &Memory{
		registers: make(map[uint64][]byte),
		buffers:   make(map[uint64][]byte),
		commands:  make(map[uint64]CommandHandler),
	}
}

func (m *Memory) HandleCommand(address uint64, h CommandHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[address] = h
}

// RegisterBytes returns a copy of the stored payload at address.
func (m *Memory) RegisterBytes(address uint64) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.registers[address]...)
}

func (m *Memory) SetRegisterBytes(address uint64, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registers[address] = append([]byte(nil), data...)
}

func (m *Memory) ReadRegister(_ context.Context, address uint64, _ uint, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	clear(data)
	copy(data, m.registers[address])
	return nil
}

func (m *Memory) WriteRegister(_ context.Context, address uint64, _ uint, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.registers[address] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) ExchangeCommand(_ context.Context, address uint64, in []byte, out []byte) error {
	m.mu.Lock()
	h, ok := m.commands[address]
	fail := m.Fail
	m.mu.Unlock()
	if fail != nil {
		return fail
	}
	if !ok {
		return ErrUnsupported
	}
	return h(in, out)
}

func (m *Memory) ReadBuffer(_ context.Context, address uint64, p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return 0, m.Fail
	}
	n := copy(p, m.buffers[address])
	m.buffers[address] = m.buffers[address][n:]
	return n, nil
}

func (m *Memory) WriteBuffer(_ context.Context, address uint64, p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return 0, m.Fail
	}
	m.buffers[address] = append(m.buffers[address], p...)
	return len(p), nil
}
