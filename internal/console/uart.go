// Package console implements an ambient UART MMIO device plus a host
// raw-mode binding, adapted from the teacher's keyboard/display device
// pair (internal/vm/kbd.go, internal/vm/disp.go) and terminal glue
// (cmd/internal/tty/tty.go): a status+data register pair per direction,
// an interrupt raised when a byte arrives, and a background goroutine
// pumping bytes between the device and the real terminal.
package console

import (
	"fmt"
	"sync"
)

// Register offsets within the UART's mapped range: one status+data pair
// per direction, the same shape as the teacher's KBSR/KBDR and DSR/DDR.
const (
	RHROffset = 0x00 // receiver holding register (read)
	THROffset = 0x00 // transmitter holding register (write)
	LSROffset = 0x04 // line status register (read)

	lsrDataReady  = 1 << 0
	lsrTHREmpty   = 1 << 5
)

// IRQSink is called whenever the UART's receive-ready condition changes,
// so the board's PLIC can be told to assert or deassert the UART's
// interrupt source.
type IRQSink func(pending bool)

// UART is a single-byte-buffered serial device: at most one received
// byte is held until read, and every stored byte is handed synchronously
// to a transmit listener (bound, in practice, to the host terminal).
type UART struct {
	mu sync.Mutex

	rxByte  byte
	rxReady bool

	txListener func(byte)
	irq        IRQSink
}

// New creates a UART with no transmit listener and no interrupt sink;
// callers wire both via [UART.Listen] and [UART.SetIRQSink] (or leave
// either nil — writes/receives are then silently dropped/unsignalled).
func New() *UART {
	return &UART{}
}

// Listen registers the callback invoked for every byte the guest writes
// to THR (i.e., its terminal output).
func (u *UART) Listen(fn func(byte)) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.txListener = fn
}

// SetIRQSink registers the callback invoked when the receive-ready
// condition changes.
func (u *UART) SetIRQSink(sink IRQSink) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.irq = sink
}

// Push delivers a received byte to the guest, overwriting any byte not
// yet read (the guest is expected to keep up, as with any UART without
// hardware flow control) and raising the receive interrupt.
func (u *UART) Push(b byte) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.rxByte = b
	u.rxReady = true

	if u.irq != nil {
		u.irq(true)
	}
}

func (u *UART) Load(offset uint64, size int) (uint64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch offset {
	case RHROffset:
		if !u.rxReady {
			return 0, nil
		}

		b := u.rxByte
		u.rxReady = false

		if u.irq != nil {
			u.irq(false)
		}

		return uint64(b), nil

	case LSROffset:
		var lsr uint64 = lsrTHREmpty
		if u.rxReady {
			lsr |= lsrDataReady
		}

		return lsr, nil

	default:
		return 0, fmt.Errorf("console: bad offset %#x", offset)
	}
}

func (u *UART) Store(offset uint64, size int, value uint64) error {
	u.mu.Lock()
	listener := u.txListener
	u.mu.Unlock()

	switch offset {
	case THROffset:
		if listener != nil {
			listener(byte(value))
		}

		return nil
	case LSROffset:
		return nil // read-only in practice; ignore writes
	default:
		return fmt.Errorf("console: bad offset %#x", offset)
	}
}
