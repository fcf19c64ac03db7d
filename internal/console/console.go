package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// ErrNoTTY is returned if standard input is not a terminal. In this case,
// asynchronous I/O is not supported by the console.
var ErrNoTTY = errors.New("console: not a TTY")

// Console binds a board's UART device to the host's controlling
// terminal, put into raw mode so every keystroke reaches the guest
// immediately rather than after a host line-editing Enter. Grounded on
// cmd/internal/tty/tty.go's Console, generalized from the LC-3 keyboard/
// display pair to a single bidirectional UART.
type Console struct {
	in    *os.File
	out   *term.Terminal
	fd    int
	state *term.State

	keyCh chan byte
}

// Attach creates a Console wired to uart and starts its pump goroutines;
// calling the returned cancel function restores the terminal and stops
// them. If standard input is not a terminal, Attach returns ErrNoTTY and
// the UART is left unwired — callers may still drive it programmatically
// (e.g. under a 9P-only test harness).
func Attach(parent context.Context, uart *UART) (context.Context, *Console, context.CancelFunc, error) {
	fd := int(os.Stdin.Fd())

	if !term.IsTerminal(fd) {
		return parent, nil, func() {}, ErrNoTTY
	}

	saved, err := term.MakeRaw(fd)
	if err != nil {
		return parent, nil, func() {}, fmt.Errorf("%w: %w", ErrNoTTY, err)
	}

	c := &Console{
		fd:    fd,
		in:    os.Stdin,
		out:   term.NewTerminal(os.Stdin, ""),
		state: saved,
		keyCh: make(chan byte, 1),
	}

	if err := c.setTerminalParams(1, 0); err != nil {
		_ = term.Restore(fd, saved)
		return parent, nil, func() {}, err
	}

	ctx, cancel := context.WithCancel(parent)

	uart.Listen(func(b byte) {
		_, _ = fmt.Fprintf(c.out, "%c", b)
	})

	go c.readTerminal(ctx)
	go c.pumpKeys(ctx, uart)

	return ctx, c, func() {
		cancel()
		c.Restore()
	}, nil
}

// Writer returns an io.Writer that writes to the terminal, bypassing the
// UART — useful for host-side diagnostics interleaved with guest output.
func (c *Console) Writer() io.Writer { return c.out }

// Restore returns the terminal to its initial state.
func (c *Console) Restore() {
	_ = os.Stdin.SetReadDeadline(time.Now())
	_ = term.Restore(c.fd, c.state)
}

func (c *Console) setTerminalParams(vmin, vtime byte) error {
	_ = syscall.SetNonblock(c.fd, true)

	termIO, err := unix.IoctlGetTermios(c.fd, getTermiosIoctl)
	if err != nil {
		return err
	}

	termIO.Cc[unix.VMIN] = vmin
	termIO.Cc[unix.VTIME] = vtime

	if err := unix.IoctlSetTermios(c.fd, setTermiosIoctl, termIO); err != nil {
		return err
	}

	_ = os.Stdin.SetReadDeadline(time.Time{})

	return nil
}

// readTerminal reads bytes from the terminal and writes them to the key
// channel until the context is cancelled.
func (c *Console) readTerminal(ctx context.Context) {
	buf := bufio.NewReader(c.in)

	_ = syscall.SetNonblock(c.fd, false)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		b, err := buf.ReadByte()
		if err != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case c.keyCh <- b:
		}
	}
}

// pumpKeys takes keys from the key channel and pushes them to the UART
// until the context is cancelled.
func (c *Console) pumpKeys(ctx context.Context, uart *UART) {
	for {
		select {
		case <-ctx.Done():
			return
		case key := <-c.keyCh:
			uart.Push(key)
		}
	}
}
