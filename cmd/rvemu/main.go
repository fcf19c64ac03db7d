// rvemu boots a flat kernel image under a single-hart RISC-V board, with
// a console UART wired to the host terminal and an optional 9P virtio
// root filesystem.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"rvemu/internal/board"
	"rvemu/internal/console"
	"rvemu/internal/p9"
	"rvemu/internal/p9/osfs"
	"rvemu/internal/rvlog"
)

const uartBase = 0x1000_0000
const uartSize = 0x100
const uartIRQ = 1

const p9Base = 0x1000_1000
const p9Size = 0x1000

func main() {
	var (
		kernel  = flag.String("kernel", "", "path to a flat RV64 kernel image")
		root    = flag.String("root", "", "directory to export over 9P as the \"rootfs\" mount tag")
		ramSize = flag.Uint64("ram", 128<<20, "physical RAM size in bytes")
		xlen    = flag.Int("xlen", 64, "hart word size (32 or 64)")
	)

	flag.Parse()

	log := rvlog.DefaultLogger()

	if *kernel == "" {
		fmt.Fprintln(os.Stderr, "rvemu: -kernel is required")
		os.Exit(2)
	}

	image, err := os.ReadFile(*kernel)
	if err != nil {
		log.Error("rvemu: read kernel image", "err", err)
		os.Exit(1)
	}

	uart := console.New()

	opts := []board.OptionFn{
		board.WithRAMSize(*ramSize),
		board.WithXLEN(*xlen),
		board.WithDevice(uartBase, uartBase+uartSize-1, uart, "uart"),
	}

	var p9dev *p9.Device

	if *root != "" {
		p9dev = p9.NewDevice("rootfs", osfs.New(*root), log)
		opts = append(opts, board.WithDevice(p9Base, p9Base+p9Size-1, p9dev, "virtio-9p"))
	}

	b := board.New(opts...)

	uart.SetIRQSink(func(pending bool) { b.PLIC.SetPending(uartIRQ, pending) })

	if copy(b.RAM.Bytes(), image) < len(image) {
		log.Error("rvemu: kernel image larger than RAM", "ram", *ramSize, "image", len(image))
		os.Exit(1)
	}

	const dtbPlaceholder = board.RAMBase // no DTB emitter in this build; entry gets a1=RAMBase

	if err := b.Boot(board.RAMBase, dtbPlaceholder); err != nil {
		log.Error("rvemu: boot", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ctx, termCancel, err := attachConsole(ctx, uart, log)
	if err != nil {
		log.Warn("rvemu: no controlling terminal, running headless", "err", err)
	}

	defer termCancel()

	if err := run(ctx, b, log); err != nil {
		log.Error("rvemu: halted", "err", err)
		os.Exit(1)
	}
}

// attachConsole wraps console.Attach, normalizing its ErrNoTTY case into
// a no-op cancel so headless runs (piped stdin, CI) still work.
func attachConsole(ctx context.Context, uart *console.UART, log *rvlog.Logger) (context.Context, func(), error) {
	attached, _, cancel, err := console.Attach(ctx, uart)
	if err != nil {
		return ctx, func() {}, err
	}

	return attached, cancel, nil
}

const cyclesPerStep = 10_000

// run steps the board until it halts (SYSCON poweroff), the context is
// cancelled, or the hart faults, mirroring the teacher's Run loop shape:
// a cancellation check, a step, then a halt check, each iteration.
func run(ctx context.Context, b *board.Board, log *rvlog.Logger) error {
	log.Info("rvemu: running")

	for {
		select {
		case <-ctx.Done():
			log.Warn("rvemu: cancelled")
			return ctx.Err()
		default:
		}

		halted, err := b.Step(cyclesPerStep)
		if err != nil {
			return err
		}

		if halted {
			log.Info("rvemu: guest requested poweroff")
			return nil
		}
	}
}
