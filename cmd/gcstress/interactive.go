package main

import (
	"fmt"
	"log/slog"

	"github.com/mattn/go-tty"
	"github.com/tinygo-org/objectmemory/memory"
)

const commandHelp = "y: young collection, m: mature collection, f: full collection, d: diagnostics, q: stop reading commands"

// runCommands reads single-key commands from the terminal and runs them on
// a mutator of its own until q is pressed or stop is closed.
func runCommands(om *memory.ObjectMemory, logger *slog.Logger, stop <-chan struct{}) error {
	t, err := tty.Open()
	if err != nil {
		return fmt.Errorf("could not open terminal: %w", err)
	}
	defer t.Close()
	fmt.Fprintln(t.Output(), commandHelp)

	// ReadRune cannot be cancelled. The reader is left blocked after stop
	// and ends with the process.
	keys := make(chan rune)
	readErr := make(chan error, 1)
	go func() {
		for {
			r, err := t.ReadRune()
			if err != nil {
				readErr <- err
				return
			}
			keys <- r
		}
	}()

	m := om.NewMutator()
	defer m.Close()
	for {
		var (
			key rune
			err error
			end bool
		)
		m.Blocking(func() {
			select {
			case key = <-keys:
			case err = <-readErr:
			case <-stop:
				end = true
			}
		})
		if err != nil {
			return err
		}
		if end {
			return nil
		}
		switch key {
		case 'y':
			om.CollectYoung(m)
			logger.Info("young collection requested")
		case 'm':
			om.CollectMature(m)
			logger.Info("mature collection requested")
		case 'f':
			om.CollectFull(m)
			logger.Info("full collection done")
		case 'd':
			d := om.Diagnostics()
			d.WriteTo(t.Output())
		case 'q':
			return nil
		default:
			fmt.Fprintln(t.Output(), commandHelp)
		}
	}
}
