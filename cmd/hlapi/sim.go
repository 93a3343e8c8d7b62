package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hlapi-bus/server"
)

// Fixed handles so that scripts against the demo bus stay valid across runs.
var (
	simBatteryID  = uuid.MustParse("0b8f3c44-2a1e-4a53-9d43-1f0d6c2e7a10")
	simTerminalID = uuid.MustParse("3f0c2b7e-8e1d-4c55-9a0a-6d5f1b2c3d4e")
	simRedstoneID = uuid.MustParse("7c1d9e20-4b6a-4f3e-8a51-2e9d0c4b6f88")
)

type simBattery struct {
	mu       sync.Mutex
	stored   int
	capacity int
}

func (b *simBattery) GetEnergyStored() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stored
}

func (b *simBattery) GetMaxEnergyStored() int { return b.capacity }

func (b *simBattery) Doc(method string) (string, string) {
	switch method {
	case "getEnergyStored":
		return "Energy currently held.", "Stored energy in FE."
	case "getMaxEnergyStored":
		return "Capacity of the cell.", "Capacity in FE."
	}
	return "", ""
}

type simTerminal struct {
	mu    sync.Mutex
	lines []string
}

func (t *simTerminal) Write(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, strings.Split(text, "\n")...)
}

func (t *simTerminal) Read() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}

func (t *simTerminal) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = nil
}

type simRedstone struct {
	mu      sync.Mutex
	outputs map[string]int
}

var sides = []string{"up", "down", "north", "south", "west", "east"}

func validSide(side string) bool {
	for _, s := range sides {
		if s == side {
			return true
		}
	}
	return false
}

func (r *simRedstone) SetRedstoneOutput(side string, level int) error {
	if !validSide(side) {
		return fmt.Errorf("unknown side %q", side)
	}
	if level < 0 || level > 15 {
		return fmt.Errorf("level %d out of range 0-15", level)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[side] = level
	return nil
}

func (r *simRedstone) GetRedstoneOutput(side string) (int, error) {
	if !validSide(side) {
		return 0, fmt.Errorf("unknown side %q", side)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outputs[side], nil
}

// newSimBus builds the demo bus served by the sim command.
func newSimBus(logger *zap.Logger) (*server.Server, error) {
	svr := server.NewServer(logger)
	err := errors.Join(
		svr.Register(simBatteryID, &simBattery{stored: 7500, capacity: 10000}, "energy_storage", "battery"),
		svr.Register(simTerminalID, &simTerminal{}, "terminal"),
		svr.Register(simRedstoneID, &simRedstone{outputs: make(map[string]int)}, "redstone"),
	)
	if err != nil {
		return nil, err
	}
	return svr, nil
}

type stdio struct {
	io.Reader
	io.Writer
}

// runSim serves the demo bus on stdin/stdout, or on a TCP address with
// -listen until ctx is done.
func runSim(ctx context.Context, rest []string, stdin io.Reader, stdout io.Writer, logger *zap.Logger) error {
	fs := flag.NewFlagSet("sim", flag.ContinueOnError)
	listen := fs.String("listen", "", "serve on this TCP address instead of stdin/stdout")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	svr, err := newSimBus(logger)
	if err != nil {
		return err
	}
	if *listen == "" {
		return svr.Serve(stdio{stdin, stdout})
	}

	errc := make(chan error, 1)
	go func() { errc <- svr.ListenAndServe("tcp", *listen) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		if err := svr.Shutdown(5 * time.Second); err != nil {
			return err
		}
		return <-errc
	}
}
