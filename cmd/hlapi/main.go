// Command hlapi talks to the HLAPI bus from a shell.
//
//	hlapi [-config file] list
//	hlapi [-config file] methods DEVICE
//	hlapi [-config file] find COMPONENT
//	hlapi [-config file] call DEVICE METHOD [JSON...]
//	hlapi [-config file] stream DEVICE METHOD [JSON...]
//	hlapi [-config file] reset
//	hlapi [-config file] publish
//	hlapi [-config file] route [-key KEY] COMPONENT METHOD [JSON...]
//	hlapi [-config file] sim [-listen ADDR]
//
// DEVICE is a device handle or a component name; a name selects the first
// listed device exposing it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"hlapi-bus/client"
	"hlapi-bus/config"
	"hlapi-bus/loadbalance"
	"hlapi-bus/logging"
	"hlapi-bus/message"
	"hlapi-bus/middleware"
	"hlapi-bus/registry"
	"hlapi-bus/transport"
)

const defaultResyncDelay = 50 * time.Millisecond

var errUsage = errors.New("usage: hlapi [-config file] <list|methods|find|call|stream|reset|publish|route|sim> [args]")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "hlapi: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("hlapi", flag.ContinueOnError)
	configPath := fs.String("config", "", "TOML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errUsage
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "sim":
		return runSim(ctx, rest, stdin, stdout, logger)
	case "route":
		return runRoute(ctx, cfg, rest, stdout, logger)
	}

	c, err := connect(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	switch cmd {
	case "list":
		return runList(ctx, c, stdout)
	case "methods":
		return runMethods(ctx, c, rest, stdout)
	case "find":
		if len(rest) != 1 {
			return errUsage
		}
		handle, err := c.Find(ctx, rest[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, handle)
		return nil
	case "call":
		return runCall(ctx, c, rest, stdout)
	case "stream":
		return runStream(ctx, c, rest, stdout)
	case "reset":
		return c.Reset()
	case "publish":
		return runPublish(ctx, c, cfg, logger)
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

// connect opens the configured link and installs the configured policies.
func connect(cfg config.Config, logger *zap.Logger) (*client.Client, error) {
	var session *transport.Session
	if cfg.Simulated() {
		conn, err := net.Dial("tcp", cfg.Address())
		if err != nil {
			return nil, err
		}
		session = transport.NewSession(conn, nil, cfg.Limits)
	} else {
		port, poller, err := openDevice(cfg.Device, cfg.Baud)
		if err != nil {
			return nil, err
		}
		session = transport.NewSession(port, poller, cfg.Limits)
	}

	c := client.NewClient(session)
	c.Use(middleware.LoggingMiddleware(logger))
	if cfg.ResyncRetries > 0 {
		c.Use(middleware.ResyncMiddleware(c, cfg.ResyncRetries, defaultResyncDelay, logger))
	}
	if cfg.RateLimit > 0 {
		c.Use(middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	}
	if cfg.Timeout > 0 {
		c.Use(middleware.TimeOutMiddleware(cfg.Timeout))
	}
	return c, nil
}

// resolve accepts a device handle or a component name.
func resolve(ctx context.Context, c *client.Client, arg string) (message.DeviceHandle, error) {
	if handle, err := message.ParseDeviceHandle(arg); err == nil {
		return handle, nil
	}
	return c.Find(ctx, arg)
}

// parseArgs turns command-line JSON values into positional parameters.
func parseArgs(raw []string) ([]any, error) {
	args := make([]any, len(raw))
	for i, s := range raw {
		if !json.Valid([]byte(s)) {
			return nil, fmt.Errorf("parameter %d is not JSON: %s", i+1, s)
		}
		args[i] = json.RawMessage(s)
	}
	return args, nil
}

func runList(ctx context.Context, c *client.Client, out io.Writer) error {
	devices, err := c.List(ctx)
	if err != nil {
		return err
	}
	for _, d := range devices {
		fmt.Fprintf(out, "%s  %s\n", d.DeviceID, strings.Join(d.Components, ","))
	}
	return nil
}

func runMethods(ctx context.Context, c *client.Client, rest []string, out io.Writer) error {
	if len(rest) != 1 {
		return errUsage
	}
	handle, err := resolve(ctx, c, rest[0])
	if err != nil {
		return err
	}
	methods, err := c.Methods(ctx, handle)
	if err != nil {
		return err
	}
	for _, m := range methods {
		fmt.Fprintln(out, m.Signature())
		if m.Description != "" {
			fmt.Fprintf(out, "    %s\n", m.Description)
		}
		if m.ReturnValueDescription != "" {
			fmt.Fprintf(out, "    returns: %s\n", m.ReturnValueDescription)
		}
	}
	return nil
}

func runCall(ctx context.Context, c *client.Client, rest []string, out io.Writer) error {
	if len(rest) < 2 {
		return errUsage
	}
	handle, err := resolve(ctx, c, rest[0])
	if err != nil {
		return err
	}
	args, err := parseArgs(rest[2:])
	if err != nil {
		return err
	}
	var result json.RawMessage
	if err := c.Call(ctx, handle, rest[1], args, &result); err != nil {
		return err
	}
	if len(result) > 0 {
		fmt.Fprintln(out, string(result))
	}
	return nil
}

func runStream(ctx context.Context, c *client.Client, rest []string, out io.Writer) error {
	if len(rest) < 2 {
		return errUsage
	}
	handle, err := resolve(ctx, c, rest[0])
	if err != nil {
		return err
	}
	args, err := parseArgs(rest[2:])
	if err != nil {
		return err
	}
	n, err := c.CallStreamed(ctx, handle, rest[1], args, func(raw json.RawMessage) error {
		_, err := fmt.Fprintln(out, string(raw))
		return err
	})
	if err != nil {
		return fmt.Errorf("after %d elements: %w", n, err)
	}
	return nil
}

// runPublish announces the bus inventory until ctx is done.
func runPublish(ctx context.Context, c *client.Client, cfg config.Config, logger *zap.Logger) error {
	if len(cfg.EtcdEndpoints) == 0 {
		return errors.New("publish: etcd_endpoints not configured")
	}
	reg, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints)
	if err != nil {
		return err
	}
	defer reg.Close()

	records, err := registry.Publish(ctx, c, reg, cfg.Bus, cfg.Device, cfg.TTL)
	if err != nil {
		return err
	}
	logger.Info("bus published", zap.String("bus", cfg.Bus), zap.Int("devices", len(records)))

	<-ctx.Done()
	return registry.Unpublish(reg, records)
}

// runRoute calls a method on a device located through the directory.
func runRoute(ctx context.Context, cfg config.Config, rest []string, out io.Writer, logger *zap.Logger) error {
	fs := flag.NewFlagSet("route", flag.ContinueOnError)
	key := fs.String("key", "", "affinity key; the same key keeps the same device")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if fs.NArg() < 2 || len(cfg.EtcdEndpoints) == 0 {
		return errUsage
	}

	reg, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints)
	if err != nil {
		return err
	}
	defer reg.Close()
	records, err := reg.Discover(fs.Arg(0))
	if err != nil {
		return err
	}

	if len(records) == 0 {
		return fmt.Errorf("route %s: %w", fs.Arg(0), loadbalance.ErrNoRecords)
	}

	// With a key the device is fixed; without one, links that cannot be
	// opened are skipped in round-robin order.
	var balancer loadbalance.Balancer = &loadbalance.RoundRobinBalancer{}
	attempts := len(records)
	if *key != "" {
		ring := loadbalance.NewConsistentHashBalancer()
		ring.Reset(records)
		balancer = keyed{ring, *key}
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		record, err := balancer.Pick(records)
		if err != nil {
			return err
		}
		target := cfg
		target.Device = record.Addr
		c, err := connect(target, logger)
		if err != nil {
			logger.Warn("bus unreachable", zap.String("bus", record.Bus), zap.String("addr", record.Addr), zap.Error(err))
			lastErr = err
			continue
		}
		logger.Debug("routed", zap.String("bus", record.Bus), zap.Stringer("device", record.DeviceID))
		defer c.Close()
		return runCall(ctx, c, append([]string{record.DeviceID.String()}, fs.Args()[1:]...), out)
	}
	return fmt.Errorf("route %s: %w", fs.Arg(0), lastErr)
}

// keyed adapts a hash ring to Balancer for one fixed key.
type keyed struct {
	ring *loadbalance.ConsistentHashBalancer
	key  string
}

func (k keyed) Pick([]registry.Record) (*registry.Record, error) { return k.ring.Pick(k.key) }
func (k keyed) Name() string                                     { return k.ring.Name() }
