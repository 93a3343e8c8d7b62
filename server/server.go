// Package server simulates the remote end of the HLAPI bus.
//
// Devices are plain Go structs registered under a handle; their exported
// methods become bus methods named in lowerCamelCase. The server speaks the
// same NUL-delimited frames as the client:
//
//	read until 00 → empty segment (reset) → ignore
//	             → decode request → list / methods / invoke → write 00 envelope 00
//
// A segment that is not a valid request is dropped without a reply, the way
// the remote VM drops the partial message a reset cuts short.
package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"hlapi-bus/message"
	"hlapi-bus/protocol"
)

// MaxResponseSize bounds one response frame. Streamed results may exceed the
// client's outbound limit, so this is far above protocol.MaxWriteSize.
const MaxResponseSize = 1 << 20

// Server is a simulated bus.
type Server struct {
	mu       sync.RWMutex
	devices  []*service                        // list order
	byID     map[message.DeviceHandle]*service // lookup
	logger   *zap.Logger
	listener net.Listener
	wg       sync.WaitGroup // open connections
	shutdown atomic.Bool
}

// NewServer creates an empty bus. A nil logger discards everything.
func NewServer(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		byID:   make(map[message.DeviceHandle]*service),
		logger: logger,
	}
}

// Register attaches a device to the bus. Devices are listed in registration
// order.
func (svr *Server) Register(id message.DeviceHandle, rcvr any, components ...string) error {
	svc, err := NewService(id, rcvr, components...)
	if err != nil {
		return err
	}

	svr.mu.Lock()
	defer svr.mu.Unlock()
	if _, ok := svr.byID[id]; ok {
		return fmt.Errorf("server: device %s already registered", id)
	}
	svr.devices = append(svr.devices, svc)
	svr.byID[id] = svc
	return nil
}

// Serve answers requests read from rw until it reports EOF.
func (svr *Server) Serve(rw io.ReadWriter) error {
	br := bufio.NewReader(rw)
	w := protocol.NewWriter(rw, MaxResponseSize)
	for {
		segment, err := br.ReadBytes(protocol.Delimiter)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		payload := bytes.TrimSpace(segment[:len(segment)-1])
		if len(payload) == 0 {
			continue
		}

		var req message.Request
		if err := json.Unmarshal(payload, &req); err != nil {
			svr.logger.Warn("dropping malformed request", zap.Int("bytes", len(payload)), zap.Error(err))
			continue
		}

		if err := w.WriteMessage(svr.handle(&req)); err != nil {
			return err
		}
	}
}

// ListenAndServe accepts connections on address and serves each one as an
// independent bus link.
func (svr *Server) ListenAndServe(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	svr.mu.Lock()
	svr.listener = listener
	svr.mu.Unlock()
	svr.logger.Info("simulated bus listening", zap.String("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		svr.wg.Add(1)
		go func() {
			defer svr.wg.Done()
			defer conn.Close()
			if err := svr.Serve(conn); err != nil {
				svr.logger.Warn("link closed", zap.Error(err))
			}
		}()
	}
}

// Addr returns the listening address, or nil before ListenAndServe.
func (svr *Server) Addr() net.Addr {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// Shutdown stops accepting links and waits for open ones to end.
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.shutdown.Store(true)
	svr.mu.RLock()
	listener := svr.listener
	svr.mu.RUnlock()
	if listener != nil {
		listener.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("server: timeout waiting for open links to close")
	}
}

func (svr *Server) handle(req *message.Request) any {
	svr.mu.RLock()
	defer svr.mu.RUnlock()

	switch req.Type {
	case message.RequestList:
		devices := make([]message.DeviceDescriptor, len(svr.devices))
		for i, svc := range svr.devices {
			devices[i] = svc.Descriptor()
		}
		return message.Response[message.Void]{Type: message.ResponseList, Devices: devices}

	case message.RequestMethods:
		svc, ok := svr.byID[req.Device]
		if !ok {
			return failure("no device %s", req.Device)
		}
		return message.Response[message.Void]{Type: message.ResponseMethods, Methods: svc.Methods()}

	case message.RequestInvoke:
		svc, ok := svr.byID[req.Device]
		if !ok {
			return failure("no device %s", req.Device)
		}
		result, err := svc.Call(req.Method, req.Parameters)
		if err != nil {
			svr.logger.Debug("invoke failed",
				zap.Stringer("device", req.Device),
				zap.String("method", req.Method),
				zap.Error(err))
			return failure("%v", err)
		}
		return message.Response[any]{Type: message.ResponseResult, Result: result}

	default:
		return failure("unknown request type %q", req.Type)
	}
}

func failure(format string, args ...any) message.Response[message.Void] {
	msg := fmt.Sprintf(format, args...)
	return message.Response[message.Void]{Type: message.ResponseError, Error: &msg}
}
