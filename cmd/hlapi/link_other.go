//go:build !linux

package main

import (
	"errors"

	"hlapi-bus/transport"
)

func openDevice(path string, baud int) (transport.Port, transport.Poller, error) {
	return nil, nil, errors.New("character devices are only supported on linux; use a tcp:// device")
}
