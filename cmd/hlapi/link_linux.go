//go:build linux

package main

import (
	"hlapi-bus/device"
	"hlapi-bus/transport"
)

func openDevice(path string, baud int) (transport.Port, transport.Poller, error) {
	port, err := device.Open(path, baud)
	if err != nil {
		return nil, nil, err
	}
	poller, err := device.NewPoller(port.Fd())
	if err != nil {
		port.Close()
		return nil, nil, err
	}
	return port, poller, nil
}
