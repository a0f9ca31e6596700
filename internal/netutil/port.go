package netutil

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// FallbackAddrs derives n candidate addresses on the ports following
// preferred, so "127.0.0.1:8190" yields :8191, :8192, and so on. Returns
// nil when preferred is not a host:port pair.
func FallbackAddrs(preferred string, n int) []string {
	host, portStr, err := net.SplitHostPort(preferred)
	if err != nil {
		return nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil
	}
	addrs := make([]string, 0, n)
	for i := 1; i <= n && port+i <= 65535; i++ {
		addrs = append(addrs, net.JoinHostPort(host, strconv.Itoa(port+i)))
	}
	return addrs
}

// SelectBindAddr picks the address the controller API listens on. The
// preferred address wins when free; with autoFallback the candidates are
// tried in order, otherwise a busy preferred address is an error.
func SelectBindAddr(preferred string, candidates []string, autoFallback bool) (string, error) {
	if preferred != "" {
		ok, err := IsAddrAvailable(preferred)
		if err != nil {
			return "", err
		}
		if ok {
			return preferred, nil
		}
		if !autoFallback {
			return "", fmt.Errorf("preferred bind address in use: %s", preferred)
		}
	}

	for _, addr := range candidates {
		ok, err := IsAddrAvailable(addr)
		if err != nil {
			return "", err
		}
		if ok {
			return addr, nil
		}
	}

	return "", errors.New("no available controller bind addresses")
}

// IsAddrAvailable returns true when an address can be listened on.
func IsAddrAvailable(addr string) (bool, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false, nil
	}
	if closeErr := ln.Close(); closeErr != nil {
		return false, closeErr
	}
	return true, nil
}
