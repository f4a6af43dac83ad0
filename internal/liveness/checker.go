// Package liveness decides whether an endpoint currently accepts TCP connections.
package liveness

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/chain-registry/internal/errors"
)

// DefaultDialTimeout bounds each connection attempt
const DefaultDialTimeout = 5 * time.Second

// Checker reports whether an endpoint address is reachable; nil means alive.
type Checker interface {
	Check(ctx context.Context, address string) error
}

// CheckerFunc adapts a function to Checker
type CheckerFunc func(ctx context.Context, address string) error

// Check calls f
func (f CheckerFunc) Check(ctx context.Context, address string) error {
	return f(ctx, address)
}

// Resolver looks up the addresses of a host
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// TCPChecker dials every resolved address of an endpoint in turn and
// succeeds on the first connection that opens.
type TCPChecker struct {
	Timeout  time.Duration
	Resolver Resolver
	dialer   func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewTCPChecker creates a checker using the system resolver
func NewTCPChecker(timeout time.Duration) *TCPChecker {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	return &TCPChecker{
		Timeout:  timeout,
		Resolver: net.DefaultResolver,
	}
}

// Check implements Checker
func (c *TCPChecker) Check(ctx context.Context, address string) error {
	target, err := DialTarget(address)
	if err != nil {
		return apperrors.NewUnreachableError(address, err)
	}

	host, port, err := net.SplitHostPort(target)
	if err != nil {
		return apperrors.NewUnreachableError(address, err)
	}

	resolver := c.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	ips, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return apperrors.NewUnreachableError(address, err)
	}

	dial := c.dialer
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}

	var lastErr error
	for _, ip := range ips {
		dialCtx, cancel := context.WithTimeout(ctx, c.Timeout)
		conn, err := dial(dialCtx, "tcp", net.JoinHostPort(ip, port))
		cancel()
		if err == nil {
			_ = conn.Close()
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = errors.New("host resolved to no addresses")
	}
	return apperrors.NewUnreachableError(address, lastErr)
}

var defaultPorts = map[string]string{
	"https": "443",
	"wss":   "443",
	"http":  "80",
	"ws":    "80",
	"grpc":  "9090",
	"tcp":   "26657",
}

// DialTarget turns a stored endpoint address into host:port.
// Peers ("<node id>@host:port") lose their node id; URLs take their port
// from the scheme when none is given.
func DialTarget(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", errors.New("empty address")
	}

	if strings.Contains(address, "://") {
		u, err := url.Parse(address)
		if err != nil {
			return "", fmt.Errorf("invalid url: %w", err)
		}
		host := u.Hostname()
		if host == "" {
			return "", fmt.Errorf("url %q has no host", address)
		}
		port := u.Port()
		if port == "" {
			p, ok := defaultPorts[strings.ToLower(u.Scheme)]
			if !ok {
				return "", fmt.Errorf("no default port for scheme %q", u.Scheme)
			}
			port = p
		}
		return net.JoinHostPort(host, port), nil
	}

	if i := strings.LastIndex(address, "@"); i >= 0 {
		address = address[i+1:]
	}
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return "", err
	}
	if host == "" || port == "" {
		return "", fmt.Errorf("address %q needs both host and port", address)
	}
	return net.JoinHostPort(host, port), nil
}
