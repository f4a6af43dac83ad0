package liveness

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	apperrors "github.com/chain-registry/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticResolver map[string][]string

func (r staticResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if ips, ok := r[host]; ok {
		return ips, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func listen(t *testing.T) (port string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	_, port, err = net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return port
}

// closedPort returns a port nothing listens on
func closedPort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, ln.Close())
	return port
}

func TestDialTarget(t *testing.T) {
	tests := []struct {
		address string
		want    string
		wantErr bool
	}{
		{"abc123@seed.example.com:26656", "seed.example.com:26656", false},
		{"abc123@[2001:db8::1]:26656", "[2001:db8::1]:26656", false},
		{"abc@def@seed.example.com:26656", "seed.example.com:26656", false},
		{"grpc.example.com:443", "grpc.example.com:443", false},
		{"https://rpc.example.com", "rpc.example.com:443", false},
		{"http://rest.example.com/", "rest.example.com:80", false},
		{"https://rpc.example.com:8443/path", "rpc.example.com:8443", false},
		{"tcp://node.example.com", "node.example.com:26657", false},
		{"ftp://files.example.com", "", true},
		{"abc123@no-port.example.com", "", true},
		{"", "", true},
		{"https://", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			got, err := DialTarget(tt.address)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTCPChecker_Alive(t *testing.T) {
	port := listen(t)
	checker := &TCPChecker{
		Timeout:  time.Second,
		Resolver: staticResolver{"node.test": {"127.0.0.1"}},
	}

	assert.NoError(t, checker.Check(context.Background(), "nodeid@node.test:"+port))
}

func TestTCPChecker_Dead(t *testing.T) {
	port := closedPort(t)
	checker := &TCPChecker{
		Timeout:  time.Second,
		Resolver: staticResolver{"node.test": {"127.0.0.1"}},
	}

	err := checker.Check(context.Background(), "nodeid@node.test:"+port)
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryNetwork, apperrors.Categorize(err).Category)
}

func TestTCPChecker_TriesEveryResolvedAddress(t *testing.T) {
	port := listen(t)
	var dialed []string
	checker := &TCPChecker{
		Timeout:  time.Second,
		Resolver: staticResolver{"multi.test": {"192.0.2.1", "127.0.0.1", "192.0.2.2"}},
		dialer: func(ctx context.Context, network, address string) (net.Conn, error) {
			dialed = append(dialed, address)
			if address != net.JoinHostPort("127.0.0.1", port) {
				return nil, errors.New("connection refused")
			}
			return (&net.Dialer{}).DialContext(ctx, network, address)
		},
	}

	require.NoError(t, checker.Check(context.Background(), "id@multi.test:"+port))
	assert.Len(t, dialed, 2, "stops at the first address that connects")
}

func TestTCPChecker_ResolveFailure(t *testing.T) {
	checker := &TCPChecker{Timeout: time.Second, Resolver: staticResolver{}}
	assert.Error(t, checker.Check(context.Background(), "id@unknown.test:26656"))
}

func TestTCPChecker_InvalidAddress(t *testing.T) {
	checker := NewTCPChecker(time.Second)
	assert.Error(t, checker.Check(context.Background(), "not-an-address"))
}

func TestTCPChecker_Timeout(t *testing.T) {
	checker := &TCPChecker{
		Timeout:  20 * time.Millisecond,
		Resolver: staticResolver{"slow.test": {"192.0.2.1"}},
		dialer: func(ctx context.Context, network, address string) (net.Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	start := time.Now()
	err := checker.Check(context.Background(), "id@slow.test:26656")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCheckerFunc(t *testing.T) {
	var c Checker = CheckerFunc(func(ctx context.Context, address string) error {
		if address == "up" {
			return nil
		}
		return errors.New("down")
	})
	assert.NoError(t, c.Check(context.Background(), "up"))
	assert.Error(t, c.Check(context.Background(), "down"))
}
