//go:build !windows

package testutil

import (
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

// DummyUnixSocket listens on a Unix socket and answers every connection with garbage,
// so a driver dialing it fails with a protocol error instead of "connection refused".
type DummyUnixSocket struct {
	Dir      string
	Path     string
	listener net.Listener
	closed   atomic.Bool
}

// StartDummyUnixSocket listens on socketName inside a fresh temporary directory. The
// socket is closed and the directory removed when the test finishes.
func StartDummyUnixSocket(t *testing.T, dirPrefix, socketName string) *DummyUnixSocket {
	t.Helper()

	// t.TempDir() paths can exceed the 104 byte sun_path limit on macOS
	dir, err := os.MkdirTemp("", dirPrefix)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, socketName)
	listener, err := net.Listen("unix", path)
	if err != nil {
		os.RemoveAll(dir)
		t.Fatal(err)
	}

	sock := &DummyUnixSocket{Dir: dir, Path: path, listener: listener}
	t.Cleanup(sock.Close)
	go sock.serve()
	return sock
}

func (s *DummyUnixSocket) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("dummy socket response\n"))
		conn.Close()
	}
}

func (s *DummyUnixSocket) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.listener.Close()
	os.RemoveAll(s.Dir)
}
