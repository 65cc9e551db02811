// Package server implements the dual-socket runtime (C9): binding and
// listening on the Local and Forwarded Unix sockets, accepting
// connections into per-client handlers, and graceful shutdown —
// grounded on the teacher's main.go umask-before-Listen trick for
// atomic 0600 socket permissions and its signal-driven shutdown path.
package server

import (
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/tavisrudd/ssh-guard-agent/internal/connection"
	"github.com/tavisrudd/ssh-guard-agent/internal/handler"
	"github.com/tavisrudd/ssh-guard-agent/internal/peercred"
)

// maxSockaddrUnPathLen is the conventional Linux sockaddr_un.sun_path
// capacity (108 bytes including the trailing NUL).
const maxSockaddrUnPathLen = 107

// Listener owns one bound, listening Unix socket and its accept loop.
type Listener struct {
	path       string
	socketType handler.SocketType
	ln         net.Listener
}

// Bind creates, binds, and chmods a Unix socket at path to mode 0600,
// using a restrictive umask around Listen to close the chmod-after-bind
// race window the same way main.go does for its single socket.
func Bind(path string, socketType handler.SocketType) (*Listener, error) {
	if len(path) > maxSockaddrUnPathLen {
		return nil, fmt.Errorf("server: socket path %q exceeds sockaddr_un.sun_path capacity", path)
	}
	os.Remove(path)

	oldUmask := syscall.Umask(0077)
	ln, err := net.Listen("unix", path)
	syscall.Umask(oldUmask)
	if err != nil {
		return nil, fmt.Errorf("server: listen %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		os.Remove(path)
		return nil, fmt.Errorf("server: chmod %s: %w", path, err)
	}
	return &Listener{path: path, socketType: socketType, ln: ln}, nil
}

// Serve runs the accept loop, spawning one connection goroutine per
// accepted client, each registered in the live set until it exits.
// Serve returns once the listener is closed (by Shutdown or otherwise).
func (l *Listener) Serve(h connection.Dispatcher, live *LiveSet) {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if strings.Contains(err.Error(), "use of closed") {
				return
			}
			log.Printf("server: accept on %s: %v", l.path, err)
			continue
		}
		live.Add(1)
		go func() {
			defer live.Done()
			defer conn.Close()
			// Identify the connecting process via SO_PEERCRED before
			// anything else (the process may exit soon after connecting).
			// Diagnostic only: never consulted by the handler or the
			// approval gate.
			info := peercred.Lookup(conn)
			log.Printf("connect: %s on %v", info, l.socketType)
			connection.Serve(conn, h, l.socketType)
		}()
	}
}

// Shutdown closes the listener and unlinks its socket path.
func (l *Listener) Shutdown() {
	l.ln.Close()
	os.Remove(l.path)
}

// LiveSet tracks in-flight connection goroutines so shutdown can wait
// for them to drain.
type LiveSet struct {
	wg sync.WaitGroup
}

func (s *LiveSet) Add(n int) { s.wg.Add(n) }
func (s *LiveSet) Done()     { s.wg.Done() }
func (s *LiveSet) Wait()     { s.wg.Wait() }
