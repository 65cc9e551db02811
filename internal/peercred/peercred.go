// Package peercred reads SO_PEERCRED off an accepted Unix domain socket
// connection for diagnostic logging only. Nothing in this package feeds
// a trust or approval decision: the dual-socket split and the approval
// gate key entirely on which listener accepted the connection and on
// session-bind verification, not on who the kernel says is on the
// other end of the socket.
//
// Grounded on the teacher's getPeerCred (caller.go), stripped of the
// surrounding CallerContext machinery (process ancestry, coding-agent
// detection, namespace comparison, tmux/mux resolution) that fed the
// teacher's policy engine — this project has no equivalent use for any
// of it.
package peercred

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Info is the diagnostic peer identity of a Unix socket's connecting
// process, resolved immediately on accept before the process can exit
// and the /proc entry disappears.
type Info struct {
	PID     int32
	UID     uint32
	GID     uint32
	Comm    string // process name from /proc/$pid/comm
	ExePath string // resolved executable path, if readable
}

// String renders Info for a log line.
func (i Info) String() string {
	if i.PID == 0 {
		return "pid=? uid=? (peer credentials unavailable)"
	}
	exe := i.ExePath
	if exe == "" {
		exe = "?"
	}
	return fmt.Sprintf("pid=%d uid=%d gid=%d comm=%s exe=%s", i.PID, i.UID, i.GID, i.Comm, exe)
}

// Lookup retrieves SO_PEERCRED from conn and resolves the few /proc
// fields useful in a log line. It returns the zero Info, never an
// error, when credentials aren't available — logging is never allowed
// to block or fail a connection.
func Lookup(conn net.Conn) Info {
	ucred := getsockoptUcred(conn)
	if ucred == nil {
		return Info{}
	}
	info := Info{PID: ucred.Pid, UID: ucred.Uid, GID: ucred.Gid}
	info.Comm = readComm(ucred.Pid)
	info.ExePath = readExePath(ucred.Pid)
	return info
}

func getsockoptUcred(conn net.Conn) *unix.Ucred {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil
	}
	rawConn, err := unixConn.SyscallConn()
	if err != nil {
		return nil
	}
	var ucred *unix.Ucred
	var credErr error
	if err := rawConn.Control(func(fd uintptr) {
		ucred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return nil
	}
	if credErr != nil {
		return nil
	}
	return ucred
}

func readComm(pid int32) string {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func readExePath(pid int32) string {
	target, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return ""
	}
	return filepath.Clean(target)
}
