// Package unixsocket wraps the exact-length read/write and peer-credential
// operations a local IPC client needs on top of a Unix domain stream
// socket.
package unixsocket

import (
	"io"
	"net"
	"os"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Dial connects to the Unix domain socket at path.
func Dial(path string) (*net.UnixConn, error) {
	addr := &net.UnixAddr{Name: path, Net: "unix"}
	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", path)
	}
	return conn, nil
}

// ReadFull reads exactly len(buf) bytes from conn, retrying on EINTR,
// matching smux's readFrame's use of io.ReadFull to require a complete
// frame before returning (xtaci/smux/mux.go).
func ReadFull(conn io.Reader, buf []byte) error {
	for {
		n, err := io.ReadFull(conn, buf)
		if err == nil {
			return nil
		}
		buf = buf[n:]
		if errors.Is(err, syscall.EINTR) {
			continue
		}
		return errors.Wrap(err, "read")
	}
}

// WriteFull writes all of buf to conn, retrying short writes and EINTR.
func WriteFull(conn io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := conn.Write(buf)
		if n > 0 {
			buf = buf[n:]
		}
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return errors.Wrap(err, "write")
		}
	}
	return nil
}

// PeerCredentials is the SO_PEERCRED-equivalent identity of the process
// on the other end of a Unix domain socket.
type PeerCredentials struct {
	PID int32
	UID uint32
	GID uint32
}

// PeerCreds queries conn's peer credentials via SO_PEERCRED, the same
// mechanism the Greengrass Nucleus uses to authenticate IPC clients by
// uid/pid, via golang.org/x/sys/unix's Ucred support.
func PeerCreds(conn *net.UnixConn) (PeerCredentials, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return PeerCredentials{}, errors.Wrap(err, "syscall conn")
	}

	var ucred *unix.Ucred
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		ucred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return PeerCredentials{}, errors.Wrap(err, "control")
	}
	if sockErr != nil {
		return PeerCredentials{}, errors.Wrap(sockErr, "getsockopt SO_PEERCRED")
	}

	return PeerCredentials{PID: ucred.Pid, UID: ucred.Uid, GID: ucred.Gid}, nil
}

// EnvSocketPath reads the Nucleus-provided IPC socket path, matching the
// AWS_GG_NUCLEUS_DOMAIN_SOCKET_FILEPATH_FOR_COMPONENT contract components
// are launched with.
func EnvSocketPath() (string, bool) {
	return os.LookupEnv("AWS_GG_NUCLEUS_DOMAIN_SOCKET_FILEPATH_FOR_COMPONENT")
}

// EnvAuthToken reads the per-component SVCUID bearer token used as the
// CONNECT authentication payload.
func EnvAuthToken() (string, bool) {
	return os.LookupEnv("SVCUID")
}
