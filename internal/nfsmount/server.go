package nfsmount

import (
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"runtime"
	"strconv"

	billy "github.com/go-git/go-billy/v5"
	nfs "github.com/willscott/go-nfs"
	nfshelper "github.com/willscott/go-nfs/helpers"
)

// handleCacheSize bounds the NFS file handle cache.
const handleCacheSize = 4096

// Server is a running NFSv3 server.
type Server struct {
	listener net.Listener
	port     int
	done     chan error
}

// NewServer serves fs on addr ("127.0.0.1:0" picks a free port).
func NewServer(fs billy.Filesystem, addr string, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("nfs listen %s: %w", addr, err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	handler := nfshelper.NewCachingHandler(nfshelper.NewNullAuthHandler(fs), handleCacheSize)
	s := &Server{listener: listener, port: port, done: make(chan error, 1)}
	go func() {
		err := nfs.Serve(listener, handler)
		log.Debug("nfs: stopped", "port", port, "err", err)
		s.done <- err
	}()
	log.Info("nfs: serving", "addr", listener.Addr().String())
	return s, nil
}

func (s *Server) Port() int { return s.port }

func (s *Server) Addr() string { return s.listener.Addr().String() }

// Close stops accepting connections.
func (s *Server) Close() error {
	return s.listener.Close()
}

// MountArgs returns the read-only mount command for the host OS.
func MountArgs(port int, mountpoint string) ([]string, error) {
	p := strconv.Itoa(port)
	switch runtime.GOOS {
	case "darwin":
		return []string{"sudo", "mount", "-t", "nfs",
			"-o", "port=" + p + ",mountport=" + p + ",vers=3,tcp,locallocks,noresvport,rdonly",
			"localhost:/", mountpoint}, nil
	case "linux":
		return []string{"sudo", "mount", "-t", "nfs",
			"-o", "port=" + p + ",mountport=" + p + ",vers=3,tcp,local_lock=all,nolock,ro",
			"localhost:/", mountpoint}, nil
	}
	return nil, fmt.Errorf("unsupported OS: %s", runtime.GOOS)
}

// Mount runs the system mount command against a server on port.
func Mount(port int, mountpoint string) error {
	args, err := MountArgs(port, mountpoint)
	if err != nil {
		return err
	}
	out, err := exec.Command(args[0], args[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("mount failed: %w\n%s", err, out)
	}
	return nil
}

// Unmount detaches mountpoint, trying diskutil first on macOS.
func Unmount(mountpoint string) error {
	if runtime.GOOS == "darwin" {
		if err := exec.Command("diskutil", "unmount", mountpoint).Run(); err == nil {
			return nil
		}
	}
	out, err := exec.Command("sudo", "umount", mountpoint).CombinedOutput()
	if err != nil {
		return fmt.Errorf("unmount failed: %w\n%s", err, out)
	}
	return nil
}
