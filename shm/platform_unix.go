//go:build unix

package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// shmDir is where named objects live. /dev/shm is tmpfs on Linux; other
// unix systems fall back to the temporary directory.
func shmDir() string {
	if st, err := os.Stat("/dev/shm"); err == nil && st.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

func shmPath(name string) string {
	return filepath.Join(shmDir(), name)
}

// createShm implementation for unix (open/ftruncate/mmap).
func createShm(name string, size int) ([]byte, error) {
	fd, err := unix.Open(shmPath(name), unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0o666)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", name, err)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return nil, fmt.Errorf("shm: ftruncate %s: %w", name, err)
	}

	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %s: %w", name, err)
	}
	return mem, nil
}

// openShm implementation for unix.
func openShm(name string, size int) ([]byte, error) {
	fd, err := unix.Open(shmPath(name), unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: open existing %s: %w", name, err)
	}
	defer unix.Close(fd)

	// Check size to avoid SIGBUS if the creator hasn't truncated yet
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("shm: fstat %s: %w", name, err)
	}
	if st.Size < int64(size) {
		return nil, fmt.Errorf("shm: %s is %d bytes, want %d (creator initializing?)", name, st.Size, size)
	}

	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %s: %w", name, err)
	}
	return mem, nil
}

// closeShm implementation for unix.
func closeShm(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	return unix.Munmap(mem)
}

// unlinkShm implementation for unix.
func unlinkShm(name string) error {
	err := unix.Unlink(shmPath(name))
	if errors.Is(err, unix.ENOENT) {
		return nil
	}
	return err
}
