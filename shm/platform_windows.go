package shm

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

const fileMapAllAccess = 0xF001F

// mappings remembers the file-mapping handle behind each view so that
// closeShm can release both.
var mappings sync.Map // uintptr(view) -> windows.Handle

func mapView(h windows.Handle, size int) ([]byte, error) {
	addr, err := windows.MapViewOfFile(h, fileMapAllAccess, 0, 0, uintptr(size))
	if addr == 0 {
		windows.CloseHandle(h)
		return nil, err
	}
	mappings.Store(addr, h)
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func createShm(name string, size int) ([]byte, error) {
	n, err := windows.UTF16PtrFromString("Local\\" + name)
	if err != nil {
		return nil, err
	}

	// High-order DWORD of size is size >> 32
	h, err := windows.CreateFileMapping(
		windows.InvalidHandle,
		nil,
		windows.PAGE_READWRITE,
		uint32(uint64(size)>>32),
		uint32(uint64(size)&0xFFFFFFFF),
		n,
	)
	if h == 0 {
		return nil, fmt.Errorf("shm: CreateFileMapping %s: %w", name, err)
	}
	return mapView(h, size)
}

func openShm(name string, size int) ([]byte, error) {
	n, err := windows.UTF16PtrFromString("Local\\" + name)
	if err != nil {
		return nil, err
	}
	h, err := windows.OpenFileMapping(fileMapAllAccess, false, n)
	if h == 0 {
		return nil, fmt.Errorf("shm: OpenFileMapping %s: %w", name, err)
	}
	return mapView(h, size)
}

func closeShm(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&mem[0]))
	err := windows.UnmapViewOfFile(addr)
	if h, ok := mappings.LoadAndDelete(addr); ok {
		windows.CloseHandle(h.(windows.Handle))
	}
	return err
}

// unlinkShm is a no-op: the mapping disappears with its last handle.
func unlinkShm(string) error {
	return nil
}
