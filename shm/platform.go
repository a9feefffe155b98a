package shm

import "fmt"

// CreateShm creates (or truncates) a named shared memory object and maps it.
//
// Parameters:
//   - name: Unique name for the object.
//   - size: Size in bytes.
//
// Returns the mapped bytes or a system error.
func CreateShm(name string, size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shm: invalid size %d", size)
	}
	return createShm(name, size)
}

// OpenShm maps an existing named shared memory object.
//
// It fails if the object is smaller than size; mapping past its end would
// fault on first access.
func OpenShm(name string, size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shm: invalid size %d", size)
	}
	return openShm(name, size)
}

// CloseShm unmaps memory returned by CreateShm or OpenShm.
func CloseShm(mem []byte) error {
	return closeShm(mem)
}

// UnlinkShm removes the named object. Existing mappings stay valid.
func UnlinkShm(name string) error {
	return unlinkShm(name)
}

// MapRegion creates or opens the named object and wraps it as a Region at
// base. Closing the region unmaps it.
func MapRegion(name string, base Addr, size int, create bool) (*Region, error) {
	var (
		mem []byte
		err error
	)
	if create {
		mem, err = CreateShm(name, size)
	} else {
		mem, err = OpenShm(name, size)
	}
	if err != nil {
		return nil, err
	}
	r, err := NewRegion(base, mem)
	if err != nil {
		_ = closeShm(mem)
		return nil, err
	}
	r.unmap = closeShm
	return r, nil
}
