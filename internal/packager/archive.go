package packager

import (
	"bytes"
	"io"
	"sync"
)

// Archive is an in-memory CBZ. It satisfies manga.Artifact.
type Archive struct {
	filename string
	entries  []string

	mu       sync.Mutex
	data     []byte
	released bool
}

// Filename is the deterministic archive name.
func (a *Archive) Filename() string {
	return a.filename
}

// Entries lists entry names in archive order.
func (a *Archive) Entries() []string {
	return append([]string(nil), a.entries...)
}

// Size is the archive length in bytes; zero after Release.
func (a *Archive) Size() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int64(len(a.data))
}

// Open returns a new reader over the archive bytes.
func (a *Archive) Open() io.Reader {
	a.mu.Lock()
	defer a.mu.Unlock()
	return bytes.NewReader(a.data)
}

// Release drops the buffer. It reports false when the archive was already
// released.
func (a *Archive) Release() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return false
	}
	a.released = true
	a.data = nil
	return true
}

// Released reports whether Release has been called.
func (a *Archive) Released() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.released
}
