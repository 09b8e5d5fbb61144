package destination

import (
	"sync"

	"github.com/go-i2p/logger"
)

// handlerRegistry maps ports to protocol handlers. Streaming handlers
// are keyed by local port with port 0 as the fallback; datagram and raw
// traffic share one handler. Safe for concurrent use: the engine loop
// reads it while API callers mutate it. Handlers are never closed under
// the lock.
type handlerRegistry struct {
	mu        sync.Mutex
	closed    bool
	streaming map[uint16]StreamingHandler
	datagram  ProtocolHandler
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{
		streaming: make(map[uint16]StreamingHandler),
	}
}

// reopen readies the registry for a fresh Start after closeAll.
func (r *handlerRegistry) reopen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = false
}

// setStreaming registers h on port and returns the handler it replaced,
// if any. Reports false when the registry has been closed by shutdown;
// the caller still owns h in that case.
func (r *handlerRegistry) setStreaming(port uint16, h StreamingHandler) (StreamingHandler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false
	}
	replaced := r.streaming[port]
	r.streaming[port] = h
	return replaced, true
}

// removeStreaming unregisters and returns the handler on port.
func (r *handlerRegistry) removeStreaming(port uint16) StreamingHandler {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.streaming[port]
	if !ok {
		return nil
	}
	delete(r.streaming, port)
	return h
}

// streamingFor resolves the handler for a destination port, falling
// back to port 0 when no exact registration exists.
func (r *handlerRegistry) streamingFor(port uint16) StreamingHandler {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.streaming[port]; ok {
		return h
	}
	return r.streaming[0]
}

// setDatagram registers h for datagram and raw traffic and returns the
// handler it replaced, if any. Reports false once closed.
func (r *handlerRegistry) setDatagram(h ProtocolHandler) (ProtocolHandler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false
	}
	replaced := r.datagram
	r.datagram = h
	return replaced, true
}

// datagramHandler returns the handler receiving datagram and raw
// traffic, if one is registered.
func (r *handlerRegistry) datagramHandler() ProtocolHandler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.datagram
}

// closeAll closes every registered handler, empties the registry, and
// rejects registrations until reopen.
func (r *handlerRegistry) closeAll() {
	r.mu.Lock()
	r.closed = true
	streaming := r.streaming
	datagram := r.datagram
	r.streaming = make(map[uint16]StreamingHandler)
	r.datagram = nil
	r.mu.Unlock()

	for port, h := range streaming {
		if err := h.Close(); err != nil {
			log.WithFields(logger.Fields{
				"at":   "destination.handlerRegistry.closeAll",
				"port": port,
			}).WithError(err).Warn("failed_to_close_streaming_handler")
		}
	}
	if datagram != nil {
		if err := datagram.Close(); err != nil {
			log.WithFields(logger.Fields{
				"at": "destination.handlerRegistry.closeAll",
			}).WithError(err).Warn("failed_to_close_datagram_handler")
		}
	}
}
