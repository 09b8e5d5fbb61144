package destination

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/go-destination/lib/keys"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

const workQueueSize = 1024

// Destination is the client endpoint engine. One goroutine, started by
// Start, owns all mutable state; public methods marshal onto it.
type Destination struct {
	keys      *keys.DestinationKeyStore
	pool      TunnelPool
	directory DirectoryClient
	garlic    GarlicService
	cfg       Config

	// lifecycle serializes Start and Stop; mu guards the work queue.
	// Enqueues happen under mu so that once Stop flips running, no
	// accepted work item can land after the shutdown drain. Stop must
	// never hold mu while waiting for the loop, since loop callbacks
	// may submit.
	lifecycle sync.Mutex
	mu        sync.Mutex
	work      chan func()
	quit      chan struct{}
	loopWg    sync.WaitGroup

	running      atomic.Bool
	accepting    atomic.Bool
	leaseExpires atomic.Int64 // unix nanos of the newest local lease, 0 none

	// loop-owned state
	cache    *LeaseSetCache
	requests map[common.Hash]*leaseSetRequest
	registry *handlerRegistry
	pub      publishState
}

// New assembles a Destination around its identity and collaborators.
// garlic may be nil when inbound messages arrive already unwrapped.
func New(keyStore *keys.DestinationKeyStore, pool TunnelPool, directory DirectoryClient, garlic GarlicService, cfg Config) (*Destination, error) {
	if keyStore == nil {
		return nil, oops.Errorf("destination requires a key store")
	}
	if pool == nil {
		return nil, oops.Errorf("destination requires a tunnel pool")
	}
	if directory == nil {
		return nil, oops.Errorf("destination requires a directory client")
	}

	d := &Destination{
		keys:      keyStore,
		pool:      pool,
		directory: directory,
		garlic:    garlic,
		cfg:       cfg,
		cache:     NewLeaseSetCache(),
		requests:  make(map[common.Hash]*leaseSetRequest),
		registry:  newHandlerRegistry(),
	}
	d.pub.excluded = make(map[common.Hash]struct{})

	// Pool membership changes invalidate the local LeaseSet. The
	// callback may fire from any goroutine; post drops it once stopped.
	pool.OnChange(func() {
		_ = d.post(d.rebuildLeaseSet)
	})

	return d, nil
}

// Start brings the engine up: starts the tunnel pool, launches the
// event loop, and schedules the first LeaseSet build. Calling Start on
// a running engine is a no-op.
func (d *Destination) Start() error {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	if d.running.Load() {
		log.WithFields(logger.Fields{
			"at": "destination.Start",
		}).Debug("already_running")
		return nil
	}

	if err := d.pool.Start(); err != nil {
		return oops.Errorf("failed to start tunnel pool: %w", err)
	}

	d.registry.reopen()

	d.mu.Lock()
	d.work = make(chan func(), workQueueSize)
	d.quit = make(chan struct{})
	d.running.Store(true)
	d.mu.Unlock()

	d.loopWg.Add(1)
	go d.run(d.work, d.quit)

	log.WithFields(logger.Fields{
		"at":         "destination.Start",
		"ident_hash": d.keys.IdentHash(),
		"public":     d.cfg.IsPublic,
	}).Debug("destination_started")

	// First LeaseSet build; cannot block, the queue is fresh.
	d.work <- d.rebuildLeaseSet
	return nil
}

// Stop shuts the engine down. When it returns, the event loop has
// exited, every accepted submission has run, every pending lookup has
// fired its callbacks with a nil result, all handlers are closed, and
// no timer will fire afterwards. Calling Stop on a stopped engine is a
// no-op.
func (d *Destination) Stop() error {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	d.mu.Lock()
	if !d.running.Load() {
		d.mu.Unlock()
		return nil
	}
	d.running.Store(false)
	close(d.quit)
	work := d.work
	d.mu.Unlock()

	d.loopWg.Wait()

	// The loop is gone and running flipped under mu, so the queue can
	// only shrink from here; this goroutine is the sole owner now.
	// Accepted submissions the loop never reached still run, then every
	// lookup they (or earlier work) left pending is cancelled.
	drainWork(work)
	d.cancelOutstanding()
	d.registry.closeAll()
	d.accepting.Store(false)
	d.leaseExpires.Store(0)
	d.pool.Stop()

	log.WithFields(logger.Fields{
		"at":         "destination.Stop",
		"ident_hash": d.keys.IdentHash(),
	}).Debug("destination_stopped")
	return nil
}

// run is the event loop. All engine state is touched only from here
// until Stop joins it.
func (d *Destination) run(work chan func(), quit chan struct{}) {
	defer d.loopWg.Done()

	cleanup := time.NewTicker(d.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case f := <-work:
			f()
		case <-cleanup.C:
			d.handleCleanup()
		case <-quit:
			return
		}
	}
}

// post marshals f onto the event loop. It fails with ErrNotRunning
// before Start, after Stop, and during shutdown, and with ErrQueueFull
// when the engine cannot accept more work without blocking. A nil
// return means f will run: on the loop, or during the shutdown drain.
func (d *Destination) post(f func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return ErrNotRunning
	}
	select {
	case d.work <- f:
		return nil
	default:
		return ErrQueueFull
	}
}

// drainWork runs every work item left in the queue. Only called after
// the loop has exited and submissions are shut off.
func drainWork(work chan func()) {
	for {
		select {
		case f := <-work:
			f()
		default:
			return
		}
	}
}

// cancelOutstanding stops every armed timer and fails every pending
// lookup. Runs with the loop already joined.
func (d *Destination) cancelOutstanding() {
	if d.pub.timer != nil {
		d.pub.timer.Stop()
		d.pub.timer = nil
	}
	d.pub.token = 0
	d.pub.pending = false

	for target, req := range d.requests {
		if req.timer != nil {
			req.timer.Stop()
		}
		delete(d.requests, target)
		log.WithFields(logger.Fields{
			"at":     "destination.cancelOutstanding",
			"target": target,
			"reason": "engine stopping",
		}).Debug("leaseset_request_cancelled")
		for _, complete := range req.complete {
			complete(nil)
		}
	}
}

// handleCleanup evicts expired cache entries and rechecks publication.
func (d *Destination) handleCleanup() {
	now := time.Now()
	removed := d.cache.Purge(now)
	log.WithFields(logger.Fields{
		"at":      "destination.handleCleanup",
		"removed": removed,
		"cached":  d.cache.Len(),
	}).Debug("cleaned_remote_leasesets")

	// Republish when unpublished or the local LeaseSet went stale.
	if d.pub.token != 0 {
		return
	}
	if d.pub.leaseSet == nil || now.After(d.pub.expires) || (d.cfg.IsPublic && !d.pub.confirmed) {
		d.buildAndPublish()
	}
}

// IsRunning reports whether Start has succeeded and Stop has not begun.
func (d *Destination) IsRunning() bool {
	return d.running.Load()
}

// IsReady reports whether the destination can exchange traffic: it is
// running, holds a local LeaseSet with an unexpired lease, and the pool
// has at least one outbound tunnel.
func (d *Destination) IsReady() bool {
	if !d.running.Load() {
		return false
	}
	expires := d.leaseExpires.Load()
	if expires == 0 || time.Now().UnixNano() >= expires {
		return false
	}
	return len(d.pool.GetOutboundTunnels()) > 0
}

// IdentHash returns the destination's identity hash.
func (d *Destination) IdentHash() common.Hash {
	return d.keys.IdentHash()
}

// KeyStore exposes the destination's key material.
func (d *Destination) KeyStore() *keys.DestinationKeyStore {
	return d.keys
}

// SetLeaseSetUpdated marks the local LeaseSet invalid and schedules a
// rebuild (and republish for public destinations).
func (d *Destination) SetLeaseSetUpdated() error {
	return d.post(d.rebuildLeaseSet)
}

// FindLeaseSet returns the cached record for target if one is fresh,
// without triggering a lookup. A nil record with a nil error is a cache
// miss; a stopped engine reports ErrNotRunning instead. Safe from any
// goroutine, engine callbacks included.
func (d *Destination) FindLeaseSet(target common.Hash) (*RemoteLeaseSet, error) {
	if !d.running.Load() {
		return nil, ErrNotRunning
	}
	entry, _ := d.cache.Get(target, time.Now())
	return entry, nil
}

// CreateStreamingDestination registers a streaming handler on a local
// port. Port 0 is the default handler for unmatched ports. A handler
// already on the port is closed and replaced. Safe from any goroutine,
// engine callbacks included.
func (d *Destination) CreateStreamingDestination(port uint16, h StreamingHandler) error {
	if h == nil {
		return oops.Errorf("streaming handler must not be nil")
	}
	if !d.running.Load() {
		return ErrNotRunning
	}
	replaced, ok := d.registry.setStreaming(port, h)
	if !ok {
		return ErrNotRunning
	}
	if replaced != nil {
		if err := replaced.Close(); err != nil {
			log.WithFields(logger.Fields{
				"at":   "destination.CreateStreamingDestination",
				"port": port,
			}).WithError(err).Warn("failed_to_close_replaced_handler")
		}
	}
	return nil
}

// RemoveStreamingDestination unregisters and closes the handler on port.
func (d *Destination) RemoveStreamingDestination(port uint16) error {
	if !d.running.Load() {
		return ErrNotRunning
	}
	h := d.registry.removeStreaming(port)
	if h == nil {
		return nil
	}
	return h.Close()
}

// CreateDatagramDestination registers the handler receiving datagram
// and raw traffic. An existing handler is closed and replaced. Safe
// from any goroutine, engine callbacks included.
func (d *Destination) CreateDatagramDestination(h ProtocolHandler) error {
	if h == nil {
		return oops.Errorf("datagram handler must not be nil")
	}
	if !d.running.Load() {
		return ErrNotRunning
	}
	replaced, ok := d.registry.setDatagram(h)
	if !ok {
		return ErrNotRunning
	}
	if replaced != nil {
		if err := replaced.Close(); err != nil {
			log.WithFields(logger.Fields{
				"at": "destination.CreateDatagramDestination",
			}).WithError(err).Warn("failed_to_close_replaced_handler")
		}
	}
	return nil
}

// AcceptStreams installs acceptor on the default streaming destination.
func (d *Destination) AcceptStreams(acceptor StreamAcceptor) error {
	if acceptor == nil {
		return oops.Errorf("stream acceptor must not be nil")
	}
	if !d.running.Load() {
		return ErrNotRunning
	}
	h := d.registry.streamingFor(0)
	if h == nil {
		return ErrNoStreamingDestination
	}
	h.SetAcceptor(acceptor)
	d.accepting.Store(true)
	return nil
}

// StopAcceptingStreams removes the acceptor from the default streaming
// destination.
func (d *Destination) StopAcceptingStreams() error {
	if !d.running.Load() {
		return ErrNotRunning
	}
	if h := d.registry.streamingFor(0); h != nil {
		h.ClearAcceptor()
	}
	d.accepting.Store(false)
	return nil
}

// IsAcceptingStreams reports whether an acceptor is installed. Safe
// from any goroutine.
func (d *Destination) IsAcceptingStreams() bool {
	return d.accepting.Load()
}

// StreamComplete receives the opened stream, or nil when the remote
// LeaseSet could not be resolved or the engine stopped first.
type StreamComplete func(stream io.ReadWriteCloser)

// CreateStream resolves target and opens a stream to its port through
// the default streaming destination. complete fires exactly once.
func (d *Destination) CreateStream(target common.Hash, port uint16, complete StreamComplete) error {
	if target == (common.Hash{}) {
		return ErrInvalidTarget
	}
	if complete == nil {
		return oops.Errorf("stream completion must not be nil")
	}
	return d.post(func() {
		h := d.registry.streamingFor(0)
		if h == nil {
			log.WithFields(logger.Fields{
				"at":     "destination.CreateStream",
				"reason": "no streaming destination",
			}).Warn("stream_failed")
			complete(nil)
			return
		}
		d.requestDestination(target, func(remote *RemoteLeaseSet) {
			if remote == nil {
				complete(nil)
				return
			}
			stream, err := h.OpenStream(remote, port)
			if err != nil {
				log.WithFields(logger.Fields{
					"at":     "destination.CreateStream",
					"target": target,
				}).WithError(err).Warn("stream_open_failed")
				complete(nil)
				return
			}
			complete(stream)
		})
	})
}
