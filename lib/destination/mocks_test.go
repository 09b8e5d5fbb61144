package destination

import (
	"io"
	"sync"
	"testing"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/common/key_certificate"
	"github.com/go-i2p/common/lease"
	"github.com/go-i2p/common/lease_set2"
	"github.com/go-i2p/go-destination/lib/i2np"
	"github.com/go-i2p/go-destination/lib/keys"
	"github.com/stretchr/testify/require"
)

func testPeer(prefix byte) common.Hash {
	var h common.Hash
	h[0] = prefix
	return h
}

// fakePool is a scriptable TunnelPool.
type fakePool struct {
	mu       sync.Mutex
	started  int
	stopped  int
	startErr error
	outbound []TunnelInfo
	leases   []LeaseInfo
	notify   func()
}

func newFakePool() *fakePool {
	gateway := testPeer(0xa0)
	return &fakePool{
		outbound: []TunnelInfo{{ID: 1, Gateway: gateway}},
		leases: []LeaseInfo{
			{Gateway: gateway, TunnelID: 11, Expires: time.Now().Add(10 * time.Minute)},
		},
	}
}

func (p *fakePool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return p.startErr
	}
	p.started++
	return nil
}

func (p *fakePool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped++
}

func (p *fakePool) GetOutboundTunnels() []TunnelInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TunnelInfo(nil), p.outbound...)
}

func (p *fakePool) GetInboundLeases() []LeaseInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]LeaseInfo(nil), p.leases...)
}

func (p *fakePool) OnChange(notify func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notify = notify
}

func (p *fakePool) setLeases(leases []LeaseInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leases = leases
}

func (p *fakePool) fireChange() {
	p.mu.Lock()
	notify := p.notify
	p.mu.Unlock()
	if notify != nil {
		notify()
	}
}

func (p *fakePool) startCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

func (p *fakePool) stopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

type lookupCall struct {
	peer    common.Hash
	target  common.Hash
	reply   ReplyPath
	exclude []common.Hash
}

type storeCall struct {
	peer     common.Hash
	key      common.Hash
	leaseSet []byte
	token    uint32
	reply    ReplyPath
}

// fakeDirectory is a scriptable DirectoryClient. SelectFloodfillPeers
// returns the configured peers in order, minus exclusions.
type fakeDirectory struct {
	mu      sync.Mutex
	peers   []common.Hash
	lookups []lookupCall
	stores  []storeCall
	sendErr error
}

func newFakeDirectory(peers ...common.Hash) *fakeDirectory {
	return &fakeDirectory{peers: peers}
}

func (f *fakeDirectory) SelectFloodfillPeers(target common.Hash, count int, exclude []common.Hash) []common.Hash {
	f.mu.Lock()
	defer f.mu.Unlock()
	excluded := make(map[common.Hash]struct{}, len(exclude))
	for _, peer := range exclude {
		excluded[peer] = struct{}{}
	}
	var selected []common.Hash
	for _, peer := range f.peers {
		if _, skip := excluded[peer]; skip {
			continue
		}
		selected = append(selected, peer)
		if len(selected) == count {
			break
		}
	}
	return selected
}

func (f *fakeDirectory) SendDirectoryLookup(peer, target common.Hash, reply ReplyPath, exclude []common.Hash) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, lookupCall{
		peer:    peer,
		target:  target,
		reply:   reply,
		exclude: append([]common.Hash(nil), exclude...),
	})
	return f.sendErr
}

func (f *fakeDirectory) SendDirectoryStore(peer, key common.Hash, leaseSet []byte, token uint32, reply ReplyPath) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stores = append(f.stores, storeCall{
		peer:     peer,
		key:      key,
		leaseSet: append([]byte(nil), leaseSet...),
		token:    token,
		reply:    reply,
	})
	return f.sendErr
}

func (f *fakeDirectory) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lookups)
}

func (f *fakeDirectory) lookupAt(i int) lookupCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups[i]
}

func (f *fakeDirectory) storeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stores)
}

func (f *fakeDirectory) storeAt(i int) storeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stores[i]
}

// fakeGarlic unwraps by returning the configured inner message.
type fakeGarlic struct {
	mu    sync.Mutex
	inner []byte
	err   error
	calls int
}

func (g *fakeGarlic) Decrypt(raw []byte) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return g.inner, nil
}

type deliveredFrame struct {
	srcPort  uint16
	destPort uint16
	frame    []byte
}

// fakeDatagramHandler records deliveries and closes.
type fakeDatagramHandler struct {
	mu        sync.Mutex
	delivered []deliveredFrame
	closed    int
}

func (h *fakeDatagramHandler) Deliver(srcPort, destPort uint16, frame []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.delivered = append(h.delivered, deliveredFrame{srcPort, destPort, frame})
	return nil
}

func (h *fakeDatagramHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
	return nil
}

func (h *fakeDatagramHandler) deliveredCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.delivered)
}

func (h *fakeDatagramHandler) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

type nopStream struct{}

func (nopStream) Read(p []byte) (int, error)  { return 0, io.EOF }
func (nopStream) Write(p []byte) (int, error) { return len(p), nil }
func (nopStream) Close() error                { return nil }

// fakeStreamingHandler adds acceptor and stream management.
type fakeStreamingHandler struct {
	fakeDatagramHandler
	acceptor StreamAcceptor
	opened   int
	openErr  error
}

func (h *fakeStreamingHandler) SetAcceptor(acceptor StreamAcceptor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.acceptor = acceptor
}

func (h *fakeStreamingHandler) ClearAcceptor() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.acceptor = nil
}

func (h *fakeStreamingHandler) OpenStream(remote *RemoteLeaseSet, port uint16) (io.ReadWriteCloser, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.openErr != nil {
		return nil, h.openErr
	}
	h.opened++
	return nopStream{}, nil
}

func (h *fakeStreamingHandler) hasAcceptor() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.acceptor != nil
}

// testConfig compresses the protocol timers so tests run fast.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.LookupTimeout = 40 * time.Millisecond
	cfg.LookupDeadline = 400 * time.Millisecond
	cfg.PublishConfirmationTimeout = 80 * time.Millisecond
	cfg.MaxPublishAttempts = 2
	cfg.CleanupInterval = time.Hour
	return cfg
}

// startDestination assembles and starts an engine wired to the fakes,
// registering Stop as cleanup.
func startDestination(t *testing.T, cfg Config, pool *fakePool, dir *fakeDirectory, garlic GarlicService) *Destination {
	t.Helper()
	keyStore, err := keys.NewDestinationKeyStore()
	require.NoError(t, err)

	d, err := New(keyStore, pool, dir, garlic, cfg)
	require.NoError(t, err)
	require.NoError(t, d.Start())
	t.Cleanup(func() {
		_ = d.Stop()
	})
	return d
}

// flush waits until the event loop has drained everything queued
// before it.
func flush(t *testing.T, d *Destination) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, d.post(func() { close(done) }))
	<-done
}

// makeRemoteLeaseSet2 builds a signed LeaseSet2 record for a fresh
// destination and returns its identity hash and serialized form.
func makeRemoteLeaseSet2(t *testing.T) (common.Hash, []byte) {
	t.Helper()
	keyStore, err := keys.NewDestinationKeyStore()
	require.NoError(t, err)

	l, err := lease.NewLease2(testPeer(0xb0), 21, time.Now().Add(10*time.Minute))
	require.NoError(t, err)

	encKey := lease_set2.EncryptionKey{
		KeyType: key_certificate.KEYCERT_CRYPTO_X25519,
		KeyLen:  32,
		KeyData: keyStore.EncryptionPublicKey().Bytes(),
	}

	ls2, err := lease_set2.NewLeaseSet2(
		*keyStore.Destination(),
		uint32(time.Now().Unix()),
		600,
		0,
		nil,
		common.Mapping{},
		[]lease_set2.EncryptionKey{encKey},
		[]lease.Lease2{*l},
		keyStore.SigningPrivateKey().(interface{ Bytes() []byte }).Bytes(),
	)
	require.NoError(t, err)

	raw, err := ls2.Bytes()
	require.NoError(t, err)
	return keyStore.IdentHash(), raw
}

// wireMessage wraps a payload in a standard header.
func wireMessage(t *testing.T, msgType int, payload []byte) []byte {
	t.Helper()
	msg := i2np.Message{Type: msgType, MessageID: 7, Payload: payload}
	data, err := msg.MarshalBinary()
	require.NoError(t, err)
	return data
}

// storeMessage renders a DatabaseStore message carrying a LeaseSet2.
func storeMessage(t *testing.T, key common.Hash, record []byte) []byte {
	t.Helper()
	store := i2np.DatabaseStore{Key: key, Type: i2np.StoreTypeLeaseSet2, Data: record}
	payload, err := store.MarshalBinary()
	require.NoError(t, err)
	return wireMessage(t, i2np.TypeDatabaseStore, payload)
}

// deliveryStatusMessage renders a DeliveryStatus confirmation.
func deliveryStatusMessage(t *testing.T, token uint32) []byte {
	t.Helper()
	status := i2np.DeliveryStatus{MessageID: token, Timestamp: time.Now()}
	payload, err := status.MarshalBinary()
	require.NoError(t, err)
	return wireMessage(t, i2np.TypeDeliveryStatus, payload)
}

// searchReplyMessage renders a DatabaseSearchReply suggesting peers.
func searchReplyMessage(t *testing.T, key common.Hash, from common.Hash, peers ...common.Hash) []byte {
	t.Helper()
	reply := i2np.DatabaseSearchReply{Key: key, PeerHashes: peers, From: from}
	payload, err := reply.MarshalBinary()
	require.NoError(t, err)
	return wireMessage(t, i2np.TypeDatabaseSearchReply, payload)
}

// dataMessage renders an addressed Data message.
func dataMessage(t *testing.T, protocol byte, srcPort, destPort uint16) []byte {
	t.Helper()
	dp := i2np.DataPayload{SrcPort: srcPort, DestPort: destPort, Protocol: protocol}
	payload, err := dp.MarshalBinary()
	require.NoError(t, err)
	return wireMessage(t, i2np.TypeData, payload)
}
