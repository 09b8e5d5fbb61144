package destination

import (
	"testing"
	"time"

	"github.com/go-i2p/common/key_certificate"
	"github.com/go-i2p/common/lease_set2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPublishOnStart verifies a public destination with inbound leases
// publishes a signed LeaseSet2 keyed by its identity hash.
func TestPublishOnStart(t *testing.T) {
	dir := newFakeDirectory(testPeer(1), testPeer(2))
	pool := newFakePool()
	d := startDestination(t, testConfig(), pool, dir, nil)

	require.Eventually(t, func() bool { return dir.storeCount() >= 1 }, time.Second, time.Millisecond)
	store := dir.storeAt(0)
	assert.Equal(t, d.IdentHash(), store.key)
	assert.NotZero(t, store.token)
	assert.Equal(t, pool.GetInboundLeases()[0].Gateway, store.reply.Gateway)

	// The published record is a parseable LeaseSet2 carrying the
	// destination's X25519 encryption key.
	ls2, _, err := lease_set2.ReadLeaseSet2(store.leaseSet)
	require.NoError(t, err)
	encKeys := ls2.EncryptionKeys()
	require.Len(t, encKeys, 1)
	assert.EqualValues(t, key_certificate.KEYCERT_CRYPTO_X25519, encKeys[0].KeyType)
	assert.Equal(t, d.KeyStore().EncryptionPublicKey().Bytes(), encKeys[0].KeyData)
}

// TestPublishConfirmation verifies a matching DeliveryStatus ends the
// cycle: no retry happens after confirmation.
func TestPublishConfirmation(t *testing.T) {
	dir := newFakeDirectory(testPeer(1), testPeer(2))
	d := startDestination(t, testConfig(), newFakePool(), dir, nil)

	require.Eventually(t, func() bool { return dir.storeCount() == 1 }, time.Second, time.Millisecond)
	token := dir.storeAt(0).token

	require.NoError(t, d.HandleI2NPMessage(deliveryStatusMessage(t, token)))
	flush(t, d)

	time.Sleep(3 * testConfig().PublishConfirmationTimeout)
	assert.Equal(t, 1, dir.storeCount())
}

// TestPublishRetryExcludesPeer verifies an unconfirmed publish retries
// at a different floodfill with a fresh token, bounded by the attempt
// limit.
func TestPublishRetryExcludesPeer(t *testing.T) {
	dir := newFakeDirectory(testPeer(1), testPeer(2), testPeer(3))
	startDestination(t, testConfig(), newFakePool(), dir, nil)

	// MaxPublishAttempts is 2: initial attempt plus one retry, then the
	// cycle gives up.
	require.Eventually(t, func() bool { return dir.storeCount() == 2 }, time.Second, time.Millisecond)
	time.Sleep(3 * testConfig().PublishConfirmationTimeout)
	assert.Equal(t, 2, dir.storeCount())

	first, second := dir.storeAt(0), dir.storeAt(1)
	assert.NotEqual(t, first.peer, second.peer)
	assert.NotEqual(t, first.token, second.token)
	assert.NotZero(t, second.token)
}

// TestMismatchedDeliveryStatusIgnored verifies a wrong token does not
// confirm the publication; the retry still happens.
func TestMismatchedDeliveryStatusIgnored(t *testing.T) {
	dir := newFakeDirectory(testPeer(1), testPeer(2))
	d := startDestination(t, testConfig(), newFakePool(), dir, nil)

	require.Eventually(t, func() bool { return dir.storeCount() == 1 }, time.Second, time.Millisecond)
	wrong := dir.storeAt(0).token + 1
	require.NoError(t, d.HandleI2NPMessage(deliveryStatusMessage(t, wrong)))

	require.Eventually(t, func() bool { return dir.storeCount() == 2 }, time.Second, time.Millisecond)
}

// TestRepublishOnInvalidation verifies SetLeaseSetUpdated after a
// confirmed cycle publishes a new LeaseSet.
func TestRepublishOnInvalidation(t *testing.T) {
	dir := newFakeDirectory(testPeer(1), testPeer(2))
	d := startDestination(t, testConfig(), newFakePool(), dir, nil)

	require.Eventually(t, func() bool { return dir.storeCount() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, d.HandleI2NPMessage(deliveryStatusMessage(t, dir.storeAt(0).token)))
	flush(t, d)

	require.NoError(t, d.SetLeaseSetUpdated())
	require.Eventually(t, func() bool { return dir.storeCount() == 2 }, time.Second, time.Millisecond)
	assert.NotEqual(t, dir.storeAt(0).token, dir.storeAt(1).token)
}

// TestInvalidationCoalescesWhileInFlight verifies invalidations during
// an outstanding publication collapse into one follow-up cycle.
func TestInvalidationCoalescesWhileInFlight(t *testing.T) {
	dir := newFakeDirectory(testPeer(1), testPeer(2))
	d := startDestination(t, testConfig(), newFakePool(), dir, nil)

	require.Eventually(t, func() bool { return dir.storeCount() == 1 }, time.Second, time.Millisecond)

	// Several invalidations while the first store awaits confirmation.
	require.NoError(t, d.SetLeaseSetUpdated())
	require.NoError(t, d.SetLeaseSetUpdated())
	require.NoError(t, d.SetLeaseSetUpdated())
	flush(t, d)
	assert.Equal(t, 1, dir.storeCount())

	// Confirm the outstanding one; exactly one follow-up cycle starts.
	require.NoError(t, d.HandleI2NPMessage(deliveryStatusMessage(t, dir.storeAt(0).token)))
	require.Eventually(t, func() bool { return dir.storeCount() == 2 }, time.Second, time.Millisecond)
	flush(t, d)
	assert.Equal(t, 2, dir.storeCount())
}

// TestPoolChangeTriggersRebuild verifies pool membership changes
// invalidate the LeaseSet like an explicit SetLeaseSetUpdated.
func TestPoolChangeTriggersRebuild(t *testing.T) {
	dir := newFakeDirectory(testPeer(1), testPeer(2))
	pool := newFakePool()
	d := startDestination(t, testConfig(), pool, dir, nil)

	require.Eventually(t, func() bool { return dir.storeCount() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, d.HandleI2NPMessage(deliveryStatusMessage(t, dir.storeAt(0).token)))
	flush(t, d)

	pool.fireChange()
	require.Eventually(t, func() bool { return dir.storeCount() == 2 }, time.Second, time.Millisecond)
}

// TestCleanupRepublishesAfterGiveUp verifies the periodic recheck
// starts a fresh publish cycle for a public destination left
// unconfirmed after attempt exhaustion.
func TestCleanupRepublishesAfterGiveUp(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPublishAttempts = 1
	cfg.PublishConfirmationTimeout = 30 * time.Millisecond
	cfg.CleanupInterval = 60 * time.Millisecond
	dir := newFakeDirectory(testPeer(1), testPeer(2))
	startDestination(t, cfg, newFakePool(), dir, nil)

	// The single attempt times out unconfirmed and the cycle gives up.
	require.Eventually(t, func() bool { return dir.storeCount() == 1 }, time.Second, time.Millisecond)

	// The next cleanup tick notices the unconfirmed destination and
	// publishes again with a fresh token.
	require.Eventually(t, func() bool { return dir.storeCount() >= 2 }, time.Second, time.Millisecond)
	assert.NotEqual(t, dir.storeAt(0).token, dir.storeAt(1).token)
	assert.NotZero(t, dir.storeAt(1).token)
}

// TestCleanupRepublishesWhenLeaseStale verifies the periodic recheck
// rebuilds and republishes once the published record's newest lease
// has lapsed, without an explicit invalidation.
func TestCleanupRepublishesWhenLeaseStale(t *testing.T) {
	cfg := testConfig()
	cfg.CleanupInterval = 60 * time.Millisecond
	dir := newFakeDirectory(testPeer(1), testPeer(2))
	pool := newFakePool()
	pool.setLeases([]LeaseInfo{
		{Gateway: testPeer(0xa0), TunnelID: 11, Expires: time.Now().Add(150 * time.Millisecond)},
	})
	d := startDestination(t, cfg, pool, dir, nil)

	require.Eventually(t, func() bool { return dir.storeCount() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, d.HandleI2NPMessage(deliveryStatusMessage(t, dir.storeAt(0).token)))
	flush(t, d)

	// Fresh leases appear without a pool notification; once the
	// published record goes stale the recheck picks them up.
	pool.setLeases([]LeaseInfo{
		{Gateway: testPeer(0xa0), TunnelID: 12, Expires: time.Now().Add(10 * time.Minute)},
	})
	require.Eventually(t, func() bool { return dir.storeCount() >= 2 }, time.Second, time.Millisecond)
	second := dir.storeAt(1)
	assert.Equal(t, d.IdentHash(), second.key)
	assert.NotEqual(t, dir.storeAt(0).token, second.token)
}

// TestPrivateDestinationNeverPublishes verifies a non-public
// destination builds its LeaseSet but sends no stores.
func TestPrivateDestinationNeverPublishes(t *testing.T) {
	cfg := testConfig()
	cfg.IsPublic = false
	dir := newFakeDirectory(testPeer(1))
	d := startDestination(t, cfg, newFakePool(), dir, nil)

	flush(t, d)
	assert.True(t, d.IsReady())
	time.Sleep(2 * cfg.PublishConfirmationTimeout)
	assert.Equal(t, 0, dir.storeCount())
}

// TestNoLeasesNoLeaseSet verifies an empty inbound pool leaves the
// destination unready and unpublished.
func TestNoLeasesNoLeaseSet(t *testing.T) {
	dir := newFakeDirectory(testPeer(1))
	pool := newFakePool()
	pool.setLeases(nil)
	d := startDestination(t, testConfig(), pool, dir, nil)

	flush(t, d)
	assert.False(t, d.IsReady())
	assert.Equal(t, 0, dir.storeCount())
}
