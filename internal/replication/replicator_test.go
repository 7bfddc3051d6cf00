package replication

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/syncengine/internal/eventstore"
	"github.com/vitaliisemenov/syncengine/internal/syncmodel"
)

func testConfig(entityType string, regions ...string) syncmodel.EntitySyncConfig {
	cfg := syncmodel.DefaultEntitySyncConfig(entityType)
	cfg.Replication.Regions = regions
	cfg.Replication.CatchUpBatchSize = 2
	return cfg
}

func testEvent(entityType, entityID, region string) *syncmodel.SyncEvent {
	return &syncmodel.SyncEvent{
		ID:         entityID + "-" + region,
		EntityType: entityType,
		EntityID:   entityID,
		Kind:       syncmodel.EventUpdate,
		Region:     region,
		Payload:    syncmodel.Payload{},
	}
}

// recordingTransport collects every delivered message, keyed by target
// region, and can be configured to fail a given region's next N ships.
type recordingTransport struct {
	mu        sync.Mutex
	delivered map[string][]Message
	failNext  map[string]int
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{
		delivered: make(map[string][]Message),
		failNext:  make(map[string]int),
	}
}

func (t *recordingTransport) Ship(ctx context.Context, msg Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failNext[msg.TargetRegion] > 0 {
		t.failNext[msg.TargetRegion]--
		return errors.New("simulated transport failure")
	}
	t.delivered[msg.TargetRegion] = append(t.delivered[msg.TargetRegion], msg)
	return nil
}

func (t *recordingTransport) setFail(region string, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failNext[region] = n
}

func (t *recordingTransport) countFor(region string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.delivered[region])
}

func TestReplicate_ShipsToEveryOtherRegion(t *testing.T) {
	store := eventstore.NewMemoryStore()
	transport := newRecordingTransport()
	repl := New(store, transport, 3, nil, nil)
	repl.RegisterEntityConfig(testConfig("order", "us-east", "eu-west"))

	event := testEvent("order", "1", "us-east")
	require.NoError(t, store.Append(context.Background(), event))

	err := repl.Replicate(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, 1, transport.countFor("eu-west"))
	assert.Equal(t, 0, transport.countFor("us-east"), "origin region must not be shipped to itself")

	cursor, err := store.GetCursor(context.Background(), "eu-west", "order")
	require.NoError(t, err)
	assert.Equal(t, event.Version, cursor.Position)
	assert.Equal(t, syncmodel.CursorActive, cursor.State)
}

func TestReplicate_RecordsFailureWithoutAdvancingCursor(t *testing.T) {
	store := eventstore.NewMemoryStore()
	transport := newRecordingTransport()
	repl := New(store, transport, 3, nil, nil)
	repl.RegisterEntityConfig(testConfig("order", "us-east", "eu-west"))

	event := testEvent("order", "1", "us-east")
	require.NoError(t, store.Append(context.Background(), event))

	transport.setFail("eu-west", 1)
	err := repl.Replicate(context.Background(), event)
	require.Error(t, err)

	cursor, err := store.GetCursor(context.Background(), "eu-west", "order")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cursor.Position)
	assert.Equal(t, syncmodel.CursorError, cursor.State)
	assert.Equal(t, int64(1), cursor.FailedCount)
	assert.NotEmpty(t, cursor.LastError)
}

func TestCatchUp_ReplaysInOrderAndStopsOnFirstFailure(t *testing.T) {
	store := eventstore.NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ev := testEvent("order", "entity", "us-east")
		ev.ID = ""
		require.NoError(t, store.Append(ctx, ev))
	}

	// The 3rd delivery fails; catch-up should replay the first two then stop.
	inner := newRecordingTransport()
	wrapped := &countingFailAfter{inner: inner, failAfter: 2}
	repl := New(store, wrapped, 1, nil, nil)
	repl.RegisterEntityConfig(testConfig("order", "us-east", "eu-west"))

	err := repl.CatchUp(ctx, "eu-west", "order")
	require.Error(t, err)
	assert.Equal(t, 2, inner.countFor("eu-west"))

	cursor, err := store.GetCursor(ctx, "eu-west", "order")
	require.NoError(t, err)
	assert.Equal(t, syncmodel.CursorError, cursor.State)
}

// countingFailAfter fails every Ship call after the first n successes,
// used to test that catch-up stops exactly at the failing event.
type countingFailAfter struct {
	mu        sync.Mutex
	inner     Transport
	failAfter int
	count     int
}

func (c *countingFailAfter) Ship(ctx context.Context, msg Message) error {
	c.mu.Lock()
	c.count++
	n := c.count
	c.mu.Unlock()
	if n > c.failAfter {
		return errors.New("simulated failure after threshold")
	}
	return c.inner.Ship(ctx, msg)
}

func TestPauseResume_ResumeTriggersCatchUp(t *testing.T) {
	store := eventstore.NewMemoryStore()
	transport := newRecordingTransport()
	repl := New(store, transport, 1, nil, nil)
	repl.RegisterEntityConfig(testConfig("order", "us-east", "eu-west"))

	ctx := context.Background()
	event := testEvent("order", "1", "us-east")
	require.NoError(t, store.Append(ctx, event))
	require.NoError(t, repl.Replicate(ctx, event))

	require.NoError(t, repl.Pause(ctx, "eu-west", "order"))
	cursor, err := store.GetCursor(ctx, "eu-west", "order")
	require.NoError(t, err)
	assert.Equal(t, syncmodel.CursorPaused, cursor.State)

	event2 := testEvent("order", "2", "us-east")
	event2.ID = ""
	require.NoError(t, store.Append(ctx, event2))

	require.NoError(t, repl.Resume(ctx, "eu-west", "order"))
	cursor, err = store.GetCursor(ctx, "eu-west", "order")
	require.NoError(t, err)
	assert.Equal(t, syncmodel.CursorActive, cursor.State)
	assert.Equal(t, event2.Version, cursor.Position)
}

func TestLocalTransport_DeliversToCallback(t *testing.T) {
	var received Message
	lt := &LocalTransport{
		Deliver: func(ctx context.Context, msg Message) error {
			received = msg
			return nil
		},
	}
	event := testEvent("order", "1", "us-east")
	err := lt.Ship(context.Background(), Message{TargetRegion: "eu-west", Event: event})
	require.NoError(t, err)
	assert.Equal(t, "eu-west", received.TargetRegion)
	assert.Equal(t, event, received.Event)
}
