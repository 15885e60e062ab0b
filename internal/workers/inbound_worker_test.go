package workers

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/yoorelay/internal/cache"
	"github.com/yoockh/yoorelay/internal/models"
	"github.com/yoockh/yoorelay/internal/transport"
	"github.com/yoockh/yoorelay/internal/utils"
)

type fakeDispatcher struct {
	mu   sync.Mutex
	got  []*models.InboundMessage
	fail error
}

func (f *fakeDispatcher) Submit(msg *models.InboundMessage, done func(error)) error {
	f.mu.Lock()
	f.got = append(f.got, msg)
	f.mu.Unlock()
	go done(f.fail)
	return nil
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func startPool(t *testing.T, d Submitter, opts ...func(*InboundWorkerPool)) (*redis.Client, context.CancelFunc) {
	t.Helper()
	rdb := newRedis(t)
	return rdb, startPoolOn(t, rdb, d, opts...)
}

func startPoolOn(t *testing.T, rdb *redis.Client, d Submitter, opts ...func(*InboundWorkerPool)) context.CancelFunc {
	t.Helper()
	l := logrus.New()
	l.SetOutput(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	pool := &InboundWorkerPool{
		Redis:      rdb,
		Dispatcher: d,
		NumWorkers: 2,
		Logger:     l,
		Block:      100 * time.Millisecond,
	}
	for _, o := range opts {
		o(pool)
	}
	require.NoError(t, pool.Start(ctx))
	return cancel
}

// leavePending enqueues msg and reads it as consumer without acking, as a
// process that crashed mid-message would.
func leavePending(t *testing.T, rdb *redis.Client, consumer string, msg *models.InboundMessage) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, rdb.XGroupCreateMkStream(ctx, transport.InboundStream, transport.InboundGroup, "0").Err())
	_, err := transport.NewRedisInbox(rdb, "").Enqueue(ctx, msg)
	require.NoError(t, err)

	res, err := rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    transport.InboundGroup,
		Consumer: consumer,
		Streams:  []string{transport.InboundStream, ">"},
		Count:    1,
		Block:    -1,
	}).Result()
	require.NoError(t, err)
	require.Len(t, res[0].Messages, 1)
}

func pendingCount(rdb *redis.Client) int64 {
	p, err := rdb.XPending(context.Background(), transport.InboundStream, transport.InboundGroup).Result()
	if err != nil {
		return -1
	}
	return p.Count
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func waitStatus(t *testing.T, sub *redis.PubSub) StatusEvent {
	t.Helper()
	select {
	case m := <-sub.Channel():
		var ev StatusEvent
		require.NoError(t, sonic.Unmarshal([]byte(m.Payload), &ev))
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("no status event")
		return StatusEvent{}
	}
}

func TestInboundWorkerPool_DispatchesAndAcks(t *testing.T) {
	d := &fakeDispatcher{}
	rdb, _ := startPool(t, d)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, transport.StatusChannel("u1"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	id, err := transport.NewRedisInbox(rdb, "").Enqueue(ctx, &models.InboundMessage{UserID: "u1", Text: "hi"})
	require.NoError(t, err)

	ev := waitStatus(t, sub)
	assert.Equal(t, id, ev.MessageID)
	assert.Equal(t, models.StatusDone, ev.Status)
	assert.Equal(t, 1, d.count())

	assert.Eventually(t, func() bool {
		p, err := rdb.XPending(ctx, transport.InboundStream, transport.InboundGroup).Result()
		return err == nil && p.Count == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestInboundWorkerPool_PublishesFailure(t *testing.T) {
	d := &fakeDispatcher{fail: utils.E(utils.CodeTransformFailure, "audio.RunFilter", "filter process failed", nil)}
	rdb, _ := startPool(t, d)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, transport.StatusChannel("u2"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	_, err = transport.NewRedisInbox(rdb, "").Enqueue(ctx, &models.InboundMessage{UserID: "u2", HasMedia: true})
	require.NoError(t, err)

	ev := waitStatus(t, sub)
	assert.Equal(t, models.StatusFailed, ev.Status)
	assert.Equal(t, string(utils.CodeTransformFailure), ev.Code)
}

func TestInboundWorkerPool_AcksPoisonEntries(t *testing.T) {
	d := &fakeDispatcher{}
	rdb, _ := startPool(t, d)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, transport.StatusChannel("u3"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: transport.InboundStream,
		Values: map[string]any{transport.PayloadField: "{broken"},
	}).Err())
	_, err = transport.NewRedisInbox(rdb, "").Enqueue(ctx, &models.InboundMessage{UserID: "u3", Text: "after"})
	require.NoError(t, err)

	waitStatus(t, sub)
	assert.Eventually(t, func() bool {
		p, err := rdb.XPending(ctx, transport.InboundStream, transport.InboundGroup).Result()
		return err == nil && p.Count == 0
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, d.count())
}

func TestInboundWorkerPool_RequiresDeps(t *testing.T) {
	p := &InboundWorkerPool{}
	assert.Error(t, p.Start(context.Background()))
}

func TestInboundWorkerPool_DropsDuplicateMessageIDs(t *testing.T) {
	d := &fakeDispatcher{}
	rdb, _ := startPool(t, d, func(p *InboundWorkerPool) {
		p.Seen = cache.NewRedisCache(p.Redis)
	})
	ctx := context.Background()
	inbox := transport.NewRedisInbox(rdb, "")

	for i := 0; i < 2; i++ {
		_, err := inbox.Enqueue(ctx, &models.InboundMessage{ID: "dup-1", UserID: "u4", Text: "hi"})
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		p, err := rdb.XPending(ctx, transport.InboundStream, transport.InboundGroup).Result()
		n, _ := rdb.XLen(ctx, transport.InboundStream).Result()
		return err == nil && p.Count == 0 && n == 2 && d.count() >= 1
	}, 3*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, d.count())

	var ev StatusEvent
	hit, err := cache.NewRedisCache(rdb).GetJSON(ctx, cache.SeenKey("dup-1"), &ev)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, models.StatusDone, ev.Status)
}

func TestInboundWorkerPool_ReplaysOwnPendingOnStart(t *testing.T) {
	rdb := newRedis(t)
	leavePending(t, rdb, "c-1", &models.InboundMessage{UserID: "u5", Text: "before crash"})
	require.EqualValues(t, 1, pendingCount(rdb))

	d := &fakeDispatcher{}
	startPoolOn(t, rdb, d)

	assert.Eventually(t, func() bool {
		return d.count() == 1 && pendingCount(rdb) == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestInboundWorkerPool_ReclaimsIdleEntriesOfOtherConsumers(t *testing.T) {
	rdb := newRedis(t)
	leavePending(t, rdb, "old-host-1", &models.InboundMessage{UserID: "u6", Text: "orphaned"})

	d := &fakeDispatcher{}
	startPoolOn(t, rdb, d, func(p *InboundWorkerPool) {
		p.ClaimIdle = 50 * time.Millisecond
		p.ClaimInterval = 50 * time.Millisecond
	})

	assert.Eventually(t, func() bool {
		return d.count() == 1 && pendingCount(rdb) == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestInboundWorkerPool_RetriesUnfinishedSeenMessage(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()
	seen := cache.NewRedisCache(rdb)

	leavePending(t, rdb, "c-1", &models.InboundMessage{ID: "m-7", UserID: "u7", Text: "hi"})
	_, err := seen.SetJSONNX(ctx, cache.SeenKey("m-7"), StatusEvent{Type: "status", MessageID: "m-7", Status: models.StatusProcessing}, time.Hour)
	require.NoError(t, err)

	d := &fakeDispatcher{}
	startPoolOn(t, rdb, d, func(p *InboundWorkerPool) { p.Seen = seen })

	assert.Eventually(t, func() bool {
		return d.count() == 1 && pendingCount(rdb) == 0
	}, 3*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		var ev StatusEvent
		hit, _ := seen.GetJSON(ctx, cache.SeenKey("m-7"), &ev)
		return hit && ev.Status == models.StatusDone
	}, 2*time.Second, 20*time.Millisecond)
}

func TestInboundWorkerPool_DropsRedeliveredFinishedMessage(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()
	seen := cache.NewRedisCache(rdb)

	leavePending(t, rdb, "c-1", &models.InboundMessage{ID: "m-8", UserID: "u8", Text: "hi"})
	require.NoError(t, seen.SetJSON(ctx, cache.SeenKey("m-8"), StatusEvent{Type: "status", MessageID: "m-8", Status: models.StatusDone}, time.Hour))

	d := &fakeDispatcher{}
	startPoolOn(t, rdb, d, func(p *InboundWorkerPool) { p.Seen = seen })

	assert.Eventually(t, func() bool { return pendingCount(rdb) == 0 }, 3*time.Second, 20*time.Millisecond)
	assert.Zero(t, d.count())
}

// rejectOnce fails the first Submit, like a dispatcher that is shutting down.
type rejectOnce struct {
	fakeDispatcher
	rejected bool
}

func (r *rejectOnce) Submit(msg *models.InboundMessage, done func(error)) error {
	r.mu.Lock()
	if !r.rejected {
		r.rejected = true
		r.mu.Unlock()
		return utils.E(utils.CodeUnavailable, "Dispatcher.Submit", "dispatcher is shutting down", nil)
	}
	r.mu.Unlock()
	return r.fakeDispatcher.Submit(msg, done)
}

func TestInboundWorkerPool_RetriesRejectedSubmit(t *testing.T) {
	d := &rejectOnce{}
	rdb, _ := startPool(t, d, func(p *InboundWorkerPool) {
		p.Seen = cache.NewRedisCache(p.Redis)
		p.ClaimIdle = 50 * time.Millisecond
		p.ClaimInterval = 50 * time.Millisecond
	})

	_, err := transport.NewRedisInbox(rdb, "").Enqueue(context.Background(), &models.InboundMessage{ID: "m-9", UserID: "u9", Text: "hi"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return d.count() == 1 && pendingCount(rdb) == 0
	}, 3*time.Second, 20*time.Millisecond)
}

// holdingDispatcher keeps every message in flight until release is closed.
type holdingDispatcher struct {
	fakeDispatcher
	release chan struct{}
}

func (h *holdingDispatcher) Submit(msg *models.InboundMessage, done func(error)) error {
	h.mu.Lock()
	h.got = append(h.got, msg)
	h.mu.Unlock()
	go func() {
		<-h.release
		done(nil)
	}()
	return nil
}

func TestInboundWorkerPool_DoesNotReclaimInFlightEntries(t *testing.T) {
	d := &holdingDispatcher{release: make(chan struct{})}
	rdb, _ := startPool(t, d, func(p *InboundWorkerPool) {
		p.ClaimIdle = 30 * time.Millisecond
		p.ClaimInterval = 30 * time.Millisecond
	})

	_, err := transport.NewRedisInbox(rdb, "").Enqueue(context.Background(), &models.InboundMessage{UserID: "u10", Text: "slow"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return d.count() == 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, d.count())
	assert.EqualValues(t, 1, pendingCount(rdb))

	close(d.release)
	assert.Eventually(t, func() bool { return pendingCount(rdb) == 0 }, 2*time.Second, 20*time.Millisecond)
}
