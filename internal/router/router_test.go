package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/battlestream/internal/battle"
	"github.com/lk2023060901/battlestream/internal/catalog"
	"github.com/lk2023060901/battlestream/internal/sim"
)

// fakeConn 测试用连接，记录收到的消息
type fakeConn struct {
	id   string
	fail bool

	mu       sync.Mutex
	messages []string
	payloads []interface{}
	closed   bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msgType string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("queue full")
	}
	c.messages = append(c.messages, msgType)
	c.payloads = append(c.payloads, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *fakeConn) receivedPayloads() []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]interface{}, len(c.payloads))
	copy(out, c.payloads)
	return out
}

type seqGenerator struct {
	mu sync.Mutex
	n  int64
}

func (g *seqGenerator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return g.n, nil
}

func newTestRouter(t *testing.T) (*Router, *battle.Manager, int64) {
	t.Helper()

	engine := sim.NewMemoryEngine(nil, nil)
	cat := catalog.NewMemory(&catalog.Encounter{
		ID: "dragon", Name: "Ember Dragon", Level: 5,
		Stats: catalog.Stats{Health: 50}, Approved: true,
	})

	manager, err := battle.NewManager(nil, engine, cat, &seqGenerator{}, nil, nil)
	require.NoError(t, err)

	r := New(nil, manager, nil, nil)
	manager.AttachPublisher(r)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = manager.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		engine.Close()
	})

	id, err := manager.StartBattle(context.Background(), "dragon", battle.Options{Opponents: 1}, battle.TriggerClient)
	require.NoError(t, err)
	return r, manager, id
}

func TestRouter_SubscribeSendsSnapshot(t *testing.T) {
	r, _, battleID := newTestRouter(t)

	conn := &fakeConn{id: "c1"}
	r.Register(conn)
	// 开战广播在注册之后也能收到
	require.NoError(t, r.Subscribe("c1", battleID))

	msgs := conn.received()
	require.NotEmpty(t, msgs)
	assert.Equal(t, "battle_state", msgs[0])
	assert.Equal(t, 1, r.Subscribers(battleID))
}

func TestRouter_SubscribeUnknownBattle(t *testing.T) {
	r, _, _ := newTestRouter(t)

	conn := &fakeConn{id: "c1"}
	r.Register(conn)

	err := r.Subscribe("c1", 9999)
	assert.ErrorIs(t, err, battle.ErrBattleNotFound)
}

func TestRouter_SubscribeUnregisteredConn(t *testing.T) {
	r, _, battleID := newTestRouter(t)

	err := r.Subscribe("ghost", battleID)
	assert.ErrorIs(t, err, ErrConnNotRegistered)
}

func TestRouter_DuplicateSubscribe(t *testing.T) {
	r, manager, battleID := newTestRouter(t)

	conn := &fakeConn{id: "c1"}
	r.Register(conn)
	require.NoError(t, r.Subscribe("c1", battleID))
	require.NoError(t, r.Subscribe("c1", battleID))

	// 重复订阅不增加订阅数与观战计数
	assert.Equal(t, 1, r.Subscribers(battleID))
	s, ok := manager.Lookup(battleID)
	require.True(t, ok)
	assert.Equal(t, 1, s.ViewerCount())
}

func TestRouter_RouteReachesOnlySubscribers(t *testing.T) {
	r, _, battleID := newTestRouter(t)

	sub := &fakeConn{id: "sub"}
	other := &fakeConn{id: "other"}
	r.Register(sub)
	r.Register(other)
	require.NoError(t, r.Subscribe("sub", battleID))

	r.Route(battleID, "battle_event", map[string]int{"n": 1})

	assert.Contains(t, sub.received(), "battle_event")
	assert.NotContains(t, other.received(), "battle_event")
}

func TestRouter_BroadcastAll(t *testing.T) {
	r, _, _ := newTestRouter(t)

	c1 := &fakeConn{id: "c1"}
	c2 := &fakeConn{id: "c2"}
	r.Register(c1)
	r.Register(c2)

	r.BroadcastAll("battle_started", nil)

	assert.Contains(t, c1.received(), "battle_started")
	assert.Contains(t, c2.received(), "battle_started")
}

func TestRouter_SlowConnDropped(t *testing.T) {
	r, manager, battleID := newTestRouter(t)

	healthy := &fakeConn{id: "healthy"}
	slow := &fakeConn{id: "slow"}
	r.Register(healthy)
	r.Register(slow)
	require.NoError(t, r.Subscribe("healthy", battleID))
	require.NoError(t, r.Subscribe("slow", battleID))

	slow.mu.Lock()
	slow.fail = true
	slow.mu.Unlock()

	r.Route(battleID, "battle_event", nil)

	// 慢连接被摘除，健康连接不受影响
	assert.Equal(t, 1, r.Subscribers(battleID))
	assert.Equal(t, 1, r.Connections())
	assert.Contains(t, healthy.received(), "battle_event")

	s, ok := manager.Lookup(battleID)
	require.True(t, ok)
	assert.Equal(t, 1, s.ViewerCount())

	// 被摘除的对端连接会被关闭，而不是留着一条收不到消息的活连接
	require.Eventually(t, slow.isClosed, time.Second, 10*time.Millisecond)
}

func TestRouter_DeliveryOrderMatchesRouteOrder(t *testing.T) {
	r, _, battleID := newTestRouter(t)

	conn := &fakeConn{id: "c1"}
	r.Register(conn)
	require.NoError(t, r.Subscribe("c1", battleID))

	for i := 0; i < 50; i++ {
		r.Route(battleID, "battle_event", i)
	}

	// 快照之后的事件按路由顺序交付
	payloads := conn.receivedPayloads()
	require.Len(t, payloads, 51)
	for i := 0; i < 50; i++ {
		assert.Equal(t, i, payloads[i+1])
	}
}

func TestRouter_DisconnectCleansSubscriptions(t *testing.T) {
	r, manager, battleID := newTestRouter(t)

	conn := &fakeConn{id: "c1"}
	r.Register(conn)
	require.NoError(t, r.Subscribe("c1", battleID))

	r.Disconnect("c1")

	assert.Equal(t, 0, r.Subscribers(battleID))
	assert.Equal(t, 0, r.Connections())
	s, ok := manager.Lookup(battleID)
	require.True(t, ok)
	assert.Equal(t, 0, s.ViewerCount())

	// 重复断开为空操作
	r.Disconnect("c1")
}

func TestRouter_RemainingSubscriberKeepsReceiving(t *testing.T) {
	r, manager, battleID := newTestRouter(t)

	c1 := &fakeConn{id: "c1"}
	c2 := &fakeConn{id: "c2"}
	r.Register(c1)
	r.Register(c2)
	require.NoError(t, r.Subscribe("c1", battleID))
	require.NoError(t, r.Subscribe("c2", battleID))

	s, ok := manager.Lookup(battleID)
	require.True(t, ok)
	require.Equal(t, 2, s.ViewerCount())

	r.Disconnect("c1")
	assert.Equal(t, 1, s.ViewerCount())

	r.Route(battleID, "battle_event", nil)
	assert.Contains(t, c2.received(), "battle_event")
	assert.NotContains(t, c1.received(), "battle_event")
}

func TestRouter_UnsubscribeNoop(t *testing.T) {
	r, _, battleID := newTestRouter(t)

	conn := &fakeConn{id: "c1"}
	r.Register(conn)

	// 未订阅时解除订阅为空操作
	r.Unsubscribe("c1", battleID)
	assert.Equal(t, 0, r.Subscribers(battleID))
}

func TestRouter_ViewerLimit(t *testing.T) {
	r, manager, battleID := newTestRouter(t)
	r.cfg.MaxViewersPerBattle = 2

	for _, id := range []string{"c1", "c2", "c3"} {
		r.Register(&fakeConn{id: id})
	}
	require.NoError(t, r.Subscribe("c1", battleID))
	require.NoError(t, r.Subscribe("c2", battleID))

	err := r.Subscribe("c3", battleID)
	assert.ErrorIs(t, err, ErrTooManyViewers)

	s, ok := manager.Lookup(battleID)
	require.True(t, ok)
	assert.Equal(t, 2, s.ViewerCount())
}

func TestRouter_EndNoticeReachesSubscribers(t *testing.T) {
	r, manager, battleID := newTestRouter(t)

	conn := &fakeConn{id: "c1"}
	r.Register(conn)
	require.NoError(t, r.Subscribe("c1", battleID))

	require.NoError(t, manager.EndBattle(context.Background(), battleID, battle.ReasonTimeout))

	require.Eventually(t, func() bool {
		for _, m := range conn.received() {
			if m == "battle_ended" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}
