package pricefeed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"shootout/internal/config"
	"shootout/internal/models"
	"shootout/pkg/utils"
)

// ============ Fake upstream ============

type fakeUpstream struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	writeMu  sync.Mutex
	received chan controlMessage
	accepted chan struct{}
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()

	u := &fakeUpstream{
		t:        t,
		received: make(chan controlMessage, 64),
		accepted: make(chan struct{}, 16),
	}
	u.srv = httptest.NewServer(http.HandlerFunc(u.handle))
	t.Cleanup(func() {
		u.dropAll()
		u.srv.Close()
	})
	return u
}

func (u *fakeUpstream) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	u.mu.Lock()
	u.conns = append(u.conns, conn)
	u.mu.Unlock()
	u.accepted <- struct{}{}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg controlMessage
		if json.Unmarshal(raw, &msg) == nil {
			u.received <- msg
		}
	}
}

func (u *fakeUpstream) url() string {
	return "ws" + strings.TrimPrefix(u.srv.URL, "http")
}

func (u *fakeUpstream) latest() *websocket.Conn {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.conns) == 0 {
		return nil
	}
	return u.conns[len(u.conns)-1]
}

func (u *fakeUpstream) pushRaw(raw string) {
	u.t.Helper()
	conn := u.latest()
	require.NotNil(u.t, conn)

	u.writeMu.Lock()
	defer u.writeMu.Unlock()
	require.NoError(u.t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func (u *fakeUpstream) pushPrice(pair string, price float64) {
	u.t.Helper()
	payload, err := json.Marshal(inboundMessage{
		Type: msgPriceUpdate,
		Pair: pair,
		Data: &priceData{Pair: pair, Price: price, Confidence: 1.5, Expo: -8, PublishTime: 1718000000},
	})
	require.NoError(u.t, err)
	u.pushRaw(string(payload))
}

func (u *fakeUpstream) dropAll() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, c := range u.conns {
		c.Close()
	}
}

func (u *fakeUpstream) expectControl(msgType, pair string) {
	u.t.Helper()
	select {
	case msg := <-u.received:
		assert.Equal(u.t, msgType, msg.Type)
		assert.Equal(u.t, pair, msg.Pair)
	case <-time.After(2 * time.Second):
		u.t.Fatalf("upstream did not receive %s %s", msgType, pair)
	}
}

func (u *fakeUpstream) expectNoControl(wait time.Duration) {
	u.t.Helper()
	select {
	case msg := <-u.received:
		u.t.Fatalf("unexpected control message %+v", msg)
	case <-time.After(wait):
	}
}

func (u *fakeUpstream) waitAccepted() {
	u.t.Helper()
	select {
	case <-u.accepted:
	case <-time.After(2 * time.Second):
		u.t.Fatal("client did not connect")
	}
}

// ============ Helpers ============

func testFeedConfig(url string) config.FeedConfig {
	return config.FeedConfig{
		URL:                  url,
		ConnectTimeout:       2 * time.Second,
		PingInterval:         time.Second,
		PongTimeout:          time.Second,
		MaxReconnectAttempts: 3,
	}
}

func immediate(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

// newConnectedClient hooks применяются до Connect, пока горутины соединения не запущены
func newConnectedClient(t *testing.T, u *fakeUpstream, tweak func(*config.FeedConfig), hooks ...func(*Client)) *Client {
	t.Helper()

	cfg := testFeedConfig(u.url())
	if tweak != nil {
		tweak(&cfg)
	}
	c := NewClient(cfg, utils.NewNopLogger())
	c.conn.after = immediate
	for _, hook := range hooks {
		hook(c)
	}
	t.Cleanup(c.Close)

	require.NoError(t, c.Connect())
	u.waitAccepted()
	require.Equal(t, StateConnected, c.State())
	return c
}

func tickCollector() (func(models.Tick), <-chan models.Tick) {
	ch := make(chan models.Tick, 16)
	return func(t models.Tick) { ch <- t }, ch
}

func expectTick(t *testing.T, ch <-chan models.Tick) models.Tick {
	t.Helper()
	select {
	case tick := <-ch:
		return tick
	case <-time.After(2 * time.Second):
		t.Fatal("tick not delivered")
		return models.Tick{}
	}
}

// ============ Tests ============

func TestClient_SubscribeBeforeConnectFails(t *testing.T) {
	c := NewClient(testFeedConfig("ws://127.0.0.1:1/ws"), utils.NewNopLogger())
	defer c.Close()

	_, err := c.Subscribe("BTC/USD", func(models.Tick) {})
	assert.ErrorIs(t, err, ErrNeverConnected)
}

func TestClient_ReferenceCountedSubscriptions(t *testing.T) {
	u := newFakeUpstream(t)
	c := newConnectedClient(t, u, nil)

	first, firstTicks := tickCollector()
	second, secondTicks := tickCollector()

	unsubFirst, err := c.Subscribe("BTC/USD", first)
	require.NoError(t, err)
	u.expectControl(msgSubscribe, "BTC/USD")

	unsubSecond, err := c.Subscribe("BTC/USD", second)
	require.NoError(t, err)

	u.pushPrice("BTC/USD", 65000.5)
	tick := expectTick(t, firstTicks)
	assert.Equal(t, "BTC/USD", tick.Pair)
	assert.Equal(t, 65000.5, tick.Price)
	assert.Equal(t, -8, tick.Expo)
	assert.Equal(t, int64(1718000000), tick.PublishTime)
	expectTick(t, secondTicks)

	unsubFirst()
	unsubFirst()
	assert.Equal(t, []string{"BTC/USD"}, c.Pairs())

	unsubSecond()
	// второй subscribe не отправлялся, следующим сообщением будет unsubscribe
	u.expectControl(msgUnsubscribe, "BTC/USD")
	assert.Empty(t, c.Pairs())
}

func TestClient_TicksRoutedByPair(t *testing.T) {
	u := newFakeUpstream(t)
	c := newConnectedClient(t, u, nil)

	btc, btcTicks := tickCollector()
	eth, ethTicks := tickCollector()
	_, err := c.Subscribe("BTC/USD", btc)
	require.NoError(t, err)
	_, err = c.Subscribe("ETH/USD", eth)
	require.NoError(t, err)

	u.pushPrice("ETH/USD", 3500)
	assert.Equal(t, 3500.0, expectTick(t, ethTicks).Price)

	select {
	case tick := <-btcTicks:
		t.Fatalf("BTC subscriber got %+v", tick)
	default:
	}
}

func TestClient_MalformedMessagesDropped(t *testing.T) {
	u := newFakeUpstream(t)
	c := newConnectedClient(t, u, nil)

	handler, ticks := tickCollector()
	_, err := c.Subscribe("BTC/USD", handler)
	require.NoError(t, err)

	u.pushRaw(`not json at all`)
	u.pushRaw(`{"type":"price_update","pair":"BTC/USD"}`)
	u.pushRaw(`{"type":"price_update","data":{"pair":"BTC/USD","price":-1}}`)
	u.pushRaw(`{"type":"subscribed","pair":"BTC/USD"}`)
	u.pushPrice("BTC/USD", 64000)

	assert.Equal(t, 64000.0, expectTick(t, ticks).Price)
	assert.Equal(t, StateConnected, c.State())
}

func TestClient_HandlerPanicIsolated(t *testing.T) {
	u := newFakeUpstream(t)
	c := newConnectedClient(t, u, nil)

	_, err := c.Subscribe("BTC/USD", func(models.Tick) { panic("bad subscriber") })
	require.NoError(t, err)
	handler, ticks := tickCollector()
	_, err = c.Subscribe("BTC/USD", handler)
	require.NoError(t, err)

	u.pushPrice("BTC/USD", 1)
	expectTick(t, ticks)

	u.pushPrice("BTC/USD", 2)
	assert.Equal(t, 2.0, expectTick(t, ticks).Price, "connection survives the panic")
}

func TestClient_ReconnectWithResubscribe(t *testing.T) {
	u := newFakeUpstream(t)
	c := newConnectedClient(t, u, func(cfg *config.FeedConfig) {
		cfg.ResubscribeOnReconnect = true
	})

	handler, ticks := tickCollector()
	_, err := c.Subscribe("BTC/USD", handler)
	require.NoError(t, err)
	u.expectControl(msgSubscribe, "BTC/USD")

	u.dropAll()
	u.waitAccepted()
	u.expectControl(msgSubscribe, "BTC/USD")

	require.Eventually(t, func() bool { return c.State() == StateConnected }, 2*time.Second, 10*time.Millisecond)
	u.pushPrice("BTC/USD", 70000)
	assert.Equal(t, 70000.0, expectTick(t, ticks).Price)
}

func TestClient_ReconnectWithoutResubscribe(t *testing.T) {
	u := newFakeUpstream(t)
	c := newConnectedClient(t, u, nil)

	_, err := c.Subscribe("BTC/USD", func(models.Tick) {})
	require.NoError(t, err)
	u.expectControl(msgSubscribe, "BTC/USD")

	u.dropAll()
	u.waitAccepted()
	require.Eventually(t, func() bool { return c.State() == StateConnected }, 2*time.Second, 10*time.Millisecond)

	u.expectNoControl(200 * time.Millisecond)
	assert.Equal(t, []string{"BTC/USD"}, c.Pairs(), "local registry is kept")
}

func TestClient_DisconnectReportsInterruptedPairs(t *testing.T) {
	u := newFakeUpstream(t)
	core, logs := observer.New(zapcore.WarnLevel)
	c := newConnectedClient(t, u, nil, func(c *Client) {
		c.logger = utils.FromZap(zap.New(core))
	})

	_, err := c.Subscribe("ETH/USD", func(models.Tick) {})
	require.NoError(t, err)
	u.expectControl(msgSubscribe, "ETH/USD")
	assert.Zero(t, c.Disconnects())

	u.dropAll()
	u.waitAccepted()
	require.Eventually(t, func() bool { return c.State() == StateConnected }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, uint64(1), c.Disconnects())
	entries := logs.FilterMessage("price updates interrupted").All()
	require.Len(t, entries, 1)
	assert.Equal(t, []interface{}{"ETH/USD"}, entries[0].ContextMap()["pairs"])
}

func TestClient_ReconnectGivesUp(t *testing.T) {
	u := newFakeUpstream(t)

	var (
		mu     sync.Mutex
		delays []time.Duration
		dials  int
	)
	c := newConnectedClient(t, u, nil, func(c *Client) {
		realDial := c.conn.dial
		c.conn.after = func(d time.Duration) <-chan time.Time {
			mu.Lock()
			delays = append(delays, d)
			mu.Unlock()
			return immediate(d)
		}
		c.conn.dial = func(ctx context.Context, url string) (*websocket.Conn, error) {
			mu.Lock()
			dials++
			first := dials == 1
			mu.Unlock()
			if first {
				return realDial(ctx, url)
			}
			return nil, errors.New("connection refused")
		}
	})

	u.dropAll()
	require.Eventually(t, func() bool { return c.State() == StateDisconnected }, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, delays)
	assert.Equal(t, 4, dials, "initial dial plus three reconnect attempts")
	mu.Unlock()

	_, err := c.Subscribe("ETH/USD", func(models.Tick) {})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClient_InitialConnectFailureRetriesInBackground(t *testing.T) {
	u := newFakeUpstream(t)

	cfg := testFeedConfig(u.url())
	c := NewClient(cfg, utils.NewNopLogger())
	defer c.Close()

	var calls int
	var mu sync.Mutex
	realDial := c.conn.dial
	c.conn.after = immediate
	c.conn.dial = func(ctx context.Context, url string) (*websocket.Conn, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return nil, errors.New("connection refused")
		}
		return realDial(ctx, url)
	}

	require.Error(t, c.Connect())
	_, err := c.Subscribe("BTC/USD", func(models.Tick) {})
	assert.ErrorIs(t, err, ErrNeverConnected)

	u.waitAccepted()
	require.Eventually(t, func() bool { return c.State() == StateConnected }, 2*time.Second, 10*time.Millisecond)

	_, err = c.Subscribe("BTC/USD", func(models.Tick) {})
	assert.NoError(t, err)
}

func TestClient_Close(t *testing.T) {
	u := newFakeUpstream(t)
	c := newConnectedClient(t, u, nil)

	c.Close()
	assert.Equal(t, StateClosed, c.State())

	_, err := c.Subscribe("BTC/USD", func(models.Tick) {})
	assert.ErrorIs(t, err, ErrNotConnected)

	// повторный Close безопасен
	c.Close()
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "unknown", State(42).String())
}
