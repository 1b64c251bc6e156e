package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"shootout/internal/config"
	"shootout/pkg/retry"
	"shootout/pkg/utils"
)

// State состояние соединения с источником цен
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Ошибки соединения
var (
	ErrNotConnected = errors.New("feed not connected")
	ErrClosed       = errors.New("feed closed")
)

// DialFunc устанавливает WebSocket соединение (подменяется в тестах)
type DialFunc func(ctx context.Context, url string) (*websocket.Conn, error)

func defaultDial(timeout time.Duration) DialFunc {
	return func(ctx context.Context, url string) (*websocket.Conn, error) {
		dialer := websocket.Dialer{HandshakeTimeout: timeout}
		conn, _, err := dialer.DialContext(ctx, url, nil)
		return conn, err
	}
}

// session одно установленное соединение. done закрывается при разрыве,
// после этого горутины сессии завершаются.
type session struct {
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// connManager управляет соединением с автоматическим переподключением
//
// Функции:
// - Переподключение с exponential backoff: задержка попытки k равна
//   min(2s * 2^(k-1), 30s), после MaxReconnectAttempts попыток
//   соединение остается в StateDisconnected навсегда
// - Ping для проверки живости, read deadline продлевается pong'ом и сообщениями
// - Один писатель в сокет (writeMu)
// - Close дожидается завершения всех горутин
type connManager struct {
	url     string
	cfg     config.FeedConfig
	backoff retry.Config
	dial    DialFunc
	after   func(time.Duration) <-chan time.Time
	logger  *utils.Logger

	sess    *session
	sessMu  sync.RWMutex
	writeMu sync.Mutex

	state    int32 // atomic State
	attempts int32 // atomic, попытки текущей серии переподключений

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup

	// Callbacks
	onMessage    func([]byte)
	onConnect    func(reconnected bool)
	onDisconnect func(error)
}

func newConnManager(cfg config.FeedConfig, logger *utils.Logger) *connManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &connManager{
		url:     cfg.URL,
		cfg:     cfg,
		backoff: retry.ReconnectConfig(cfg.MaxReconnectAttempts),
		dial:    defaultDial(cfg.ConnectTimeout),
		after:   time.After,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (m *connManager) getState() State {
	return State(atomic.LoadInt32(&m.state))
}

func (m *connManager) setState(s State) {
	atomic.StoreInt32(&m.state, int32(s))
	ConnectionState.Set(float64(s))
}

func (m *connManager) closed() bool {
	return m.ctx.Err() != nil
}

// connect первое подключение. При ошибке запускает фоновое переподключение
// и возвращает ошибку.
func (m *connManager) connect() error {
	if m.closed() {
		return ErrClosed
	}
	m.setState(StateConnecting)

	sess, err := m.open()
	if err != nil {
		m.setState(StateReconnecting)
		m.wg.Add(1)
		go m.reconnectLoop()
		return err
	}

	m.start(sess, false)
	return nil
}

// open выполняет dial с таймаутом подключения
func (m *connManager) open() (*session, error) {
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.ConnectTimeout)
	defer cancel()

	conn, err := m.dial(ctx, m.url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", m.url, err)
	}
	return &session{conn: conn, done: make(chan struct{})}, nil
}

// start активирует сессию и запускает горутины чтения и ping
func (m *connManager) start(sess *session, reconnected bool) {
	readTimeout := m.cfg.PingInterval + m.cfg.PongTimeout
	sess.conn.SetReadDeadline(time.Now().Add(readTimeout))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	// проверка closed под sessMu: close либо увидит эту сессию, либо мы увидим закрытие
	m.sessMu.Lock()
	if m.closed() {
		m.sessMu.Unlock()
		sess.close()
		return
	}
	m.sess = sess
	m.setState(StateConnected)
	m.sessMu.Unlock()

	atomic.StoreInt32(&m.attempts, 0)

	if m.onConnect != nil {
		m.onConnect(reconnected)
	}

	m.wg.Add(2)
	go m.readPump(sess, readTimeout)
	go m.pingPump(sess)

	if reconnected {
		m.logger.Info("feed reconnected", zap.String("url", m.url))
	} else {
		m.logger.Info("feed connected", zap.String("url", m.url))
	}
}

// readPump читает сообщения сессии до разрыва
func (m *connManager) readPump(sess *session, readTimeout time.Duration) {
	defer m.wg.Done()

	for {
		_, message, err := sess.conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(sess, err)
			return
		}
		sess.conn.SetReadDeadline(time.Now().Add(readTimeout))

		if m.onMessage != nil {
			m.onMessage(message)
		}
	}
}

// pingPump отправляет ping с интервалом PingInterval
func (m *connManager) pingPump(sess *session) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-sess.done:
			return
		case <-ticker.C:
			m.writeMu.Lock()
			err := sess.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.cfg.PongTimeout))
			m.writeMu.Unlock()
			if err != nil {
				m.logger.Warn("feed ping failed", zap.Error(err))
				m.handleDisconnect(sess, err)
				return
			}
		}
	}
}

// handleDisconnect обрабатывает разрыв сессии ровно один раз
func (m *connManager) handleDisconnect(sess *session, err error) {
	sess.close()
	if m.closed() {
		return
	}

	m.sessMu.Lock()
	current := m.sess == sess
	if current {
		m.sess = nil
	}
	m.sessMu.Unlock()

	if !current || !atomic.CompareAndSwapInt32(&m.state, int32(StateConnected), int32(StateReconnecting)) {
		return
	}
	ConnectionState.Set(float64(StateReconnecting))

	m.logger.Warn("feed disconnected", zap.Error(err))
	if m.onDisconnect != nil {
		m.onDisconnect(err)
	}

	m.wg.Add(1)
	go m.reconnectLoop()
}

// reconnectLoop переподключается с exponential backoff
func (m *connManager) reconnectLoop() {
	defer m.wg.Done()

	for {
		attempt := int(atomic.AddInt32(&m.attempts, 1))

		if m.backoff.MaxAttempts > 0 && attempt > m.backoff.MaxAttempts {
			m.logger.Error("feed reconnect attempts exhausted, staying disconnected",
				zap.Int("max_attempts", m.backoff.MaxAttempts))
			m.setState(StateDisconnected)
			return
		}

		delay := m.backoff.Delay(attempt)
		m.logger.Info("feed reconnecting",
			zap.Duration("delay", delay),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", m.backoff.MaxAttempts))

		select {
		case <-m.ctx.Done():
			return
		case <-m.after(delay):
		}

		ReconnectAttempts.Inc()
		sess, err := m.open()
		if err != nil {
			if m.closed() {
				return
			}
			m.logger.Warn("feed reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		m.start(sess, true)
		return
	}
}

// send отправляет текстовое сообщение в текущую сессию
func (m *connManager) send(payload []byte) error {
	if m.getState() != StateConnected {
		return fmt.Errorf("%w (state: %s)", ErrNotConnected, m.getState())
	}

	m.sessMu.RLock()
	sess := m.sess
	m.sessMu.RUnlock()
	if sess == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	sess.conn.SetWriteDeadline(time.Now().Add(m.cfg.PongTimeout))
	return sess.conn.WriteMessage(websocket.TextMessage, payload)
}

// close закрывает соединение и дожидается завершения горутин
func (m *connManager) close() {
	m.closeOnce.Do(func() {
		m.cancel()

		m.sessMu.Lock()
		sess := m.sess
		m.sess = nil
		m.setState(StateClosed)
		m.sessMu.Unlock()

		if sess != nil {
			sess.close()
		}
		m.wg.Wait()
	})
}
