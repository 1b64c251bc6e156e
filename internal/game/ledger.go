package game

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"shootout/pkg/utils"
)

// ErrLedgerClosed очередь записи закрыта (остановка сервиса)
var ErrLedgerClosed = errors.New("ledger closed")

// Ledger - шардированные FIFO очереди операций с данными игрока.
//
// Все операции одного игрока попадают в один шард (FNV хеш playerID)
// и выполняются строго по порядку постановки. Поэтому чтение баланса
// никогда не увидит состояние старше уже завершенной записи того же игрока.
// Операции разных игроков выполняются параллельно в разных шардах.
type Ledger struct {
	shards  []chan ledgerTask
	timeout time.Duration
	logger  *utils.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type ledgerTask struct {
	playerID string
	op       string
	fn       func(ctx context.Context) error
	done     chan error      // nil для асинхронных задач
	caller   context.Context // контекст ожидающего Do, nil для Submit
}

// NewLedger создает очереди и запускает воркеры шардов
//
// Параметры:
//   - shards: число шардов (воркеров)
//   - queueSize: буфер каждой очереди
//   - timeout: таймаут одной операции
func NewLedger(shards, queueSize int, timeout time.Duration, logger *utils.Logger) *Ledger {
	if shards < 1 {
		shards = 1
	}
	if queueSize < 1 {
		queueSize = 256
	}

	l := &Ledger{
		shards:  make([]chan ledgerTask, shards),
		timeout: timeout,
		logger:  logger.WithComponent("ledger"),
	}

	for i := range l.shards {
		l.shards[i] = make(chan ledgerTask, queueSize)
		l.wg.Add(1)
		go l.worker(l.shards[i])
	}

	return l
}

// shardFor возвращает очередь игрока
func (l *Ledger) shardFor(playerID string) chan ledgerTask {
	h := fnv.New32a()
	h.Write([]byte(playerID))
	return l.shards[h.Sum32()%uint32(len(l.shards))]
}

// Submit ставит операцию в очередь игрока и не ждет результата.
// Ошибка операции логируется и учитывается в метриках.
func (l *Ledger) Submit(playerID, op string, fn func(ctx context.Context) error) {
	if err := l.enqueue(ledgerTask{playerID: playerID, op: op, fn: fn}); err != nil {
		l.logger.Warn("ledger task dropped",
			zap.String("player_id", playerID),
			zap.String("op", op),
			zap.Error(err))
		RecordLedgerFailure(op)
	}
}

// Do выполняет операцию в очереди игрока и ждет результат.
//
// Контекст операции наследует ctx. Если ctx отменен до того, как очередь
// дошла до задачи, fn не вызывается. Если ctx истек во время выполнения,
// Do возвращает ctx.Err(), а уже сделанные fn записи остаются: fn должна
// проверять ctx перед каждой записью, которую нельзя оставлять без ответа.
func (l *Ledger) Do(ctx context.Context, playerID, op string, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	if err := l.enqueue(ledgerTask{playerID: playerID, op: op, fn: fn, done: done, caller: ctx}); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Ledger) enqueue(task ledgerTask) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return ErrLedgerClosed
	}
	l.shardFor(task.playerID) <- task
	return nil
}

func (l *Ledger) worker(queue chan ledgerTask) {
	defer l.wg.Done()

	for task := range queue {
		err := l.run(task)
		if task.done != nil {
			task.done <- err
			continue
		}
		if err != nil {
			l.logger.Error("ledger task failed",
				zap.String("player_id", task.playerID),
				zap.String("op", task.op),
				zap.Error(err))
			RecordLedgerFailure(task.op)
		}
	}
}

// run выполняет задачу с таймаутом и защитой от паники
func (l *Ledger) run(task ledgerTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("ledger task panic",
				zap.String("op", task.op),
				zap.Any("panic", r))
			err = errors.New("ledger task panicked")
		}
	}()

	parent := context.Background()
	if task.caller != nil {
		if err := task.caller.Err(); err != nil {
			return err
		}
		parent = task.caller
	}

	ctx, cancel := context.WithTimeout(parent, l.timeout)
	defer cancel()

	return task.fn(ctx)
}

// Close перестает принимать задачи, дожидается выполнения очереди
// и останавливает воркеры.
func (l *Ledger) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	for _, q := range l.shards {
		close(q)
	}
	l.mu.Unlock()

	l.wg.Wait()
}
