package journal

import (
	"context"
	"sync"
	"time"

	"stopguard/internal/exit"
	"stopguard/internal/gateway/notifier"
	"stopguard/internal/logger"
	"stopguard/internal/metrics"
	"stopguard/internal/store"

	"github.com/google/uuid"
)

const (
	defaultBufferSize    = 1024
	defaultBatchSize     = 50
	defaultFlushInterval = time.Second
	writeTimeout         = 5 * time.Second
	notifyTimeout        = 20 * time.Second
)

type Config struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	// NotifyFailuresOnly 只推送失败的动作。
	NotifyFailuresOnly bool
}

func (c Config) withDefaults() Config {
	out := c
	if out.BufferSize <= 0 {
		out.BufferSize = defaultBufferSize
	}
	if out.BatchSize <= 0 {
		out.BatchSize = defaultBatchSize
	}
	if out.BatchSize > out.BufferSize {
		out.BatchSize = out.BufferSize
	}
	if out.FlushInterval <= 0 {
		out.FlushInterval = defaultFlushInterval
	}
	return out
}

// Journal 实现 exit.Journal：Record 只做非阻塞入队，后台按批写库并推送通知。
// 队列满时丢弃并计数，不会拖慢轮询周期。
type Journal struct {
	cfg      Config
	repo     store.ActionRepository
	notifier notifier.TextNotifier

	mu      sync.RWMutex
	closed  bool
	entries chan exit.JournalEntry
	notes   chan exit.JournalEntry
	wg      sync.WaitGroup
}

var _ exit.Journal = (*Journal)(nil)

// New 启动后台写入协程。repo 与 note 均可为 nil。
func New(repo store.ActionRepository, note notifier.TextNotifier, cfg Config) *Journal {
	final := cfg.withDefaults()
	j := &Journal{
		cfg:      final,
		repo:     repo,
		notifier: note,
		entries:  make(chan exit.JournalEntry, final.BufferSize),
	}
	j.wg.Add(1)
	go j.writeLoop()
	if note != nil {
		j.notes = make(chan exit.JournalEntry, final.BufferSize)
		j.wg.Add(1)
		go j.notifyLoop()
	}
	return j
}

func (j *Journal) Record(entry exit.JournalEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	logEntry(entry)

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		metrics.JournalDropped.Inc()
		return
	}
	select {
	case j.entries <- entry:
	default:
		metrics.JournalDropped.Inc()
		logger.Warnf("Journal: 队列已满，丢弃 ticket=%d action=%s", entry.Ticket, entry.Action)
	}
	if j.notes != nil && j.shouldNotify(entry) {
		select {
		case j.notes <- entry:
		default:
			metrics.JournalDropped.Inc()
		}
	}
}

// Close 停止接收新条目，并等待已入队的条目写完或 ctx 到期。
func (j *Journal) Close(ctx context.Context) error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.entries)
	if j.notes != nil {
		close(j.notes)
	}
	j.mu.Unlock()

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Journal) shouldNotify(entry exit.JournalEntry) bool {
	switch entry.Status {
	case exit.StatusFailed:
		return true
	case exit.StatusSucceeded:
		return !j.cfg.NotifyFailuresOnly
	default:
		return false
	}
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()
	batch := make([]exit.JournalEntry, 0, j.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		j.write(batch)
		batch = batch[:0]
	}
	for {
		select {
		case entry, ok := <-j.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= j.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (j *Journal) write(batch []exit.JournalEntry) {
	if j.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := j.repo.AppendActions(ctx, batch); err != nil {
		metrics.JournalDropped.Add(float64(len(batch)))
		logger.Errorf("Journal: 写入 %d 条动作记录失败: %v", len(batch), err)
	}
}

func (j *Journal) notifyLoop() {
	defer j.wg.Done()
	for entry := range j.notes {
		text := notifier.ExitActionMessage(entry).RenderMarkdown()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		if err := j.notifier.SendText(ctx, text); err != nil {
			logger.Warnf("Journal: 推送通知失败 ticket=%d action=%s: %v", entry.Ticket, entry.Action, err)
		}
		cancel()
	}
}

func logEntry(e exit.JournalEntry) {
	log := logger.With(
		"ticket", e.Ticket,
		"symbol", e.Symbol,
		"action", string(e.Action),
		"status", string(e.Status),
		"phase", e.Phase.String(),
	)
	if e.CycleID != "" {
		log = log.With("cycle", e.CycleID)
	}
	switch e.Status {
	case exit.StatusFailed:
		log.Warnf("exit action %.5f -> %.5f: %s", e.Before, e.After, e.Reason)
	case exit.StatusAttempted:
		log.Debugf("exit action %.5f -> %.5f", e.Before, e.After)
	default:
		log.Infof("exit action %.5f -> %.5f %s", e.Before, e.After, e.Reason)
	}
}
