package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultNotifyInterval  = time.Hour
	defaultPresenceIdleTTL = 15 * time.Minute
	maxTrailLength         = 10
)

// TrailEntry 访客最近浏览的一个页面，标题附带浏览时刻以区分同页多次访问。
type TrailEntry struct {
	Page  string `json:"page"`
	Title string `json:"title"`
}

// PresenceInfo 描述一次在线心跳携带的上下文。
type PresenceInfo struct {
	IPAddress string
	UserAgent string
	Page      string
	PageTitle string
	Referrer  string
}

// PresenceEntry 是注册表对外暴露的快照条目。
type PresenceEntry struct {
	Key       string       `json:"key"`
	IPAddress string       `json:"ip_address"`
	UserAgent string       `json:"user_agent"`
	Page      string       `json:"current_page"`
	PageTitle string       `json:"page_title"`
	Referrer  string       `json:"referrer"`
	LastSeen  time.Time    `json:"last_seen"`
	Trail     []TrailEntry `json:"visited_pages"`
}

type presenceEntry struct {
	info     PresenceInfo
	lastSeen time.Time
	trail    []TrailEntry
}

// PresenceRegistry 维护当前在线访客的进程级共享状态。
// 每个身份的状态机：不存在 → 活跃（首次 Touch）→ 活跃（后续 Touch 重置空闲时钟）
// → 不存在（清理任务驱逐）。条目缺席即代表空闲，没有中间态。
// Touch、快照与驱逐共用同一把互斥锁；通知节流表也在锁下维护。
type PresenceRegistry struct {
	mu             sync.Mutex
	entries        map[string]*presenceEntry
	lastNotified   map[string]time.Time
	notifyInterval time.Duration
	notifier       Notifier
	logger         *zap.Logger
}

// NewPresenceRegistry 构造注册表。notifier 可为 nil，表示不发通知。
func NewPresenceRegistry(notifier Notifier, logger *zap.Logger) *PresenceRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresenceRegistry{
		entries:        make(map[string]*presenceEntry),
		lastNotified:   make(map[string]time.Time),
		notifyInterval: defaultNotifyInterval,
		notifier:       notifier,
		logger:         logger,
	}
}

// WithNotifyInterval 调整同一访客两次通知的最小间隔，非正值忽略。
func (r *PresenceRegistry) WithNotifyInterval(d time.Duration) *PresenceRegistry {
	if d > 0 {
		r.notifyInterval = d
	}
	return r
}

// Touch 登记一次访客活跃。返回该身份是否是首次出现。
// 访客为新身份、或距上次通知超过间隔时，异步派发在线通知；
// 通知失败只记日志，绝不影响调用方。
func (r *PresenceRegistry) Touch(key string, info PresenceInfo, now time.Time) bool {
	if key == "" {
		return false
	}

	r.mu.Lock()

	entry, ok := r.entries[key]
	isNew := !ok
	if isNew {
		entry = &presenceEntry{}
		r.entries[key] = entry
	}

	entry.info = info
	entry.lastSeen = now

	if info.Page != "" {
		title := info.PageTitle
		if title == "" {
			title = info.Page
		}
		entry.trail = append(entry.trail, TrailEntry{
			Page:  info.Page,
			Title: title + " (" + now.Format("15:04:05") + ")",
		})
		if len(entry.trail) > maxTrailLength {
			entry.trail = entry.trail[len(entry.trail)-maxTrailLength:]
		}
	}

	shouldNotify := false
	if r.notifier != nil {
		last, seen := r.lastNotified[key]
		if isNew || !seen || now.Sub(last) >= r.notifyInterval {
			shouldNotify = true
			r.lastNotified[key] = now
		}
	}

	var snapshot PresenceEntry
	if shouldNotify {
		snapshot = exportEntry(key, entry)
	}

	r.mu.Unlock()

	if shouldNotify {
		go func() {
			if err := r.notifier.NotifyPresence(snapshot, isNew); err != nil {
				r.logger.Warn("presence notification failed",
					zap.String("visitor", key),
					zap.Error(err))
			}
		}()
	}

	return isNew
}

// Snapshot 返回所有在线访客的拷贝，供管理端展示。
func (r *PresenceRegistry) Snapshot() []PresenceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]PresenceEntry, 0, len(r.entries))
	for key, entry := range r.entries {
		out = append(out, exportEntry(key, entry))
	}
	return out
}

// Count 返回当前在线访客数。
func (r *PresenceRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Evict 移除最后活跃早于 cutoff 的条目，返回移除数量。
// 驱逐是静默的，不发离站通知。
func (r *PresenceRegistry) Evict(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, entry := range r.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(r.entries, key)
			delete(r.lastNotified, key)
			removed++
		}
	}
	return removed
}

func exportEntry(key string, entry *presenceEntry) PresenceEntry {
	trail := make([]TrailEntry, len(entry.trail))
	copy(trail, entry.trail)
	return PresenceEntry{
		Key:       key,
		IPAddress: entry.info.IPAddress,
		UserAgent: entry.info.UserAgent,
		Page:      entry.info.Page,
		PageTitle: entry.info.PageTitle,
		Referrer:  entry.info.Referrer,
		LastSeen:  entry.lastSeen,
		Trail:     trail,
	}
}

// Sweeper 周期性清理空闲访客的后台任务，随进程生命周期运行，可随时停止。
type Sweeper struct {
	registry *PresenceRegistry
	interval time.Duration
	idleTTL  time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper 构造清理任务。interval/idleTTL 非正值时使用默认的 60 秒与 15 分钟。
func NewSweeper(registry *PresenceRegistry, interval, idleTTL time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if idleTTL <= 0 {
		idleTTL = defaultPresenceIdleTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		registry: registry,
		interval: interval,
		idleTTL:  idleTTL,
		logger:   logger,
	}
}

// Start 启动后台清理。重复调用只生效一次。
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done

	go s.run(ctx, done)
}

// Stop 停止清理任务并等待其退出。未启动时为空操作。
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := s.registry.Evict(now.Add(-s.idleTTL)); removed > 0 {
				s.logger.Debug("evicted idle visitors", zap.Int("count", removed))
			}
		}
	}
}
