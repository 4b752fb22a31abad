package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeNotifier struct {
	mu    sync.Mutex
	calls []PresenceEntry
	news  []bool
	err   error

	notified chan struct{}
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{notified: make(chan struct{}, 16)}
}

func (f *fakeNotifier) NotifyPresence(entry PresenceEntry, isNew bool) error {
	f.mu.Lock()
	f.calls = append(f.calls, entry)
	f.news = append(f.news, isNew)
	err := f.err
	f.mu.Unlock()

	f.notified <- struct{}{}
	return err
}

func (f *fakeNotifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeNotifier) waitForCall(t *testing.T) {
	t.Helper()
	select {
	case <-f.notified:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestTouchRegistersAndThrottlesNotifications(t *testing.T) {
	notifier := newFakeNotifier()
	registry := NewPresenceRegistry(notifier, nil).WithNotifyInterval(time.Hour)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	isNew := registry.Touch("session:s1", PresenceInfo{IPAddress: "203.0.113.9", Page: "/", PageTitle: "首页"}, base)
	if !isNew {
		t.Fatal("first touch should report a new visitor")
	}
	notifier.waitForCall(t)

	if got := registry.Count(); got != 1 {
		t.Fatalf("expected 1 visitor, got %d", got)
	}

	// 间隔内的后续心跳刷新状态但不再通知
	if registry.Touch("session:s1", PresenceInfo{Page: "/about", PageTitle: "关于"}, base.Add(time.Minute)) {
		t.Fatal("second touch should not be new")
	}
	time.Sleep(50 * time.Millisecond)
	if got := notifier.callCount(); got != 1 {
		t.Fatalf("expected 1 notification inside interval, got %d", got)
	}

	// 超过间隔后同一访客再次触发通知
	registry.Touch("session:s1", PresenceInfo{Page: "/work", PageTitle: "作品"}, base.Add(2*time.Hour))
	notifier.waitForCall(t)
	if got := notifier.callCount(); got != 2 {
		t.Fatalf("expected 2 notifications after interval, got %d", got)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if !notifier.news[0] || notifier.news[1] {
		t.Fatalf("expected is_new sequence [true false], got %v", notifier.news)
	}
}

func TestTouchIgnoresEmptyKey(t *testing.T) {
	registry := NewPresenceRegistry(nil, nil)
	if registry.Touch("", PresenceInfo{Page: "/"}, time.Now()) {
		t.Fatal("empty key must not register")
	}
	if registry.Count() != 0 {
		t.Fatal("empty key must not create an entry")
	}
}

func TestTrailBoundedWithTimestampedTitles(t *testing.T) {
	registry := NewPresenceRegistry(nil, nil)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 12; i++ {
		registry.Touch("session:s1", PresenceInfo{
			Page:      fmt.Sprintf("/page-%d", i),
			PageTitle: fmt.Sprintf("页面 %d", i),
		}, base.Add(time.Duration(i)*time.Second))
	}

	entries := registry.Snapshot()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	trail := entries[0].Trail
	if len(trail) != 10 {
		t.Fatalf("expected trail capped at 10, got %d", len(trail))
	}
	if trail[0].Page != "/page-2" || trail[9].Page != "/page-11" {
		t.Fatalf("expected oldest entries dropped, got %s .. %s", trail[0].Page, trail[9].Page)
	}
	if trail[9].Title != "页面 11 (10:00:11)" {
		t.Fatalf("unexpected trail title: %s", trail[9].Title)
	}
}

func TestTrailFallsBackToPageURL(t *testing.T) {
	registry := NewPresenceRegistry(nil, nil)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	registry.Touch("session:s1", PresenceInfo{Page: "/untitled"}, now)

	trail := registry.Snapshot()[0].Trail
	if trail[0].Title != "/untitled (10:00:00)" {
		t.Fatalf("expected page url as title fallback, got %s", trail[0].Title)
	}
}

func TestEvictRemovesOnlyStaleEntries(t *testing.T) {
	registry := NewPresenceRegistry(nil, nil)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	registry.Touch("session:old", PresenceInfo{Page: "/"}, base)
	registry.Touch("session:fresh", PresenceInfo{Page: "/"}, base.Add(10*time.Minute))

	removed := registry.Evict(base.Add(5 * time.Minute))
	if removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}

	entries := registry.Snapshot()
	if len(entries) != 1 || entries[0].Key != "session:fresh" {
		t.Fatalf("expected only fresh entry to survive, got %+v", entries)
	}
}

func TestEvictResetsNotifyThrottle(t *testing.T) {
	notifier := newFakeNotifier()
	registry := NewPresenceRegistry(notifier, nil).WithNotifyInterval(time.Hour)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	registry.Touch("session:s1", PresenceInfo{Page: "/"}, base)
	notifier.waitForCall(t)

	registry.Evict(base.Add(time.Minute))

	// 驱逐后再次出现按新访客对待，立即通知
	if !registry.Touch("session:s1", PresenceInfo{Page: "/"}, base.Add(2*time.Minute)) {
		t.Fatal("re-appearance after eviction should be new")
	}
	notifier.waitForCall(t)
	if got := notifier.callCount(); got != 2 {
		t.Fatalf("expected 2 notifications, got %d", got)
	}
}

func TestNotifierFailureDoesNotAffectTouch(t *testing.T) {
	notifier := newFakeNotifier()
	notifier.err = errors.New("telegram down")
	registry := NewPresenceRegistry(notifier, nil)

	if !registry.Touch("session:s1", PresenceInfo{Page: "/"}, time.Now()) {
		t.Fatal("touch should succeed even when notifier fails")
	}
	notifier.waitForCall(t)
	if registry.Count() != 1 {
		t.Fatal("entry should be registered despite notifier failure")
	}
}

func TestConcurrentTouch(t *testing.T) {
	registry := NewPresenceRegistry(nil, nil)
	now := time.Now().UTC()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("session:s%d", i%5)
			registry.Touch(key, PresenceInfo{Page: fmt.Sprintf("/p%d", i)}, now.Add(time.Duration(i)*time.Millisecond))
		}(i)
	}
	wg.Wait()

	if got := registry.Count(); got != 5 {
		t.Fatalf("expected 5 distinct visitors, got %d", got)
	}
	for _, entry := range registry.Snapshot() {
		if len(entry.Trail) > maxTrailLength {
			t.Fatalf("trail exceeded cap: %d", len(entry.Trail))
		}
	}
}

func TestSweeperEvictsIdleVisitors(t *testing.T) {
	registry := NewPresenceRegistry(nil, nil)
	registry.Touch("session:idle", PresenceInfo{Page: "/"}, time.Now().Add(-time.Hour))

	sweeper := NewSweeper(registry, 10*time.Millisecond, 15*time.Minute, nil)
	sweeper.Start(context.Background())
	defer sweeper.Stop()

	deadline := time.After(2 * time.Second)
	for registry.Count() != 0 {
		select {
		case <-deadline:
			t.Fatal("sweeper did not evict idle visitor in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSweeperStartStopIdempotent(t *testing.T) {
	registry := NewPresenceRegistry(nil, nil)
	sweeper := NewSweeper(registry, 10*time.Millisecond, time.Minute, nil)

	// 未启动时 Stop 是空操作
	sweeper.Stop()

	ctx := context.Background()
	sweeper.Start(ctx)
	sweeper.Start(ctx)
	sweeper.Stop()
	sweeper.Stop()

	// 停止后可以重新启动
	sweeper.Start(ctx)
	sweeper.Stop()
}

func TestSweeperStopsOnContextCancel(t *testing.T) {
	registry := NewPresenceRegistry(nil, nil)
	sweeper := NewSweeper(registry, 10*time.Millisecond, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	sweeper.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		sweeper.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
}
