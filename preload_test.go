package pdfgate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestPreloaderSweep(t *testing.T) {
	r, logBuf := newTestRenderer(t, 4)
	ctx := context.Background()
	if _, err := r.RenderPage(ctx, 2, 200); err != nil {
		t.Fatal(err)
	}

	p := NewPreloader(r, func() int { return 200 }, 0, newTestLogger(logBuf))
	res, err := p.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if diff := cmp.Diff(SweepResult{Rendered: 3, Skipped: 1}, res); diff != "" {
		t.Errorf("SweepResult mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2, 3, 4}, r.Cache().Pages()); diff != "" {
		t.Errorf("cached pages mismatch (-want +got):\n%s", diff)
	}

	res, err = p.Sweep(ctx)
	if err != nil || res.Rendered != 0 || res.Skipped != 4 {
		t.Errorf("second sweep = %+v, %v; want everything skipped", res, err)
	}
	if n := r.Renders(); n != 4 {
		t.Errorf("Renders = %d, want 4", n)
	}
}

func TestPreloaderUsesCurrentWidth(t *testing.T) {
	r, logBuf := newTestRenderer(t, 2)
	widths := []int{100, 300}
	calls := 0
	p := NewPreloader(r, func() int {
		w := widths[min(calls, len(widths)-1)]
		calls++
		return w
	}, 0, newTestLogger(logBuf))
	if _, err := p.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	one, _ := r.Cache().Get(1)
	two, _ := r.Cache().Get(2)
	if one.Width != 100 || two.Width != 300 {
		t.Errorf("widths = %d, %d; want 100, 300", one.Width, two.Width)
	}
}

func TestPreloaderInFlightGuard(t *testing.T) {
	r, logBuf := newTestRenderer(t, 2)
	p := NewPreloader(r, func() int { return 200 }, 0, newTestLogger(logBuf))

	p.running.Store(true)
	if _, err := p.Sweep(context.Background()); !errors.Is(err, ErrSweepInFlight) {
		t.Errorf("got %v, want ErrSweepInFlight", err)
	}
	if r.Cache().Len() != 0 {
		t.Error("a guarded sweep rendered pages")
	}
	p.running.Store(false)

	if _, err := p.Sweep(context.Background()); err != nil {
		t.Errorf("sweep after the guard cleared: %v", err)
	}
	if p.Running() {
		t.Error("guard still set after the sweep finished")
	}
}

func TestPreloaderFailuresDoNotStopSweep(t *testing.T) {
	r, logBuf := newTestRenderer(t, 3)
	p := NewPreloader(r, func() int { return 0 }, 0, newTestLogger(logBuf))
	res, err := p.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Failed != 3 {
		t.Errorf("Failed = %d, want 3", res.Failed)
	}
	if got := strings.Count(logBuf.String(), "Preload failed"); got != 3 {
		t.Errorf("logged %d failures, want 3", got)
	}
}

func TestPreloaderScheduleDebounce(t *testing.T) {
	r, logBuf := newTestRenderer(t, 3)
	p := NewPreloader(r, func() int { return 200 }, 20*time.Millisecond, newTestLogger(logBuf))
	defer p.Stop()

	p.Schedule()
	p.Schedule()
	p.Schedule()
	p.Wait()

	if r.Cache().Len() != 3 {
		t.Errorf("cache holds %d pages after the sweep, want 3", r.Cache().Len())
	}
	if n := r.Renders(); n != 3 {
		t.Errorf("Renders = %d, want 3 (one sweep)", n)
	}
}

func TestPreloaderStop(t *testing.T) {
	r, logBuf := newTestRenderer(t, 3)
	p := NewPreloader(r, func() int { return 200 }, time.Hour, newTestLogger(logBuf))
	p.Schedule()

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
	p.Schedule()
	p.Wait()
	if r.Cache().Len() != 0 {
		t.Error("a stopped preloader rendered pages")
	}
}
