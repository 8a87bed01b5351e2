package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"pong-tournament/models"
)

type countingReaper struct {
	calls  atomic.Int32
	cutoff atomic.Int64
	err    error
}

func (r *countingReaper) ReapStaleMatches(_ context.Context, cutoff time.Time) ([]models.Match, error) {
	r.calls.Add(1)
	r.cutoff.Store(cutoff.UnixNano())
	if r.err != nil {
		return nil, r.err
	}
	return []models.Match{{ID: 1, Name: "cup"}, {ID: 2, Name: "couch"}}, nil
}

type recordingExpirer struct {
	names []string
}

func (e *recordingExpirer) ExpireMatch(name string) {
	e.names = append(e.names, name)
}

func TestReapOnceUsesCutoff(t *testing.T) {
	r := &countingReaper{}
	before := time.Now().Add(-time.Hour)
	expirer := &recordingExpirer{}
	if got := reapOnce(context.Background(), r, expirer, time.Hour, zap.NewNop().Sugar()); got != 2 {
		t.Fatalf("expected 2 closed matches, got %d", got)
	}
	if len(expirer.names) != 2 || expirer.names[0] != "cup" || expirer.names[1] != "couch" {
		t.Fatalf("every reaped match should be expired in the lobby, got %v", expirer.names)
	}
	cutoff := time.Unix(0, r.cutoff.Load())
	if cutoff.Before(before) || cutoff.After(time.Now().Add(-time.Hour)) {
		t.Fatalf("cutoff %v should be an hour ago", cutoff)
	}

	r.err = errors.New("db down")
	if got := reapOnce(context.Background(), r, expirer, time.Hour, zap.NewNop().Sugar()); got != 0 {
		t.Fatalf("errors report nothing closed, got %d", got)
	}
}

func TestStartMatchReaperRunsUntilCancelled(t *testing.T) {
	r := &countingReaper{}
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := StartMatchReaper(ctx, r, nil, 10*time.Millisecond, time.Minute, zap.NewNop().Sugar()); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for r.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("reaper did not run, calls=%d", r.calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	time.Sleep(50 * time.Millisecond)
	stopped := r.calls.Load()
	time.Sleep(50 * time.Millisecond)
	if r.calls.Load() != stopped {
		t.Fatalf("reaper kept running after cancel")
	}
}
