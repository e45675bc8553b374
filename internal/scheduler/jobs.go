package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/go-logr/logr"

	"github.com/phildougherty/medic/internal/store"
	"github.com/phildougherty/medic/internal/triage"
)

const (
	JobSessionReaper = "session-reaper"
	JobReindex       = "guidelines-reindex"
	JobDigest        = "notification-digest"
)

// Reaper is implemented by *intake.Service.
type Reaper interface {
	Reap(ctx context.Context, idle time.Duration) (int, error)
}

// ReaperJob drops intake sessions idle for longer than idle.
func ReaperJob(schedule string, reaper Reaper, idle time.Duration, logger logr.Logger) Job {
	return Job{
		ID:       JobSessionReaper,
		Name:     "Reap idle intake sessions",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			n, err := reaper.Reap(ctx, idle)
			if n > 0 {
				logger.Info("Reaped idle intake sessions", "count", n, "idle", idle)
			}
			return err
		},
	}
}

// ReindexFunc rebuilds the guidelines index.
type ReindexFunc func(ctx context.Context) error

// ReindexJob retries twice since embedding APIs fail transiently.
func ReindexJob(schedule string, reindex ReindexFunc) Job {
	return Job{
		ID:       JobReindex,
		Name:     "Rebuild the guidelines index",
		Schedule: schedule,
		Retries:  2,
		Backoff:  time.Minute,
		Run:      reindex,
	}
}

// NotificationLister is the read side of store.Store the digest needs.
type NotificationLister interface {
	NotificationsAfter(ctx context.Context, after store.NotificationCursor, limit int) ([]store.Notification, error)
}

const digestPageSize = 500

// Digest summarizes the notifications sent in a window.
type Digest struct {
	Since     time.Time
	Total     int
	ByUrgency map[triage.Urgency]int
	Latest    *store.Notification
}

// BuildDigest counts every notification since the given time.
func BuildDigest(ctx context.Context, lister NotificationLister, since time.Time) (Digest, error) {
	d := Digest{Since: since, ByUrgency: make(map[triage.Urgency]int)}
	cursor := store.NotificationCursor{Timestamp: since}
	for {
		page, err := lister.NotificationsAfter(ctx, cursor, digestPageSize)
		if err != nil {
			return Digest{}, err
		}
		for i := range page {
			d.Total++
			d.ByUrgency[page[i].Urgency]++
		}
		if len(page) > 0 {
			latest := page[len(page)-1]
			d.Latest = &latest
			cursor = store.CursorOf(latest)
		}
		if len(page) < digestPageSize {
			return d, nil
		}
	}
}

// DigestJob logs a daily count of team notifications by urgency.
func DigestJob(schedule string, lister NotificationLister, logger logr.Logger) Job {
	return Job{
		ID:       JobDigest,
		Name:     "Daily team notification digest",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			d, err := BuildDigest(ctx, lister, time.Now().Add(-24*time.Hour))
			if err != nil {
				return err
			}
			kv := []interface{}{"total", d.Total}
			levels := make([]string, 0, len(d.ByUrgency))
			for u := range d.ByUrgency {
				levels = append(levels, string(u))
			}
			sort.Strings(levels)
			for _, level := range levels {
				kv = append(kv, level, d.ByUrgency[triage.Urgency(level)])
			}
			logger.Info("Team notification digest (last 24h)", kv...)
			return nil
		},
	}
}
