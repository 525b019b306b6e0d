package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/reflector-media/reflector/pkg/storage"
	"github.com/reflector-media/reflector/pkg/types"
)

// Lister enumerates recordings that finished after since. Implementations
// decide what "the platform's recordings" means; [StorageLister] scans an
// egress bucket directly.
type Lister interface {
	ListRecordings(ctx context.Context, since time.Time) ([]Discovered, error)
}

// Poller periodically re-lists recent recordings and feeds them through the
// reconciler, catching webhooks that never arrived. A redis named lock keeps
// one poller active across replicas; the recording-row UNIQUE key makes the
// occasional double-run harmless anyway.
type Poller struct {
	lister     Lister
	reconciler *Reconciler
	lock       *NamedLock
	interval   time.Duration
	lookback   time.Duration
	log        *slog.Logger
}

// NewPoller builds a poller. interval defaults to 5m, lookback to 24h; lock
// may be nil when running single-replica.
func NewPoller(lister Lister, reconciler *Reconciler, lock *NamedLock, interval, lookback time.Duration, log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		lister:     lister,
		reconciler: reconciler,
		lock:       lock,
		interval:   interval,
		lookback:   lookback,
		log:        log.With("component", "reconcile.poller"),
	}
}

// Run polls until ctx is cancelled. Sweep errors are logged, never fatal.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.Sweep(ctx); err != nil {
			p.log.Error("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep runs one poll pass: take the lock, list the lookback window,
// reconcile everything found. Not holding the lock is a clean skip.
func (p *Poller) Sweep(ctx context.Context) error {
	if p.lock != nil {
		held, err := p.lock.TryAcquire(ctx)
		if err != nil {
			return err
		}
		if !held {
			p.log.Debug("poll lock held elsewhere, skipping sweep")
			return nil
		}
		defer func() {
			if err := p.lock.Release(ctx); err != nil {
				p.log.Warn("poll lock release failed", "error", err)
			}
		}()
	}

	discovered, err := p.lister.ListRecordings(ctx, time.Now().Add(-p.lookback))
	if err != nil {
		return fmt.Errorf("reconcile: list recordings: %w", err)
	}
	for _, d := range discovered {
		if err := p.reconciler.Reconcile(ctx, d); err != nil {
			p.log.Error("reconcile failed",
				"recording_id", d.RecordingID, "error", err)
		}
	}
	p.log.Debug("sweep done", "discovered", len(discovered))
	return nil
}

// StorageLister discovers raw-track recordings by scanning an egress bucket
// laid out as <room_name>/<recording_id>/<track>.webm. The folder's newest
// object stamps the recording time.
type StorageLister struct {
	objects storage.ObjectStore
	bucket  string
}

// NewStorageLister scans bucket in objects.
func NewStorageLister(objects storage.ObjectStore, bucket string) *StorageLister {
	return &StorageLister{objects: objects, bucket: bucket}
}

// ListRecordings implements [Lister].
func (l *StorageLister) ListRecordings(ctx context.Context, since time.Time) ([]Discovered, error) {
	infos, err := l.objects.List(ctx, "", storage.WithBucket(l.bucket))
	if err != nil {
		return nil, fmt.Errorf("reconcile: list bucket %s: %w", l.bucket, err)
	}

	type group struct {
		roomName string
		keys     []string
		newest   time.Time
	}
	groups := make(map[string]*group)
	var order []string
	for _, info := range infos {
		parts := strings.SplitN(info.Key, "/", 3)
		if len(parts) != 3 || path.Ext(parts[2]) != ".webm" {
			continue
		}
		roomName, recordingID := parts[0], parts[1]
		g, ok := groups[recordingID]
		if !ok {
			g = &group{roomName: roomName}
			groups[recordingID] = g
			order = append(order, recordingID)
		}
		g.keys = append(g.keys, info.Key)
		if info.LastModified.After(g.newest) {
			g.newest = info.LastModified
		}
	}

	var out []Discovered
	for _, id := range order {
		g := groups[id]
		if g.newest.Before(since) {
			continue
		}
		sort.Strings(g.keys)
		out = append(out, Discovered{
			RecordingID: id,
			BucketName:  l.bucket,
			RoomName:    g.roomName,
			ObjectKey:   g.roomName + "/" + id,
			TrackKeys:   g.keys,
			RecordedAt:  g.newest,
			Type:        types.RecordingRawTracks,
		})
	}
	return out, nil
}
