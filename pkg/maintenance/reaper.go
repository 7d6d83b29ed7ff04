package maintenance

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stashdav/stashdav/internal/logger"
	"github.com/stashdav/stashdav/pkg/blob"
	"github.com/stashdav/stashdav/pkg/store"
)

// Reaper reconciles the blob store against metadata: blobs with no record in
// either the live or trash view are orphans left behind by failed
// compensations and best-effort deletes.
//
// A key seen without a record might be an upload whose record has not
// committed yet, so candidates are only deleted when they are still orphaned
// after a grace period.
type Reaper struct {
	store *store.Store
	blobs blob.Store
	grace time.Duration
	log   zerolog.Logger

	mu        sync.Mutex
	firstSeen map[string]time.Time
}

func NewReaper(s *store.Store, blobs blob.Store, grace time.Duration) *Reaper {
	return &Reaper{
		store:     s,
		blobs:     blobs,
		grace:     grace,
		firstSeen: make(map[string]time.Time),
		log:       logger.New("reaper"),
	}
}

// Run performs one reconciliation pass and returns the number of blobs
// deleted. Owners are independent, so their scans run concurrently; the
// limit keeps the blob-store listing load bounded.
func (r *Reaper) Run(ctx context.Context) (int, error) {
	ids, err := r.store.ListPrincipalIDs(ctx)
	if err != nil {
		return 0, err
	}
	var deleted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, id := range ids {
		g.Go(func() error {
			n, err := r.reapOwner(gctx, id)
			deleted.Add(int64(n))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return int(deleted.Load()), err
	}
	return int(deleted.Load()), nil
}

func (r *Reaper) reapOwner(ctx context.Context, ownerID uint) (int, error) {
	blobKeys, err := r.blobs.List(ctx, strconv.FormatUint(uint64(ownerID), 10))
	if err != nil {
		return 0, err
	}
	recordKeys, err := r.store.ListAllKeys(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	known := make(map[string]struct{}, len(recordKeys))
	for _, k := range recordKeys {
		known[k] = struct{}{}
	}

	now := time.Now()
	deleted := 0

	r.mu.Lock()
	defer r.mu.Unlock()
	orphaned := make(map[string]struct{}, len(blobKeys))
	for _, key := range blobKeys {
		if _, ok := known[key]; ok {
			continue
		}
		orphaned[key] = struct{}{}
		seen, ok := r.firstSeen[key]
		if !ok {
			r.firstSeen[key] = now
			continue
		}
		if now.Sub(seen) < r.grace {
			continue
		}
		// still unaccounted for after the grace period
		if err := r.blobs.Delete(ctx, key); err != nil {
			r.log.Warn().Err(err).Str("key", key).Msg("orphan delete failed")
			continue
		}
		r.log.Info().Str("key", key).Msg("deleted orphaned blob")
		delete(r.firstSeen, key)
		deleted++
	}
	// forget candidates of this owner that gained a record or disappeared
	prefix := strconv.FormatUint(uint64(ownerID), 10) + "/"
	for key := range r.firstSeen {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, stillOrphan := orphaned[key]; !stillOrphan {
			delete(r.firstSeen, key)
		}
	}
	return deleted, nil
}
