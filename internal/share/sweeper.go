package share

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/droplite/service/internal/storage"
)

// maxSweepBatches caps how many batches one pass deletes.
const maxSweepBatches = 100

// SweeperOptions configures a Sweeper.
type SweeperOptions struct {
	Interval         time.Duration // 0 disables the background loop
	Grace            time.Duration // extra time past expiry before deletion
	Batch            int
	Prefix           string        // storage folder scanned by Reconcile
	ReconcileMinAge  time.Duration // blobs younger than this may still be mid-upload
	ReconcileOnSweep bool
}

// SweepResult reports what one pass did.
type SweepResult struct {
	Expired        int           `json:"expired"`
	OrphansCleared int           `json:"orphansCleared"`
	OrphansFailed  int           `json:"orphansFailed"`
	Reconciled     int           `json:"reconciled"`
	Errors         int           `json:"errors"`
	Duration       time.Duration `json:"duration"`
}

// Sweeper physically removes expired files and drains the orphan-blob outbox.
type Sweeper struct {
	store  Store
	blobs  storage.Storage
	opts   SweeperOptions
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex // serialises passes
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(store Store, blobs storage.Storage, opts SweeperOptions, logger *slog.Logger) *Sweeper {
	if opts.Batch <= 0 {
		opts.Batch = 100
	}
	return &Sweeper{
		store:  store,
		blobs:  blobs,
		opts:   opts,
		logger: logger.With("component", "sweeper"),
		now:    time.Now,
	}
}

// Start runs a pass immediately and then every Interval until Stop.
func (s *Sweeper) Start(ctx context.Context) {
	if s.opts.Interval <= 0 {
		s.logger.Info("background sweep disabled")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
	s.logger.Info("sweeper started", "interval", s.opts.Interval)
}

// Stop ends the background loop and waits for a running pass to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one full pass. Concurrent calls are serialised.
func (s *Sweeper) RunOnce(ctx context.Context) *SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	res := &SweepResult{}
	s.sweepExpired(ctx, res)
	s.drainOrphans(ctx, res)
	if s.opts.ReconcileOnSweep {
		s.reconcile(ctx, res)
	}
	res.Duration = time.Since(start)

	sweepDuration.Observe(res.Duration.Seconds())
	s.logger.Info("sweep finished",
		"expired", res.Expired,
		"orphans_cleared", res.OrphansCleared,
		"orphans_failed", res.OrphansFailed,
		"reconciled", res.Reconciled,
		"errors", res.Errors,
		"duration", res.Duration,
	)
	return res
}

// Reconcile deletes blobs under the storage prefix that no record references.
func (s *Sweeper) Reconcile(ctx context.Context) *SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	res := &SweepResult{}
	s.reconcile(ctx, res)
	res.Duration = time.Since(start)
	s.logger.Info("reconcile finished", "reconciled", res.Reconciled, "errors", res.Errors, "duration", res.Duration)
	return res
}

// sweepExpired deletes the blob before the record so a failure never leaves a blob without a record.
func (s *Sweeper) sweepExpired(ctx context.Context, res *SweepResult) {
	cutoff := s.now().Add(-s.opts.Grace)
	for i := 0; i < maxSweepBatches; i++ {
		recs, err := s.store.ListExpired(ctx, cutoff, s.opts.Batch)
		if err != nil {
			s.logger.Error("list expired files", "error", err)
			res.Errors++
			return
		}

		deleted := 0
		for _, rec := range recs {
			if err := s.blobs.Delete(ctx, rec.StorageRef); err != nil {
				s.logger.Error("delete expired blob", "file", rec, "error", err)
				res.Errors++
				continue
			}
			if err := s.store.Delete(ctx, rec.ID); err != nil {
				s.logger.Error("delete expired record", "file", rec, "error", err)
				res.Errors++
				continue
			}
			deleted++
		}
		res.Expired += deleted
		sweptTotal.WithLabelValues("expired").Add(float64(deleted))

		if len(recs) < s.opts.Batch || deleted == 0 {
			return
		}
	}
}

func (s *Sweeper) drainOrphans(ctx context.Context, res *SweepResult) {
	orphans, err := s.store.ListOrphans(ctx, s.opts.Batch)
	if err != nil {
		s.logger.Error("list orphan blobs", "error", err)
		res.Errors++
		return
	}

	for _, o := range orphans {
		// An insert reported as failed may still have committed.
		referenced, err := s.store.HasStorageRef(ctx, o.StorageRef)
		if err != nil {
			s.logger.Error("check orphan blob", "key", o.StorageRef, "error", err)
			res.Errors++
			continue
		}
		if !referenced && s.blobStored(ctx, o.StorageRef) {
			if err := s.blobs.Delete(ctx, o.StorageRef); err != nil {
				res.OrphansFailed++
				s.logger.Warn("orphan blob delete failed", "key", o.StorageRef, "attempts", o.Attempts+1, "error", err)
				if err := s.store.MarkOrphanAttempt(ctx, o.StorageRef, err.Error()); err != nil {
					s.logger.Error("mark orphan attempt", "key", o.StorageRef, "error", err)
					res.Errors++
				}
				continue
			}
		}
		if err := s.store.DeleteOrphan(ctx, o.StorageRef); err != nil {
			s.logger.Error("drop orphan entry", "key", o.StorageRef, "error", err)
			res.Errors++
			continue
		}
		res.OrphansCleared++
	}
	sweptTotal.WithLabelValues("orphan").Add(float64(res.OrphansCleared))
}

// blobStored reports false only when the driver confirms the key is gone.
func (s *Sweeper) blobStored(ctx context.Context, key string) bool {
	ok, err := s.blobs.Exists(ctx, key)
	if err != nil {
		s.logger.Warn("check orphan blob existence", "key", key, "error", err)
		return true
	}
	return ok
}

func (s *Sweeper) reconcile(ctx context.Context, res *SweepResult) {
	prefix := strings.TrimSuffix(s.opts.Prefix, "/") + "/"
	objects, err := s.blobs.List(ctx, prefix)
	if err != nil {
		s.logger.Error("list blobs", "prefix", prefix, "error", err)
		res.Errors++
		return
	}

	cutoff := s.now().Add(-s.opts.ReconcileMinAge)
	for _, obj := range objects {
		if obj.LastModified.After(cutoff) {
			continue
		}
		referenced, err := s.store.HasStorageRef(ctx, obj.Key)
		if err != nil {
			s.logger.Error("check blob reference", "key", obj.Key, "error", err)
			res.Errors++
			continue
		}
		if referenced {
			continue
		}
		if err := s.blobs.Delete(ctx, obj.Key); err != nil {
			s.logger.Error("delete unreferenced blob", "key", obj.Key, "error", err)
			res.Errors++
			continue
		}
		s.logger.Info("deleted unreferenced blob", "key", obj.Key, "size", obj.Size)
		res.Reconciled++
	}
	sweptTotal.WithLabelValues("unreferenced").Add(float64(res.Reconciled))
}
