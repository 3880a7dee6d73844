// Package dedup implements the duplicate detection pipeline: tracking
// which photos need processing, fingerprinting them, indexing the
// fingerprints and folding pairwise matches into duplicate groups.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/photo-dedup/internal/constants"
	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
	"github.com/kozaktomas/photo-dedup/internal/source"
	"github.com/kozaktomas/photo-dedup/internal/store"
)

// Options tune a single scan run.
type Options struct {
	// Threshold is the maximum Hamming distance treated as similar.
	Threshold int
	// Workers sets the fetch and hash concurrency.
	Workers int
	// Full reprocesses every photo regardless of scan state.
	Full bool
	// DryRun computes groups without writing anything to the store.
	DryRun bool
	// Progress, when set, is called after each processed photo.
	Progress func(done, total int)
}

// RunResult summarizes a scan run.
type RunResult struct {
	Listed      int           `json:"listed"`
	Pending     int           `json:"pending"`
	Processed   int           `json:"processed"`
	Undecodable int           `json:"undecodable"`
	Missing     int           `json:"missing"`
	Failed      int           `json:"failed"`
	Photos      int           `json:"photos"`
	Groups      int           `json:"groups"`
	Duration    time.Duration `json:"duration"`
}

// Engine runs scans against one library backend and one store.
type Engine struct {
	store store.Store
	src   source.Source
}

// New creates a scan engine.
func New(st store.Store, src source.Source) *Engine {
	return &Engine{store: st, src: src}
}

type processed struct {
	photo source.Photo
	rec   *store.PhotoRecord
	err   error
}

// Run executes one scan: list the library, process changed photos, then
// rebuild the duplicate partition from every persisted fingerprint and
// replace the stored groups.
//
// The partition is recomputed from scratch each run, so the groups are a
// pure function of the persisted fingerprints and the threshold. A full
// rescan and an incremental scan of the same library land on the same
// partition, and rerunning with nothing changed is a no-op.
func (e *Engine) Run(ctx context.Context, opts Options) (*RunResult, error) {
	start := time.Now()
	if opts.Threshold <= 0 {
		opts.Threshold = constants.DefaultThreshold
	}
	if opts.Workers <= 0 {
		opts.Workers = constants.WorkerPoolSize
	}

	if !opts.DryRun {
		runID := uuid.NewString()
		if err := e.store.AcquireRunLock(ctx, runID); err != nil {
			return nil, fmt.Errorf("acquire run lock: %w", err)
		}
		defer func() {
			_ = e.store.ReleaseRunLock(context.WithoutCancel(ctx), runID)
		}()
	}

	listing, err := e.src.ListPhotos(ctx)
	if err != nil {
		return nil, fmt.Errorf("list library: %w", err)
	}

	states, err := e.store.ScanStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load scan states: %w", err)
	}

	pending := PendingItems(listing, states, opts.Full)
	result := &RunResult{Listed: len(listing), Pending: len(pending)}

	// Dry runs keep fresh fingerprints in memory instead of the store.
	overlay := make(map[string]store.PhotoRecord)

	if err := e.processPending(ctx, pending, opts, result, overlay); err != nil {
		return nil, err
	}

	records, err := e.store.ListPhotos(ctx)
	if err != nil {
		return nil, fmt.Errorf("load fingerprints: %w", err)
	}
	records = applyOverlay(records, overlay)
	result.Photos = len(records)

	groups := buildPartition(records, opts.Threshold)
	result.Groups = len(groups)

	if !opts.DryRun {
		if err := e.store.ReplaceGroups(ctx, groups); err != nil {
			return nil, fmt.Errorf("replace groups: %w", err)
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// processPending fetches and fingerprints changed photos with a bounded
// worker pool. Persistence stays on the consumer side so each photo is
// saved in a single atomic write.
func (e *Engine) processPending(ctx context.Context, pending []source.Photo, opts Options, result *RunResult, overlay map[string]store.PhotoRecord) error {
	if len(pending) == 0 {
		return nil
	}

	// Cancelling on early return unblocks the producer and workers.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan source.Photo)
	results := make(chan processed)

	var wg sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for photo := range jobs {
				rec, err := e.processPhoto(ctx, photo)
				select {
				case results <- processed{photo: photo, rec: rec, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, photo := range pending {
			select {
			case jobs <- photo:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	done := 0
	for res := range results {
		done++
		if opts.Progress != nil {
			opts.Progress(done, len(pending))
		}

		switch {
		case res.err == nil:
			if opts.DryRun {
				overlay[res.rec.ID] = *res.rec
			} else if err := e.store.SavePhoto(ctx, *res.rec); err != nil {
				return fmt.Errorf("save photo %s: %w", res.rec.ID, err)
			}
			result.Processed++
		case isDecodeError(res.err):
			result.Undecodable++
		case isMissingError(res.err):
			result.Missing++
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			result.Failed++
		}
	}

	return ctx.Err()
}

// processPhoto downloads the thumbnail and computes all fingerprints.
func (e *Engine) processPhoto(ctx context.Context, photo source.Photo) (*store.PhotoRecord, error) {
	data, err := e.src.FetchThumbnail(ctx, photo.Hash)
	if err != nil {
		return nil, err
	}

	fp, err := fingerprint.Compute(data)
	if err != nil {
		return nil, err
	}

	// The listing's file hash identifies byte-identical originals. It is
	// preferred over hashing the thumbnail, which re-encodes pixels.
	contentHash := photo.FileHash
	if contentHash == "" {
		contentHash = fp.ContentHash
	}

	return &store.PhotoRecord{
		ID:            photo.UID,
		FileName:      photo.FileName,
		CaptureTime:   photo.TakenAt,
		Width:         photo.Width,
		Height:        photo.Height,
		ModMarker:     photo.Marker(),
		ContentHash:   contentHash,
		PHash:         fp.PHash,
		DHash:         fp.DHash,
		LastScannedAt: time.Now().UTC(),
	}, nil
}

// buildPartition folds every record into duplicate groups. Records must
// be sorted by id, replaying them in a stable order keeps group
// composition deterministic.
func buildPartition(records []store.PhotoRecord, threshold int) []store.DuplicateGroup {
	ix := NewIndex()
	builder := NewBuilder()

	firstWithContent := make(map[string]string, len(records))
	contentOf := make(map[string]string, len(records))

	for _, rec := range records {
		builder.Add(rec.ID)
		contentOf[rec.ID] = rec.ContentHash

		if first, ok := firstWithContent[rec.ContentHash]; ok {
			builder.Link(first, rec.ID, store.MatchExact)
		} else {
			firstWithContent[rec.ContentHash] = rec.ID
		}

		for kind := fingerprint.Kind(0); kind < fingerprint.KindCount; kind++ {
			for _, n := range ix.QueryWithin(kind, rec.Fingerprints().Hash(kind), threshold) {
				// Same content is already linked exact. Linking it
				// again as similar would wrongly downgrade the group.
				if contentOf[n.ID] == rec.ContentHash {
					continue
				}
				builder.Link(n.ID, rec.ID, store.MatchSimilar)
			}
		}

		ix.Insert(rec.ID, rec.PHash, rec.DHash)
	}

	return builder.Groups()
}

func applyOverlay(records []store.PhotoRecord, overlay map[string]store.PhotoRecord) []store.PhotoRecord {
	if len(overlay) == 0 {
		return records
	}

	seen := make(map[string]bool, len(records))
	for i, rec := range records {
		if fresh, ok := overlay[rec.ID]; ok {
			records[i] = fresh
		}
		seen[rec.ID] = true
	}
	for id, rec := range overlay {
		if !seen[id] {
			records = append(records, rec)
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records
}

func isDecodeError(err error) bool {
	var decode *fingerprint.DecodeError
	return errors.As(err, &decode)
}

func isMissingError(err error) bool {
	var permanent *source.PermanentError
	return errors.As(err, &permanent)
}
