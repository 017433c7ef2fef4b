package main

import (
	"bufio"
	"context"
	"os"
	"sort"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/rop-settlement/internal/domain/settlement"
	"github.com/xenking/rop-settlement/internal/handler"
)

const (
	bloomFPR      = 0.001
	progressEvery = 100_000
	maxLineSize   = 1 << 20
)

// event is one archived ROP package notification.
type event struct {
	Order   string
	Package settlement.Package
}

// archive accumulates events from all files, dropping repeated
// (order, package) pairs. The bloom filter answers "definitely new" for the
// common case; only probable repeats are confirmed against the order's events.
type archive struct {
	mu      sync.Mutex
	seen    *bloom.BloomFilter
	byOrder map[string][]settlement.Package

	lines      int
	duplicates int
	invalid    int
}

func newArchive(expected uint) *archive {
	return &archive{
		seen:    bloom.NewWithEstimates(max(expected, 1024), bloomFPR),
		byOrder: make(map[string][]settlement.Package),
	}
}

// add records ev and reports whether it was new.
func (a *archive) add(ev event) bool {
	key := ev.Order + "\x00" + ev.Package.ID

	a.mu.Lock()
	defer a.mu.Unlock()
	a.lines++
	if a.seen.TestOrAddString(key) {
		for _, p := range a.byOrder[ev.Order] {
			if p.ID == ev.Package.ID {
				a.duplicates++
				return false
			}
		}
	}
	a.byOrder[ev.Order] = append(a.byOrder[ev.Order], ev.Package)
	return true
}

func (a *archive) reject() {
	a.mu.Lock()
	a.invalid++
	a.mu.Unlock()
}

// orders returns order numbers in a stable order, with each order's packages
// sorted by ship date then id.
func (a *archive) orders() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	numbers := make([]string, 0, len(a.byOrder))
	for number, pkgs := range a.byOrder {
		sort.SliceStable(pkgs, func(i, j int) bool {
			if !pkgs[i].Date.Equal(pkgs[j].Date) {
				return pkgs[i].Date.Before(pkgs[j].Date)
			}
			return pkgs[i].ID < pkgs[j].ID
		})
		numbers = append(numbers, number)
	}
	sort.Strings(numbers)
	return numbers
}

func (a *archive) packages(number string) []settlement.Package {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.byOrder[number]
}

// load decodes every file concurrently into the archive. Malformed lines are
// counted and logged, not fatal.
func load(ctx context.Context, lg *zap.Logger, files []string, a *archive) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, path := range files {
		g.Go(func() error {
			var n int
			err := streamGzLines(ctx, path, func(line []byte) {
				ev, err := decodeEvent(line)
				if err != nil {
					a.reject()
					lg.Warn("Skipping malformed event", zap.String("file", path), zap.Error(err))
					return
				}
				a.add(ev)
				if n++; n%progressEvery == 0 {
					lg.Info("Load progress", zap.String("file", path), zap.Int("events", n))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "load %s", path)
			}
			lg.Info("Loaded file", zap.String("file", path), zap.Int("events", n))
			return nil
		})
	}
	return g.Wait()
}

// decodeEvent parses {"order": "...", "package": {...}}.
func decodeEvent(line []byte) (event, error) {
	var (
		ev         event
		hasPackage bool
	)
	err := jx.DecodeBytes(line).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "order":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "order")
			}
			ev.Order = v
		case "package":
			p, err := handler.DecodePackage(d)
			if err != nil {
				return errors.Wrap(err, "package")
			}
			ev.Package, hasPackage = p, true
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return event{}, err
	}
	if ev.Order == "" || !hasPackage {
		return event{}, errors.New("event needs order and package")
	}
	return ev, nil
}

// streamGzLines opens a gzip-compressed file and calls fn for each non-empty line.
func streamGzLines(ctx context.Context, path string, fn func(line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if line := scanner.Bytes(); len(line) > 0 {
			fn(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

// packageApplier is the part of the settlement engine the backfill drives.
type packageApplier interface {
	AddPackages(ctx context.Context, number string, req settlement.AddPackagesRequest) error
}

// replayStats summarizes a replay.
type replayStats struct {
	mu      sync.Mutex
	applied int
	failed  int
}

// replay applies each order's packages one at a time so a bad package does
// not block the rest of its order. Orders run concurrently up to workers.
func replay(ctx context.Context, lg *zap.Logger, eng packageApplier, a *archive, workers int) (*replayStats, error) {
	var (
		stats replayStats
		errMu sync.Mutex
		errs  error
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, number := range a.orders() {
		g.Go(func() error {
			for _, pkg := range a.packages(number) {
				if err := ctx.Err(); err != nil {
					return err
				}
				err := eng.AddPackages(ctx, number, settlement.AddPackagesRequest{
					Packages: []settlement.Package{pkg},
				})

				stats.mu.Lock()
				if err != nil {
					stats.failed++
				} else {
					stats.applied++
				}
				stats.mu.Unlock()

				if err != nil {
					lg.Warn("Package failed",
						zap.String("order", number),
						zap.String("package", pkg.ID),
						zap.Error(err),
					)
					errMu.Lock()
					errs = multierr.Append(errs, errors.Wrapf(err, "order %s package %s", number, pkg.ID))
					errMu.Unlock()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return &stats, err
	}
	return &stats, errs
}
