// Command rop-backfill replays archived ROP package notifications into the
// settlement engine. Archives are gzip-compressed NDJSON files, one
// {"order": "...", "package": {...}} event per line.
package main

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appkg "github.com/xenking/rop-settlement/internal/app"
	"github.com/xenking/rop-settlement/internal/domain/payment"
	"github.com/xenking/rop-settlement/internal/domain/settlement"
	"github.com/xenking/rop-settlement/internal/lock"
	"github.com/xenking/rop-settlement/internal/repository"
)

type config struct {
	DataDir     string `default:"data" usage:"Directory containing *.ndjson.gz archives" flag:"data-dir"`
	DatabaseURL string `usage:"PostgreSQL connection URL (ROP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Workers     int    `default:"8" usage:"Orders replayed concurrently" flag:"workers"`
	Expected    uint   `default:"1000000" usage:"Expected event count, sizes the dedupe filter" flag:"expected"`
	DryRun      bool   `usage:"Load and dedupe only, do not apply" flag:"dry-run"`
	Redis       appkg.RedisConfig
	Settlement  appkg.SettlementConfig
}

func loadConfig() (*config, error) {
	var cfg config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ROP",
		Files:     []string{"config.yaml", "/etc/rop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
		AllowUnknownFields: true,
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if cfg.DatabaseURL == "" && !cfg.DryRun {
		return nil, errors.New("database URL is required: set --database-url or ROP_DATABASE_URL")
	}
	return &cfg, nil
}

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return run(ctx, lg, m, cfg)
	})
}

func run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *config) error {
	files, err := archiveFiles(cfg.DataDir)
	if err != nil {
		return err
	}
	lg.Info("Loading archives", zap.Int("files", len(files)), zap.String("dir", cfg.DataDir))

	a := newArchive(cfg.Expected)
	if err := load(ctx, lg, files, a); err != nil {
		return errors.Wrap(err, "load archives")
	}
	orders := a.orders()
	lg.Info("Archives loaded",
		zap.Int("lines", a.lines),
		zap.Int("duplicates", a.duplicates),
		zap.Int("invalid", a.invalid),
		zap.Int("orders", len(orders)),
	)
	if cfg.DryRun || len(orders) == 0 {
		return nil
	}

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	locker, closeLocker, err := newLocker(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeLocker()

	// Packages never touch payments, so no gateway is registered.
	eng, err := appkg.NewEngine(cfg.Settlement, repository.NewStore(pool), payment.NewRegistry(""),
		settlement.WithLocker(locker),
		settlement.WithMeterProvider(m.MeterProvider()),
		settlement.WithTracerProvider(m.TracerProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "init settlement engine")
	}

	stats, err := replay(ctx, lg, eng, a, cfg.Workers)
	lg.Info("Replay finished", zap.Int("applied", stats.applied), zap.Int("failed", stats.failed))
	if err != nil {
		return errors.Wrap(err, "replay")
	}
	return nil
}

// newLocker shares the API server's order lock when Redis is configured so a
// backfill can run next to live traffic.
func newLocker(ctx context.Context, cfg appkg.RedisConfig) (settlement.Locker, func(), error) {
	if cfg.URL == "" {
		return lock.NewLocalWait(cfg.LockWait), func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, errors.Wrap(err, "ping redis")
	}
	return lock.NewRedis(rdb, lock.RedisOptions{TTL: cfg.LockTTL, Wait: cfg.LockWait}), func() { _ = rdb.Close() }, nil
}

func archiveFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.ndjson.gz"))
	if err != nil {
		return nil, errors.Wrap(err, "list archives")
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no *.ndjson.gz archives in %s", dir)
	}
	sort.Strings(files)
	return files, nil
}
