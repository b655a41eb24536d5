// Command giftcard-import issues gift cards from gzip-compressed CSV files.
//
// Each line holds CODE,AMOUNT and optionally an RFC 3339 expiry. Codes that
// appear in more than one file are ambiguous and skipped; repeats inside a
// file keep the first line.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/giftcard"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/storage/postgres"
)

func main() {
	var (
		dataDir     string
		databaseURL string
		businessID  string
		expected    uint
		workers     int
	)
	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.csv.gz gift card files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&businessID, "business-id", "demo", "business the cards are issued for")
	flag.UintVar(&expected, "expected-codes", 1_000_000, "expected codes per file, sizes the bloom filters")
	flag.IntVar(&workers, "workers", 8, "concurrent inserts")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, dataDir, databaseURL, businessID, expected, workers); err != nil {
		lg.Fatal("Gift card import failed", zap.Error(err))
	}
	lg.Info("Gift card import completed successfully")
}

func run(ctx context.Context, lg *zap.Logger, dataDir, databaseURL, businessID string, expected uint, workers int) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.csv.gz"))
	if err != nil {
		return errors.Wrap(err, "list input files")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.csv.gz files in %s", dataDir)
	}

	im := &importer{lg: lg, expected: expected}
	records, err := im.scan(ctx, files)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		lg.Info("No gift cards to issue")
		return nil
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()
	store := postgres.NewStore(pool)

	stats, err := issue(ctx, giftcard.NewManager(store.GiftCards()), businessID, records, workers)
	if err != nil {
		return errors.Wrap(err, "issue gift cards")
	}
	lg.Info("Gift cards written",
		zap.Int64("issued", stats.issued),
		zap.Int64("already_present", stats.existing),
	)
	return nil
}
