package main

import (
	"bufio"
	"context"
	"math/bits"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/giftcard"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	maxCodeLen    = 64
)

// record is one parsed input line.
type record struct {
	code      string
	amount    decimal.Decimal
	expiresAt *time.Time
}

// parseLine parses CODE,AMOUNT[,EXPIRES_AT]. The code is normalized.
func parseLine(line string) (record, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) < 2 || len(fields) > 3 {
		return record{}, errors.Errorf("want 2 or 3 fields, got %d", len(fields))
	}
	code := giftcard.NormalizeCode(fields[0])
	if code == "" || len(code) > maxCodeLen {
		return record{}, errors.Errorf("invalid code %q", fields[0])
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(fields[1]))
	if err != nil {
		return record{}, errors.Wrap(err, "parse amount")
	}
	r := record{code: code, amount: amount}
	if len(fields) == 3 && strings.TrimSpace(fields[2]) != "" {
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(fields[2]))
		if err != nil {
			return record{}, errors.Wrap(err, "parse expiry")
		}
		r.expiresAt = &t
	}
	return r, nil
}

// fileResult holds what pass 2 found in a single file.
type fileResult struct {
	records []record
	// candidates maps codes that another file's filter may contain to this
	// file's bit.
	candidates map[string]uint
}

type importer struct {
	lg       *zap.Logger
	expected uint
}

// scan reads every file twice. Pass 1 builds one bloom filter per file;
// pass 2 parses the records and confirms codes seen in more than one file,
// which are dropped.
func (im *importer) scan(ctx context.Context, files []string) ([]record, error) {
	im.lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
	filters, err := im.buildFilters(ctx, files)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	im.lg.Info("Pass 2: parsing records")
	results := make([]fileResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			res, err := im.parseFile(gctx, i, f, filters)
			if err != nil {
				return errors.Wrapf(err, "parse %s", f)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r.candidates {
			merged[code] |= mask
		}
	}
	conflicts := make(map[string]struct{})
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			conflicts[code] = struct{}{}
		}
	}

	var out []record
	for _, r := range results {
		for _, rec := range r.records {
			if _, ok := conflicts[rec.code]; ok {
				continue
			}
			out = append(out, rec)
		}
	}
	im.lg.Info("Records ready",
		zap.Int("records", len(out)),
		zap.Int("conflicting_codes", len(conflicts)),
	)
	return out, nil
}

func (im *importer) buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(im.expected, bloomFPR)
			var count uint64
			err := streamGzFile(ctx, path, func(_ int, line string) {
				code, _, _ := strings.Cut(line, ",")
				if code = giftcard.NormalizeCode(code); code == "" {
					return
				}
				filter.AddString(code)
				if count++; count%progressEvery == 0 {
					im.lg.Info("Pass 1 progress", zap.Int("file", i+1), zap.Uint64("codes", count))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "build filter for %s", path)
			}
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

func (im *importer) parseFile(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) (fileResult, error) {
	res := fileResult{candidates: make(map[string]uint)}
	seen := make(map[string]struct{})
	fileBit := uint(1) << uint(idx)
	var invalid, repeated int

	err := streamGzFile(ctx, path, func(n int, line string) {
		if strings.TrimSpace(line) == "" {
			return
		}
		rec, err := parseLine(line)
		if err != nil {
			invalid++
			im.lg.Warn("Skipping invalid line", zap.String("file", path), zap.Int("line", n), zap.Error(err))
			return
		}
		if _, ok := seen[rec.code]; ok {
			repeated++
			return
		}
		seen[rec.code] = struct{}{}
		res.records = append(res.records, rec)

		for j, f := range filters {
			if j != idx && f.TestString(rec.code) {
				res.candidates[rec.code] |= fileBit
				break
			}
		}
	})
	if err != nil {
		return fileResult{}, err
	}

	im.lg.Info("Pass 2 complete",
		zap.Int("file", idx+1),
		zap.Int("records", len(res.records)),
		zap.Int("invalid", invalid),
		zap.Int("repeated", repeated),
		zap.Int("candidates", len(res.candidates)),
	)
	return res, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each line with
// its 1-based number.
func streamGzFile(ctx context.Context, path string, fn func(n int, line string)) error {
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
	n := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		n++
		fn(n, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

type issueStats struct {
	issued   int64
	existing int64
}

// issue creates the cards with at most workers concurrent inserts. Codes
// that already exist are counted, not failed.
func issue(ctx context.Context, m *giftcard.Manager, businessID string, records []record, workers int) (issueStats, error) {
	var stats issueStats
	now := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, rec := range records {
		g.Go(func() error {
			_, err := m.Issue(ctx, giftcard.IssueRequest{
				BusinessID: businessID,
				Code:       rec.code,
				Amount:     rec.amount,
				ExpiresAt:  rec.expiresAt,
				Now:        now,
			})
			switch {
			case errors.Is(err, giftcard.ErrDuplicateCode):
				atomic.AddInt64(&stats.existing, 1)
			case err != nil:
				return errors.Wrapf(err, "issue %s", rec.code)
			default:
				atomic.AddInt64(&stats.issued, 1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}
