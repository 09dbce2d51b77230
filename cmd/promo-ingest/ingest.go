package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/promo"
)

const progressEvery = 1_000_000

// promoWriter is the part of the promocode repository the ingester needs.
type promoWriter interface {
	ExistingCodes(ctx context.Context, codes []string) ([]string, error)
	UpsertBatch(ctx context.Context, codes []promo.Promocode, description string) error
}

// stats counts what happened to every input line.
type stats struct {
	Read       atomic.Int64
	Invalid    int64
	Duplicates int64
	Existing   int64
	Written    int64
}

// ingester streams codes from files and upserts them with a campaign
// template. Codes repeated across the input are dropped by a bloom filter;
// codes already stored are dropped by an exact lookup unless overwrite is
// set.
type ingester struct {
	lg          *zap.Logger
	repo        promoWriter
	template    promo.Promocode
	description string
	batchSize   int
	minLen      int
	maxLen      int
	overwrite   bool
	seen        *bloom.BloomFilter
}

func (in *ingester) Run(ctx context.Context, files []string) (*stats, error) {
	st := &stats{}
	codes := make(chan string, 4096)

	g, gCtx := errgroup.WithContext(ctx)
	var readers sync.WaitGroup
	for _, path := range files {
		readers.Add(1)
		g.Go(func() error {
			defer readers.Done()
			return in.read(gCtx, path, codes, st)
		})
	}
	g.Go(func() error {
		readers.Wait()
		close(codes)
		return nil
	})
	g.Go(func() error {
		return in.consume(gCtx, codes, st)
	})

	if err := g.Wait(); err != nil {
		return st, err
	}
	return st, nil
}

func (in *ingester) read(ctx context.Context, path string, out chan<- string, st *stats) error {
	var count int64
	err := streamFile(ctx, path, func(line string) error {
		count++
		if n := st.Read.Add(1); n%progressEvery == 0 {
			in.lg.Info("Read progress", zap.Int64("codes", n))
		}
		select {
		case out <- line:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	in.lg.Info("File complete", zap.String("path", path), zap.Int64("lines", count))
	return nil
}

func (in *ingester) consume(ctx context.Context, codes <-chan string, st *stats) error {
	batch := make([]string, 0, in.batchSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-codes:
			if !ok {
				return in.flush(ctx, batch, st)
			}
			code, valid := in.normalize(line)
			if !valid {
				st.Invalid++
				continue
			}
			if in.seen.TestAndAddString(code) {
				st.Duplicates++
				continue
			}
			batch = append(batch, code)
			if len(batch) < in.batchSize {
				continue
			}
			if err := in.flush(ctx, batch, st); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
}

// normalize upper-cases a line and reports whether it is a usable code.
// Lines carrying characters a promocode cannot contain are rejected rather
// than silently rewritten.
func (in *ingester) normalize(line string) (string, bool) {
	raw := strings.ToUpper(strings.TrimSpace(line))
	if len(raw) < in.minLen || len(raw) > in.maxLen {
		return "", false
	}
	code := checkout.SanitizePromoCode(raw)
	return code, code == raw
}

func (in *ingester) flush(ctx context.Context, batch []string, st *stats) error {
	if len(batch) == 0 {
		return nil
	}

	fresh := batch
	if !in.overwrite {
		existing, err := in.repo.ExistingCodes(ctx, batch)
		if err != nil {
			return errors.Wrap(err, "check existing codes")
		}
		if len(existing) > 0 {
			skip := make(map[string]struct{}, len(existing))
			for _, c := range existing {
				skip[strings.ToUpper(c)] = struct{}{}
			}
			fresh = make([]string, 0, len(batch)-len(existing))
			for _, c := range batch {
				if _, ok := skip[c]; !ok {
					fresh = append(fresh, c)
				}
			}
			st.Existing += int64(len(batch) - len(fresh))
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	rows := make([]promo.Promocode, len(fresh))
	for i, c := range fresh {
		p := in.template
		p.Code = c
		rows[i] = p
	}
	if err := in.repo.UpsertBatch(ctx, rows, in.description); err != nil {
		return errors.Wrapf(err, "write batch of %d codes", len(rows))
	}
	st.Written += int64(len(rows))
	in.lg.Debug("Batch written", zap.Int("codes", len(rows)), zap.Int64("total", st.Written))
	return nil
}

// streamFile calls fn for every line of path. Files ending in .gz are
// decompressed.
func streamFile(ctx context.Context, path string, fn func(line string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
