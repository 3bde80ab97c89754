// Command pointload reads lon,lat rows from CSV and stores them as a density
// dataset in Redis. An optional third column is the point's category.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohammed-shakir/wmsd/internal/cache/keys"
	"github.com/mohammed-shakir/wmsd/internal/cache/redisstore"
	"github.com/mohammed-shakir/wmsd/internal/core/config"
	"github.com/mohammed-shakir/wmsd/internal/invalidation"
	"github.com/mohammed-shakir/wmsd/internal/logger"
	"github.com/mohammed-shakir/wmsd/internal/modules/density"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()
	addr := flag.String("redis", cfg.RedisAddr, "redis address")
	dataset := flag.String("dataset", cfg.DensityDataset, "dataset name")
	replace := flag.Bool("replace", false, "delete the dataset before loading")
	batch := flag.Int("batch", 1000, "points per pipelined RPUSH")
	notify := flag.Bool("notify", cfg.Invalidation.Enabled, "publish a dataset invalidation to Kafka after loading")
	flag.Parse()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Service:   "wmsd",
		Component: "pointload",
	}, os.Stderr)
	log := logger.NewSlog(&zl)

	var in io.Reader = os.Stdin
	if flag.NArg() > 0 && flag.Arg(0) != "-" {
		f, err := os.Open(flag.Arg(0))
		if err != nil {
			log.Error("open input", "err", err)
			return 1
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := redisstore.New(ctx, *addr, redisstore.OpOptions(cfg.RedisPoolSize, cfg.RedisOpTimeout)...)
	if err != nil {
		log.Error("redis connect", "addr", *addr, "err", err)
		return 1
	}
	defer func() { _ = c.Close() }()

	n, err := load(ctx, in, c, *dataset, *replace, *batch, log)
	if err != nil {
		log.Error("load failed", "dataset", *dataset, "err", err)
		return 1
	}
	log.Info("dataset loaded", "dataset", *dataset, "key", keys.Dataset(*dataset), "points", n)

	if *notify {
		op := invalidation.OpAppend
		if *replace {
			op = invalidation.OpReplace
		}
		nt, err := invalidation.NewNotifier(cfg.Invalidation.Brokers, cfg.Invalidation.Topic)
		if err != nil {
			log.Error("invalidation producer", "err", err)
			return 1
		}
		defer func() { _ = nt.Close() }()
		if err := nt.Notify(invalidation.NewEvent(op, *dataset, n, "pointload")); err != nil {
			log.Error("invalidation publish", "err", err)
			return 1
		}
		log.Info("invalidation published", "topic", cfg.Invalidation.Topic, "op", op)
	}
	return 0
}

// load parses every row and writes the points in one go, so a malformed file
// leaves the stored dataset untouched. A non-numeric first row is treated as a
// header.
func load(ctx context.Context, in io.Reader, c *redisstore.Client, dataset string, replace bool, batch int, log *slog.Logger) (int, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.Comment = '#'

	var rows []string
	line := 0
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read csv: %w", err)
		}
		line++
		if len(rec) < 2 {
			return 0, fmt.Errorf("line %d: want lon,lat", line)
		}
		p, err := density.ParsePoint(rec[0] + "," + rec[1])
		if err != nil {
			if line == 1 {
				log.Debug("skipping header", "header", rec)
				continue
			}
			return 0, fmt.Errorf("line %d: %w", line, err)
		}
		cat := ""
		if len(rec) > 2 {
			cat = strings.TrimSpace(rec[2])
		}
		rows = append(rows, density.FormatRow(p, cat))
	}
	if len(rows) == 0 {
		return 0, density.ErrEmptyDataset
	}

	key := keys.Dataset(dataset)
	if replace {
		if err := c.Del(ctx, key); err != nil {
			return 0, err
		}
	}
	if err := c.RPush(ctx, key, rows, batch); err != nil {
		return 0, err
	}
	return len(rows), nil
}
