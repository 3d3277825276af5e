// Command seed-catalog loads gzipped JSON-lines catalog dumps (products and
// accounts) into PostgreSQL. Existing rows are updated in place, so the tool
// is safe to re-run on a fresh export.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/angostura/backend/internal/storage/postgres"
)

const (
	productsFile = "products.jsonl.gz"
	accountsFile = "accounts.jsonl.gz"

	upsertProductSQL = `INSERT INTO products (id, name, price, stock, allow_backorder, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, price = EXCLUDED.price, stock = EXCLUDED.stock,
			allow_backorder = EXCLUDED.allow_backorder, active = EXCLUDED.active`

	upsertAccountSQL = `INSERT INTO accounts (id, name, phone, role, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, phone = EXCLUDED.phone,
			role = EXCLUDED.role, active = EXCLUDED.active`
)

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing products.jsonl.gz and accounts.jsonl.gz")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("catalog seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog seed completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := ingestFile(ctx, pool, filepath.Join(dataDir, productsFile), upsertProduct)
		if err != nil {
			return errors.Wrap(err, "products")
		}
		slog.Info("products loaded", slog.Int("count", n))
		return nil
	})
	g.Go(func() error {
		n, err := ingestFile(ctx, pool, filepath.Join(dataDir, accountsFile), upsertAccount)
		if err != nil {
			return errors.Wrap(err, "accounts")
		}
		slog.Info("accounts loaded", slog.Int("count", n))
		return nil
	})
	return g.Wait()
}

// ingestFile streams a gzipped JSON-lines file, applying upsert to each line.
// It returns how many rows were written.
func ingestFile(
	ctx context.Context,
	pool *pgxpool.Pool,
	path string,
	upsert func(ctx context.Context, pool *pgxpool.Pool, line []byte) error,
) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return 0, errors.Wrapf(err, "gunzip %s", path)
	}
	defer gz.Close()

	count := 0
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := upsert(ctx, pool, line); err != nil {
			return count, errors.Wrapf(err, "line %d", count+1)
		}
		count++
	}
	return count, scanner.Err()
}

func upsertProduct(ctx context.Context, pool *pgxpool.Pool, line []byte) error {
	var (
		id, name       string
		price          decimal.Decimal
		stock          int
		allowBackorder bool
		active         = true
	)
	d := jx.DecodeBytes(line)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := d.Str()
			id = v
			return err
		case "name":
			v, err := d.Str()
			name = v
			return err
		case "price":
			v, err := d.Str()
			if err != nil {
				return err
			}
			price, err = decimal.NewFromString(v)
			return err
		case "stock":
			v, err := d.Int()
			stock = v
			return err
		case "allow_backorder":
			v, err := d.Bool()
			allowBackorder = v
			return err
		case "active":
			v, err := d.Bool()
			active = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return errors.Wrap(err, "decode product")
	}
	if id == "" || name == "" {
		return errors.New("product requires id and name")
	}

	_, err = pool.Exec(ctx, upsertProductSQL, id, name, price, stock, allowBackorder, active)
	return err
}

func upsertAccount(ctx context.Context, pool *pgxpool.Pool, line []byte) error {
	var (
		id, name, phone, role string
		active                = true
	)
	d := jx.DecodeBytes(line)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := d.Str()
			id = v
			return err
		case "name":
			v, err := d.Str()
			name = v
			return err
		case "phone":
			v, err := d.Str()
			phone = v
			return err
		case "role":
			v, err := d.Str()
			role = v
			return err
		case "active":
			v, err := d.Bool()
			active = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return errors.Wrap(err, "decode account")
	}
	if id == "" || phone == "" || role == "" {
		return errors.New("account requires id, phone and role")
	}

	_, err = pool.Exec(ctx, upsertAccountSQL, id, name, phone, role, active)
	return err
}
