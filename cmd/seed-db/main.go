package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/repository"
)

type options struct {
	databaseURL  string
	catalogFile  string
	apiKey       string
	apiKeyUser   string
	apiKeyRole   string
	apiKeyPepper string
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.catalogFile, "catalog", "db/seed/catalog.json", "path to catalog JSON, optionally gzipped (.gz)")
	flag.StringVar(&opts.apiKey, "api-key", "", "API key to seed (or SHOP_SEED_API_KEY env); empty skips")
	flag.StringVar(&opts.apiKeyUser, "api-key-user", "admin", "user id owning the seeded API key")
	flag.StringVar(&opts.apiKeyRole, "api-key-role", string(auth.RoleAdmin), "role of the seeded API key")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.Parse()

	opts.databaseURL = orEnv(opts.databaseURL, "DATABASE_URL")
	opts.apiKey = orEnv(opts.apiKey, "SHOP_SEED_API_KEY")
	opts.apiKeyPepper = orEnv(opts.apiKeyPepper, "SHOP_API_KEY_PEPPER")

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if opts.databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func orEnv(v, env string) string {
	if v != "" {
		return v
	}
	return os.Getenv(env)
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	lg.Info("Reading catalog", zap.String("path", opts.catalogFile))
	c, err := readCatalog(opts.catalogFile)
	if err != nil {
		return err
	}

	var key *auth.APIKeyInfo
	if opts.apiKey != "" {
		role, err := auth.ParseRole(opts.apiKeyRole)
		if err != nil {
			return err
		}
		key = &auth.APIKeyInfo{
			ID:      "seed-" + opts.apiKeyUser,
			KeyHash: auth.HashKey([]byte(opts.apiKeyPepper), opts.apiKey),
			Name:    "Seeded key for " + opts.apiKeyUser,
			UserID:  opts.apiKeyUser,
			Role:    role,
		}
	}

	pool, err := repository.NewPool(ctx, opts.databaseURL, 4)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	products := repository.NewProductRepository(pool)
	offers := repository.NewOfferRepository(pool)

	// Offers of seeded products are replaced, so reseeding is repeatable.
	err = repository.NewTransactor(pool).WithinTx(ctx, func(ctx context.Context) error {
		if err := products.Upsert(ctx, c.Products); err != nil {
			return err
		}
		removed, err := offers.DeleteByProducts(ctx, c.productIDs())
		if err != nil {
			return err
		}
		if err := offers.Insert(ctx, c.Offers); err != nil {
			return err
		}
		lg.Info("Catalog seeded",
			zap.Int("products", len(c.Products)),
			zap.Int("offers", len(c.Offers)),
			zap.Int64("offers_replaced", removed),
		)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	if key == nil {
		lg.Info("No API key given, skipping")
		return nil
	}
	if err := repository.NewAPIKeyRepository(pool).Upsert(ctx, *key); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	lg.Info("API key seeded", zap.String("id", key.ID), zap.String("role", string(key.Role)))
	return nil
}
