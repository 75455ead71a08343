package command

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"myriad/api/internal/archive"
	"myriad/api/internal/config"
	"myriad/api/internal/crawler"
	"myriad/api/internal/crawler/platform"
	"myriad/api/internal/currency"
	"myriad/api/internal/cursor"
	"myriad/api/internal/metrics"
	"myriad/api/internal/search"
	"myriad/api/internal/store"
	"myriad/api/internal/wallet"
)

// runtime owns every long-lived dependency a command needs.
type runtime struct {
	cfg      config.Config
	db       *sql.DB
	store    *store.PostgresStore
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	cursors  *cursor.RedisStore
	meili    *search.Meili
	search   *search.Service
	rates    *currency.Refresher
	engine   *crawler.Engine
}

func openRuntime(ctx context.Context, cfg config.Config) (*runtime, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	rt := &runtime{cfg: cfg, db: db, store: store.NewPostgresStore(db)}

	rt.registry = prometheus.NewRegistry()
	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.metrics = metrics.New(rt.registry)

	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := cursor.Dial(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Warn("redis unavailable; crawl cursors and exchange rates disabled")
		} else {
			rt.cursors = cursor.NewRedisStoreWithClient(client)
			rt.rates = currency.NewRefresher(cfg.ExchangeRateURL, cfg.ExchangeRateIDs, nil, currency.NewRedisCache(client, time.Hour))
		}
	}

	if strings.TrimSpace(cfg.MeiliURL) != "" {
		rt.meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	rt.search = search.NewService(rt.meili, search.NewPgFTS(db))

	engine, err := rt.buildEngine(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.engine = engine
	return rt, nil
}

func (rt *runtime) buildEngine(ctx context.Context) (*crawler.Engine, error) {
	cfg := rt.cfg
	deriver, err := wallet.NewDeriver(cfg.CustodialSeed)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: cfg.FetchTimeout}
	var cursors platform.CursorStore
	if rt.cursors != nil {
		cursors = rt.cursors
	}
	adapters := []platform.Adapter{
		platform.NewReddit(cfg.RedditBaseURL, platform.NewFetcher(client, cfg.FetchRatePerSecond)),
		platform.NewTwitter(cfg.TwitterBaseURL, cfg.TwitterBearerToken, platform.NewFetcher(client, cfg.FetchRatePerSecond), cursors),
		platform.NewFacebook(cfg.RSSHubBaseURL, platform.NewFetcher(client, cfg.FetchRatePerSecond)),
	}

	opts := crawler.Options{
		FetchTimeout: cfg.FetchTimeout,
		Index:        rt.search,
		Metrics:      rt.metrics,
	}
	if strings.TrimSpace(cfg.ArchiveEndpoint) != "" {
		archiver, err := archive.NewMinioArchive(archive.Config{
			Endpoint:  cfg.ArchiveEndpoint,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			Bucket:    cfg.ArchiveBucket,
			UseSSL:    cfg.ArchiveUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("archive: %w", err)
		}
		if err := archiver.EnsureBucket(ctx); err != nil {
			log.WithError(err).Warn("archive bucket unavailable; payloads will not be archived")
		} else {
			opts.Archive = archiver
		}
	}

	return crawler.NewEngine(rt.store, deriver, adapters, opts), nil
}

func (rt *runtime) Close() {
	if rt.meili != nil {
		rt.meili.Close()
	}
	if rt.cursors != nil {
		_ = rt.cursors.Close()
	}
	_ = rt.db.Close()
}

// platformsFromArgs resolves CLI arguments to crawled platforms. No arguments
// means every platform the engine knows.
func platformsFromArgs(engine *crawler.Engine, args []string) ([]store.Platform, error) {
	known := engine.Platforms()
	if len(args) == 0 {
		return known, nil
	}
	var platforms []store.Platform
	for _, arg := range args {
		p := store.Platform(strings.ToLower(strings.TrimSpace(arg)))
		found := false
		for _, k := range known {
			if k == p {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", crawler.ErrUnknownPlatform, arg)
		}
		platforms = append(platforms, p)
	}
	return platforms, nil
}
