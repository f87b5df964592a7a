// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/smallbets/smallbets/internal/audit"
	"github.com/smallbets/smallbets/internal/auth"
	"github.com/smallbets/smallbets/internal/automation"
	"github.com/smallbets/smallbets/internal/bet"
	"github.com/smallbets/smallbets/internal/config"
	"github.com/smallbets/smallbets/internal/docstore"
	"github.com/smallbets/smallbets/internal/handlers"
	"github.com/smallbets/smallbets/internal/ledger"
	"github.com/smallbets/smallbets/internal/metrics"
	"github.com/smallbets/smallbets/internal/middleware"
	"github.com/smallbets/smallbets/internal/notify"
	"github.com/smallbets/smallbets/internal/room"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	auth.Init(cfg.TokenExpire)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Document store: Postgres when configured, in-memory otherwise.
	var store docstore.Store
	var health metrics.HealthFunc
	if cfg.PostgresDSN != "" {
		pg, err := docstore.NewPostgres(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			log.Fatalf("docstore: %v", err)
		}
		defer pg.Close()
		store = pg
		health = func(ctx context.Context) error {
			_, err := pg.Get(ctx, "healthcheck")
			if err == docstore.ErrNotFound {
				return nil
			}
			return err
		}
		logger.Info("using Postgres document store")
	} else {
		store = docstore.NewMemory()
		logger.Warn("POSTGRES_DSN not set, using in-memory document store")
	}

	// Audit trail: Redis when configured.
	var auditor audit.Publisher = audit.Nop{}
	if cfg.RedisAddr != "" {
		rp, err := audit.NewRedisPublisher(ctx, cfg.RedisAddr, cfg.RedisDB, logger)
		if err != nil {
			log.Fatalf("audit: %v", err)
		}
		defer rp.Close()
		auditor = rp
		logger.Infof("audit records go to Redis at %s", cfg.RedisAddr)
	}

	lgr := ledger.New(store, auditor, logger)
	rooms := room.NewManager(store, auditor, logger, cfg.StartingPoints)
	rooms.UniqueNicknames = cfg.UniqueNicknames
	bets := bet.NewManager(store, lgr, auditor, logger, nil)
	gateway := automation.NewGateway(rooms, bets, logger, cfg.AutomationThreshold)
	fanout := notify.New(store, logger)

	var recognizer automation.Recognizer
	if cfg.RecognizerURL != "" {
		recognizer = automation.NewHTTPRecognizer(cfg.RecognizerURL)
		logger.Infof("transcripts go to recognizer at %s", cfg.RecognizerURL)
	} else {
		recognizer = automation.NoopRecognizer()
		logger.Warn("RECOGNIZER_URL not set, transcripts will be ignored")
	}

	srv := handlers.NewServer(rooms, bets, lgr, gateway, recognizer, fanout, logger)

	metricsSrv := metrics.StartServer(cfg.MetricsPort, health)
	defer metricsSrv.Close()

	httpSrv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: middleware.LogMiddleware(logger)(srv.Routes()),
	}

	errc := make(chan error, 1)
	go func() {
		logger.Infof("Running on %s", httpSrv.Addr)
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		log.Fatalf("server exited: %v", err)
	case <-ctx.Done():
		logger.Info("terminating")
		_ = httpSrv.Close()
	}
}
