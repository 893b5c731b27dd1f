package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/BrandonDHaskell/gatepass/internal/config"
	"github.com/BrandonDHaskell/gatepass/internal/db"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/artifact"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/codec"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/notify"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/service"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/store"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/store/memory"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/store/sqlite"
	"github.com/BrandonDHaskell/gatepass/internal/grpcapi"
	"github.com/BrandonDHaskell/gatepass/internal/httpapi"
	"github.com/BrandonDHaskell/gatepass/internal/roster"
)

func main() {
	logger := log.New(os.Stdout, "gatepass-server ", log.LstdFlags|log.LUTC)
	if err := run(logger); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		logger.Printf("fatal: %v", err)
		os.Exit(1)
	}
}

// stores groups the persistence backends chosen at startup.
type stores struct {
	passes    store.PassStore
	directory store.DirectoryStore
	artifacts store.ArtifactStore
	inbox     store.NotificationStore
	close     func()
}

func run(logger *log.Logger) error {
	var (
		envFile  string
		httpAddr string
		grpcAddr string
		storeArg string
		rosterAt string
	)
	flagSet := pflag.NewFlagSet("gatepass-server", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading GATEPASS_* variables")
	flagSet.StringVar(&httpAddr, "http-addr", "", "HTTP listen address (overrides GATEPASS_HTTP_ADDR)")
	flagSet.StringVar(&grpcAddr, "grpc-addr", "", "gRPC health listen address (overrides GATEPASS_GRPC_ADDR)")
	flagSet.StringVar(&storeArg, "store", "", "storage backend: sqlite or memory (overrides GATEPASS_STORE)")
	flagSet.StringVar(&rosterAt, "roster", "", "roster YAML file (overrides GATEPASS_ROSTER_PATH)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	if flagSet.Changed("http-addr") {
		cfg.HTTPAddr = httpAddr
	}
	if flagSet.Changed("grpc-addr") {
		cfg.GRPCAddr = grpcAddr
	}
	if flagSet.Changed("store") {
		cfg.Store = storeArg
	}
	if flagSet.Changed("roster") {
		cfg.RosterPath = rosterAt
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var r *roster.Roster
	if cfg.RosterPath != "" {
		if r, err = roster.Load(cfg.RosterPath); err != nil {
			return err
		}
		logger.Printf("roster: %d students, %d departments", len(r.Students), len(r.Departments))
	} else {
		logger.Printf("no roster configured; pass creation will fail until one is loaded")
	}

	st, err := openStores(ctx, cfg, r)
	if err != nil {
		return err
	}
	defer st.close()
	logger.Printf("store: %s", cfg.Store)

	c, err := codec.New(codec.Config{Secret: cfg.CodeSecret, TokenTTL: cfg.TokenTTL})
	if err != nil {
		return err
	}

	// Notifications
	publishers := []notify.Publisher{notify.NewInboxPublisher(st.inbox)}
	if len(cfg.KafkaBrokers) > 0 {
		format, err := notify.ParseFormat(cfg.EventEncoding)
		if err != nil {
			return err
		}
		kp, err := notify.NewKafkaPublisher(notify.KafkaConfig{
			Brokers:  cfg.KafkaBrokers,
			Topic:    cfg.KafkaTopic,
			Username: cfg.KafkaUsername,
			Password: cfg.KafkaPassword,
			Format:   format,
		})
		if err != nil {
			return err
		}
		defer kp.Close()
		publishers = append(publishers, kp)
		logger.Printf("kafka: brokers=%v topic=%s encoding=%s", cfg.KafkaBrokers, cfg.KafkaTopic, format)
	}
	dispatcher := notify.NewDispatcher(cfg.NotifyBuffer, logger, publishers...)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	// QR rendering
	retry := artifact.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.ArtifactMaxAttempts
	queue := artifact.NewQueue(artifact.QRRenderer{}, st.artifacts, 0, retry, logger)
	queue.Start(ctx)
	defer queue.Stop()

	passSvc := service.NewPassService(service.PassDeps{
		Store:     st.passes,
		Directory: service.NewDirectory(st.directory),
		Codec:     c,
		Notifier:  dispatcher,
		Artifacts: queue,
		Policy: service.Policy{
			ApprovalValidity: cfg.ApprovalValidity,
			MaxOutstanding:   cfg.MaxOutstanding,
		},
		Logger: logger,
	})

	// gRPC health
	var health *grpcapi.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		health = grpcapi.New(logger)
		go func() {
			logger.Printf("grpc health listening on %s", cfg.GRPCAddr)
			if err := health.Serve(lis); err != nil {
				logger.Printf("grpc server error: %v", err)
				stop()
			}
		}()
	}

	var reporter service.HealthReporter
	if health != nil {
		reporter = health
	}
	scheduler := service.NewExpiryScheduler(passSvc, service.SchedulerConfig{
		Interval:      cfg.SweepInterval,
		WarningWindow: cfg.WarningWindow,
		BatchLimit:    cfg.SweepBatchLimit,
	}, reporter, logger)
	scheduler.Start(ctx)

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:      logger,
		Addr:        cfg.HTTPAddr,
		PassService: passSvc,
		Artifacts:   st.artifacts,
		Inbox:       st.inbox,
	})

	go func() {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	scheduler.Stop()
	if health != nil {
		health.Stop(shutdownCtx)
	}
	return nil
}

func openStores(ctx context.Context, cfg config.Config, r *roster.Roster) (stores, error) {
	if cfg.Store == "memory" {
		return stores{
			passes:    memory.NewPassStore(),
			directory: memory.NewDirectoryStore(r),
			artifacts: memory.NewArtifactStore(),
			inbox:     memory.NewNotificationStore(),
			close:     func() {},
		}, nil
	}

	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		return stores{}, err
	}
	if r != nil {
		if err := db.SeedRoster(ctx, conn, r); err != nil {
			_ = conn.Close()
			return stores{}, err
		}
	}
	writer := db.NewWorker(conn)
	return stores{
		passes:    sqlite.NewPassStore(conn, writer),
		directory: sqlite.NewDirectoryStore(conn),
		artifacts: sqlite.NewArtifactStore(conn, writer),
		inbox:     sqlite.NewNotificationStore(conn, writer),
		close:     closeDB(writer, conn),
	}, nil
}

func closeDB(writer *db.Worker, conn *sql.DB) func() {
	return func() {
		writer.Close()
		_ = conn.Close()
	}
}
