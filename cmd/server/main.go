package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/mindlogger/mindlogger-go/internal/api"
	"github.com/mindlogger/mindlogger-go/internal/config"
	dbstore "github.com/mindlogger/mindlogger-go/internal/db"
	"github.com/mindlogger/mindlogger-go/internal/metrics"
	"github.com/mindlogger/mindlogger-go/internal/middleware"
	"github.com/mindlogger/mindlogger-go/internal/notify"
	"github.com/mindlogger/mindlogger-go/internal/utils"
)

func main() {
	cfg, err := config.Load(utils.SafeEnv("MINDLOGGER_CONFIG", "config.yaml"))
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	store, err := openStore(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("open store")
	}

	planner := notify.NewPlanner(store)
	planner.SetHorizon(time.Duration(cfg.Notifications.HorizonDays) * 24 * time.Hour)
	sweeper := notify.NewSweeper(store, &notify.LogSender{}, nil)

	sched := cron.New()
	if _, err := sched.AddFunc(cfg.Notifications.SweepCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		result, err := sweeper.Sweep(ctx)
		if err != nil {
			logrus.WithError(err).Warn("notification sweep failed")
			return
		}
		if result.Sent > 0 || result.Failed > 0 {
			logrus.WithFields(logrus.Fields{"sent": result.Sent, "failed": result.Failed}).Info("notification sweep")
		}
	}); err != nil {
		logrus.WithError(err).Fatal("schedule notification sweep")
	}
	sched.Start()
	defer sched.Stop()

	mux := http.NewServeMux()
	api.NewRouter(store, planner).Register(mux)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":      true,
			"name":    "MindLogger API",
			"backend": cfg.Store.Backend,
		})
	})

	handler := middleware.SecureHeaders(middleware.CORS(middleware.WithAuth(mux)))

	logrus.WithFields(logrus.Fields{"addr": cfg.Listen, "backend": cfg.Store.Backend}).Info("server listening")
	if err := http.ListenAndServe(cfg.Listen, handler); err != nil {
		logrus.WithError(err).Fatal("server error")
	}
}

func openStore(cfg *config.Config) (api.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return api.NewMemoryStore(), nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Store.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		dsn := fmt.Sprintf("file:%s?cache=shared&_busy_timeout=5000", filepath.ToSlash(cfg.Store.SQLitePath))
		handle, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return dbstore.NewSQLiteStore(handle)
	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return dbstore.NewMongoStore(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
