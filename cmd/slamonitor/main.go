package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"cms-backend/internal/config"
	"cms-backend/internal/database"
	"cms-backend/internal/notify"
	"cms-backend/internal/repository"
	"cms-backend/internal/service"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// slamonitor runs the deadline sweep as its own process, decoupled from the
// API server. Deploy one instance; each warning and breach fires exactly once
// regardless of how many sweeps observe it.
func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	logrus.SetFormatter(&logrus.JSONFormatter{})

	cfg := config.Load()

	db, err := database.NewConnection(cfg.DatabaseDSN)
	if err != nil {
		logrus.WithError(err).Fatal("database connection failed")
	}

	var notifier notify.Notifier = notify.Noop{}
	if cfg.SMTP.Configured() {
		notifier = notify.NewEmailNotifier(cfg.SMTP)
	} else {
		logrus.Warn("SMTP not configured, deadline notifications will only be audited")
	}

	clock := clockwork.NewRealClock()
	crRepo := repository.NewChangeRequestRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	txManager := repository.NewTransactionManager(db)

	sweeper := service.NewSLAService(crRepo, projectRepo, auditRepo, txManager, notifier, clock)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		result, err := sweeper.RunSweep(ctx)
		if err != nil {
			logrus.WithError(err).Fatal("sweep failed")
		}
		if result.Failures > 0 {
			os.Exit(1)
		}
		return
	}

	logrus.WithField("interval", cfg.SweepInterval.String()).Info("deadline monitor started")
	ticker := clock.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	// Sweep immediately on startup, then on every tick.
	if _, err := sweeper.RunSweep(ctx); err != nil {
		logrus.WithError(err).Error("sweep failed")
	}
	for {
		select {
		case <-ctx.Done():
			logrus.Info("deadline monitor stopped")
			return
		case <-ticker.Chan():
			if _, err := sweeper.RunSweep(ctx); err != nil {
				logrus.WithError(err).Error("sweep failed")
			}
		}
	}
}
