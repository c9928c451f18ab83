package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"whatsapp-automation/internal/api"
	"whatsapp-automation/internal/automation"
	"whatsapp-automation/internal/config"
	"whatsapp-automation/internal/database"
	"whatsapp-automation/internal/events"
	"whatsapp-automation/internal/logging"
	"whatsapp-automation/internal/scheduler"
	"whatsapp-automation/internal/store"
	"whatsapp-automation/internal/webhook"
	"whatsapp-automation/internal/whatsapp"
	"whatsapp-automation/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.LoadConfig()
	logging.Configure(cfg.LogLevel)
	gin.SetMode(cfg.GinMode)

	flush := logging.InitSentry(cfg.SentryDSN, cfg.GinMode)
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.InitGorm(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize database")
	}
	s := store.New(db)

	hub := ws.NewHub()
	go hub.Run(ctx)

	notifiers := []automation.Notifier{hub}
	if cfg.RabbitMQURL != "" {
		publisher, err := events.NewPublisher(cfg.RabbitMQURL, cfg.RabbitMQQueue)
		if err != nil {
			// outcomes still reach the websocket feed
			logrus.WithError(err).Error("RabbitMQ publisher disabled")
		} else {
			defer publisher.Close()
			notifiers = append(notifiers, publisher)
		}
	}

	whatsappClient := whatsapp.NewClient(cfg)
	executor := automation.NewExecutor(s, whatsappClient, cfg.WebhookTimeout)
	engine := automation.NewEngine(s, executor, automation.Options{
		DeferWaitActions: cfg.DeferWaitActions,
		Notifiers:        notifiers,
	})
	scanner := automation.NewScanner(s, engine, cfg.DefaultTimezone)

	router := api.NewRouter(api.Handlers{
		Secret:      cfg.CronSecret,
		Execute:     api.NewExecuteHandler(engine, scanner),
		Automations: api.NewAutomationHandler(s),
		Dashboard:   api.NewDashboardHandler(s, whatsappClient, engine),
		Contacts:    api.NewContactHandler(s, engine),
		Webhook:     webhook.NewHandler(cfg, s, engine),
		Socket:      hub.ServeWs,
	})

	if cfg.ScanSchedule != "" {
		sched := scheduler.New()
		defer sched.Stop()
		err := sched.AddScan(ctx, cfg.ScanSchedule, 10*time.Minute, func(ctx context.Context) error {
			res, err := scanner.Scan(ctx)
			if err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{
				"workspaces": res.Workspaces,
				"triggered":  res.Triggered,
				"errors":     res.Errors,
				"resumed":    res.Resumed,
			}).Info("Scheduled scan finished")
			return nil
		})
		if err != nil {
			logrus.WithError(err).WithField("schedule", cfg.ScanSchedule).Fatal("Invalid SCAN_SCHEDULE")
		}
		logrus.WithField("schedule", cfg.ScanSchedule).Info("In-process scan schedule enabled")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.Infof("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Failed to run server")
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}
}
