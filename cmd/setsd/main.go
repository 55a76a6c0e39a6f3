package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/wheelibin/sets/internal/api"
	"github.com/wheelibin/sets/internal/config"
	"github.com/wheelibin/sets/internal/notify"
	"github.com/wheelibin/sets/internal/repos"
	"github.com/wheelibin/sets/internal/sets"
)

func main() {

	logger := log.NewWithOptions(os.Stderr, log.Options{
		Level:           log.InfoLevel,
		ReportTimestamp: true,
	})
	logger.Info("setsd starting")

	// read the config file
	cfg, err := config.ReadConfig()
	if err != nil {
		logger.Fatal(err)
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if cfg.LogFile != "" {
		logger.SetOutput(&lumberjack.Logger{
			Filename: cfg.LogFile,
			MaxAge:   3,
		})
	}

	db, err := sql.Open("sqlite3", cfg.DatabasePath)
	if err != nil {
		logger.Fatal(err)
	}
	defer db.Close()

	// create/wire up services
	settingsRepo, err := repos.NewSettingsRepo(logger, db)
	if err != nil {
		logger.Fatal(err)
	}

	publisher := notify.NewSSEPublisher()
	defer publisher.Close()

	notifier := notify.NewNotifier(logger, publisher)
	engine := sets.NewService(logger, settingsRepo, notifier)
	apiService := api.NewService(logger, engine, publisher, cfg.OwnerToken)

	dumpSettings(logger, settingsRepo)

	ctx, cancel := context.WithCancel(context.Background())

	// start the timer tick loop
	go engine.Run(ctx, cfg.TickInterval)

	// start the http api
	go func() {
		if err := apiService.Router().Run(cfg.ListenAddress); err != nil {
			logger.Fatal(err)
		}
	}()
	logger.Info("listening", "address", cfg.ListenAddress)

	quitChannel := make(chan os.Signal, 1)
	signal.Notify(quitChannel, syscall.SIGINT, syscall.SIGTERM)
	<-quitChannel

	// cleanup before exit
	cancel()
	fmt.Println("setsd is closing")
}

func dumpSettings(logger *log.Logger, settingsRepo *repos.SettingsRepo) {
	keys, err := settingsRepo.Keys()
	if err != nil {
		logger.Error(err)
		return
	}
	logger.Debug("stored settings", "keys", keys)
}
