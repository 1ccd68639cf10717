package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/springfiles/spring-hostlist/client"
	"github.com/springfiles/spring-hostlist/common"
	"github.com/springfiles/spring-hostlist/hostlist"
	"github.com/springfiles/spring-hostlist/lobby"
)

func main() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
	log.SetLevel(log.DebugLevel)

	if len(os.Args) > 1 && os.Args[1] == "-query" {
		config := loadConfig()
		client.RunQueryTool(&config.Hostlist, os.Args[2:])
		return
	}

	log.WithFields(log.Fields{
		"software": common.SoftwareName,
		"version":  common.SoftwareVersion,
	}).Info("Starting...")

	config := loadConfig()
	shutdown := make(chan struct{})

	stats := hostlist.NewStats()
	supervisor := lobby.NewSupervisor(&config.Lobby, shutdown)

	server, err := hostlist.NewServer(&config.Hostlist, supervisor, stats, shutdown)
	if err != nil {
		log.WithError(err).Error("Failed to bind the hostlist server socket.")
		panic(err)
	}

	go supervisor.Run()
	server.Start()
	go stats.LogLoop(config.Hostlist.StatsInterval, supervisor, shutdown)

	var web *hostlist.WebServer
	if config.Web.Enabled {
		web = hostlist.NewWebServer(stats)
		web.Start(config.Web.Port)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-signals:
		log.WithField("signal", sig.String()).Info("Received signal, shutting down.")
	case err := <-supervisor.Done():
		log.WithError(err).Error("Lobby connection is gone for good, shutting down.")
	}

	close(shutdown)
	supervisor.Shutdown()
	server.Shutdown()
	if web != nil {
		web.Shutdown()
	}
	log.Info("Goodbye.")
}

func loadConfig() *common.Config {
	configLocation := "hostlist.ini"

	// A local .env may point at an alternate config file, same as exporting
	// HOSTLIST_CONFIG directly.
	_ = godotenv.Load()
	if os.Getenv("HOSTLIST_CONFIG") != "" {
		configLocation = os.Getenv("HOSTLIST_CONFIG")
	}

	config, err := common.LoadConfig(configLocation)
	if err != nil {
		log.WithField("config", configLocation).WithError(err).Error("Failed to load configuration file.")
		panic(err)
	}

	return config
}
