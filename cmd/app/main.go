// entry point to app :)
package main

import (
	"github.com/ds124wfegd/tripseats/config"
	"github.com/ds124wfegd/tripseats/internal/appServer"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	logrus.SetFormatter(new(logrus.JSONFormatter))

	configPath := pflag.StringP("config", "c", "./config", "directory containing config.yaml")
	pflag.Parse()

	viperInstance, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("Cannot load config. Error: {%s}", err.Error())
	}

	cfg, err := config.ParseConfig(viperInstance)
	if err != nil {
		logrus.Fatalf("Cannot parse config. Error: {%s}", err.Error())
	}

	logrus.WithFields(logrus.Fields{
		"storage": cfg.Storage.Driver,
		"broker":  cfg.Broker.Driver,
		"relay":   cfg.Fanout.RedisRelay,
	}).Info("Config loaded")
	appServer.NewServer(cfg)
}
