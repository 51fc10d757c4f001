// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Solodarko/attendance-session-service/internal/logging"
)

// flags are the command line flags for the attendance service.
type flags struct {
	Debug bool
	Port  string
	Bind  string
}

// environment are the environment variables for the attendance service.
type environment struct {
	Port               string
	NatsURL            string
	CheckinTokenSecret string
	WebhookSecret      string
	Zoom               zoomConfig
	StaleGrace         time.Duration
	DisconnectGrace    time.Duration
}

// zoomConfig holds the Zoom server-to-server OAuth credentials.
type zoomConfig struct {
	AccountID    string
	ClientID     string
	ClientSecret string
}

// parseFlags parses command line flags for the attendance service.
func parseFlags(defaultPort string) flags {
	var debug = flag.Bool("d", false, "enable debug logging")
	var port = flag.String("p", defaultPort, "listen port")
	var bind = flag.String("bind", "*", "interface to bind on")

	flag.Usage = func() {
		flag.PrintDefaults()
		os.Exit(2)
	}
	flag.Parse()

	// Based on the debug flag, set the log level environment variable used
	// by [logging.InitStructureLogConfig].
	if *debug {
		err := os.Setenv("LOG_LEVEL", "debug")
		if err != nil {
			slog.With(logging.ErrKey, err).Error("error setting log level")
			os.Exit(1)
		}
	}

	return flags{
		Debug: *debug,
		Port:  *port,
		Bind:  *bind,
	}
}

// parseEnv parses environment variables for the attendance service.
func parseEnv() environment {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}

	checkinTokenSecret := os.Getenv("CHECKIN_TOKEN_SECRET")
	if checkinTokenSecret == "" {
		slog.Error("CHECKIN_TOKEN_SECRET environment variable is required but not set")
		os.Exit(1)
	}

	return environment{
		Port:               port,
		NatsURL:            natsURL,
		CheckinTokenSecret: checkinTokenSecret,
		WebhookSecret:      os.Getenv("ZOOM_WEBHOOK_SECRET_TOKEN"),
		Zoom: zoomConfig{
			AccountID:    os.Getenv("ZOOM_ACCOUNT_ID"),
			ClientID:     os.Getenv("ZOOM_CLIENT_ID"),
			ClientSecret: os.Getenv("ZOOM_CLIENT_SECRET"),
		},
		StaleGrace:      parseDurationEnv("STALE_GRACE_PERIOD"),
		DisconnectGrace: parseDurationEnv("DISCONNECT_GRACE_PERIOD"),
	}
}

// parseDurationEnv reads a duration environment variable, returning zero so
// the consumer falls back to its default when unset or invalid.
func parseDurationEnv(name string) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.With(logging.ErrKey, err, "name", name, "value", raw).Error("invalid duration environment variable, using default")
		return 0
	}
	return d
}
