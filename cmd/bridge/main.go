package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/go-kit/kit/metrics/provider"

	"github.com/browser-go/extension-bridge/device"
	"github.com/browser-go/extension-bridge/endpoint"
	"github.com/browser-go/extension-bridge/health"
	"github.com/browser-go/extension-bridge/logging"
	"github.com/browser-go/extension-bridge/rest"
	"github.com/browser-go/extension-bridge/router"
	"github.com/browser-go/extension-bridge/server"
)

const (
	applicationName = "bridge"
	release         = "1.0.0"
)

// newViper assembles the configuration layers: file, environment, then flags.
// Every key can come from a bridge.{json,yaml} file in the working directory
// or /etc/bridge, or from the environment with a BRIDGE_ prefix.
func newViper(f *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName(applicationName)
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/" + applicationName)
	v.SetEnvPrefix(applicationName)
	v.AutomaticEnv()

	v.SetDefault("heartbeatInterval", device.DefaultHeartbeatInterval)
	v.SetDefault("messageTimeout", router.DefaultMessageTimeout)
	v.SetDefault("maxQueueSize", router.DefaultMaxQueueSize)
	v.SetDefault("maxRetries", router.DefaultMaxRetries)
	v.SetDefault("retryDelay", router.DefaultRetryDelay)
	v.SetDefault("maxConcurrentConnections", 10)
	v.SetDefault("enableDetailedLogging", false)
	v.SetDefault("log.file", logging.StdoutFile)
	v.SetDefault("log.level", "INFO")

	if err := v.BindPFlag("token", f.Lookup("token")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("maxConcurrentConnections", f.Lookup("max-instances")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("messageTimeout", f.Lookup("instance-timeout")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("heartbeatInterval", f.Lookup("inactive-check-interval")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("enableDetailedLogging", f.Lookup("cdp-logging")); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		// a config file is optional
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return v, nil
}

func bridge(arguments []string) int {
	f := pflag.NewFlagSet(applicationName, pflag.ContinueOnError)
	port := f.Int("port", 3000, "listen port")
	f.String("token", "", "shared bearer token required on websocket upgrades")
	f.Int("max-instances", 10, "maximum concurrent CDP client connections")
	f.Duration("instance-timeout", router.DefaultMessageTimeout, "per-request response deadline")
	f.Duration("inactive-check-interval", device.DefaultHeartbeatInterval, "expected device heartbeat cadence")
	f.Bool("cdp-logging", false, "log every CDP frame at debug level")
	v2 := f.Bool("v2", true, "serve the structured v2 endpoints")

	if err := f.Parse(arguments); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}

		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	v, err := newViper(f)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	var logOptions logging.Options
	if err := v.UnmarshalKey("log", &logOptions); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if v.GetBool("enableDetailedLogging") {
		logOptions.Level = "DEBUG"
	}

	logger := logging.New(&logOptions)
	logging.Info(logger).Log(
		logging.MessageKey(), "starting "+applicationName,
		"release", release,
	)

	monitor := health.New(release, nil)
	metrics := provider.NewPrometheusProvider(applicationName, "relay")

	// The router is created after the registry, so DeviceGone is wired through
	// a late-bound reference.
	var relayRouter *router.Router
	registry := device.NewRegistry(&device.Options{
		HeartbeatInterval: v.GetDuration("heartbeatInterval"),
		Logger:            logger,
		MetricsProvider:   metrics,
		Listeners: []device.Listener{
			func(e *device.Event) {
				if e.Type == device.Unregister && relayRouter != nil {
					relayRouter.DeviceGone(e.Device.ID())
				}
			},
		},
	})

	relayRouter = router.New(registry, &router.Options{
		MessageTimeout:  v.GetDuration("messageTimeout"),
		MaxQueueSize:    v.GetInt("maxQueueSize"),
		MaxRetries:      v.GetInt("maxRetries"),
		RetryDelay:      v.GetDuration("retryDelay"),
		Logger:          logger,
		MetricsProvider: metrics,
	})

	b := endpoint.New(registry, relayRouter, monitor, &endpoint.Options{
		Token:             v.GetString("token"),
		MaxConnections:    v.GetInt("maxConcurrentConnections"),
		HeartbeatInterval: v.GetDuration("heartbeatInterval"),
		Logger:            logger,
	})

	root := mux.NewRouter()
	root.Handle("/metrics", promhttp.Handler())
	root.Handle("/healthz", monitor)
	rest.New(registry, relayRouter, monitor, logger).Routes(root)
	if *v2 {
		b.V2Routes(root)
	}
	b.Routes(root)

	shutdown := make(chan struct{})
	go registry.Run(shutdown)
	go relayRouter.Run(shutdown)

	relay := server.New(root, &server.Options{
		Address: fmt.Sprintf(":%d", *port),
		Logger:  logger,
	})

	// teardown order: background tasks, client connections, then devices
	relay.OnShutdown(func() { close(shutdown) })
	relay.OnShutdown(relayRouter.Shutdown)
	relay.OnShutdown(registry.Shutdown)

	go func() {
		signals := make(chan os.Signal, 10)
		signal.Notify(signals)
		s := server.SignalWait(logger, signals, os.Interrupt, syscall.SIGTERM)
		logging.Info(logger).Log(logging.MessageKey(), "exiting on signal", "signal", s)
		relay.Shutdown()
	}()

	if err := relay.Run(); err != nil {
		logging.Error(logger).Log(
			logging.MessageKey(), "server terminated",
			logging.ErrorKey(), err,
		)

		return 1
	}

	return 0
}

func main() {
	os.Exit(bridge(os.Args[1:]))
}
