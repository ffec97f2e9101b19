package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mbhd/hwclient-go/hwclient"
	"github.com/mbhd/hwclient-go/internal/logs"
	"github.com/mbhd/hwclient-go/internal/server"
	"github.com/mbhd/hwclient-go/internal/trace"
	"github.com/mbhd/hwclient-go/simulator"
)

const version = "0.3.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configFile  string
		versionFlag bool
	)
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "hwclientd",
		Short: "Serve a hardware wallet to local applications",
		Long: `hwclientd connects to a hardware wallet over USB, a UDP emulator or a
built-in simulator, and serves it on a local HTTP bridge. Device events are
streamed on /events.`,
		Example:      `hwclientd --simulator=initialised --listen=127.0.0.1:21335`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if versionFlag {
				fmt.Printf("hwclientd version %s\n", version)
				return nil
			}
			if err := loadConfig(v, configFile); err != nil {
				return err
			}
			return run(readOptions(v))
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "Read settings from a TOML, YAML or JSON file")
	cmd.Flags().BoolVar(&versionFlag, "version", false, "Write version")
	if err := addFlags(cmd, v); err != nil {
		// flags are static, this cannot fail at runtime
		panic(err)
	}
	return cmd
}

func run(options initOptions) (err error) {
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:     options.sentryDSN,
		Release: version,
	}); err != nil {
		return errors.Wrap(err, "sentry")
	}
	defer sentry.Flush(5 * time.Second)

	defer func() {
		if r := recover(); r != nil {
			sentry.CurrentHub().Recover(r)
			sentry.Flush(5 * time.Second)
			panic(r)
		}
	}()

	stderrWriter, stderrLogger, shortMemoryWriter, longMemoryWriter, err := initLoggers(options.logfile, options.verbose)
	if err != nil {
		return err
	}
	longLogger := logs.New(longMemoryWriter)

	stderrLogger.Infof("hwclientd v%s is starting.", version)

	clientOptions, err := busOptions(options)
	if err != nil {
		stderrLogger.WithError(err).Error("No transports enabled")
		return err
	}
	clientOptions = append(clientOptions,
		hwclient.LogWriter(longMemoryWriter),
		hwclient.WithTimeout(options.timeout),
		hwclient.MaxPinAttempts(options.maxPinAttempts),
		hwclient.EventBuffer(options.eventBuffer),
	)

	longLogger.Log("Creating client")
	c, err := hwclient.New(clientOptions...)
	if err != nil {
		sentry.CaptureException(err)
		stderrLogger.WithError(err).Error("Cannot create client")
		return err
	}
	defer c.Close()

	if options.trace != "" {
		rec, err := trace.Open(options.trace, c.SessionID)
		if err != nil {
			stderrLogger.WithError(err).Error("Cannot open trace")
			return err
		}
		defer func() {
			if errClose := rec.Close(); errClose != nil {
				stderrLogger.WithError(errClose).Warn("Closing trace")
			}
		}()
		sub := rec.Follow(c)
		defer sub.Unsubscribe()
		stderrLogger.WithField("file", options.trace).Info("Tracing device events")
	}

	longLogger.Log("Creating HTTP server")
	s, err := server.New(c, options.listen, stderrWriter, shortMemoryWriter, longMemoryWriter, version)
	if err != nil {
		sentry.CaptureException(err)
		stderrLogger.WithError(err).Error("http")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		longLogger.Log("Shutting down HTTP server")
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if errShutdown := s.Shutdown(shutdown); errShutdown != nil {
			stderrLogger.WithError(errShutdown).Warn("Shutdown")
		}
	}()

	stderrLogger.WithField("addr", s.Addr).Info("Running HTTP server")
	err = s.Run()
	if err != nil && err != http.ErrServerClosed {
		sentry.CaptureException(err)
		stderrLogger.WithError(err).Error("http")
		return err
	}

	longLogger.Log("Main ended successfully")
	return nil
}

// busOptions picks the transports. A simulator replaces USB.
func busOptions(options initOptions) ([]hwclient.InitOption, error) {
	res := []hwclient.InitOption{hwclient.WithUSB(options.withusb)}

	switch options.simulator {
	case "":
	case "initialised", "initialized":
		res = append(res, hwclient.WithBus(simulator.NewBus(simulator.New(simulator.Initialised))))
	case "wiped":
		res = append(res, hwclient.WithBus(simulator.NewBus(simulator.New(simulator.Wiped))))
	default:
		return nil, errors.Errorf("unknown simulator script %q", options.simulator)
	}

	for _, p := range options.ports {
		res = append(res, hwclient.AddUDPPort(p))
	}

	if !options.withusb && options.simulator == "" && len(options.ports) == 0 {
		return nil, errors.New("no transports enabled")
	}
	return res, nil
}
