package main

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mbhd/hwclient-go/hwclient"
	"github.com/mbhd/hwclient-go/internal/server"
)

// Configuration keys. Every key can also be set from the environment as
// HWCLIENT_<KEY>, with dots replaced by underscores.
const (
	cfgLogFile        = "log.file"
	cfgVerbose        = "log.verbose"
	cfgUDPPorts       = "udp.ports"
	cfgUSB            = "usb"
	cfgListen         = "listen"
	cfgSimulator      = "simulator"
	cfgTimeout        = "timeout"
	cfgMaxPinAttempts = "pin.max_attempts"
	cfgEventBuffer    = "events.buffer"
	cfgTrace          = "trace"
	cfgSentryDSN      = "sentry.dsn"
)

const envPrefix = "HWCLIENT"

type initOptions struct {
	logfile        string
	ports          []int
	withusb        bool
	verbose        bool
	listen         string
	simulator      string
	timeout        time.Duration
	maxPinAttempts int
	eventBuffer    int
	trace          string
	sentryDSN      string
}

func addFlags(cmd *cobra.Command, v *viper.Viper) error {
	f := cmd.Flags()
	f.StringP(
		"log",
		"l",
		"",
		"Log into a file, rotating after 20MB",
	)
	f.IntSliceP(
		"emulator",
		"e",
		nil,
		"Use UDP port for emulator. Can be repeated for more ports. Example: hwclientd -e 21324 -e 21326",
	)
	f.BoolP(
		"usb",
		"u",
		true,
		"Use USB devices. Can be disabled for testing environments. Example: hwclientd -e 21324 -u=false",
	)
	f.BoolP(
		"verbose",
		"v",
		false,
		"Write verbose logs to either stderr or logfile",
	)
	f.String(
		"listen",
		server.DefaultAddr,
		"Address of the local HTTP bridge",
	)
	f.String(
		"simulator",
		"",
		"Serve a simulated device instead of hardware: \"initialised\" or \"wiped\"",
	)
	f.Duration(
		"timeout",
		hwclient.DefaultTimeout,
		"Give up on a device call after this long; 0 waits forever",
	)
	f.Int(
		"max-pin-attempts",
		hwclient.DefaultMaxPinAttempts,
		"Rejected PINs allowed in one authentication; 0 is unlimited",
	)
	f.Int(
		"event-buffer",
		hwclient.DefaultEventBuffer,
		"Events queued per subscriber before it is dropped",
	)
	f.String(
		"trace",
		"",
		"Append every device event to this CBOR trace file",
	)
	f.String(
		"sentry-dsn",
		"",
		"Report crashes to this Sentry DSN",
	)

	bindings := map[string]string{
		cfgLogFile:        "log",
		cfgUDPPorts:       "emulator",
		cfgUSB:            "usb",
		cfgVerbose:        "verbose",
		cfgListen:         "listen",
		cfgSimulator:      "simulator",
		cfgTimeout:        "timeout",
		cfgMaxPinAttempts: "max-pin-attempts",
		cfgEventBuffer:    "event-buffer",
		cfgTrace:          "trace",
		cfgSentryDSN:      "sentry-dsn",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, f.Lookup(flag)); err != nil {
			return errors.Wrapf(err, "binding %s", flag)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return nil
}

// loadConfig reads the optional configuration file. Flags given on the
// command line still win over it.
func loadConfig(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	return errors.Wrap(v.ReadInConfig(), "config")
}

func readOptions(v *viper.Viper) initOptions {
	return initOptions{
		logfile:        v.GetString(cfgLogFile),
		ports:          v.GetIntSlice(cfgUDPPorts),
		withusb:        v.GetBool(cfgUSB),
		verbose:        v.GetBool(cfgVerbose),
		listen:         v.GetString(cfgListen),
		simulator:      v.GetString(cfgSimulator),
		timeout:        v.GetDuration(cfgTimeout),
		maxPinAttempts: v.GetInt(cfgMaxPinAttempts),
		eventBuffer:    v.GetInt(cfgEventBuffer),
		trace:          v.GetString(cfgTrace),
		sentryDSN:      v.GetString(cfgSentryDSN),
	}
}
