package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbhd/hwclient-go/hwclient"
	"github.com/mbhd/hwclient-go/internal/server"
)

func newTestFlags(t *testing.T, args ...string) *viper.Viper {
	t.Helper()
	v := viper.New()
	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, addFlags(cmd, v))
	require.NoError(t, cmd.Flags().Parse(args))
	return v
}

func TestDefaults(t *testing.T) {
	o := readOptions(newTestFlags(t))
	assert.True(t, o.withusb)
	assert.False(t, o.verbose)
	assert.Equal(t, server.DefaultAddr, o.listen)
	assert.Equal(t, hwclient.DefaultTimeout, o.timeout)
	assert.Equal(t, hwclient.DefaultMaxPinAttempts, o.maxPinAttempts)
	assert.Equal(t, hwclient.DefaultEventBuffer, o.eventBuffer)
	assert.Empty(t, o.ports)
}

func TestFlags(t *testing.T) {
	o := readOptions(newTestFlags(t,
		"-e", "21324", "-e", "21326", "-u=false", "-v",
		"--simulator", "wiped", "--timeout", "3s", "--max-pin-attempts", "4",
	))
	assert.Equal(t, []int{21324, 21326}, o.ports)
	assert.False(t, o.withusb)
	assert.True(t, o.verbose)
	assert.Equal(t, "wiped", o.simulator)
	assert.Equal(t, 3*time.Second, o.timeout)
	assert.Equal(t, 4, o.maxPinAttempts)
}

func TestEnvironment(t *testing.T) {
	t.Setenv("HWCLIENT_LISTEN", "127.0.0.1:9999")
	t.Setenv("HWCLIENT_PIN_MAX_ATTEMPTS", "5")
	o := readOptions(newTestFlags(t))
	assert.Equal(t, "127.0.0.1:9999", o.listen)
	assert.Equal(t, 5, o.maxPinAttempts)

	// the command line wins
	o = readOptions(newTestFlags(t, "--listen", "127.0.0.1:1"))
	assert.Equal(t, "127.0.0.1:1", o.listen)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hwclientd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("simulator: initialised\npin:\n  max_attempts: 2\ntrace: /tmp/x.cbor\n"), 0600))

	v := newTestFlags(t)
	require.NoError(t, loadConfig(v, path))
	o := readOptions(v)
	assert.Equal(t, "initialised", o.simulator)
	assert.Equal(t, 2, o.maxPinAttempts)
	assert.Equal(t, "/tmp/x.cbor", o.trace)

	assert.Error(t, loadConfig(viper.New(), filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestBusOptions(t *testing.T) {
	_, err := busOptions(initOptions{simulator: "initialised"})
	assert.NoError(t, err)
	_, err = busOptions(initOptions{ports: []int{21324}})
	assert.NoError(t, err)
	_, err = busOptions(initOptions{simulator: "broken"})
	assert.Error(t, err)
	_, err = busOptions(initOptions{})
	assert.Error(t, err)
}

func TestSimulatorClient(t *testing.T) {
	opts, err := busOptions(initOptions{simulator: "wiped"})
	require.NoError(t, err)
	c, err := hwclient.New(opts...)
	require.NoError(t, err)
	defer c.Close()

	devs, err := c.Enumerate()
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.True(t, c.Attach())
}
