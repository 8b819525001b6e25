// Package config assembles the server's runtime configuration from command
// line flags, environment variables, and an optional config file, via
// spf13/pflag bound through spf13/viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ServerConfig is the fully resolved configuration for one usbipd process.
type ServerConfig struct {
	ListenAddr string

	// IdleSpinIterations is how many empty dispatch-loop iterations the
	// writer busy-polls before falling back to IdleSleepInterval.
	IdleSpinIterations int
	IdleSleepInterval  time.Duration

	// ConnectionDeadline bounds how long a connection may sit with no
	// socket activity before it is closed. Zero disables the deadline.
	ConnectionDeadline time.Duration

	// BusCleanupTimeout bounds how long a connection's writer keeps draining
	// its already-queued URBs after the serving context is cancelled. Zero
	// means the writer stops as soon as the context is cancelled. The server
	// does not wait for open connections when it shuts down, so the drain
	// only runs for as long as the process keeps running.
	BusCleanupTimeout time.Duration

	MetricsAddr string
	HostBridge  bool

	// HostBridgeDevice is the usbfs device node (e.g. /dev/bus/usb/001/004)
	// bridged when HostBridge is set. Ignored otherwise.
	HostBridgeDevice string

	// HostBridgeBusID is the USB/IP bus-id assigned to the bridged device.
	HostBridgeBusID string
}

// Default returns the configuration used when no flags, environment
// variables, or config file override it.
func Default() ServerConfig {
	return ServerConfig{
		ListenAddr:         ":3240",
		IdleSpinIterations: 10,
		IdleSleepInterval:  2 * time.Millisecond,
		ConnectionDeadline: 0,
		BusCleanupTimeout:  2 * time.Second,
		MetricsAddr:        ":9240",
		HostBridge:         false,
		HostBridgeDevice:   "",
		HostBridgeBusID:    "3",
	}
}

// Load parses args with pflag, binds them through viper alongside
// environment variables prefixed USBIPD_ and an optional config file, and
// returns the resolved ServerConfig.
func Load(args []string, configFile string) (ServerConfig, error) {
	cfg := Default()

	fs := pflag.NewFlagSet("usbipd", pflag.ContinueOnError)
	fs.String("listen-addr", cfg.ListenAddr, "address to bind the USB/IP TCP listener")
	fs.Int("idle-spin-iterations", cfg.IdleSpinIterations, "dispatch-loop busy-poll iterations before sleeping")
	fs.Duration("idle-sleep-interval", cfg.IdleSleepInterval, "dispatch-loop sleep interval once idle")
	fs.Duration("connection-deadline", cfg.ConnectionDeadline, "per-connection inactivity deadline (0 disables)")
	fs.Duration("bus-cleanup-timeout", cfg.BusCleanupTimeout, "grace period for connections to drain queued URBs on shutdown")
	fs.String("metrics-addr", cfg.MetricsAddr, "address to bind the Prometheus metrics listener")
	fs.Bool("host-bridge", cfg.HostBridge, "bridge devices through a host USB transport instead of simulating them")
	fs.String("host-bridge-device", cfg.HostBridgeDevice, "usbfs device node to bridge when --host-bridge is set")
	fs.String("host-bridge-bus-id", cfg.HostBridgeBusID, "USB/IP bus-id assigned to the bridged device")
	if err := fs.Parse(args); err != nil {
		return cfg, fmt.Errorf("config: parsing flags: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("usbipd")
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return cfg, fmt.Errorf("config: binding flags: %w", err)
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	cfg.ListenAddr = v.GetString("listen-addr")
	cfg.IdleSpinIterations = v.GetInt("idle-spin-iterations")
	cfg.IdleSleepInterval = v.GetDuration("idle-sleep-interval")
	cfg.ConnectionDeadline = v.GetDuration("connection-deadline")
	cfg.BusCleanupTimeout = v.GetDuration("bus-cleanup-timeout")
	cfg.MetricsAddr = v.GetString("metrics-addr")
	cfg.HostBridge = v.GetBool("host-bridge")
	cfg.HostBridgeDevice = v.GetString("host-bridge-device")
	cfg.HostBridgeBusID = v.GetString("host-bridge-bus-id")
	return cfg, nil
}
