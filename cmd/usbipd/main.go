// Command usbipd runs a USB/IP server exporting either a static list of
// simulated devices or, with --host-bridge, devices bridged from a host USB
// transport.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kevmo314/usbipd/handlers/cdcacm"
	"github.com/kevmo314/usbipd/handlers/hid"
	"github.com/kevmo314/usbipd/hostbridge"
	"github.com/kevmo314/usbipd/hostbridge/linuxusb"
	"github.com/kevmo314/usbipd/internal/config"
	"github.com/kevmo314/usbipd/internal/metrics"
	"github.com/kevmo314/usbipd/usbdevice"
	"github.com/kevmo314/usbipd/usbipserver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(os.Args[1:], "")
	if err != nil {
		logger.Error("usbipd: loading configuration", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Warn("usbipd: metrics listener exited", "err", err)
		}
	}()

	devices := simulatedDevices()
	if cfg.HostBridge {
		bridged, err := hostBridgedDevices(cfg)
		if err != nil {
			logger.Error("usbipd: opening host-bridged device", "err", err)
			os.Exit(1)
		}
		devices = bridged
	}

	opts := usbipserver.Options{
		IdleSpinIterations: cfg.IdleSpinIterations,
		IdleSleepInterval:  cfg.IdleSleepInterval,
		ConnectionDeadline: cfg.ConnectionDeadline,
		BusCleanupTimeout:  cfg.BusCleanupTimeout,
	}
	server := usbipserver.New(devices, logger, m, opts)

	logger.Info("usbipd: starting", "listen_addr", cfg.ListenAddr, "devices", len(devices))
	if err := server.ListenAndServe(ctx, cfg.ListenAddr); err != nil {
		logger.Error("usbipd: server exited", "err", err)
		os.Exit(1)
	}
}

// simulatedDevices builds the default device list: one CDC-ACM device and
// one HID device, enough to exercise both reference handlers without any
// host USB hardware.
func simulatedDevices() []*usbdevice.Device {
	acmDev := usbdevice.NewDevice("1", "/sim/1", 1, 1, 2, 0x1209, 0x0001, 0x02, 0x00, 0x00, 0x0100, 0x0200, 64, 1)
	acmHandler := cdcacm.New()
	acmIface := usbdevice.NewInterface(0, 0x0A, 0x00, 0x00, 0, []usbdevice.Endpoint{
		{Address: 0x81, Attributes: uint8(usbdevice.TransferTypeBulk), MaxPacketSize: 64},
		{Address: 0x01, Attributes: uint8(usbdevice.TransferTypeBulk), MaxPacketSize: 64},
	}, acmHandler)
	acmDev.AddInterface(acmIface)

	hidDev := usbdevice.NewDevice("2", "/sim/2", 1, 2, 2, 0x1209, 0x0002, 0x00, 0x00, 0x00, 0x0100, 0x0200, 64, 1)
	hidHandler := hid.New([]byte{0x05, 0x01, 0x09, 0x06, 0xA1, 0x01, 0xC0}, 8)
	hidIface := usbdevice.NewInterface(0, 0x03, 0x00, 0x00, 0, []usbdevice.Endpoint{
		{Address: 0x82, Attributes: uint8(usbdevice.TransferTypeInterrupt), MaxPacketSize: 8, Interval: 10},
	}, hidHandler)
	hidDev.AddInterface(hidIface)

	return []*usbdevice.Device{acmDev, hidDev}
}

// hostBridgedDevices opens cfg.HostBridgeDevice on the host's usbfs and
// wires it into a single bridged device via hostbridge.BuildDevice.
// Enumerating the device's real descriptors and interface layout is left
// to whatever walks the host USB stack (out of scope here); this builds
// the minimal vendor-class, single bulk-pair shape needed to carry URBs
// end to end through the bridge.
func hostBridgedDevices(cfg config.ServerConfig) ([]*usbdevice.Device, error) {
	if cfg.HostBridgeDevice == "" {
		return nil, fmt.Errorf("usbipd: --host-bridge requires --host-bridge-device")
	}

	transport, err := linuxusb.Open(cfg.HostBridgeDevice)
	if err != nil {
		return nil, err
	}

	spec := hostbridge.HostDeviceSpec{
		BusID:             cfg.HostBridgeBusID,
		Path:              cfg.HostBridgeDevice,
		BusNum:            1,
		DevNum:            1,
		Speed:             2,
		EP0MaxPacketSize:  64,
		NumConfigurations: 1,
		Transport:         transport,
		Interfaces: []hostbridge.HostInterfaceSpec{
			{
				Number: 0,
				Class:  0xFF,
				Endpoints: []usbdevice.Endpoint{
					{Address: 0x81, Attributes: uint8(usbdevice.TransferTypeBulk), MaxPacketSize: 64},
					{Address: 0x01, Attributes: uint8(usbdevice.TransferTypeBulk), MaxPacketSize: 64},
				},
			},
		},
	}
	return []*usbdevice.Device{hostbridge.BuildDevice(spec)}, nil
}
