// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bacstack/bacstack"
)

var (
	serveDeviceID   uint32
	serveVendorID   uint32
	serveObjectName string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a standalone BACnet/IP device node",
	Long: `Serve brings up a full BACnet/IP device: it answers Who-Is, serves
ReadProperty/WriteProperty against its object database, and runs any BBMD
or foreign-device registration configured on its ports.

Device identity and ports are read from the --config YAML file. Without
one, serve runs a single bare device object on an ephemeral IPv4 port
using --device-id/--vendor-id/--object-name.

Examples:
  # Run a full device node from a config file
  bacstack serve --config device.yaml

  # Run a bare device node for quick testing
  bacstack serve --device-id 1234 --local 0.0.0.0:47808`,

	RunE: runServe,
}

func init() {
	serveCmd.Flags().Uint32Var(&serveDeviceID, "device-id", 1234, "Device object instance number")
	serveCmd.Flags().Uint32Var(&serveVendorID, "vendor-id", 260, "BACnet vendor identifier")
	serveCmd.Flags().StringVar(&serveObjectName, "object-name", "bacstack-device", "Device object name")
}

// serveBBMDConfig is the YAML shape of one port's Annex J.4/J.5 setup.
type serveBBMDConfig struct {
	Self                             string   `mapstructure:"self"`
	NATGlobalAddress                 string   `mapstructure:"nat_global_address"`
	AllowWriteBDT                    bool     `mapstructure:"allow_write_bdt"`
	AcceptForeignDeviceRegistrations bool     `mapstructure:"accept_foreign_device_registrations"`
	MaxForeignDevices                int      `mapstructure:"max_foreign_devices"`
	SweepInterval                    string   `mapstructure:"sweep_interval"`
	BDT                              []string `mapstructure:"bdt"`

	BDTStorePath     string `mapstructure:"bdt_store_path"`
	BDTStoreS3Bucket string `mapstructure:"bdt_store_s3_bucket"`
	BDTStoreS3Key    string `mapstructure:"bdt_store_s3_key"`
}

type serveIPv4Config struct {
	Network       uint16          `mapstructure:"network"`
	BindAddr      string          `mapstructure:"bind_addr"`
	BroadcastAddr string          `mapstructure:"broadcast_addr"`
	BBMD          serveBBMDConfig `mapstructure:"bbmd"`
}

type serveIPv6Config struct {
	Network        uint16 `mapstructure:"network"`
	VMAC           string `mapstructure:"vmac"`
	Interface      string `mapstructure:"interface"`
	MulticastGroup string `mapstructure:"multicast_group"`
	Port           int    `mapstructure:"port"`
}

// serveFileConfig is the YAML/env shape of a device node's static
// configuration; it is translated into a bacnet.DeviceConfig because
// DeviceConfig's duration and byte-array fields aren't convenient YAML
// literals.
type serveFileConfig struct {
	DeviceID   uint32            `mapstructure:"device_id"`
	VendorID   uint32            `mapstructure:"vendor_id"`
	ObjectName string            `mapstructure:"object_name"`
	AppNetwork uint16            `mapstructure:"app_network"`
	IPv4       []serveIPv4Config `mapstructure:"ipv4"`
	IPv6       []serveIPv6Config `mapstructure:"ipv6"`

	MaxAPDU            int    `mapstructure:"max_apdu"`
	APDUTimeout        string `mapstructure:"apdu_timeout"`
	Retries            int    `mapstructure:"retries"`
	ProposedWindowSize uint8  `mapstructure:"proposed_window_size"`

	ScanInterval     string `mapstructure:"scan_interval"`
	TSMSweepInterval string `mapstructure:"tsm_sweep_interval"`
	COVSweepInterval string `mapstructure:"cov_sweep_interval"`

	StatusAddr string `mapstructure:"status_addr"`
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadDeviceConfig()
	if err != nil {
		return err
	}

	device, err := bacnet.NewDevice(cfg, bacnet.WithDeviceLogger(logger), bacnet.WithDeviceRegisterer(prometheus.DefaultRegisterer))
	if err != nil {
		return fmt.Errorf("create device: %w", err)
	}
	defer device.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	logger.Info("device node starting",
		"device_id", cfg.DeviceID,
		"object_name", cfg.ObjectName,
		"ipv4_ports", len(cfg.IPv4),
		"ipv6_ports", len(cfg.IPv6),
	)

	if err := device.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("device run loop: %w", err)
	}
	return nil
}

func loadDeviceConfig() (bacnet.DeviceConfig, error) {
	if viper.ConfigFileUsed() == "" {
		return bacnet.DeviceConfig{
			DeviceID:   serveDeviceID,
			VendorID:   serveVendorID,
			ObjectName: serveObjectName,
			AppNetwork: network,
			IPv4: []bacnet.IPv4PortConfig{
				{Network: network, BindAddr: localAddr, BroadcastAddr: broadcastAddr},
			},
			APDUTimeout: timeout,
			Retries:     retries,
		}, nil
	}

	var fc serveFileConfig
	if err := viper.Unmarshal(&fc); err != nil {
		return bacnet.DeviceConfig{}, fmt.Errorf("parse config: %w", err)
	}

	cfg := bacnet.DeviceConfig{
		DeviceID:           fc.DeviceID,
		VendorID:           fc.VendorID,
		ObjectName:         fc.ObjectName,
		AppNetwork:         fc.AppNetwork,
		MaxAPDU:            fc.MaxAPDU,
		Retries:            fc.Retries,
		ProposedWindowSize: fc.ProposedWindowSize,
		StatusAddr:         fc.StatusAddr,
	}

	var err error
	if cfg.APDUTimeout, err = parseOptionalDuration(fc.APDUTimeout); err != nil {
		return bacnet.DeviceConfig{}, fmt.Errorf("apdu_timeout: %w", err)
	}
	if cfg.ScanInterval, err = parseOptionalDuration(fc.ScanInterval); err != nil {
		return bacnet.DeviceConfig{}, fmt.Errorf("scan_interval: %w", err)
	}
	if cfg.TSMSweepInterval, err = parseOptionalDuration(fc.TSMSweepInterval); err != nil {
		return bacnet.DeviceConfig{}, fmt.Errorf("tsm_sweep_interval: %w", err)
	}
	if cfg.COVSweepInterval, err = parseOptionalDuration(fc.COVSweepInterval); err != nil {
		return bacnet.DeviceConfig{}, fmt.Errorf("cov_sweep_interval: %w", err)
	}

	for _, p := range fc.IPv4 {
		bbmdSweep, err := parseOptionalDuration(p.BBMD.SweepInterval)
		if err != nil {
			return bacnet.DeviceConfig{}, fmt.Errorf("ipv4[%d].bbmd.sweep_interval: %w", p.Network, err)
		}
		cfg.IPv4 = append(cfg.IPv4, bacnet.IPv4PortConfig{
			Network:       p.Network,
			BindAddr:      p.BindAddr,
			BroadcastAddr: p.BroadcastAddr,
			BBMD: bacnet.BBMDConfig{
				Self:                             p.BBMD.Self,
				NATGlobalAddress:                 p.BBMD.NATGlobalAddress,
				AllowWriteBDT:                    p.BBMD.AllowWriteBDT,
				AcceptForeignDeviceRegistrations: p.BBMD.AcceptForeignDeviceRegistrations,
				MaxForeignDevices:                p.BBMD.MaxForeignDevices,
				SweepInterval:                    bbmdSweep,
				BDT:                              p.BBMD.BDT,
				BDTStorePath:                     p.BBMD.BDTStorePath,
				BDTStoreS3Bucket:                 p.BBMD.BDTStoreS3Bucket,
				BDTStoreS3Key:                    p.BBMD.BDTStoreS3Key,
			},
		})
	}

	for _, p := range fc.IPv6 {
		var vmac [3]byte
		if p.VMAC != "" {
			raw, err := hex.DecodeString(p.VMAC)
			if err != nil || len(raw) != 3 {
				return bacnet.DeviceConfig{}, fmt.Errorf("ipv6[%d].vmac: expected 3 hex-encoded bytes", p.Network)
			}
			copy(vmac[:], raw)
		}
		cfg.IPv6 = append(cfg.IPv6, bacnet.IPv6PortConfig{
			Network:        p.Network,
			VMAC:           vmac,
			Interface:      p.Interface,
			MulticastGroup: p.MulticastGroup,
			Port:           p.Port,
		})
	}

	return cfg, nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
