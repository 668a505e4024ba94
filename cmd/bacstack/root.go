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
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bacstack/bacstack"
)

var (
	cfgFile      string
	localAddr    string
	broadcastAddr string
	network      uint16
	timeout      time.Duration
	retries      int
	outputFmt    string
	verbose      bool

	sessionID string
	logger    *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "bacstack",
	Short: "A comprehensive BACnet/IP client and device CLI",
	Long: `bacstack is a command-line tool for communicating with BACnet/IP devices
and for running a standalone BACnet/IP device node.

It supports device discovery, property read/write operations, COV
subscriptions, and serving a device onto the network.

Examples:
  # Discover devices on the network
  bacstack scan

  # Read a property from a device
  bacstack read --host 192.0.2.10:47808 -O analog-input:1 -P present-value

  # Write a value to a device
  bacstack write --host 192.0.2.10:47808 -O analog-output:1 -P present-value -V 75.5

  # Watch for value changes
  bacstack watch --host 192.0.2.10:47808 -O analog-input:1

  # Run a device node
  bacstack serve --config device.yaml`,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logLevel := slog.LevelInfo
		if verbose {
			logLevel = slog.LevelDebug
		}
		sessionID = uuid.NewString()
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel,
		})).With("session", sessionID)
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.bacstack.yaml)")
	rootCmd.PersistentFlags().StringVar(&localAddr, "local", "0.0.0.0:0", "Local address to bind to")
	rootCmd.PersistentFlags().StringVar(&broadcastAddr, "broadcast", "255.255.255.255:47808", "Subnet broadcast address")
	rootCmd.PersistentFlags().Uint16Var(&network, "network", 0, "Local BACnet network number")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 3*time.Second, "Request timeout")
	rootCmd.PersistentFlags().IntVar(&retries, "retries", 3, "Number of retries")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format (table, json, csv)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	viper.BindPFlag("local", rootCmd.PersistentFlags().Lookup("local"))
	viper.BindPFlag("broadcast", rootCmd.PersistentFlags().Lookup("broadcast"))
	viper.BindPFlag("network", rootCmd.PersistentFlags().Lookup("network"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("retries", rootCmd.PersistentFlags().Lookup("retries"))
	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(interactiveCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".bacstack")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("BACSTACK")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// clientDeviceID is the instance this CLI announces itself as while it
// acts as a short-lived client; it is well outside any real
// installation's ID space (clause 12.10.3's 22-bit instance ceiling is
// 0x3FFFFF).
const clientDeviceID = 0x3FFFFE

// newClientDevice builds a single-port Device this process uses purely
// as an outbound client: one ephemeral IPv4 socket, no served objects
// beyond the mandatory device object NewDevice seeds. Callers must call
// both the returned cancel func and Close.
func newClientDevice() (*bacnet.Device, context.Context, context.CancelFunc, error) {
	cfg := bacnet.DeviceConfig{
		DeviceID:    clientDeviceID,
		ObjectName:  "bacstack-cli",
		AppNetwork:  network,
		APDUTimeout: timeout,
		Retries:     retries,
		IPv4: []bacnet.IPv4PortConfig{
			{Network: network, BindAddr: localAddr, BroadcastAddr: broadcastAddr},
		},
	}
	d, err := bacnet.NewDevice(cfg, bacnet.WithDeviceLogger(logger))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create device: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := d.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("device run loop exited", "error", err)
		}
	}()
	// Give the receive goroutine a moment to start reading before the
	// caller sends anything.
	time.Sleep(20 * time.Millisecond)
	return d, ctx, cancel, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("bacstack version 1.0.0")
	},
}
