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
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bacstack/bacstack"
)

var (
	scanTimeout   time.Duration
	scanLowLimit  uint32
	scanHighLimit uint32
	scanNetwork   uint16
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BACnet devices on the network",
	Long: `Scan discovers BACnet devices by sending a Who-Is broadcast and
collecting every I-Am response that arrives before the timeout.

Examples:
  # Discover all devices
  bacstack scan

  # Discover devices with instance IDs 1-100
  bacstack scan --low 1 --high 100

  # Discover with extended timeout
  bacstack scan --scan-timeout 10s`,

	RunE: runScan,
}

func init() {
	scanCmd.Flags().DurationVar(&scanTimeout, "scan-timeout", 5*time.Second, "Discovery timeout")
	scanCmd.Flags().Uint32Var(&scanLowLimit, "low", 0, "Low limit for device instance range (0 = no limit)")
	scanCmd.Flags().Uint32Var(&scanHighLimit, "high", 0, "High limit for device instance range (0 = no limit)")
	scanCmd.Flags().Uint16Var(&scanNetwork, "network", 0, "Target network number (0 = local)")
}

func runScan(cmd *cobra.Command, args []string) error {
	device, _, cancel, err := newClientDevice()
	if err != nil {
		return err
	}
	defer cancel()
	defer device.Close()

	fmt.Fprintln(os.Stderr, "Scanning for BACnet devices...")

	discoverOpts := []bacnet.DiscoverOption{bacnet.WithDiscoveryTimeout(scanTimeout)}
	if scanLowLimit > 0 || scanHighLimit > 0 {
		high := scanHighLimit
		if high == 0 {
			high = 0x3FFFFF
		}
		discoverOpts = append(discoverOpts, bacnet.WithDeviceRange(scanLowLimit, high))
	}
	if scanNetwork > 0 {
		discoverOpts = append(discoverOpts, bacnet.WithTargetNetwork(scanNetwork))
	}

	ctx, waitCancel := context.WithTimeout(context.Background(), timeout+scanTimeout)
	defer waitCancel()
	if err := device.DiscoverBroadcast(ctx, discoverOpts...); err != nil {
		return fmt.Errorf("discovery: %w", err)
	}

	devices := device.Discovered()
	if len(devices) == 0 {
		fmt.Println("No devices found")
		return nil
	}

	switch outputFmt {
	case "json":
		return outputDevicesJSON(devices)
	case "csv":
		return outputDevicesCSV(devices)
	default:
		return outputDevicesTable(devices)
	}
}

func outputDevicesTable(devices []bacnet.DeviceInfo) error {
	f := NewFormatter("table")
	rows := make([][]string, 0, len(devices))
	for _, dev := range devices {
		rows = append(rows, []string{
			fmt.Sprintf("%d", dev.ObjectID.Instance),
			dev.Address.String(),
			fmt.Sprintf("%d", dev.VendorID),
			dev.Segmentation.String(),
			fmt.Sprintf("%d", dev.MaxAPDULength),
		})
	}
	f.PrintTable([]string{"DEVICE ID", "ADDRESS", "VENDOR", "SEGMENTATION", "MAX APDU"}, rows)
	fmt.Printf("\nFound %d device(s)\n", len(devices))
	return nil
}

func outputDevicesJSON(devices []bacnet.DeviceInfo) error {
	fmt.Println("[")
	for i, dev := range devices {
		comma := ","
		if i == len(devices)-1 {
			comma = ""
		}
		fmt.Printf(`  {"device_id": %d, "address": %q, "vendor_id": %d, "segmentation": %q, "max_apdu": %d}%s`+"\n",
			dev.ObjectID.Instance, dev.Address.String(), dev.VendorID, dev.Segmentation.String(), dev.MaxAPDULength, comma)
	}
	fmt.Println("]")
	return nil
}

func outputDevicesCSV(devices []bacnet.DeviceInfo) error {
	fmt.Println("device_id,address,vendor_id,segmentation,max_apdu")
	for _, dev := range devices {
		fmt.Printf("%d,%s,%d,%s,%d\n",
			dev.ObjectID.Instance, dev.Address.String(), dev.VendorID, dev.Segmentation.String(), dev.MaxAPDULength)
	}
	return nil
}
