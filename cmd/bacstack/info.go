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
	"time"

	"github.com/spf13/cobra"

	"github.com/bacstack/bacstack"
)

var (
	infoHost   string
	infoDevice string
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Display device information",
	Long: `Info retrieves and displays detailed information about a BACnet device
object.

Examples:
  # Get device info
  bacstack info --host 192.0.2.10:47808 -D device:1234

  # Get info in JSON format
  bacstack info --host 192.0.2.10:47808 -D device:1234 -o json`,

	RunE: runInfo,
}

func init() {
	infoCmd.Flags().StringVar(&infoHost, "host", "", "Target device address (ip:port)")
	infoCmd.Flags().StringVarP(&infoDevice, "device", "D", "", "Device object identifier (e.g., device:1234)")

	infoCmd.MarkFlagRequired("host")
	infoCmd.MarkFlagRequired("device")
}

func runInfo(cmd *cobra.Command, args []string) error {
	deviceOID, err := parseObjectIdentifier(infoDevice)
	if err != nil {
		return fmt.Errorf("invalid device: %w", err)
	}
	dest, err := parseHostAddress(infoHost)
	if err != nil {
		return err
	}

	device, _, cancel, err := newClientDevice()
	if err != nil {
		return err
	}
	defer cancel()
	defer device.Close()

	ctx, reqCancel := context.WithTimeout(context.Background(), timeout*10)
	defer reqCancel()

	properties := []struct {
		name string
		prop bacnet.PropertyIdentifier
	}{
		{"Object Name", bacnet.PropertyObjectName},
		{"Vendor Name", bacnet.PropertyVendorName},
		{"Vendor ID", bacnet.PropertyVendorIdentifier},
		{"Model Name", bacnet.PropertyModelName},
		{"Firmware Revision", bacnet.PropertyFirmwareRevision},
		{"Application Software", bacnet.PropertyApplicationSoftwareVersion},
		{"Protocol Version", bacnet.PropertyProtocolVersion},
		{"Protocol Revision", bacnet.PropertyProtocolRevision},
		{"System Status", bacnet.PropertySystemStatus},
		{"Description", bacnet.PropertyDescription},
		{"Location", bacnet.PropertyLocation},
		{"Max APDU Length", bacnet.PropertyMaxApduLengthAccepted},
		{"Segmentation", bacnet.PropertySegmentationSupported},
		{"Database Revision", bacnet.PropertyDatabaseRevision},
	}

	info := make(map[string]string)
	for _, p := range properties {
		readCtx, readCancel := context.WithTimeout(ctx, timeout)
		val, err := device.ReadRemote(readCtx, dest, deviceOID, p.prop, -1)
		readCancel()
		if err == nil {
			info[p.name] = val.String()
		}
	}

	readCtx, readCancel := context.WithTimeout(ctx, timeout)
	objCount, err := device.ReadRemote(readCtx, dest, deviceOID, bacnet.PropertyObjectList, 0)
	readCancel()
	if err == nil {
		info["Object Count"] = objCount.String()
	}

	switch outputFmt {
	case "json":
		return outputInfoJSON(deviceOID, info)
	default:
		return outputInfoTable(deviceOID, info)
	}
}

func outputInfoTable(deviceOID bacnet.ObjectIdentifier, info map[string]string) error {
	fmt.Printf("\n=== %s ===\n\n", deviceOID.String())

	order := []string{
		"Object Name",
		"Description",
		"Location",
		"Vendor Name",
		"Vendor ID",
		"Model Name",
		"Firmware Revision",
		"Application Software",
		"Protocol Version",
		"Protocol Revision",
		"System Status",
		"Max APDU Length",
		"Segmentation",
		"Object Count",
		"Database Revision",
	}

	for _, key := range order {
		if val, ok := info[key]; ok {
			fmt.Printf("%-25s: %s\n", key, val)
		}
	}

	fmt.Println()
	return nil
}

func outputInfoJSON(deviceOID bacnet.ObjectIdentifier, info map[string]string) error {
	fmt.Println("{")
	fmt.Printf(`  "device_id": %q,`+"\n", deviceOID.String())
	fmt.Printf(`  "timestamp": %q,`+"\n", time.Now().Format(time.RFC3339))

	first := true
	for key, val := range info {
		if !first {
			fmt.Println(",")
		}
		first = false
		fmt.Printf(`  %q: %q`, key, val)
	}
	fmt.Println("\n}")
	return nil
}
