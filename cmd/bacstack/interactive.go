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
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/cobra"

	"github.com/bacstack/bacstack"
)

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Start an interactive BACnet session",
	Long: `Interactive mode provides a REPL for exploring BACnet devices.

Commands:
  scan                                  - Discover devices
  use <ip:port>                         - Select a device address
  read <object> [property]              - Read a property
  write <object> <property> <value>     - Write a property
  info <device-object>                  - Show device info
  metrics                               - Show local client metrics
  help                                  - Show help
  exit                                  - Exit interactive mode

Examples:
  bacstack> scan
  bacstack> use 192.0.2.10:47808
  bacstack[192.0.2.10:47808]> read ai:1 pv
  bacstack[192.0.2.10:47808]> write ao:1 pv 75.5`,

	RunE: runInteractive,
}

func runInteractive(cmd *cobra.Command, args []string) error {
	device, ctx, cancel, err := newClientDevice()
	if err != nil {
		return err
	}
	defer cancel()
	defer device.Close()

	fmt.Println("BACnet Interactive Shell")
	fmt.Println("Type 'help' for available commands, 'exit' to quit")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	var currentHost string
	var currentDest bacnet.Address

	for {
		if currentHost != "" {
			fmt.Printf("bacstack[%s]> ", currentHost)
		} else {
			fmt.Print("bacstack> ")
		}

		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		command := strings.ToLower(parts[0])

		switch command {
		case "exit", "quit", "q":
			fmt.Println("Goodbye!")
			return nil

		case "help", "?":
			printInteractiveHelp()

		case "scan":
			runInteractiveScan(ctx, device)

		case "use":
			if len(parts) < 2 {
				fmt.Println("Usage: use <ip:port>")
				continue
			}
			dest, err := parseHostAddress(parts[1])
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			currentHost = parts[1]
			currentDest = dest
			fmt.Printf("Selected %s\n", currentHost)

		case "read":
			if currentHost == "" {
				fmt.Println("No device selected. Use 'use <ip:port>' first.")
				continue
			}
			if len(parts) < 2 {
				fmt.Println("Usage: read <object> [property]")
				continue
			}
			prop := "present-value"
			if len(parts) >= 3 {
				prop = parts[2]
			}
			runInteractiveRead(ctx, device, currentDest, parts[1], prop)

		case "write":
			if currentHost == "" {
				fmt.Println("No device selected. Use 'use <ip:port>' first.")
				continue
			}
			if len(parts) < 4 {
				fmt.Println("Usage: write <object> <property> <value>")
				continue
			}
			runInteractiveWrite(ctx, device, currentDest, parts[1], parts[2], strings.Join(parts[3:], " "))

		case "info":
			if currentHost == "" {
				fmt.Println("No device selected. Use 'use <ip:port>' first.")
				continue
			}
			if len(parts) < 2 {
				fmt.Println("Usage: info <device-object>")
				continue
			}
			runInteractiveInfo(ctx, device, currentDest, parts[1])

		case "metrics":
			runInteractiveMetrics(device)

		default:
			fmt.Printf("Unknown command: %s (type 'help' for available commands)\n", command)
		}
	}

	return nil
}

func printInteractiveHelp() {
	fmt.Println(`
Available commands:
  scan                              Discover BACnet devices on the network
  use <ip:port>                     Select a device address to work with
  read <object> [property]          Read a property (default: present-value)
  write <object> <property> <value> Write a property value
  info <device-object>              Show device object properties
  metrics                           Show local client metrics
  help                              Show this help message
  exit                              Exit interactive mode

Object format: <type>:<instance>
  Examples: analog-input:1, ai:1, binary-output:5, device:1234

Property shortcuts:
  pv = present-value
  name = object-name
  desc = description
  sf = status-flags
  oos = out-of-service
`)
}

func runInteractiveScan(ctx context.Context, device *bacnet.Device) {
	fmt.Println("Scanning for devices...")

	scanCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := device.DiscoverBroadcast(scanCtx, bacnet.WithDiscoveryTimeout(3*time.Second)); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	devices := device.Discovered()
	if len(devices) == 0 {
		fmt.Println("No devices found")
		return
	}

	fmt.Printf("\nFound %d device(s):\n", len(devices))
	for _, dev := range devices {
		fmt.Printf("  %s - %s (Vendor: %d)\n", dev.ObjectID.String(), dev.Address.String(), dev.VendorID)
	}
	fmt.Println()
}

func runInteractiveRead(ctx context.Context, device *bacnet.Device, dest bacnet.Address, objStr, propStr string) {
	objectID, err := parseObjectIdentifier(objStr)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	propID, err := parsePropertyIdentifier(propStr)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	value, err := device.ReadRemote(readCtx, dest, objectID, propID, -1)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("%s.%s = %s\n", objectID.String(), propID.String(), value.String())
}

func runInteractiveWrite(ctx context.Context, device *bacnet.Device, dest bacnet.Address, objStr, propStr, valStr string) {
	objectID, err := parseObjectIdentifier(objStr)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	propID, err := parsePropertyIdentifier(propStr)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	value, err := parseValue(valStr)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := device.WriteRemote(writeCtx, dest, objectID, propID, -1, value, 16); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("OK: %s.%s = %s\n", objectID.String(), propID.String(), value.String())
}

func runInteractiveInfo(ctx context.Context, device *bacnet.Device, dest bacnet.Address, devStr string) {
	deviceOID, err := parseObjectIdentifier(devStr)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	props := []struct {
		name string
		prop bacnet.PropertyIdentifier
	}{
		{"Name", bacnet.PropertyObjectName},
		{"Vendor", bacnet.PropertyVendorName},
		{"Model", bacnet.PropertyModelName},
		{"Firmware", bacnet.PropertyFirmwareRevision},
	}

	fmt.Printf("\n%s:\n", deviceOID.String())
	for _, p := range props {
		readCtx, cancel := context.WithTimeout(ctx, timeout)
		val, err := device.ReadRemote(readCtx, dest, deviceOID, p.prop, -1)
		cancel()

		if err == nil {
			fmt.Printf("  %-10s: %s\n", p.name, val.String())
		}
	}
	fmt.Println()
}

func runInteractiveMetrics(device *bacnet.Device) {
	m := device.Metrics()

	fmt.Println("\nClient Metrics:")
	fmt.Printf("  Uptime:              %s\n", m.Uptime().Round(time.Second))
	fmt.Printf("  Requests Sent:       %.0f\n", testutil.ToFloat64(m.RequestsSent))
	fmt.Printf("  Requests Succeeded:  %.0f\n", testutil.ToFloat64(m.RequestsSucceeded))
	fmt.Printf("  Requests Failed:     %.0f\n", testutil.ToFloat64(m.RequestsFailed))
	fmt.Printf("  Requests Timed Out:  %.0f\n", testutil.ToFloat64(m.RequestsTimedOut))
	fmt.Printf("  Devices Discovered:  %.0f\n", testutil.ToFloat64(m.DevicesDiscovered))
	fmt.Printf("  Bytes Sent:          %.0f\n", testutil.ToFloat64(m.BytesSent))
	fmt.Printf("  Bytes Received:      %.0f\n", testutil.ToFloat64(m.BytesReceived))
	fmt.Println()
}
