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
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bacstack/bacstack"
)

var (
	dumpHost       string
	dumpDevice     string
	dumpFile       string
	dumpProperties []string
	dumpObjects    []string
	dumpAll        bool
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump all objects and properties from a device",
	Long: `Dump reads the object list from a BACnet device and every requested
property of every object in it.

This is useful for device configuration backup, documentation, or debugging.

Examples:
  # Dump all objects to stdout
  bacstack dump --host 192.0.2.10:47808 -D device:1234

  # Dump to a JSON file
  bacstack dump --host 192.0.2.10:47808 -D device:1234 -f device_backup.json -o json

  # Dump specific object types
  bacstack dump --host 192.0.2.10:47808 -D device:1234 --objects analog-input,analog-output

  # Dump specific properties
  bacstack dump --host 192.0.2.10:47808 -D device:1234 --props present-value,object-name,description`,

	RunE: runDump,
}

func init() {
	dumpCmd.Flags().StringVar(&dumpHost, "host", "", "Target device address (ip:port)")
	dumpCmd.Flags().StringVarP(&dumpDevice, "device", "D", "", "Device object identifier (e.g., device:1234)")
	dumpCmd.Flags().StringVarP(&dumpFile, "file", "f", "", "Output file (default: stdout)")
	dumpCmd.Flags().StringSliceVar(&dumpProperties, "props", []string{"present-value", "object-name", "description", "units", "status-flags"}, "Properties to read")
	dumpCmd.Flags().StringSliceVar(&dumpObjects, "objects", nil, "Object types to include (default: all)")
	dumpCmd.Flags().BoolVar(&dumpAll, "all", false, "Dump all properties (may be slow)")

	dumpCmd.MarkFlagRequired("host")
	dumpCmd.MarkFlagRequired("device")
}

type DumpObject struct {
	ObjectID   string                 `json:"object_id"`
	ObjectType string                 `json:"object_type"`
	Instance   uint32                 `json:"instance"`
	Properties map[string]interface{} `json:"properties"`
}

type DumpResult struct {
	DeviceID  string       `json:"device_id"`
	Timestamp time.Time    `json:"timestamp"`
	Objects   []DumpObject `json:"objects"`
}

func runDump(cmd *cobra.Command, args []string) error {
	deviceObj, err := parseObjectIdentifier(dumpDevice)
	if err != nil {
		return fmt.Errorf("invalid device: %w", err)
	}
	dest, err := parseHostAddress(dumpHost)
	if err != nil {
		return err
	}

	device, _, cancel, err := newClientDevice()
	if err != nil {
		return err
	}
	defer cancel()
	defer device.Close()

	ctx, reqCancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer reqCancel()

	fmt.Fprintln(os.Stderr, "Retrieving object list...")

	listVal, err := device.ReadRemote(ctx, dest, deviceObj, bacnet.PropertyObjectList, -1)
	if err != nil {
		return fmt.Errorf("get object list: %w", err)
	}
	objects := make([]bacnet.ObjectIdentifier, 0, len(listVal.List))
	for _, item := range listVal.List {
		objects = append(objects, item.ObjectID)
	}

	fmt.Fprintf(os.Stderr, "Found %d objects\n", len(objects))

	if len(dumpObjects) > 0 {
		filtered := make([]bacnet.ObjectIdentifier, 0)
		for _, obj := range objects {
			for _, typeStr := range dumpObjects {
				objType, ok := bacnet.ParseObjectType(typeStr)
				if ok && obj.Type == objType {
					filtered = append(filtered, obj)
					break
				}
			}
		}
		objects = filtered
		fmt.Fprintf(os.Stderr, "Filtered to %d objects\n", len(objects))
	}

	props := make([]bacnet.PropertyIdentifier, 0, len(dumpProperties))
	if dumpAll {
		props = []bacnet.PropertyIdentifier{
			bacnet.PropertyObjectIdentifier,
			bacnet.PropertyObjectName,
			bacnet.PropertyObjectType,
			bacnet.PropertyPresentValue,
			bacnet.PropertyDescription,
			bacnet.PropertyStatusFlags,
			bacnet.PropertyEventState,
			bacnet.PropertyReliability,
			bacnet.PropertyOutOfService,
			bacnet.PropertyUnits,
			bacnet.PropertyPriorityArray,
			bacnet.PropertyRelinquishDefault,
			bacnet.PropertyCOVIncrement,
			bacnet.PropertyHighLimit,
			bacnet.PropertyLowLimit,
		}
	} else {
		for _, propStr := range dumpProperties {
			prop, ok := bacnet.ParsePropertyIdentifier(propStr)
			if ok {
				props = append(props, prop)
			}
		}
	}

	result := DumpResult{
		DeviceID:  deviceObj.String(),
		Timestamp: time.Now(),
		Objects:   make([]DumpObject, 0, len(objects)),
	}

	for i, obj := range objects {
		fmt.Fprintf(os.Stderr, "\rReading object %d/%d: %s", i+1, len(objects), obj.String())

		dumpObj := DumpObject{
			ObjectID:   obj.String(),
			ObjectType: obj.Type.String(),
			Instance:   obj.Instance,
			Properties: make(map[string]interface{}),
		}

		for _, prop := range props {
			readCtx, readCancel := context.WithTimeout(ctx, timeout)
			value, err := device.ReadRemote(readCtx, dest, obj, prop, -1)
			readCancel()
			if err != nil {
				continue
			}
			dumpObj.Properties[prop.String()] = value.String()
		}

		result.Objects = append(result.Objects, dumpObj)
	}

	fmt.Fprintln(os.Stderr, "\nDump complete")

	var out *os.File
	if dumpFile != "" {
		out, err = os.Create(dumpFile)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer out.Close()
	} else {
		out = os.Stdout
	}

	switch outputFmt {
	case "json":
		return outputDumpJSON(out, result)
	case "csv":
		return outputDumpCSV(out, result)
	default:
		return outputDumpTable(out, result)
	}
}

func outputDumpJSON(out *os.File, result DumpResult) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func outputDumpCSV(out *os.File, result DumpResult) error {
	writer := csv.NewWriter(out)
	defer writer.Flush()

	header := []string{"object_id", "object_type", "instance"}
	propNames := make([]string, 0)
	if len(result.Objects) > 0 {
		for prop := range result.Objects[0].Properties {
			propNames = append(propNames, prop)
			header = append(header, prop)
		}
	}
	writer.Write(header)

	for _, obj := range result.Objects {
		row := []string{obj.ObjectID, obj.ObjectType, fmt.Sprintf("%d", obj.Instance)}
		for _, prop := range propNames {
			row = append(row, fmt.Sprintf("%v", obj.Properties[prop]))
		}
		writer.Write(row)
	}

	return nil
}

func outputDumpTable(out *os.File, result DumpResult) error {
	fmt.Fprintf(out, "Device %s - %d objects\n", result.DeviceID, len(result.Objects))
	fmt.Fprintf(out, "Timestamp: %s\n\n", result.Timestamp.Format(time.RFC3339))

	for _, obj := range result.Objects {
		fmt.Fprintf(out, "=== %s ===\n", obj.ObjectID)
		for prop, val := range obj.Properties {
			fmt.Fprintf(out, "  %-25s: %v\n", prop, val)
		}
		fmt.Fprintln(out)
	}

	return nil
}
