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
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bacstack/bacstack"
	"github.com/bacstack/bacstack/internal/objectdb"
	"github.com/bacstack/bacstack/internal/transport"
)

var (
	readHost       string
	readObject     string
	readProperty   string
	readArrayIndex int
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read a property from a BACnet object",
	Long: `Read retrieves property values from BACnet objects.

Object types can be specified by name or number:
  analog-input, ai, 0
  analog-output, ao, 1
  analog-value, av, 2
  binary-input, bi, 3
  binary-output, bo, 4
  binary-value, bv, 5
  device, dev, 8
  multi-state-input, msi, 13
  multi-state-output, mso, 14
  multi-state-value, msv, 19

Properties can be specified by name or number:
  present-value, pv, 85
  object-name, name, 77
  description, desc, 28
  status-flags, sf, 111
  units, 117
  out-of-service, oos, 81

Examples:
  # Read present value from analog input 1
  bacstack read --host 192.0.2.10:47808 -O analog-input:1 -P present-value

  # Read using short names
  bacstack read --host 192.0.2.10:47808 -O ai:1 -P pv

  # Read an array element
  bacstack read --host 192.0.2.10:47808 -O device:1234 -P object-list --index 1`,

	RunE: runRead,
}

func init() {
	readCmd.Flags().StringVar(&readHost, "host", "", "Target device address (ip:port)")
	readCmd.Flags().StringVarP(&readObject, "object", "O", "", "Object type and instance (e.g., analog-input:1 or ai:1)")
	readCmd.Flags().StringVarP(&readProperty, "property", "P", "present-value", "Property identifier")
	readCmd.Flags().IntVar(&readArrayIndex, "index", -1, "Array index (-1 for no index)")

	readCmd.MarkFlagRequired("host")
	readCmd.MarkFlagRequired("object")
}

func runRead(cmd *cobra.Command, args []string) error {
	objectID, err := parseObjectIdentifier(readObject)
	if err != nil {
		return fmt.Errorf("invalid object: %w", err)
	}
	propID, err := parsePropertyIdentifier(readProperty)
	if err != nil {
		return fmt.Errorf("invalid property: %w", err)
	}
	dest, err := parseHostAddress(readHost)
	if err != nil {
		return err
	}

	device, _, cancel, err := newClientDevice()
	if err != nil {
		return err
	}
	defer cancel()
	defer device.Close()

	ctx, reqCancel := context.WithTimeout(context.Background(), timeout*time.Duration(retries+1))
	defer reqCancel()

	value, err := device.ReadRemote(ctx, dest, objectID, propID, readArrayIndex)
	if err != nil {
		return fmt.Errorf("read property: %w", err)
	}

	switch outputFmt {
	case "json":
		return outputValueJSON(objectID, propID, value)
	case "csv":
		return outputValueCSV(objectID, propID, value)
	default:
		return outputValueTable(objectID, propID, value)
	}
}

// parseHostAddress turns an "ip:port" string into the 6-byte BACnet/IP
// MAC address wrapped in an Address on the local network (DNET 0).
func parseHostAddress(s string) (bacnet.Address, error) {
	addr, err := net.ResolveUDPAddr("udp4", s)
	if err != nil {
		return bacnet.Address{}, fmt.Errorf("invalid host %q: %w", s, err)
	}
	return bacnet.Address{Addr: transport.UDPAddrToMAC(addr)}, nil
}

func parseObjectIdentifier(s string) (bacnet.ObjectIdentifier, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return bacnet.ObjectIdentifier{}, fmt.Errorf("expected format type:instance (e.g., analog-input:1)")
	}

	instance, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return bacnet.ObjectIdentifier{}, fmt.Errorf("invalid instance number: %s", parts[1])
	}

	if typeNum, err := strconv.ParseUint(parts[0], 10, 16); err == nil {
		return bacnet.NewObjectIdentifier(bacnet.ObjectType(typeNum), uint32(instance)), nil
	}

	objType, ok := bacnet.ParseObjectType(strings.ToLower(parts[0]))
	if !ok {
		return bacnet.ObjectIdentifier{}, fmt.Errorf("unknown object type: %s", parts[0])
	}
	return bacnet.NewObjectIdentifier(objType, uint32(instance)), nil
}

func parsePropertyIdentifier(s string) (bacnet.PropertyIdentifier, error) {
	if propNum, err := strconv.ParseUint(s, 10, 32); err == nil {
		return bacnet.PropertyIdentifier(propNum), nil
	}
	prop, ok := bacnet.ParsePropertyIdentifier(strings.ToLower(s))
	if !ok {
		return 0, fmt.Errorf("unknown property: %s", s)
	}
	return prop, nil
}

func outputValueTable(objectID bacnet.ObjectIdentifier, propID bacnet.PropertyIdentifier, value objectdb.Value) error {
	fmt.Printf("Object:   %s\n", objectID.String())
	fmt.Printf("Property: %s\n", propID.String())
	fmt.Printf("Value:    %s\n", value.String())
	return nil
}

func outputValueJSON(objectID bacnet.ObjectIdentifier, propID bacnet.PropertyIdentifier, value objectdb.Value) error {
	valStr := value.String()
	switch value.Kind {
	case objectdb.KindCharacterString, objectdb.KindObjectID, objectdb.KindOctetString:
		valStr = fmt.Sprintf("%q", valStr)
	}
	fmt.Printf(`{"object": "%s", "property": "%s", "value": %s}`+"\n", objectID.String(), propID.String(), valStr)
	return nil
}

func outputValueCSV(objectID bacnet.ObjectIdentifier, propID bacnet.PropertyIdentifier, value objectdb.Value) error {
	fmt.Printf("%s,%s,%s\n", objectID.String(), propID.String(), value.String())
	return nil
}
