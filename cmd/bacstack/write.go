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
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bacstack/bacstack/internal/objectdb"
)

var (
	writeHost       string
	writeObject     string
	writeProperty   string
	writeValue      string
	writePriority   int
	writeArrayIndex int
)

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Write a property to a BACnet object",
	Long: `Write sets property values on BACnet objects.

Value types are automatically detected:
  - Numbers: 123, 45.67, -10
  - Booleans: true, false, active, inactive
  - Strings: "text value"
  - Null: null (to release a priority)

Examples:
  # Write present value to an analog output
  bacstack write --host 192.0.2.10:47808 -O analog-output:1 -P present-value -V 75.5

  # Write with priority
  bacstack write --host 192.0.2.10:47808 -O binary-output:1 -P present-value -V true --priority 8

  # Release a priority (write null)
  bacstack write --host 192.0.2.10:47808 -O analog-output:1 -P present-value -V null --priority 8`,

	RunE: runWrite,
}

func init() {
	writeCmd.Flags().StringVar(&writeHost, "host", "", "Target device address (ip:port)")
	writeCmd.Flags().StringVarP(&writeObject, "object", "O", "", "Object type and instance (e.g., analog-output:1)")
	writeCmd.Flags().StringVarP(&writeProperty, "property", "P", "present-value", "Property identifier")
	writeCmd.Flags().StringVarP(&writeValue, "value", "V", "", "Value to write")
	writeCmd.Flags().IntVar(&writePriority, "priority", 0, "Write priority (1-16, 0 for no priority)")
	writeCmd.Flags().IntVar(&writeArrayIndex, "index", -1, "Array index (-1 for no index)")

	writeCmd.MarkFlagRequired("host")
	writeCmd.MarkFlagRequired("object")
	writeCmd.MarkFlagRequired("value")
}

func runWrite(cmd *cobra.Command, args []string) error {
	objectID, err := parseObjectIdentifier(writeObject)
	if err != nil {
		return fmt.Errorf("invalid object: %w", err)
	}
	propID, err := parsePropertyIdentifier(writeProperty)
	if err != nil {
		return fmt.Errorf("invalid property: %w", err)
	}
	value, err := parseValue(writeValue)
	if err != nil {
		return fmt.Errorf("invalid value: %w", err)
	}
	dest, err := parseHostAddress(writeHost)
	if err != nil {
		return err
	}

	priority := writePriority
	if priority == 0 {
		priority = 16
	}

	device, _, cancel, err := newClientDevice()
	if err != nil {
		return err
	}
	defer cancel()
	defer device.Close()

	ctx, reqCancel := context.WithTimeout(context.Background(), timeout*time.Duration(retries+1))
	defer reqCancel()

	if err := device.WriteRemote(ctx, dest, objectID, propID, writeArrayIndex, value, priority); err != nil {
		return fmt.Errorf("write property: %w", err)
	}

	fmt.Printf("Successfully wrote %s to %s.%s\n", value.String(), objectID.String(), propID.String())
	return nil
}

// parseValue maps a CLI value string onto the objectdb.Value kind that
// best fits the literal: null releases a priority, true/false and the
// common active/inactive synonyms become booleans, a decimal point
// selects a real, otherwise an integer or quoted/bare string.
func parseValue(s string) (objectdb.Value, error) {
	s = strings.TrimSpace(s)

	if strings.EqualFold(s, "null") {
		return objectdb.Null(), nil
	}

	switch strings.ToLower(s) {
	case "true", "active", "on":
		return objectdb.Bool(true), nil
	case "false", "inactive", "off":
		return objectdb.Bool(false), nil
	}

	if (strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`)) ||
		(strings.HasPrefix(s, "'") && strings.HasSuffix(s, "'")) {
		return objectdb.Str(s[1 : len(s)-1]), nil
	}

	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 32); err == nil {
			return objectdb.Real(float32(f)), nil
		}
	}

	if i, err := strconv.ParseInt(s, 10, 32); err == nil {
		if i < 0 {
			return objectdb.Signed(int32(i)), nil
		}
		return objectdb.Unsigned(uint32(i)), nil
	}

	return objectdb.Str(s), nil
}
