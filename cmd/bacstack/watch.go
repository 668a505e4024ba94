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
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/bacstack/bacstack"
)

var (
	watchHost        string
	watchObject      string
	watchProperty    string
	watchInterval    time.Duration
	watchCOV         bool
	watchCOVLifetime time.Duration
	watchProcessID   uint32
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a property for changes",
	Long: `Watch monitors a BACnet property for changes in a live terminal view.

Two modes are available:
  - Polling: periodically reads the property value
  - COV: subscribes to Change of Value notifications

Examples:
  # Poll present value every second
  bacstack watch --host 192.0.2.10:47808 -O analog-input:1 -P present-value --interval 1s

  # Subscribe to COV notifications
  bacstack watch --host 192.0.2.10:47808 -O analog-input:1 --cov

  # COV with a bounded lifetime
  bacstack watch --host 192.0.2.10:47808 -O analog-input:1 --cov --cov-lifetime 5m`,

	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchHost, "host", "", "Target device address (ip:port)")
	watchCmd.Flags().StringVarP(&watchObject, "object", "O", "", "Object type and instance (e.g., analog-input:1)")
	watchCmd.Flags().StringVarP(&watchProperty, "property", "P", "present-value", "Property identifier")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", time.Second, "Polling interval")
	watchCmd.Flags().BoolVar(&watchCOV, "cov", false, "Use a COV subscription instead of polling")
	watchCmd.Flags().DurationVar(&watchCOVLifetime, "cov-lifetime", 0, "COV subscription lifetime (0 = indefinite)")
	watchCmd.Flags().Uint32Var(&watchProcessID, "process-id", 1, "Subscriber process identifier")

	watchCmd.MarkFlagRequired("host")
	watchCmd.MarkFlagRequired("object")
}

// watchUpdate is a single observed value, delivered to the TUI as a
// bubbletea message.
type watchUpdate struct {
	t       time.Time
	value   string
	changed bool
}

type watchErr struct{ err error }

type watchModel struct {
	objectID bacnet.ObjectIdentifier
	propID   bacnet.PropertyIdentifier
	mode     string

	history []watchUpdate
	lastErr error
	updates chan watchUpdate
	errs    chan error
}

func (m watchModel) Init() tea.Cmd {
	return waitForWatch(m.updates, m.errs)
}

func waitForWatch(updates chan watchUpdate, errs chan error) tea.Cmd {
	return func() tea.Msg {
		select {
		case u := <-updates:
			return u
		case err := <-errs:
			return watchErr{err}
		}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		}
		return m, nil
	case watchUpdate:
		m.history = append(m.history, msg)
		if len(m.history) > 500 {
			m.history = m.history[len(m.history)-500:]
		}
		return m, waitForWatch(m.updates, m.errs)
	case watchErr:
		m.lastErr = msg.err
		return m, waitForWatch(m.updates, m.errs)
	}
	return m, nil
}

var (
	watchTitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	watchChangedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	watchErrStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	watchHintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(watchTitleStyle.Render(fmt.Sprintf("%s  %s.%s", m.mode, m.objectID.String(), m.propID.String())))
	b.WriteString("\n\n")

	start := 0
	if len(m.history) > 24 {
		start = len(m.history) - 24
	}
	for _, u := range m.history[start:] {
		line := fmt.Sprintf("[%s] %s", u.t.Format("15:04:05.000"), u.value)
		if u.changed {
			line = watchChangedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if m.lastErr != nil {
		b.WriteString(watchErrStyle.Render("error: " + m.lastErr.Error()))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(watchHintStyle.Render("q to quit"))
	return b.String()
}

func runWatch(cmd *cobra.Command, args []string) error {
	objectID, err := parseObjectIdentifier(watchObject)
	if err != nil {
		return fmt.Errorf("invalid object: %w", err)
	}
	propID, err := parsePropertyIdentifier(watchProperty)
	if err != nil {
		return fmt.Errorf("invalid property: %w", err)
	}
	dest, err := parseHostAddress(watchHost)
	if err != nil {
		return err
	}

	device, ctx, cancel, err := newClientDevice()
	if err != nil {
		return err
	}
	defer cancel()
	defer device.Close()

	model := watchModel{
		objectID: objectID,
		propID:   propID,
		updates:  make(chan watchUpdate, 16),
		errs:     make(chan error, 4),
	}

	if watchCOV {
		model.mode = "cov"
		if err := device.SubscribeRemote(ctx, dest, objectID, watchProcessID, true, watchCOVLifetime); err != nil {
			return fmt.Errorf("subscribe cov: %w", err)
		}
		go runCOVFeed(ctx, device, dest, propID, model.updates, model.errs)
		defer func() {
			unsubCtx, unsubCancel := context.WithTimeout(context.Background(), timeout)
			defer unsubCancel()
			_ = device.UnsubscribeRemote(unsubCtx, dest, objectID, watchProcessID)
		}()
	} else {
		model.mode = "poll"
		go runPollFeed(ctx, device, dest, objectID, propID, model.updates, model.errs)
	}

	_, err = tea.NewProgram(model).Run()
	return err
}

func runPollFeed(ctx context.Context, device *bacnet.Device, dest bacnet.Address, objectID bacnet.ObjectIdentifier, propID bacnet.PropertyIdentifier, updates chan<- watchUpdate, errs chan<- error) {
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	var last string
	first := true
	for {
		readCtx, readCancel := context.WithTimeout(ctx, timeout)
		value, err := device.ReadRemote(readCtx, dest, objectID, propID, -1)
		readCancel()
		if err != nil {
			select {
			case errs <- err:
			case <-ctx.Done():
				return
			}
		} else {
			changed := first || value.String() != last
			last = value.String()
			first = false
			select {
			case updates <- watchUpdate{t: time.Now(), value: last, changed: changed}:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runCOVFeed(ctx context.Context, device *bacnet.Device, dest bacnet.Address, propID bacnet.PropertyIdentifier, updates chan<- watchUpdate, errs chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-device.COVEvents():
			if !ev.Source.Equal(dest) {
				continue
			}
			for _, pv := range ev.Notification.Values {
				if pv.Property != propID {
					continue
				}
				updates <- watchUpdate{t: time.Now(), value: pv.Value.String(), changed: true}
			}
		}
	}
}
