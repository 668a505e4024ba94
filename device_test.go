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

package bacnet

import (
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/bacstack/bacstack/internal/bvll"
	"github.com/bacstack/bacstack/internal/objectdb"
	"github.com/bacstack/bacstack/internal/transport"
	"github.com/bacstack/bacstack/internal/tsm"
)

func testDeviceLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newLoopbackDevice builds a single-port Device bound to bindAddr,
// broadcasting to broadcastAddr, and starts Run in the background.
// Callers must cancel ctx before the test returns.
func newLoopbackDevice(t *testing.T, deviceID uint32, bindAddr, broadcastAddr string) (*Device, context.Context, context.CancelFunc) {
	t.Helper()
	cfg := DeviceConfig{
		DeviceID:    deviceID,
		ObjectName:  "test-device",
		AppNetwork:  1,
		APDUTimeout: 200 * time.Millisecond,
		Retries:     1,
		IPv4: []IPv4PortConfig{
			{Network: 1, BindAddr: bindAddr, BroadcastAddr: broadcastAddr},
		},
	}
	d, err := NewDevice(cfg, WithDeviceLogger(testDeviceLogger()), WithDeviceRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	return d, ctx, cancel
}

// remoteAddrOf builds the Address a peer device answers to given its
// first IPv4 port's bound socket.
func remoteAddrOf(d *Device) Address {
	mac := transport.UDPAddrToMAC(d.ipv4Ports[0].LocalAddr())
	return Address{Addr: mac}
}

func TestDeviceWhoIsIAm(t *testing.T) {
	// Each device's broadcast address points directly at the other's
	// bound socket, so a loopback "broadcast" reaches its peer without
	// depending on OS broadcast routing over 127.0.0.1.
	_, bCtx, bCancel := newLoopbackDevice(t, 2002, "127.0.0.1:47910", "127.0.0.1:47911")
	defer bCancel()
	a, aCtx, aCancel := newLoopbackDevice(t, 2001, "127.0.0.1:47911", "127.0.0.1:47910")
	defer aCancel()
	_ = bCtx
	_ = aCtx

	time.Sleep(50 * time.Millisecond) // let both Run loops start reading

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.DiscoverBroadcast(ctx, WithDiscoveryTimeout(100*time.Millisecond)))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(a.met.IAmReceived) > 0
	}, time.Second, 10*time.Millisecond)
}

func TestDeviceReadWriteProperty(t *testing.T) {
	server, sCtx, sCancel := newLoopbackDevice(t, 3002, "127.0.0.1:0", "127.0.0.1:0")
	defer sCancel()
	client, cCtx, cCancel := newLoopbackDevice(t, 3001, "127.0.0.1:0", "127.0.0.1:0")
	defer cCancel()
	_ = sCtx
	_ = cCtx

	obj := objectdb.NewObject(NewObjectIdentifier(ObjectTypeAnalogValue, 1))
	obj.Set(PropertyObjectName, objectdb.Str("av-1"))
	obj.MakeCommandable(objectdb.Real(0))
	require.NoError(t, server.Database().Add(obj))
	require.NoError(t, server.Database().WriteProperty(obj.ID, PropertyPresentValue, objectdb.Real(21.5), 16))

	time.Sleep(50 * time.Millisecond)

	dest := remoteAddrOf(server)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	v, err := client.ReadRemote(ctx, dest, obj.ID, PropertyPresentValue, -1)
	require.NoError(t, err)
	require.True(t, v.Equal(objectdb.Real(21.5)))

	// Write at a higher priority and confirm the priority array picks
	// it up as the new effective value.
	require.NoError(t, client.WriteRemote(ctx, dest, obj.ID, PropertyPresentValue, -1, objectdb.Real(99.0), 8))
	v, err = client.ReadRemote(ctx, dest, obj.ID, PropertyPresentValue, -1)
	require.NoError(t, err)
	require.True(t, v.Equal(objectdb.Real(99.0)))

	// Relinquishing priority 8 (a nil Write) is exercised directly on
	// the object, since the wire codec's WriteProperty has no "null"
	// application tag convenience in this test: priority 16 remains the
	// next-lower-priority commanded value.
	require.NoError(t, obj.Priority.Write(8, nil))
	require.True(t, obj.Priority.Effective().Equal(objectdb.Real(21.5)))
}

func TestDeviceReadPropertyUnknownObject(t *testing.T) {
	server, sCtx, sCancel := newLoopbackDevice(t, 3004, "127.0.0.1:0", "127.0.0.1:0")
	defer sCancel()
	client, cCtx, cCancel := newLoopbackDevice(t, 3003, "127.0.0.1:0", "127.0.0.1:0")
	defer cCancel()
	_ = sCtx
	_ = cCtx
	time.Sleep(50 * time.Millisecond)

	dest := remoteAddrOf(server)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := client.ReadRemote(ctx, dest, NewObjectIdentifier(ObjectTypeAnalogValue, 99), PropertyPresentValue, -1)
	require.Error(t, err)
	require.True(t, IsDeviceNotFound(err) || IsPropertyNotFound(err))
}

func TestDeviceSubscribeCOVDeliversNotification(t *testing.T) {
	server, sCtx, sCancel := newLoopbackDevice(t, 3008, "127.0.0.1:0", "127.0.0.1:0")
	defer sCancel()
	client, cCtx, cCancel := newLoopbackDevice(t, 3007, "127.0.0.1:0", "127.0.0.1:0")
	defer cCancel()
	_ = sCtx
	_ = cCtx

	obj := objectdb.NewObject(NewObjectIdentifier(ObjectTypeAnalogInput, 1))
	obj.Set(PropertyObjectName, objectdb.Str("ai-1"))
	obj.Set(PropertyPresentValue, objectdb.Real(0))
	require.NoError(t, server.Database().Add(obj))
	time.Sleep(50 * time.Millisecond)

	dest := remoteAddrOf(server)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, client.SubscribeRemote(ctx, dest, obj.ID, 7, true, 0))

	// Subscribing dispatches an initial synchronization notification
	// before any write happens, so drain events until the written value
	// shows up rather than assuming the first one is it.
	require.NoError(t, server.Database().WriteProperty(obj.ID, PropertyPresentValue, objectdb.Real(42.0), 16))

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-client.COVEvents():
			require.Equal(t, obj.ID, ev.Notification.MonitoredObject)
			for _, pv := range ev.Notification.Values {
				if pv.Property == PropertyPresentValue && pv.Value.Equal(objectdb.Real(42.0)) {
					goto delivered
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for cov notification")
		}
	}
delivered:

	require.NoError(t, client.UnsubscribeRemote(ctx, dest, obj.ID, 7))
}

func TestDeviceBBMDPersistsAndReloadsBDT(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "bdt.json")

	cfg := DeviceConfig{
		DeviceID:    4001,
		ObjectName:  "bbmd-a",
		AppNetwork:  1,
		APDUTimeout: 200 * time.Millisecond,
		Retries:     1,
		IPv4: []IPv4PortConfig{{
			Network:       1,
			BindAddr:      "127.0.0.1:0",
			BroadcastAddr: "127.0.0.1:0",
			BBMD:          BBMDConfig{BDTStorePath: storePath},
		}},
	}
	first, err := NewDevice(cfg, WithDeviceLogger(testDeviceLogger()), WithDeviceRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer first.Close()

	entries := []bvll.BDTEntry{
		{Address: net.ParseIP("10.0.0.1"), Port: 47808, Mask: net.CIDRMask(32, 32)},
		{Address: net.ParseIP("10.0.0.2"), Port: 47808, Mask: net.CIDRMask(32, 32)},
	}
	first.ipv4BBMDs[0].SetBDT(entries)

	// A second Device pointed at the same store, with no static BDT of
	// its own, should pick up what the first one persisted.
	second, err := NewDevice(cfg, WithDeviceLogger(testDeviceLogger()), WithDeviceRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer second.Close()

	got := second.ipv4BBMDs[0].BDT()
	require.Len(t, got, 2)
	require.Equal(t, "10.0.0.1", got[0].Address.String())
	require.Equal(t, "10.0.0.2", got[1].Address.String())
}

func TestDeviceCommunicationControlBlocksReadProperty(t *testing.T) {
	server, sCtx, sCancel := newLoopbackDevice(t, 3006, "127.0.0.1:0", "127.0.0.1:0")
	defer sCancel()
	client, cCtx, cCancel := newLoopbackDevice(t, 3005, "127.0.0.1:0", "127.0.0.1:0")
	defer cCancel()
	_ = sCtx
	_ = cCtx

	obj := objectdb.NewObject(NewObjectIdentifier(ObjectTypeAnalogValue, 1))
	obj.Set(PropertyPresentValue, objectdb.Real(1))
	require.NoError(t, server.Database().Add(obj))
	time.Sleep(50 * time.Millisecond)

	server.server.SetDCC(tsm.DCCDisable, 0)

	dest := remoteAddrOf(server)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := client.ReadRemote(ctx, dest, obj.ID, PropertyPresentValue, -1)
	require.Error(t, err)
	require.True(t, IsTimeout(err))
}
