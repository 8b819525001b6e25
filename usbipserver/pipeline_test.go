package usbipserver

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/kevmo314/usbipd/usbdevice"
	"github.com/kevmo314/usbipd/usbip"
	"github.com/stretchr/testify/require"
)

type stubInterfaceHandler struct {
	classDesc []byte
}

func (h *stubInterfaceHandler) HandleURB(iface *usbdevice.Interface, ep usbdevice.Endpoint, setup usbdevice.SetupPacket, payload []byte) ([]byte, error) {
	return nil, nil
}

func (h *stubInterfaceHandler) ClassSpecificDescriptor() []byte { return h.classDesc }

func newScenarioDevice() *usbdevice.Device {
	dev := usbdevice.NewDevice("0", "/sim/0", 1, 1, 2, 0x1234, 0xABCD, 0x02, 0x00, 0x00, 0x0100, 0x0200, 64, 1)
	iface := usbdevice.NewInterface(0, 0x0A, 0x00, 0x00, 0, nil, &stubInterfaceHandler{})
	dev.AddInterface(iface)
	return dev
}

func dialPipeConnection(t *testing.T, devices []*usbdevice.Device) (client net.Conn, done chan error) {
	t.Helper()
	server, client := net.Pipe()
	c := NewConnection(server, devices, nil, nil, Options{IdleSpinIterations: 2, IdleSleepInterval: time.Millisecond})
	done = make(chan error, 1)
	go func() { done <- c.Serve(context.Background()) }()
	t.Cleanup(func() { _ = client.Close(); _ = server.Close() })
	return client, done
}

func writeBE(t *testing.T, conn net.Conn, vals ...uint32) {
	t.Helper()
	for _, v := range vals {
		require.NoError(t, binary.Write(conn, binary.BigEndian, v))
	}
}

func readN(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := conn_ReadFull(conn, buf)
	require.NoError(t, err)
	return buf
}

// conn_ReadFull avoids importing io solely for ReadFull in this file's
// helper set.
func conn_ReadFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Scenario 3 + 4: IMPORT match, then GET_DEVICE_DESCRIPTOR over the
// imported device.
func TestScenarioImportThenGetDeviceDescriptor(t *testing.T) {
	dev := newScenarioDevice()
	client, _ := dialPipeConnection(t, []*usbdevice.Device{dev})

	// OP_REQ_IMPORT "0"
	_, err := client.Write([]byte{0x01, 0x11, 0x80, 0x03})
	require.NoError(t, err)
	writeBE(t, client, 0)
	busID := make([]byte, 32)
	copy(busID, "0")
	_, err = client.Write(busID)
	require.NoError(t, err)

	resp := readN(t, client, 0x140)
	require.Equal(t, []byte{0x01, 0x11, 0x00, 0x03, 0, 0, 0, 0}, resp[:8])

	// CMD_SUBMIT: direction IN, endpoint 0, setup = GET_DESCRIPTOR/Device.
	_, err = client.Write([]byte{0x00, 0x00, 0x00, 0x01})
	require.NoError(t, err)
	writeBE(t, client, 7 /*seq*/, 1 /*devid*/, uint32(usbip.DirIn), 0 /*ep*/, 0, 0, 0, 0, 0)
	_, err = client.Write([]byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x40, 0x00})
	require.NoError(t, err)

	retHdr := readN(t, client, 0x30)
	require.Equal(t, usbip.RetSubmitCode, binary.BigEndian.Uint32(retHdr[0:4]))
	require.EqualValues(t, 7, binary.BigEndian.Uint32(retHdr[4:8]))
	actualLength := binary.BigEndian.Uint32(retHdr[24:28])
	require.EqualValues(t, 18, actualLength)

	descBytes := readN(t, client, 18)
	require.Equal(t, dev.DeviceDescriptor(), descBytes)
}

// Scenario 6: SET_CONFIGURATION then GET_CONFIGURATION.
func TestScenarioSetThenGetConfiguration(t *testing.T) {
	dev := newScenarioDevice()
	client, _ := dialPipeConnection(t, []*usbdevice.Device{dev})

	_, err := client.Write([]byte{0x01, 0x11, 0x80, 0x03})
	require.NoError(t, err)
	writeBE(t, client, 0)
	busID := make([]byte, 32)
	copy(busID, "0")
	_, err = client.Write(busID)
	require.NoError(t, err)
	_ = readN(t, client, 0x140)

	submitSetConfig := func(seq uint32, setup [8]byte) []byte {
		_, err := client.Write([]byte{0x00, 0x00, 0x00, 0x01})
		require.NoError(t, err)
		writeBE(t, client, seq, 1, uint32(usbip.DirIn), 0, 0, 0, 0, 0, 0)
		_, err = client.Write(setup[:])
		require.NoError(t, err)
		hdr := readN(t, client, 0x30)
		al := binary.BigEndian.Uint32(hdr[24:28])
		if al > 0 {
			return readN(t, client, int(al))
		}
		return nil
	}

	resp := submitSetConfig(10, [8]byte{0x00, 0x09, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00})
	require.Empty(t, resp)

	resp = submitSetConfig(11, [8]byte{0x80, 0x08, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00})
	require.Equal(t, []byte{0x02}, resp)
}

// Scenario 1: empty DEVLIST.
func TestScenarioEmptyDevlist(t *testing.T) {
	client, _ := dialPipeConnection(t, nil)
	_, err := client.Write([]byte{0x01, 0x11, 0x80, 0x05})
	require.NoError(t, err)
	writeBE(t, client, 0)
	resp := readN(t, client, 12)
	require.Equal(t, []byte{0x01, 0x11, 0x00, 0x05, 0, 0, 0, 0, 0, 0, 0, 0}, resp)
}

// Scenario 5: an UNLINK targeting a still-queued SUBMIT removes it and
// reports -ECONNRESET, with no RET_SUBMIT for the cancelled seq.
func TestScenarioUnlinkQueuedSubmit(t *testing.T) {
	dev := newScenarioDevice()
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := NewConnection(server, []*usbdevice.Device{dev}, nil, nil, DefaultOptions())
	c.imported = dev

	submit := &packet{kind: usbip.CommandSubmit, seqnum: 42, submit: &usbip.SubmitHeader{Seqnum: 42, DevID: 1, Direction: usbip.DirIn, Endpoint: 0x81}}
	unlink := &packet{kind: usbip.CommandUnlink, seqnum: 43, unlink: &usbip.UnlinkHeader{Seqnum: 43, DevID: 1, Direction: usbip.DirIn, Endpoint: 0x81, SeqNumToUnlink: 42}}
	c.queue = []*packet{submit, unlink}

	readDone := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 0x30)
		_, _ = conn_ReadFull(client, buf)
		readDone <- buf
	}()

	did, err := c.writerStep()
	require.NoError(t, err)
	require.True(t, did)

	select {
	case buf := <-readDone:
		require.Equal(t, usbip.RetUnlinkCode, binary.BigEndian.Uint32(buf[0:4]))
		require.EqualValues(t, 43, binary.BigEndian.Uint32(buf[4:8]))
		status := int32(binary.BigEndian.Uint32(buf[20:24]))
		require.EqualValues(t, usbip.ErrnoConnReset, status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for RET_UNLINK")
	}

	require.Empty(t, c.queue)
}

// ConnectionDeadline: a peer that never sends anything is disconnected once
// the inactivity deadline elapses.
func TestConnectionDeadlineClosesIdleConnection(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	c := NewConnection(server, nil, nil, nil, Options{
		IdleSpinIterations: 2,
		IdleSleepInterval:  time.Millisecond,
		ConnectionDeadline: 20 * time.Millisecond,
	})
	done := make(chan error, 1)
	go func() { done <- c.Serve(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("connection deadline did not terminate an idle connection")
	}
}

// BusCleanupTimeout: once the serving context is cancelled, the writer
// still flushes an already-queued SUBMIT instead of stranding the client,
// then exits once the queue is empty.
func TestWriterLoopDrainsQueueDuringCleanup(t *testing.T) {
	dev := newScenarioDevice()
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := NewConnection(server, []*usbdevice.Device{dev}, nil, nil, Options{BusCleanupTimeout: 200 * time.Millisecond})
	c.imported = dev
	c.queue = []*packet{{
		kind:   usbip.CommandSubmit,
		seqnum: 9,
		submit: &usbip.SubmitHeader{
			Seqnum:    9,
			DevID:     1,
			Direction: usbip.DirIn,
			Endpoint:  0,
			Setup:     [8]byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x40, 0x00},
		},
	}}

	readDone := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 0x30+18)
		_, _ = conn_ReadFull(client, buf)
		readDone <- buf
	}()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.writerLoop(ctx)
	require.NoError(t, err)

	select {
	case buf := <-readDone:
		require.Equal(t, usbip.RetSubmitCode, binary.BigEndian.Uint32(buf[0:4]))
		require.EqualValues(t, 9, binary.BigEndian.Uint32(buf[4:8]))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the drained RET_SUBMIT")
	}
	require.Empty(t, c.queue)
}
