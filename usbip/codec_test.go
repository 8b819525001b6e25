package usbip

import (
	"bytes"
	"testing"

	"github.com/kevmo314/usbipd/usbdevice"
	"github.com/stretchr/testify/require"
)

func TestClassifyHeader(t *testing.T) {
	require.Equal(t, CommandReqDevlist, ClassifyHeader([4]byte{0x01, 0x11, 0x80, 0x05}))
	require.Equal(t, CommandReqImport, ClassifyHeader([4]byte{0x01, 0x11, 0x80, 0x03}))
	require.Equal(t, CommandSubmit, ClassifyHeader([4]byte{0x00, 0x00, 0x00, 0x01}))
	require.Equal(t, CommandUnlink, ClassifyHeader([4]byte{0x00, 0x00, 0x00, 0x02}))
	require.Equal(t, CommandUnknown, ClassifyHeader([4]byte{0xDE, 0xAD, 0xBE, 0xEF}))
}

func TestDeviceRecordRoundTrip(t *testing.T) {
	dev := usbdevice.NewDevice("0", "/sim/0", 1, 1, 2, 0x1234, 0xABCD, 0x02, 0x00, 0x00, 0x0100, 0x0200, 64, 1)
	rec := ToDeviceRecord(dev)
	wire := MarshalDeviceRecord(rec)
	require.Len(t, wire, 0x138)

	parsed, err := ParseDeviceRecord(wire)
	require.NoError(t, err)
	require.Equal(t, rec, parsed)
	require.Equal(t, wire, MarshalDeviceRecord(parsed))
}

// Scenario 1: empty DEVLIST.
func TestWriteDevlistResponseEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDevlistResponse(&buf, nil))
	require.Equal(t, []byte{0x01, 0x11, 0x00, 0x05, 0, 0, 0, 0, 0, 0, 0, 0}, buf.Bytes())
}

// Scenario 2: single-device DEVLIST with one 4-endpoint interface.
func TestWriteDevlistResponseSingleDevice(t *testing.T) {
	dev := usbdevice.NewDevice("0", "/sim/0", 1, 1, 2, 0x1234, 0xABCD, 0x02, 0x00, 0x00, 0x0100, 0x0200, 64, 1)
	iface := usbdevice.NewInterface(0, 0x02, 0x02, 0x01, 0, []usbdevice.Endpoint{
		{Address: 0x81, Attributes: 2, MaxPacketSize: 64},
		{Address: 0x01, Attributes: 2, MaxPacketSize: 64},
		{Address: 0x82, Attributes: 3, MaxPacketSize: 8},
		{Address: 0x83, Attributes: 1, MaxPacketSize: 8},
	}, nil)
	dev.AddInterface(iface)

	var buf bytes.Buffer
	require.NoError(t, WriteDevlistResponse(&buf, []*usbdevice.Device{dev}))
	require.Equal(t, 0x0C+0x138+4, buf.Len())
}

// Scenario 3: IMPORT match.
func TestImportRequestResponseRoundTrip(t *testing.T) {
	dev := usbdevice.NewDevice("0", "/sim/0", 1, 1, 2, 0x1234, 0xABCD, 0x02, 0x00, 0x00, 0x0100, 0x0200, 64, 1)

	var req bytes.Buffer
	req.Write([]byte{0, 0, 0, 0})
	var busID [32]byte
	copy(busID[:], "0")
	req.Write(busID[:])

	gotBusID, err := ReadImportRequest(&req)
	require.NoError(t, err)
	require.Equal(t, "0", gotBusID)

	var resp bytes.Buffer
	require.NoError(t, WriteImportResponse(&resp, dev))
	require.Equal(t, 0x140, resp.Len())
	require.Equal(t, []byte{0x01, 0x11, 0x00, 0x03, 0, 0, 0, 0}, resp.Bytes()[:8])
}

func TestImportResponseMiss(t *testing.T) {
	var resp bytes.Buffer
	require.NoError(t, WriteImportResponse(&resp, nil))
	require.Equal(t, []byte{0x01, 0x11, 0x00, 0x03, 0, 0, 0, 1}, resp.Bytes())
}
