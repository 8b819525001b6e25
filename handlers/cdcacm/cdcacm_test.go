package cdcacm

import (
	"testing"

	"github.com/kevmo314/usbipd/usbdevice"
	"github.com/stretchr/testify/require"
)

func TestBulkLoopback(t *testing.T) {
	h := New()
	out := usbdevice.Endpoint{Address: 0x02, Attributes: uint8(usbdevice.TransferTypeBulk), MaxPacketSize: 64}
	in := usbdevice.Endpoint{Address: 0x82, Attributes: uint8(usbdevice.TransferTypeBulk), MaxPacketSize: 64}

	_, err := h.HandleURB(nil, out, usbdevice.SetupPacket{}, []byte("hello"))
	require.NoError(t, err)

	resp, err := h.HandleURB(nil, in, usbdevice.SetupPacket{}, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), resp)

	resp, err = h.HandleURB(nil, in, usbdevice.SetupPacket{}, nil)
	require.NoError(t, err)
	require.Empty(t, resp)
}

func TestSetAndGetLineCoding(t *testing.T) {
	h := New()
	payload := []byte{0x80, 0x25, 0x00, 0x00, 0x01, 0x00, 0x08} // 9600 baud, 1.5 stop bits, no parity, 8 data bits
	setSetup := usbdevice.SetupPacket{RequestType: 0x21, Request: ReqSetLineCoding}
	_, err := h.HandleURB(nil, usbdevice.Endpoint{}, setSetup, payload)
	require.NoError(t, err)

	getSetup := usbdevice.SetupPacket{RequestType: 0xA1, Request: ReqGetLineCoding, Length: 7}
	resp, err := h.HandleURB(nil, usbdevice.Endpoint{}, getSetup, nil)
	require.NoError(t, err)
	require.Equal(t, payload, resp)
}

func TestClassSpecificDescriptorVerifies(t *testing.T) {
	h := New()
	require.NoError(t, usbdevice.VerifyDescriptorChain(h.ClassSpecificDescriptor()))
}
