package usbdevice

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// Descriptor length/type bytes, per the USB 2.0 spec.
const (
	deviceDescLen    = 18
	deviceDescType   = 0x01
	configDescLen    = 9
	configDescType   = 0x02
	interfaceDescLen = 9
	interfaceDescType = 0x04
	endpointDescLen  = 7
	endpointDescType = 0x05
	qualifierDescLen = 10
	qualifierDescType = 0x06
	bosDescLen       = 5
	bosDescType      = 0x0F
)

const (
	configAttrBusPowered = 0x80
	configMaxPower       = 50 // 100mA in 2mA units
)

// DeviceDescriptor emits the 18-byte standard device descriptor.
func (d *Device) DeviceDescriptor() []byte {
	var b bytes.Buffer
	b.WriteByte(deviceDescLen)
	b.WriteByte(deviceDescType)
	_ = binary.Write(&b, binary.LittleEndian, d.USBBCD)
	b.WriteByte(d.DeviceClass)
	b.WriteByte(d.DeviceSubClass)
	b.WriteByte(d.DeviceProtocol)
	b.WriteByte(uint8(d.ep0In.MaxPacketSize))
	_ = binary.Write(&b, binary.LittleEndian, d.VendorID)
	_ = binary.Write(&b, binary.LittleEndian, d.ProductID)
	_ = binary.Write(&b, binary.LittleEndian, d.DeviceBCD)
	b.WriteByte(d.ManufacturerIndex)
	b.WriteByte(d.ProductIndex)
	b.WriteByte(d.SerialIndex)
	b.WriteByte(d.NumConfigurations)
	out := b.Bytes()
	mustVerifyDescriptorChain(out)
	return out
}

// ConfigurationDescriptor emits the configuration descriptor followed by
// every interface descriptor, its class-specific blob, and its endpoint
// descriptors, with wTotalLength patched in after the children are
// serialized (invariant (iv)).
func (d *Device) ConfigurationDescriptor() []byte {
	var children bytes.Buffer
	for _, iface := range d.Interfaces {
		before := children.Len()
		writeInterfaceDescriptor(&children, iface)
		children.Write(iface.classSpecificDescriptor())
		for _, ep := range iface.Endpoints {
			writeEndpointDescriptor(&children, ep)
		}
		if written, want := children.Len()-before, iface.descriptorLength(); written != want {
			panic(fmt.Sprintf("usbdevice: interface %d wrote %d descriptor bytes, want %d", iface.Number, written, want))
		}
	}

	var b bytes.Buffer
	b.WriteByte(configDescLen)
	b.WriteByte(configDescType)
	totalLength := uint16(configDescLen + children.Len())
	_ = binary.Write(&b, binary.LittleEndian, totalLength)
	b.WriteByte(uint8(len(d.Interfaces)))
	b.WriteByte(d.ConfigurationValue())
	b.WriteByte(0) // iConfiguration
	b.WriteByte(configAttrBusPowered)
	b.WriteByte(configMaxPower)
	b.Write(children.Bytes())

	out := b.Bytes()
	mustVerifyDescriptorChain(out)
	return out
}

func writeInterfaceDescriptor(b *bytes.Buffer, iface *Interface) {
	b.WriteByte(interfaceDescLen)
	b.WriteByte(interfaceDescType)
	b.WriteByte(iface.Number)
	b.WriteByte(0) // bAlternateSetting: only the first alternate is ever claimed
	b.WriteByte(uint8(len(iface.Endpoints)))
	b.WriteByte(iface.Class)
	b.WriteByte(iface.SubClass)
	b.WriteByte(iface.Protocol)
	b.WriteByte(iface.StringIndex)
}

func writeEndpointDescriptor(b *bytes.Buffer, ep Endpoint) {
	b.WriteByte(endpointDescLen)
	b.WriteByte(endpointDescType)
	b.WriteByte(ep.Address)
	b.WriteByte(ep.Attributes)
	_ = binary.Write(b, binary.LittleEndian, ep.MaxPacketSize)
	b.WriteByte(ep.Interval)
}

// StringDescriptorBytes emits the string descriptor for index. Index 0 is
// the fixed language-id blob; other indices encode the stored UTF-8 string
// as UTF-16LE.
func (d *Device) StringDescriptorBytes(index uint8) []byte {
	if index == 0 {
		return languageIDDescriptor
	}
	s := d.stringBytes(index)
	units := utf16.Encode([]rune(s))
	buf := make([]byte, 2+len(units)*2)
	buf[0] = uint8(len(buf))
	buf[1] = DescriptorTypeString
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[2+i*2:], u)
	}
	return buf
}

// DeviceQualifierDescriptor emits the 10-byte device_qualifier descriptor.
func (d *Device) DeviceQualifierDescriptor() []byte {
	var b bytes.Buffer
	b.WriteByte(qualifierDescLen)
	b.WriteByte(qualifierDescType)
	_ = binary.Write(&b, binary.LittleEndian, d.USBBCD)
	b.WriteByte(d.DeviceClass)
	b.WriteByte(d.DeviceSubClass)
	b.WriteByte(d.DeviceProtocol)
	b.WriteByte(uint8(d.ep0In.MaxPacketSize))
	b.WriteByte(d.NumConfigurations)
	b.WriteByte(0) // reserved
	out := b.Bytes()
	mustVerifyDescriptorChain(out)
	return out
}

// BOSDescriptor emits the 5-byte BOS descriptor header with no
// capabilities.
func (d *Device) BOSDescriptor() []byte {
	var b bytes.Buffer
	b.WriteByte(bosDescLen)
	b.WriteByte(bosDescType)
	_ = binary.Write(&b, binary.LittleEndian, uint16(bosDescLen))
	b.WriteByte(0) // bNumDeviceCaps
	out := b.Bytes()
	mustVerifyDescriptorChain(out)
	return out
}

// VerifyDescriptorChain walks b by length bytes and reports an error unless
// the walk lands exactly on the end of the buffer.
func VerifyDescriptorChain(b []byte) error {
	offset := 0
	for offset < len(b) {
		length := int(b[offset])
		if length == 0 {
			return fmt.Errorf("usbdevice: zero-length descriptor at offset %d", offset)
		}
		offset += length
	}
	if offset != len(b) {
		return fmt.Errorf("usbdevice: descriptor chain walk ended at %d, want %d", offset, len(b))
	}
	return nil
}

// mustVerifyDescriptorChain panics on a verifier mismatch, per the
// construction-time-assertion error policy: a validated device model never
// produces a malformed descriptor, so this never fires at runtime.
func mustVerifyDescriptorChain(b []byte) {
	if err := VerifyDescriptorChain(b); err != nil {
		panic(err)
	}
}

// TruncateToLength truncates b to at most n bytes, as GET_DESCRIPTOR
// responses are truncated to the SETUP packet's wLength.
func TruncateToLength(b []byte, n uint16) []byte {
	if int(n) < len(b) {
		return b[:n]
	}
	return b
}
