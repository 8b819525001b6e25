package usbip

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kevmo314/usbipd/usbdevice"
)

// ToDeviceRecord converts a usbdevice.Device into its wire device record.
func ToDeviceRecord(dev *usbdevice.Device) DeviceRecord {
	var rec DeviceRecord
	copy(rec.Path[:], dev.Path)
	copy(rec.BusID[:], dev.BusID)
	rec.BusNum = dev.BusNum
	rec.DevNum = dev.DevNum
	rec.Speed = dev.Speed
	rec.VendorID = dev.VendorID
	rec.ProductID = dev.ProductID
	rec.DeviceBCD = dev.DeviceBCD
	rec.DeviceClass = dev.DeviceClass
	rec.DeviceSubClass = dev.DeviceSubClass
	rec.DeviceProtocol = dev.DeviceProtocol
	rec.ConfigurationValue = dev.ConfigurationValue()
	rec.NumConfigurations = dev.NumConfigurations
	rec.NumInterfaces = uint8(len(dev.Interfaces))
	return rec
}

// InterfaceRecordsFor builds the interface quads that follow a device's
// record in an OP_REP_DEVLIST response.
func InterfaceRecordsFor(dev *usbdevice.Device) []InterfaceRecord {
	records := make([]InterfaceRecord, len(dev.Interfaces))
	for i, iface := range dev.Interfaces {
		records[i] = InterfaceRecord{Class: iface.Class, SubClass: iface.SubClass, Protocol: iface.Protocol}
	}
	return records
}

// ReadDevlistRequest consumes the 4-byte status word that follows an
// OP_REQ_DEVLIST command code.
func ReadDevlistRequest(r io.Reader) error {
	var status uint32
	return binary.Read(r, binary.BigEndian, &status)
}

// WriteDevlistResponse writes an OP_REP_DEVLIST response listing devices.
func WriteDevlistResponse(w io.Writer, devices []*usbdevice.Device) error {
	var buf bytes.Buffer
	hdr := MgmtHeader{Version: Version, Command: OpRepDevlist, Status: 0}
	if err := binary.Write(&buf, binary.BigEndian, hdr); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(devices))); err != nil {
		return err
	}
	for _, dev := range devices {
		rec := ToDeviceRecord(dev)
		if err := binary.Write(&buf, binary.BigEndian, rec); err != nil {
			return err
		}
		for _, ir := range InterfaceRecordsFor(dev) {
			if err := binary.Write(&buf, binary.BigEndian, ir); err != nil {
				return err
			}
		}
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadImportRequest reads the 4-byte status word and 32-byte bus-id that
// follow an OP_REQ_IMPORT command code, returning the NUL-trimmed bus-id.
func ReadImportRequest(r io.Reader) (string, error) {
	var status uint32
	if err := binary.Read(r, binary.BigEndian, &status); err != nil {
		return "", err
	}
	var busID [32]byte
	if _, err := io.ReadFull(r, busID[:]); err != nil {
		return "", err
	}
	end := bytes.IndexByte(busID[:], 0)
	if end == -1 {
		end = len(busID)
	}
	return string(busID[:end]), nil
}

// WriteImportResponse writes an OP_REP_IMPORT response. dev == nil means no
// matching device: status=1, no device record.
func WriteImportResponse(w io.Writer, dev *usbdevice.Device) error {
	status := uint32(1)
	if dev != nil {
		status = 0
	}
	hdr := MgmtHeader{Version: Version, Command: OpRepImport, Status: status}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, hdr); err != nil {
		return err
	}
	if dev != nil {
		rec := ToDeviceRecord(dev)
		if err := binary.Write(&buf, binary.BigEndian, rec); err != nil {
			return err
		}
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadSubmitHeader reads a USBIP_CMD_SUBMIT header (command code already
// consumed).
func ReadSubmitHeader(r io.Reader) (SubmitHeader, error) {
	var h SubmitHeader
	err := binary.Read(r, binary.BigEndian, &h)
	return h, err
}

// ReadUnlinkHeader reads a USBIP_CMD_UNLINK header (command code already
// consumed).
func ReadUnlinkHeader(r io.Reader) (UnlinkHeader, error) {
	var h UnlinkHeader
	err := binary.Read(r, binary.BigEndian, &h)
	return h, err
}

// WriteSubmitReply writes a USBIP_RET_SUBMIT packet. payload is appended
// only when direction is DirIn.
func WriteSubmitReply(w io.Writer, seqnum, devID, direction, endpoint uint32, setup [8]byte, actualLength uint32, payload []byte) error {
	rep := SubmitReply{
		Command:      RetSubmitCode,
		Seqnum:       seqnum,
		DevID:        devID,
		Direction:    direction,
		Endpoint:     endpoint,
		Status:       0,
		ActualLength: actualLength,
		Setup:        setup,
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, rep); err != nil {
		return err
	}
	if direction == DirIn && len(payload) > 0 {
		buf.Write(payload)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteUnlinkReply writes a USBIP_RET_UNLINK packet.
func WriteUnlinkReply(w io.Writer, seqnum, devID, direction, endpoint uint32, status int32) error {
	rep := UnlinkReply{
		Command:   RetUnlinkCode,
		Seqnum:    seqnum,
		DevID:     devID,
		Direction: direction,
		Endpoint:  endpoint,
		Status:    status,
	}
	return binary.Write(w, binary.BigEndian, rep)
}

// ParseDeviceRecord decodes a 0x138-byte device record, for the round-trip
// testable property.
func ParseDeviceRecord(b []byte) (DeviceRecord, error) {
	var rec DeviceRecord
	if len(b) != 0x138 {
		return rec, fmt.Errorf("usbip: device record must be 0x138 bytes, got %#x", len(b))
	}
	err := binary.Read(bytes.NewReader(b), binary.BigEndian, &rec)
	return rec, err
}

// MarshalDeviceRecord serializes rec to its 0x138-byte wire form.
func MarshalDeviceRecord(rec DeviceRecord) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, rec)
	return buf.Bytes()
}
