package usbdevice

import "sync"

// languageIDDescriptor is string slot 0: US English, per USB LANGID 0x0409.
var languageIDDescriptor = []byte{0x04, 0x03, 0x09, 0x04}

// Device is an emulated or host-bridged USB device. Devices are built once
// and shared immutably across connections; the only field mutated after
// construction is the active configuration value, guarded by mu.
type Device struct {
	BusID string
	Path  string

	BusNum uint32
	DevNum uint32
	Speed  uint32

	VendorID       uint16
	ProductID      uint16
	DeviceClass    uint8
	DeviceSubClass uint8
	DeviceProtocol uint8
	DeviceBCD      uint16
	USBBCD         uint16

	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialIndex       uint8

	NumConfigurations uint8

	Interfaces []*Interface

	DeviceHandler DeviceHandler

	ep0In  Endpoint
	ep0Out Endpoint

	mu                 sync.Mutex
	configurationValue uint8
	strings            map[uint8]string
	nextStringIndex    uint8
}

// NewDevice builds a Device with its EP0 endpoints synthesized from
// ep0MaxPacketSize, and the active configuration set to 1. Interfaces are
// attached afterward with AddInterface.
func NewDevice(busID, path string, busNum, devNum, speed uint32, vendorID, productID uint16, class, subClass, protocol uint8, deviceBCD, usbBCD uint16, ep0MaxPacketSize uint16, numConfigurations uint8) *Device {
	d := &Device{
		BusID:              busID,
		Path:               path,
		BusNum:             busNum,
		DevNum:             devNum,
		Speed:              speed,
		VendorID:           vendorID,
		ProductID:          productID,
		DeviceClass:        class,
		DeviceSubClass:     subClass,
		DeviceProtocol:     protocol,
		DeviceBCD:          deviceBCD,
		USBBCD:             usbBCD,
		NumConfigurations:  numConfigurations,
		configurationValue: 1,
		strings:            make(map[uint8]string),
		nextStringIndex:    1,
		ep0In:              Endpoint{Address: endpointAddress(0, DirectionIn), Attributes: uint8(TransferTypeControl), MaxPacketSize: ep0MaxPacketSize},
		ep0Out:             Endpoint{Address: endpointAddress(0, DirectionOut), Attributes: uint8(TransferTypeControl), MaxPacketSize: ep0MaxPacketSize},
	}
	return d
}

// AddInterface appends an interface to the device's (single, implicit)
// configuration and returns it.
func (d *Device) AddInterface(iface *Interface) *Interface {
	d.Interfaces = append(d.Interfaces, iface)
	return iface
}

// NewString appends a UTF-8 string to the device's string table and returns
// its 1-based index. Only called during device construction.
func (d *Device) NewString(s string) uint8 {
	idx := d.nextStringIndex
	d.strings[idx] = s
	d.nextStringIndex++
	return idx
}

// ConfigurationValue returns the currently active configuration value.
func (d *Device) ConfigurationValue() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.configurationValue
}

// SetConfigurationValue stores v as the active configuration value. v is not
// checked against NumConfigurations.
func (d *Device) SetConfigurationValue(v uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configurationValue = v
}

// FindEndpoint looks up an endpoint by wire address, scanning the
// synthesized EP0 pair first and then every interface's endpoint list. A
// nil owner with ok=true means the address resolved to EP0, handled by the
// device itself rather than an interface handler.
func (d *Device) FindEndpoint(address uint8) (ep Endpoint, owner *Interface, ok bool) {
	if address == d.ep0In.Address {
		return d.ep0In, nil, true
	}
	if address == d.ep0Out.Address {
		return d.ep0Out, nil, true
	}
	for _, iface := range d.Interfaces {
		for _, e := range iface.Endpoints {
			if e.Address == address {
				return e, iface, true
			}
		}
	}
	return Endpoint{}, nil, false
}

// InterfaceByNumber returns the interface with the given bInterfaceNumber,
// or nil if none matches.
func (d *Device) InterfaceByNumber(number uint8) *Interface {
	for _, iface := range d.Interfaces {
		if iface.Number == number {
			return iface
		}
	}
	return nil
}

// stringBytes returns the raw UTF-8 string at index, or "" for an unset
// slot. Index 0 is reserved and is not a string slot.
func (d *Device) stringBytes(index uint8) string {
	return d.strings[index]
}
