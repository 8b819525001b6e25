package usbdevice

import "sync"

// Interface is one USB interface of a device's active configuration. It
// owns the handler that serves URBs addressed to its endpoints, and the
// class-specific descriptor blob inserted into the configuration descriptor
// immediately after the interface descriptor.
type Interface struct {
	Number       uint8
	Class        uint8
	SubClass     uint8
	Protocol     uint8
	StringIndex  uint8
	Endpoints    []Endpoint
	Handler      InterfaceHandler

	mu sync.Mutex
}

// NewInterface builds an Interface. Endpoint 0 must never appear in
// endpoints; callers are expected to only pass non-EP0 endpoints, per the
// device model's invariant (i).
func NewInterface(number, class, subClass, protocol, stringIndex uint8, endpoints []Endpoint, handler InterfaceHandler) *Interface {
	return &Interface{
		Number:      number,
		Class:       class,
		SubClass:    subClass,
		Protocol:    protocol,
		StringIndex: stringIndex,
		Endpoints:   endpoints,
		Handler:     handler,
	}
}

// HandleURB dispatches to the interface's handler under exclusive lock.
func (i *Interface) HandleURB(ep Endpoint, setup SetupPacket, payload []byte) ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.Handler.HandleURB(i, ep, setup, payload)
}

// classSpecificDescriptor returns the handler's class-specific blob, or nil
// when the interface has no handler attached yet (construction time only).
func (i *Interface) classSpecificDescriptor() []byte {
	if i.Handler == nil {
		return nil
	}
	return i.Handler.ClassSpecificDescriptor()
}

func (i *Interface) descriptorLength() int {
	n := 9 + len(i.classSpecificDescriptor())
	n += 7 * len(i.Endpoints)
	return n
}
