package usbipserver

import "errors"

// ErrUnknownEndpoint is returned when a SUBMIT targets an endpoint address
// the imported device has no record of. A well-behaved peer never submits
// to an unknown endpoint, so this aborts the connection rather than being
// swallowed like a handler error.
var ErrUnknownEndpoint = errors.New("usbipserver: submit targeted an unknown endpoint")

// ErrNoDeviceImported is returned when a SUBMIT is processed while no device
// is imported on the connection. UNLINKs are answered without this check.
var ErrNoDeviceImported = errors.New("usbipserver: submit received before a device was imported")
