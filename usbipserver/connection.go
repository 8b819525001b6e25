package usbipserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/kevmo314/usbipd/internal/metrics"
	"github.com/kevmo314/usbipd/usbdevice"
	"github.com/kevmo314/usbipd/usbip"
	"golang.org/x/sync/errgroup"
)

// Options tunes the dispatch pipeline's idle-poll behavior and a
// connection's lifetime bounds. With the zero value the idle writer polls
// without sleeping; DefaultOptions returns the standard idle-poll tuning.
type Options struct {
	IdleSpinIterations int
	IdleSleepInterval  time.Duration

	// ConnectionDeadline bounds how long the reader may wait for the next
	// command before the connection is treated as dead. Zero disables it.
	ConnectionDeadline time.Duration

	// BusCleanupTimeout is how long the writer keeps draining its queue
	// after the serving context is cancelled before giving up. Zero means
	// no grace period.
	BusCleanupTimeout time.Duration
}

// DefaultOptions matches the spec's "short spin up to ten iterations, then
// longer sleep" idle policy.
func DefaultOptions() Options {
	return Options{IdleSpinIterations: 10, IdleSleepInterval: 2 * time.Millisecond}
}

// Connection drives one accepted TCP connection through the connection
// state machine (Listing -> Attached) and the URB dispatch pipeline.
type Connection struct {
	conn    net.Conn
	devices []*usbdevice.Device
	logger  *slog.Logger
	metrics *metrics.Metrics
	opts    Options

	mu       sync.Mutex
	queue    []*packet
	imported *usbdevice.Device
}

// NewConnection wraps conn with the server's immutable device list.
func NewConnection(conn net.Conn, devices []*usbdevice.Device, logger *slog.Logger, m *metrics.Metrics, opts Options) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		conn:    conn,
		devices: devices,
		logger:  logger.With("remote", conn.RemoteAddr().String()),
		metrics: m,
		opts:    opts,
	}
}

// Serve runs the reader and writer tasks until the peer closes the
// connection or an unrecoverable I/O error occurs. A peer EOF is reported
// as success, per the error-handling policy.
func (c *Connection) Serve(ctx context.Context) error {
	if c.metrics != nil {
		c.metrics.ActiveConnections.Inc()
		defer c.metrics.ActiveConnections.Dec()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readerLoop(ctx) })
	g.Go(func() error { return c.writerLoop(ctx) })

	err := g.Wait()
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil
	}
	return err
}

func (c *Connection) push(p *packet) {
	c.mu.Lock()
	c.queue = append(c.queue, p)
	depth := len(c.queue)
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.QueueDepth.Set(float64(depth))
	}
}

// readerLoop decodes framed commands and enqueues them. It never blocks on
// handler work; all it does is I/O and framing.
func (c *Connection) readerLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.opts.ConnectionDeadline > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.ConnectionDeadline)); err != nil {
				return err
			}
		}
		var hdr [4]byte
		if _, err := io.ReadFull(c.conn, hdr[:]); err != nil {
			return err
		}

		switch kind := usbip.ClassifyHeader(hdr); kind {
		case usbip.CommandReqDevlist:
			if err := usbip.ReadDevlistRequest(c.conn); err != nil {
				return err
			}
			c.push(&packet{kind: kind})

		case usbip.CommandReqImport:
			busID, err := usbip.ReadImportRequest(c.conn)
			if err != nil {
				return err
			}
			c.push(&packet{kind: kind, busID: busID})

		case usbip.CommandSubmit:
			sh, err := usbip.ReadSubmitHeader(c.conn)
			if err != nil {
				return err
			}
			var payload []byte
			if sh.Direction == usbip.DirOut && sh.TransferBufferLength > 0 {
				payload = make([]byte, sh.TransferBufferLength)
				if _, err := io.ReadFull(c.conn, payload); err != nil {
					return err
				}
			}
			c.push(&packet{kind: kind, seqnum: sh.Seqnum, submit: &sh, payload: payload})

		case usbip.CommandUnlink:
			uh, err := usbip.ReadUnlinkHeader(c.conn)
			if err != nil {
				return err
			}
			c.push(&packet{kind: kind, seqnum: uh.Seqnum, unlink: &uh})

		default:
			// Malformed opcode: logged, stream stays in its current state.
			c.logger.Warn("usbipserver: malformed command opcode", "bytes", hdr)
		}
	}
}

// writerLoop drains the queue per the spec's per-iteration policy: resolve
// all pending UNLINKs first, then process one head packet, then idle-poll
// if nothing was pending. When ctx is cancelled the loop keeps draining
// whatever is already queued for up to BusCleanupTimeout, so a server
// shutdown doesn't strand URBs the client is still waiting on.
func (c *Connection) writerLoop(ctx context.Context) error {
	idle := 0
	var cleanupDeadline time.Time
	for {
		if ctx.Err() != nil {
			if cleanupDeadline.IsZero() {
				if c.opts.BusCleanupTimeout <= 0 {
					return ctx.Err()
				}
				cleanupDeadline = time.Now().Add(c.opts.BusCleanupTimeout)
			}
			if time.Now().After(cleanupDeadline) {
				return ctx.Err()
			}
		}
		did, err := c.writerStep()
		if err != nil {
			return err
		}
		if !did {
			if !cleanupDeadline.IsZero() {
				return nil
			}
			idle++
			if idle <= c.opts.IdleSpinIterations {
				runtime.Gosched()
			} else {
				time.Sleep(c.opts.IdleSleepInterval)
			}
			continue
		}
		idle = 0
	}
}

type unlinkOutcome struct {
	pkt    *packet
	status int32
}

// writerStep performs exactly one dispatch-loop iteration and reports
// whether it did any work.
func (c *Connection) writerStep() (bool, error) {
	c.mu.Lock()
	var unlinks []*packet
	rest := make([]*packet, 0, len(c.queue))
	for _, p := range c.queue {
		if p.kind == usbip.CommandUnlink {
			unlinks = append(unlinks, p)
		} else {
			rest = append(rest, p)
		}
	}

	outcomes := make([]unlinkOutcome, 0, len(unlinks))
	for _, u := range unlinks {
		target := u.unlink.SeqNumToUnlink
		status := int32(0)
		found := false
		filtered := rest[:0:0]
		for _, p := range rest {
			if !found && p.kind == usbip.CommandSubmit && p.seqnum == target {
				found = true
				status = usbip.ErrnoConnReset
				continue
			}
			filtered = append(filtered, p)
		}
		rest = filtered
		outcomes = append(outcomes, unlinkOutcome{pkt: u, status: status})
	}

	var head *packet
	if len(rest) > 0 {
		head = rest[0]
		rest = rest[1:]
	}
	c.queue = rest
	depth := len(c.queue)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.QueueDepth.Set(float64(depth))
	}

	if len(outcomes) == 0 && head == nil {
		return false, nil
	}

	for _, o := range outcomes {
		if c.metrics != nil {
			c.metrics.RecordUnlink(o.status == usbip.ErrnoConnReset)
		}
		if err := usbip.WriteUnlinkReply(c.conn, o.pkt.seqnum, o.pkt.unlink.DevID, o.pkt.unlink.Direction, o.pkt.unlink.Endpoint, o.status); err != nil {
			return true, err
		}
	}

	if head != nil {
		if err := c.process(head); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (c *Connection) process(p *packet) error {
	switch p.kind {
	case usbip.CommandReqDevlist:
		return usbip.WriteDevlistResponse(c.conn, c.devices)

	case usbip.CommandReqImport:
		dev := c.findDevice(p.busID)
		c.imported = dev
		return usbip.WriteImportResponse(c.conn, dev)

	case usbip.CommandSubmit:
		if c.metrics != nil {
			c.metrics.SubmitsProcessed.Inc()
		}
		return c.processSubmit(p)
	}
	return nil
}

func (c *Connection) findDevice(busID string) *usbdevice.Device {
	for _, d := range c.devices {
		if d.BusID == busID {
			return d
		}
	}
	return nil
}

func (c *Connection) processSubmit(p *packet) error {
	if c.imported == nil {
		return ErrNoDeviceImported
	}

	direction := usbdevice.DirectionOut
	if p.submit.Direction == usbip.DirIn {
		direction = usbdevice.DirectionIn
	}
	addr := endpointAddress(uint8(p.submit.Endpoint), direction)

	ep, owner, ok := c.imported.FindEndpoint(addr)
	if !ok {
		return fmt.Errorf("%w: endpoint %#02x", ErrUnknownEndpoint, addr)
	}

	setup, err := usbdevice.ParseSetupPacket(p.submit.Setup[:])
	if err != nil {
		return err
	}

	var resp []byte
	if owner == nil {
		resp, err = c.imported.HandleEP0(setup, p.payload)
	} else {
		resp, err = owner.HandleURB(ep, setup, p.payload)
	}
	if err != nil {
		// Handler error resolves to an empty response; the connection
		// continues.
		if c.metrics != nil {
			c.metrics.HandlerErrors.Inc()
		}
		resp = nil
	}

	actualLength := uint32(len(resp))
	if p.submit.Direction == usbip.DirOut {
		actualLength = uint32(len(p.payload))
	}

	return usbip.WriteSubmitReply(c.conn, p.seqnum, p.submit.DevID, p.submit.Direction, p.submit.Endpoint, p.submit.Setup, actualLength, resp)
}

func endpointAddress(number uint8, dir usbdevice.Direction) uint8 {
	addr := number & 0x0F
	if dir == usbdevice.DirectionIn {
		addr |= 0x80
	}
	return addr
}
