// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtrans

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/Thermoquad/rtrans/pkg/ringbuffer"
)

// errReentrant is returned when Tick is called from inside a Handler
var errReentrant = errors.New("Tick called re-entrantly")

// Transport is one rtrans node. It is not safe for concurrent use: the host
// calls Tick, Send, SendTo, Join and Leave from a single goroutine.
type Transport struct {
	cfg     Config
	radio   Radio
	clock   Clock
	handler Handler
	ack     AckPolicy
	log     *logrus.Entry
	stats   *Statistics

	session session

	tx *ringbuffer.RingBuffer
	rx *ringbuffer.RingBuffer

	// Stop-and-wait state
	txWaiting bool
	await     SegmentID
	awaitPeer uint16
	retx      int
	timeout   Tick

	recent   [duplicateSlots]rxMark
	recentAt int

	// Scratch buffers, reused on every tick
	frame    []byte
	ackFrame [SegmentOverhead]byte
	hdr      [HeaderSize]byte
	abbrev   [AbbrevHeaderSize]byte
	payload  []byte

	inTick bool
}

// New creates a transport node. The handler may be nil, in which case
// inbound segments are acknowledged and discarded.
func New(cfg Config, radio Radio, clock Clock, handler Handler) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if radio == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "radio is required")
	}
	if clock == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "clock is required")
	}

	t := &Transport{
		cfg:     cfg,
		radio:   radio,
		clock:   clock,
		handler: handler,
		ack:     cfg.AckPolicy,
		log:     cfg.Logger,
		stats:   cfg.Stats,
		tx:      ringbuffer.New(make([]byte, cfg.TxQueueSize())),
		rx:      ringbuffer.New(make([]byte, cfg.RxQueueSize())),
		frame:   make([]byte, cfg.PacketSize),
		payload: make([]byte, cfg.MaxPayload()),
	}
	if t.ack == nil {
		t.ack = DefaultAckPolicy
	}
	if t.stats == nil {
		t.stats = NewStatistics()
	}
	if t.log == nil {
		t.log = logrus.NewEntry(logrus.StandardLogger())
	}
	t.log = t.log.WithFields(logrus.Fields{
		"node": FormatAddress(cfg.Address),
		"role": cfg.Role.String(),
	})

	t.session.address = cfg.Address
	t.session.master = NoMaster
	switch {
	case cfg.Role == RoleMaster:
		t.session.state = StateIdle
	case cfg.Master != NoMaster:
		t.session.master = cfg.Master
		t.session.state = StateIdle
	default:
		t.session.state = StateUnpaired
	}

	return t, nil
}

// Config returns the configuration the transport was created with
func (t *Transport) Config() Config {
	return t.cfg
}

// Stats returns the transport's statistics
func (t *Transport) Stats() *Statistics {
	return t.stats
}

// TxAvailable returns the number of bytes queued for transmission
func (t *Transport) TxAvailable() int {
	return t.tx.Available()
}

// RxAvailable returns the number of bytes queued for delivery
func (t *Transport) RxAvailable() int {
	return t.rx.Available()
}

// Waiting reports whether a segment is in flight, and which one
func (t *Transport) Waiting() (SegmentID, bool) {
	return t.await, t.txWaiting
}

// Tick runs one pass of the driver loop: poll the radio, supervise the
// retransmit timeout, drive the next segment and deliver queued segments.
// It never blocks. Errors are recoverable and Tick may be called again.
func (t *Transport) Tick() error {
	if t.inTick {
		return errReentrant
	}
	t.inTick = true
	defer func() { t.inTick = false }()

	var errs error

	for i := 0; i < maxFramesPerTick; i++ {
		frame, ok := t.radio.Poll()
		if !ok {
			break
		}
		if err := t.HandleFrame(frame); err != nil {
			t.log.WithError(err).Debug("Dropped frame")
			errs = multierr.Append(errs, err)
		}
	}

	now := t.clock.Now()
	errs = multierr.Append(errs, t.checkTimeout(now))
	errs = multierr.Append(errs, t.drive(now))

	for {
		ok, err := t.Pop()
		if err != nil {
			t.log.WithError(err).Warn("Receive queue inconsistent")
			errs = multierr.Append(errs, err)
			break
		}
		if !ok {
			break
		}
	}

	return errs
}

// transmit hands a frame to the radio and counts it
func (t *Transport) transmit(dest uint16, frame []byte) error {
	if err := t.radio.Send(dest, frame); err != nil {
		t.stats.RadioErrors.Inc()
		return errors.Wrapf(err, "send to %s", FormatAddress(dest))
	}
	t.stats.FramesSent.Inc()
	return nil
}
