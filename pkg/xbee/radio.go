// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package xbee

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/paulbellamy/ratecounter"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

var (
	// ErrATTimeout is returned when an AT command gets no response in time
	ErrATTimeout = errors.New("AT command timed out")
	// ErrATStatus is returned when the module rejects an AT command
	ErrATStatus = errors.New("AT command failed")
	// ErrClosed is returned after the radio was closed or its connection lost
	ErrClosed = errors.New("radio closed")
)

// defaultQueueSize is the number of received packets buffered for Poll
const defaultQueueSize = 32

// Radio drives an XBee module in API mode over a byte connection and
// implements the rtrans Radio interface. A background goroutine decodes
// incoming frames; Send and Poll never block on the radio.
type Radio struct {
	conn    io.ReadWriter
	escaped bool
	log     *logrus.Entry

	rx      chan []byte
	at      chan ATResponse
	writeMu sync.Mutex
	frameID *atomic.Uint32
	address *atomic.Uint32

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}

	FramesIn     *atomic.Uint64
	FramesOut    *atomic.Uint64
	DecodeErrors *atomic.Uint64
	Overflows    *atomic.Uint64
	TxFailures   *atomic.Uint64
	byteRate     *ratecounter.RateCounter
}

// Option configures a Radio
type Option func(*Radio)

// WithEscaping selects API mode 2 (escaped) framing. Defaults to true.
func WithEscaping(escaped bool) Option {
	return func(r *Radio) { r.escaped = escaped }
}

// WithLogger sets the radio logger
func WithLogger(log *logrus.Entry) Option {
	return func(r *Radio) { r.log = log }
}

// WithQueueSize sets how many received packets are buffered for Poll
func WithQueueSize(n int) Option {
	return func(r *Radio) {
		if n > 0 {
			r.rx = make(chan []byte, n)
		}
	}
}

// New creates a radio on conn and starts its reader goroutine
func New(conn io.ReadWriter, opts ...Option) *Radio {
	r := &Radio{
		conn:         conn,
		escaped:      true,
		log:          logrus.NewEntry(logrus.StandardLogger()),
		rx:           make(chan []byte, defaultQueueSize),
		at:           make(chan ATResponse, 4),
		frameID:      atomic.NewUint32(0),
		address:      atomic.NewUint32(AddressBroadcast),
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
		FramesIn:     atomic.NewUint64(0),
		FramesOut:    atomic.NewUint64(0),
		DecodeErrors: atomic.NewUint64(0),
		Overflows:    atomic.NewUint64(0),
		TxFailures:   atomic.NewUint64(0),
		byteRate:     ratecounter.NewRateCounter(time.Second),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithField("radio", "xbee")

	go r.readLoop()
	return r
}

// Address returns the 16-bit source address set by Configure, or the
// broadcast address before configuration.
func (r *Radio) Address() uint16 {
	return uint16(r.address.Load())
}

// ByteRate returns the number of bytes received in the last second
func (r *Radio) ByteRate() int64 {
	return r.byteRate.Rate()
}

// Done is closed when the reader goroutine exits
func (r *Radio) Done() <-chan struct{} {
	return r.done
}

// Send implements rtrans.Radio. The frame is wrapped in a TX16 request with
// frame ID 0, so the module sends no TX status.
func (r *Radio) Send(dest uint16, frame []byte) error {
	select {
	case <-r.done:
		return ErrClosed
	default:
	}

	pkt, err := EncodeTx16(0, dest, 0, frame, r.escaped)
	if err != nil {
		return err
	}
	if err := r.write(pkt); err != nil {
		return err
	}
	r.FramesOut.Inc()
	return nil
}

// Poll implements rtrans.Radio
func (r *Radio) Poll() ([]byte, bool) {
	select {
	case data := <-r.rx:
		return data, true
	default:
		return nil, false
	}
}

// ATCommand sends a local AT command and waits for its response. It must not
// be called concurrently with another ATCommand.
func (r *Radio) ATCommand(ctx context.Context, command string, params []byte) ([]byte, error) {
	id := r.nextFrameID()
	pkt, err := EncodeATCommand(id, command, params, r.escaped)
	if err != nil {
		return nil, err
	}
	if err := r.write(pkt); err != nil {
		return nil, err
	}

	for {
		select {
		case resp := <-r.at:
			if resp.FrameID != id {
				r.log.WithFields(logrus.Fields{"frame_id": resp.FrameID, "command": resp.Command}).Debug("Discarding stale AT response")
				continue
			}
			if resp.Status != ATStatusOK {
				return nil, errors.Wrapf(ErrATStatus, "%s status %d", command, resp.Status)
			}
			return resp.Data, nil
		case <-ctx.Done():
			return nil, errors.Wrapf(ErrATTimeout, "%s: %v", command, ctx.Err())
		case <-r.done:
			return nil, ErrClosed
		}
	}
}

// Configure reads the module serial number and sets the 16-bit source address
// (MY) to its low two bytes. It blocks until both AT commands are answered or
// ctx expires, and returns the configured address.
func (r *Radio) Configure(ctx context.Context) (uint16, error) {
	sl, err := r.ATCommand(ctx, "SL", nil)
	if err != nil {
		return 0, errors.Wrap(err, "query serial number")
	}
	if len(sl) < 2 {
		return 0, errors.Wrapf(ErrFrameTooShort, "SL response with %d bytes", len(sl))
	}

	my := sl[len(sl)-2:]
	if _, err := r.ATCommand(ctx, "MY", my); err != nil {
		return 0, errors.Wrap(err, "set source address")
	}

	addr := uint16(my[0])<<8 | uint16(my[1])
	r.address.Store(uint32(addr))
	r.log.WithFields(logrus.Fields{"address": addr}).Info("Radio configured")
	return addr, nil
}

// Close stops the reader goroutine and closes the connection if it can be
// closed.
func (r *Radio) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.closing)
		if c, ok := r.conn.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

func (r *Radio) nextFrameID() byte {
	for {
		id := byte(r.frameID.Inc())
		if id != 0 {
			return id
		}
	}
}

func (r *Radio) write(pkt []byte) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if _, err := r.conn.Write(pkt); err != nil {
		return errors.Wrap(err, "write frame")
	}
	return nil
}

func (r *Radio) readLoop() {
	defer close(r.done)

	dec := NewDecoder(r.escaped)
	buf := make([]byte, 256)

	for {
		n, err := r.conn.Read(buf)
		if n > 0 {
			r.byteRate.Incr(int64(n))
			for _, b := range buf[:n] {
				frame, derr := dec.DecodeByte(b)
				if derr != nil {
					r.DecodeErrors.Inc()
					r.log.WithError(derr).Debug("Frame decode error")
					continue
				}
				if frame != nil {
					r.dispatch(frame)
				}
			}
		}
		if err != nil {
			select {
			case <-r.closing:
			default:
				if err == io.EOF {
					r.log.Info("Connection closed")
				} else {
					r.log.WithError(err).Error("Read failed")
				}
			}
			return
		}
	}
}

func (r *Radio) dispatch(f *Frame) {
	switch f.API {
	case APIRx16:
		rx, err := ParseRx16(*f)
		if err != nil {
			r.DecodeErrors.Inc()
			return
		}
		r.FramesIn.Inc()
		data := make([]byte, len(rx.Data))
		copy(data, rx.Data)
		select {
		case r.rx <- data:
		default:
			r.Overflows.Inc()
		}

	case APIATResponse:
		resp, err := ParseATResponse(*f)
		if err != nil {
			r.DecodeErrors.Inc()
			return
		}
		resp.Data = append([]byte(nil), resp.Data...)
		select {
		case r.at <- resp:
		default:
			r.log.WithField("command", resp.Command).Warn("AT response dropped")
		}

	case APITxStatus:
		st, err := ParseTxStatus(*f)
		if err != nil {
			r.DecodeErrors.Inc()
			return
		}
		if st.Status != TxStatusSuccess {
			r.TxFailures.Inc()
		}

	case APIModemStatus:
		if len(f.Data) > 0 {
			r.log.WithField("status", f.Data[0]).Info("Modem status")
		}

	default:
		r.log.WithField("api", FormatAPI(f.API)).Debug("Ignoring frame")
	}
}
