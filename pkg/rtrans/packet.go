// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtrans

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Header is the 10-byte header carried by every segment
type Header struct {
	Master uint16
	Slave  uint16
	PkgNo  uint16
	Type   MessageType
	SegCt  uint8
	SegNo  uint8
	Len    uint8
}

// SegmentID identifies one segment of one package
type SegmentID struct {
	PkgNo uint16
	SegNo uint8
}

// ID returns the (package, segment) pair of the header
func (h Header) ID() SegmentID {
	return SegmentID{PkgNo: h.PkgNo, SegNo: h.SegNo}
}

// IsLast reports whether the header describes the final segment of its package
func (h Header) IsLast() bool {
	return h.SegCt == 0 || h.SegNo == h.SegCt-1
}

// FrameSize returns the number of bytes the segment occupies on the wire
func (h Header) FrameSize() int {
	return HeaderSize + int(h.Len) + ChecksumSize
}

// Abbrev returns the abbreviated form of the header used in the receive queue
func (h Header) Abbrev() AbbrevHeader {
	return AbbrevHeader{Master: h.Master, Slave: h.Slave, Type: h.Type, Len: h.Len}
}

// Peer returns the address on the other side of the link for a node
// with the given role.
func (h Header) Peer(role Role) uint16 {
	if role == RoleMaster {
		return h.Slave
	}
	return h.Master
}

// Put writes the header into the first HeaderSize bytes of buf
func (h Header) Put(buf []byte) {
	_ = buf[HeaderSize-1]
	binary.LittleEndian.PutUint16(buf[0:], h.Master)
	binary.LittleEndian.PutUint16(buf[2:], h.Slave)
	binary.LittleEndian.PutUint16(buf[4:], h.PkgNo)
	buf[6] = byte(h.Type)
	buf[7] = h.SegCt
	buf[8] = h.SegNo
	buf[9] = h.Len
}

// ParseHeader reads a header from the first HeaderSize bytes of buf
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, errors.Wrapf(ErrShortFrame, "header needs %d bytes, got %d", HeaderSize, len(buf))
	}
	return Header{
		Master: binary.LittleEndian.Uint16(buf[0:]),
		Slave:  binary.LittleEndian.Uint16(buf[2:]),
		PkgNo:  binary.LittleEndian.Uint16(buf[4:]),
		Type:   MessageType(buf[6]),
		SegCt:  buf[7],
		SegNo:  buf[8],
		Len:    buf[9],
	}, nil
}

// AbbrevHeader is the 6-byte header stored ahead of each payload in the
// receive queue and handed to the application.
type AbbrevHeader struct {
	Master uint16
	Slave  uint16
	Type   MessageType
	Len    uint8
}

// Put writes the abbreviated header into the first AbbrevHeaderSize bytes of buf
func (a AbbrevHeader) Put(buf []byte) {
	_ = buf[AbbrevHeaderSize-1]
	binary.LittleEndian.PutUint16(buf[0:], a.Master)
	binary.LittleEndian.PutUint16(buf[2:], a.Slave)
	buf[4] = byte(a.Type)
	buf[5] = a.Len
}

// ParseAbbrevHeader reads an abbreviated header from the first
// AbbrevHeaderSize bytes of buf.
func ParseAbbrevHeader(buf []byte) (AbbrevHeader, error) {
	if len(buf) < AbbrevHeaderSize {
		return AbbrevHeader{}, errors.Wrapf(ErrShortFrame, "abbreviated header needs %d bytes, got %d", AbbrevHeaderSize, len(buf))
	}
	return AbbrevHeader{
		Master: binary.LittleEndian.Uint16(buf[0:]),
		Slave:  binary.LittleEndian.Uint16(buf[2:]),
		Type:   MessageType(buf[4]),
		Len:    buf[5],
	}, nil
}

// EncodeSegment writes header, payload and checksum into dst and returns the
// number of bytes written. The header length field is taken from payload.
func EncodeSegment(dst []byte, h Header, payload []byte) (int, error) {
	if len(payload) > 0xFF {
		return 0, errors.Wrapf(ErrInvalidHeader, "payload length %d does not fit the length field", len(payload))
	}
	h.Len = uint8(len(payload))
	n := h.FrameSize()
	if len(dst) < n {
		return 0, errors.Errorf("segment needs %d bytes, buffer has %d", n, len(dst))
	}

	h.Put(dst)
	copy(dst[HeaderSize:], payload)
	dst[n-1] = Checksum(dst[:n-1])
	return n, nil
}

// DecodeSegment parses and checksums a received frame. The returned payload
// aliases frame. Bytes past the declared length are ignored.
func DecodeSegment(frame []byte) (Header, []byte, error) {
	h, err := ParseHeader(frame)
	if err != nil {
		return Header{}, nil, err
	}

	n := h.FrameSize()
	if len(frame) < n {
		return h, nil, errors.Wrapf(ErrShortFrame, "declared %d payload bytes, frame has %d bytes", h.Len, len(frame))
	}
	if !VerifyChecksum(frame[:n]) {
		return h, nil, errors.Wrapf(ErrChecksum, "pkg %d seg %d", h.PkgNo, h.SegNo)
	}

	return h, frame[HeaderSize : HeaderSize+int(h.Len)], nil
}

// SegmentCount returns the number of segments needed to carry n payload bytes
// with at most maxPayload bytes per segment. A zero-length package is still
// one segment.
func SegmentCount(n, maxPayload int) int {
	if n <= 0 || maxPayload <= 0 {
		return 1
	}
	return (n + maxPayload - 1) / maxPayload
}
