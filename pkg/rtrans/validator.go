// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtrans

import "fmt"

// AnomalyType represents different types of header anomalies
type AnomalyType int

const (
	AnomalySegmentCount AnomalyType = iota
	AnomalySegmentIndex
	AnomalyLength
	AnomalyUnknownType
	AnomalyControlPayload
)

// ValidationError represents a segment validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateHeader checks a decoded header for structural anomalies.
// Returns a slice of validation errors (empty if the header is valid).
func ValidateHeader(h Header, maxPayload int) []ValidationError {
	var errs []ValidationError

	if !h.Type.IsKnown() {
		errs = append(errs, ValidationError{
			Type:    AnomalyUnknownType,
			Message: fmt.Sprintf("Unknown message type 0x%02X", uint8(h.Type)),
			Details: map[string]interface{}{"type": uint8(h.Type)},
		})
	}

	// ACK and NAK echo the acknowledged segment index with a count of one
	if h.SegCt == 0 {
		errs = append(errs, ValidationError{
			Type:    AnomalySegmentCount,
			Message: "Segment count is zero",
			Details: map[string]interface{}{"seg_ct": h.SegCt},
		})
	} else if h.SegNo >= h.SegCt && !h.Type.IsControl() {
		errs = append(errs, ValidationError{
			Type:    AnomalySegmentIndex,
			Message: fmt.Sprintf("Segment index %d out of range (count %d)", h.SegNo, h.SegCt),
			Details: map[string]interface{}{"seg_no": h.SegNo, "seg_ct": h.SegCt},
		})
	}

	if int(h.Len) > maxPayload {
		errs = append(errs, ValidationError{
			Type:    AnomalyLength,
			Message: fmt.Sprintf("Payload length %d exceeds maximum %d", h.Len, maxPayload),
			Details: map[string]interface{}{"len": h.Len, "max": maxPayload},
		})
	}

	if h.Type.IsControl() && h.Len != 0 {
		errs = append(errs, ValidationError{
			Type:    AnomalyControlPayload,
			Message: fmt.Sprintf("%s carries %d payload bytes", h.Type, h.Len),
			Details: map[string]interface{}{"type": uint8(h.Type), "len": h.Len},
		})
	}

	return errs
}
