// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtrans

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// Statistics tracks link counters for one transport. Counters are atomic so
// a UI goroutine may read them while the driver loop runs.
type Statistics struct {
	startTime *atomic.Time

	// Link
	FramesSent      *atomic.Uint64
	FramesReceived  *atomic.Uint64
	Retransmissions *atomic.Uint64
	ChecksumErrors  *atomic.Uint64
	DecodeErrors    *atomic.Uint64
	RadioErrors     *atomic.Uint64

	// Acknowledgment
	AcksSent     *atomic.Uint64
	AcksReceived *atomic.Uint64
	NaksReceived *atomic.Uint64
	StaleAcks    *atomic.Uint64
	Duplicates   *atomic.Uint64

	// Queues
	RxOverflows       *atomic.Uint64
	AdmissionFailures *atomic.Uint64

	// Packages
	PackagesQueued    *atomic.Uint64
	PackagesDelivered *atomic.Uint64
	PackagesAbandoned *atomic.Uint64
	SegmentsDelivered *atomic.Uint64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{
		startTime:         atomic.NewTime(time.Now()),
		FramesSent:        atomic.NewUint64(0),
		FramesReceived:    atomic.NewUint64(0),
		Retransmissions:   atomic.NewUint64(0),
		ChecksumErrors:    atomic.NewUint64(0),
		DecodeErrors:      atomic.NewUint64(0),
		RadioErrors:       atomic.NewUint64(0),
		AcksSent:          atomic.NewUint64(0),
		AcksReceived:      atomic.NewUint64(0),
		NaksReceived:      atomic.NewUint64(0),
		StaleAcks:         atomic.NewUint64(0),
		Duplicates:        atomic.NewUint64(0),
		RxOverflows:       atomic.NewUint64(0),
		AdmissionFailures: atomic.NewUint64(0),
		PackagesQueued:    atomic.NewUint64(0),
		PackagesDelivered: atomic.NewUint64(0),
		PackagesAbandoned: atomic.NewUint64(0),
		SegmentsDelivered: atomic.NewUint64(0),
	}
}

// FrameRate returns the average number of frames sent and received per
// second since the statistics were created or last reset
func (s *Statistics) FrameRate() float64 {
	elapsed := s.Uptime().Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.FramesSent.Load()+s.FramesReceived.Load()) / elapsed
}

// Uptime returns the time since the statistics were created or last reset
func (s *Statistics) Uptime() time.Duration {
	return time.Since(s.startTime.Load())
}

// Errors returns the total of all receive-side error counters
func (s *Statistics) Errors() uint64 {
	return s.ChecksumErrors.Load() + s.DecodeErrors.Load() + s.RadioErrors.Load() + s.RxOverflows.Load()
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	sent := s.FramesSent.Load()
	received := s.FramesReceived.Load()

	var retxPercent, errorPercent float64
	if sent > 0 {
		retxPercent = float64(s.Retransmissions.Load()) * 100.0 / float64(sent)
	}
	if received > 0 {
		errorPercent = float64(s.ChecksumErrors.Load()+s.DecodeErrors.Load()) * 100.0 / float64(received)
	}

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", s.Uptime().Seconds())
	result += fmt.Sprintf("Frames Sent:     %8d\n", sent)
	result += fmt.Sprintf("Frames Received: %8d\n", received)
	result += fmt.Sprintf("Retransmissions: %8d (%.1f%%)\n", s.Retransmissions.Load(), retxPercent)

	if n := s.ChecksumErrors.Load(); n > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d\n", n)
	}
	if n := s.DecodeErrors.Load(); n > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d\n", n)
	}
	if errorPercent > 0 {
		result += fmt.Sprintf("  Error Ratio:      %5.1f%%\n", errorPercent)
	}
	if n := s.RadioErrors.Load(); n > 0 {
		result += fmt.Sprintf("Radio Errors:    %8d\n", n)
	}

	result += fmt.Sprintf("ACKs Sent/Recv:  %8d / %d\n", s.AcksSent.Load(), s.AcksReceived.Load())
	if n := s.NaksReceived.Load(); n > 0 {
		result += fmt.Sprintf("NAKs Received:   %8d\n", n)
	}
	if n := s.StaleAcks.Load(); n > 0 {
		result += fmt.Sprintf("Stale ACKs:      %8d\n", n)
	}
	if n := s.Duplicates.Load(); n > 0 {
		result += fmt.Sprintf("Duplicates:      %8d\n", n)
	}
	if n := s.RxOverflows.Load(); n > 0 {
		result += fmt.Sprintf("Rx Overflows:    %8d\n", n)
	}
	if n := s.AdmissionFailures.Load(); n > 0 {
		result += fmt.Sprintf("Send Rejected:   %8d\n", n)
	}

	result += fmt.Sprintf("Packages:        %8d queued, %d delivered, %d abandoned\n",
		s.PackagesQueued.Load(), s.PackagesDelivered.Load(), s.PackagesAbandoned.Load())
	result += fmt.Sprintf("Segments In:     %8d\n", s.SegmentsDelivered.Load())
	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate())
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.startTime.Store(time.Now())
	for _, c := range s.counters() {
		c.Store(0)
	}
}

func (s *Statistics) counters() []*atomic.Uint64 {
	return []*atomic.Uint64{
		s.FramesSent, s.FramesReceived, s.Retransmissions,
		s.ChecksumErrors, s.DecodeErrors, s.RadioErrors,
		s.AcksSent, s.AcksReceived, s.NaksReceived, s.StaleAcks, s.Duplicates,
		s.RxOverflows, s.AdmissionFailures,
		s.PackagesQueued, s.PackagesDelivered, s.PackagesAbandoned, s.SegmentsDelivered,
	}
}
