// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/Thermoquad/rtrans/pkg/rtrans"
)

type statGauge struct {
	gauge   prometheus.Gauge
	counter *atomic.Uint64
}

// linkMetrics exports transport statistics. Gauges are refreshed from the
// atomic counters on every scrape.
type linkMetrics struct {
	registry *prometheus.Registry
	stats    []statGauge
	peers    prometheus.Gauge
	byteRate prometheus.Gauge

	peerCount *atomic.Int64
	rate      func() int64
}

func newLinkMetrics(s *rtrans.Statistics, rate func() int64) *linkMetrics {
	m := &linkMetrics{
		registry:  prometheus.NewRegistry(),
		peerCount: atomic.NewInt64(0),
		rate:      rate,
	}

	add := func(name, help string, c *atomic.Uint64) {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "rtrans_" + name, Help: help})
		m.registry.MustRegister(g)
		m.stats = append(m.stats, statGauge{gauge: g, counter: c})
	}
	add("frames_sent", "Frames handed to the radio.", s.FramesSent)
	add("frames_received", "Frames received from the radio.", s.FramesReceived)
	add("retransmissions", "Segments sent again after a timeout.", s.Retransmissions)
	add("checksum_errors", "Received frames with a bad checksum.", s.ChecksumErrors)
	add("decode_errors", "Received frames too short or with an invalid header.", s.DecodeErrors)
	add("radio_errors", "Radio send failures.", s.RadioErrors)
	add("acks_sent", "ACKs sent.", s.AcksSent)
	add("acks_received", "ACKs received.", s.AcksReceived)
	add("naks_received", "NAKs received.", s.NaksReceived)
	add("stale_acks", "ACKs or NAKs that matched no in-flight segment.", s.StaleAcks)
	add("duplicates", "Retransmitted segments acknowledged but not delivered again.", s.Duplicates)
	add("rx_overflows", "Segments dropped because the receive queue was full.", s.RxOverflows)
	add("admission_failures", "Packages rejected by the transmit queue.", s.AdmissionFailures)
	add("packages_queued", "Packages accepted for transmission.", s.PackagesQueued)
	add("packages_delivered", "Packages acknowledged in full.", s.PackagesDelivered)
	add("packages_abandoned", "Packages dropped after NAK or retry exhaustion.", s.PackagesAbandoned)
	add("segments_delivered", "Segments delivered to the application.", s.SegmentsDelivered)

	m.peers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rtrans_peers",
		Help: "Slaves in the master peer table.",
	})
	m.byteRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rtrans_radio_rx_bytes_per_second",
		Help: "Bytes received from the radio module in the last second.",
	})
	m.registry.MustRegister(m.peers, m.byteRate)
	return m
}

// SetPeers records the peer table size; safe to call from the driver loop
func (m *linkMetrics) SetPeers(n int) {
	m.peerCount.Store(int64(n))
}

func (m *linkMetrics) collect() {
	for _, s := range m.stats {
		s.gauge.Set(float64(s.counter.Load()))
	}
	m.peers.Set(float64(m.peerCount.Load()))
	if m.rate != nil {
		m.byteRate.Set(float64(m.rate()))
	}
}

// Serve runs the exporter on addr until ctx is done
func (m *linkMetrics) Serve(ctx context.Context, addr string) {
	handler := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		m.collect()
		handler.ServeHTTP(w, r)
	})
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logrus.WithField("addr", addr).Infof("Prometheus exporter at http://%s/metrics", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("Prometheus exporter stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("Prometheus exporter shutdown")
		}
	}()
}
