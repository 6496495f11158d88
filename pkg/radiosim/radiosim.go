// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package radiosim provides an in-memory 802.15.4-style radio network with
// 16-bit addressing, broadcast, and configurable frame loss and corruption.
// Nodes implement the rtrans Radio interface.
package radiosim

import (
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// AddressBroadcast delivers a frame to every other node on the network
const AddressBroadcast = 0xFFFF

// queueSize is the number of frames a node can hold before new ones are dropped
const queueSize = 64

var (
	errClosed      = errors.New("radio closed")
	errAddressUsed = errors.New("address already attached")
)

// Network is a shared medium connecting simulated nodes
type Network struct {
	mu      sync.Mutex
	nodes   map[uint16]*Node
	rng     *rand.Rand
	loss    float64
	corrupt float64
	log     *logrus.Entry

	Delivered *atomic.Uint64
	Dropped   *atomic.Uint64
	Corrupted *atomic.Uint64
	Overflows *atomic.Uint64
}

// Option configures a Network
type Option func(*Network)

// WithLoss sets the probability in [0, 1] that a frame is lost per receiver
func WithLoss(p float64) Option {
	return func(n *Network) { n.loss = clamp(p) }
}

// WithCorruption sets the probability in [0, 1] that a delivered frame has
// one byte flipped
func WithCorruption(p float64) Option {
	return func(n *Network) { n.corrupt = clamp(p) }
}

// WithSeed makes loss and corruption decisions reproducible
func WithSeed(seed int64) Option {
	return func(n *Network) { n.rng = rand.New(rand.NewSource(seed)) }
}

// WithLogger sets the logger used for per-frame trace output
func WithLogger(log *logrus.Entry) Option {
	return func(n *Network) { n.log = log }
}

// NewNetwork creates an empty network
func NewNetwork(opts ...Option) *Network {
	n := &Network{
		nodes:     make(map[uint16]*Node),
		rng:       rand.New(rand.NewSource(1)),
		log:       logrus.NewEntry(logrus.StandardLogger()),
		Delivered: atomic.NewUint64(0),
		Dropped:   atomic.NewUint64(0),
		Corrupted: atomic.NewUint64(0),
		Overflows: atomic.NewUint64(0),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// SetLoss changes the loss probability at runtime
func (n *Network) SetLoss(p float64) {
	n.mu.Lock()
	n.loss = clamp(p)
	n.mu.Unlock()
}

// SetCorruption changes the corruption probability at runtime
func (n *Network) SetCorruption(p float64) {
	n.mu.Lock()
	n.corrupt = clamp(p)
	n.mu.Unlock()
}

// Attach adds a node with the given 16-bit address
func (n *Network) Attach(addr uint16) (*Node, error) {
	if addr == AddressBroadcast {
		return nil, errors.Errorf("cannot attach at broadcast address 0x%04X", addr)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.nodes[addr]; ok {
		return nil, errors.Wrapf(errAddressUsed, "0x%04X", addr)
	}

	node := &Node{
		net:     n,
		addr:    addr,
		in:      make(chan []byte, queueSize),
		closing: make(chan struct{}),
		up:      atomic.NewBool(true),
	}
	n.nodes[addr] = node
	return node, nil
}

// deliver fans a frame out to its receivers, applying loss and corruption
func (n *Network) deliver(src, dest uint16, frame []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for addr, node := range n.nodes {
		if addr == src || (dest != AddressBroadcast && dest != addr) {
			continue
		}
		if !node.up.Load() || n.rng.Float64() < n.loss {
			n.Dropped.Inc()
			if n.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
				n.log.WithFields(logrus.Fields{"src": src, "dest": addr, "len": len(frame)}).Trace("Frame lost")
			}
			continue
		}

		buf := make([]byte, len(frame))
		copy(buf, frame)
		if len(buf) > 0 && n.rng.Float64() < n.corrupt {
			buf[n.rng.Intn(len(buf))] ^= byte(1 + n.rng.Intn(255))
			n.Corrupted.Inc()
		}

		select {
		case node.in <- buf:
			n.Delivered.Inc()
		default:
			n.Overflows.Inc()
		}
	}
}

func (n *Network) detach(addr uint16) {
	n.mu.Lock()
	delete(n.nodes, addr)
	n.mu.Unlock()
}

// Node is one radio attached to a Network
type Node struct {
	net  *Network
	addr uint16
	in   chan []byte
	up   *atomic.Bool

	closeOnce sync.Once
	closing   chan struct{}
}

// Address returns the node's 16-bit address
func (nd *Node) Address() uint16 {
	return nd.addr
}

// SetUp moves the node in or out of range. A node out of range neither
// sends nor receives.
func (nd *Node) SetUp(up bool) {
	nd.up.Store(up)
}

// Send implements rtrans.Radio. Frames to unknown addresses are lost silently,
// as on a real radio.
func (nd *Node) Send(dest uint16, frame []byte) error {
	select {
	case <-nd.closing:
		return errClosed
	default:
	}
	if !nd.up.Load() {
		nd.net.Dropped.Inc()
		return nil
	}
	nd.net.deliver(nd.addr, dest, frame)
	return nil
}

// Poll implements rtrans.Radio
func (nd *Node) Poll() ([]byte, bool) {
	select {
	case frame := <-nd.in:
		return frame, true
	default:
		return nil, false
	}
}

// Pending returns the number of frames waiting to be polled
func (nd *Node) Pending() int {
	return len(nd.in)
}

// Close detaches the node from the network
func (nd *Node) Close() {
	nd.closeOnce.Do(func() {
		close(nd.closing)
		nd.net.detach(nd.addr)
	})
}

func clamp(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
