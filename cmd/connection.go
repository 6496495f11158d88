// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/Thermoquad/rtrans/pkg/xbee"
)

// Connection is the byte stream to the local XBee module, over a serial port
// or a WebSocket bridge
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketConnection wraps a WebSocket connection for byte-level reading
type WebSocketConnection struct {
	conn      *websocket.Conn
	buf       []byte
	bufOffset int
	closed    bool // set once a read fails, later reads fail fast
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if w.closed {
		return 0, ErrConnectionClosed
	}

	// Drain the leftover of the previous message first
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	// Loop instead of recursing while skipping non-binary messages
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			// The connection is unusable after a read error
			w.closed = true
			return 0, errors.Wrap(ErrConnectionClosed, err.Error())
		}

		// XBee API frames travel as binary messages
		if messageType != websocket.BinaryMessage {
			continue
		}

		// Keep the message and hand out what fits in p
		w.buf = data
		w.bufOffset = 0
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	err := w.conn.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// OpenSerialConnection opens a serial port connection
func OpenSerialConnection(portName string, baudRate int) (Connection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", portName)
	}

	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (Connection, error) {
	// Only ws:// and wss:// are accepted
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, errors.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	// Bound the handshake so a dead bridge does not hang the CLI
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	// TLS only applies to wss://, --no-ssl-verify allows self-signed bridges
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	// HTTP Basic auth on the upgrade request
	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	// Connect
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "WebSocket connection failed (HTTP %d)", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "WebSocket connection failed")
	}

	return &WebSocketConnection{conn: conn}, nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// The environment wins so scripts never block on a prompt
	if pw := os.Getenv("RTRANS_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt on stderr and read without echo
	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal (piped stdin), read a plain line instead
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", errors.Wrap(err, "read password")
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// OpenConnection opens either a serial or WebSocket connection based on flags
func OpenConnection() (Connection, string, error) {
	if wsURL := viper.GetString("url"); wsURL != "" {
		// WebSocket mode, a password is only needed with --username
		username := viper.GetString("username")
		password := ""
		if username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := OpenWebSocketConnection(wsURL, username, password, viper.GetBool("no-ssl-verify"))
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName := viper.GetString("port"); portName != "" {
		// Serial mode, 8N1 at --baud
		baudRate := viper.GetInt("baud")
		conn, err := OpenSerialConnection(portName, baudRate)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", errors.New("either --port or --url must be specified")
}

// OpenRadio opens the connection, starts the XBee driver and sets the
// module's 16-bit address, from --address when given or from its serial
// number otherwise.
func OpenRadio(ctx context.Context) (*xbee.Radio, uint16, string, error) {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return nil, 0, "", err
	}

	radio := xbee.New(conn,
		xbee.WithEscaping(viper.GetBool("escaped")),
		xbee.WithLogger(logrus.WithField("conn", connInfo)))

	addr, fixed, err := configuredAddress()
	if err != nil {
		_ = radio.Close()
		return nil, 0, "", err
	}

	setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// MY sets the 16-bit source address, otherwise derive it from SL
	if fixed {
		_, err = radio.ATCommand(setupCtx, "MY", []byte{byte(addr >> 8), byte(addr)})
	} else {
		addr, err = radio.Configure(setupCtx)
	}
	if err != nil {
		_ = radio.Close()
		return nil, 0, "", errors.Wrap(err, "configure radio")
	}

	return radio, addr, connInfo, nil
}
