// Package wire implements the packet framing shared by clients, peers and the
// server: fixed-size zero-padded packets, a packet-count header for multi-part
// replies and the ACK/STOP handshake that paces them.
package wire

import (
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Control tokens a receiver sends between reply packets.
const (
	Ack  = "ACK"
	Stop = "STOP"
)

// Header prefixes.
const (
	headerExpect   = "201: Expect packets: "
	headerTooLarge = "500: reply exceeds packet size"
)

var (
	// ErrStopped reports that the receiver aborted a multi-packet reply
	// with STOP.
	ErrStopped = errors.New("receiver stopped the reply")

	// ErrTooLarge reports a payload that cannot fit in one packet.
	ErrTooLarge = errors.New("payload exceeds packet size")
)

// Message is one logical reply: either a single scalar payload or a list of
// fixed-width records to be packed into as few packets as fit.
type Message struct {
	payload string
	records []string
	list    bool
}

// Text wraps a scalar payload.
func Text(payload string) Message {
	return Message{payload: payload}
}

// Bool encodes a boolean query result.
func Bool(v bool) Message {
	if v {
		return Text("true")
	}
	return Text("false")
}

// Outcome encodes a mutation result.
func Outcome(ok bool) Message {
	if ok {
		return Text("success")
	}
	return Text("error")
}

// List wraps serialized records. An empty list is a valid message and is
// delivered as one empty packet.
func List(records []string) Message {
	return Message{records: records, list: true}
}

// Payload flattens the message into one string, for channels that carry a
// whole reply in a single packet.
func (m Message) Payload() string {
	if !m.list {
		return m.payload
	}
	return strings.Join(m.records, "")
}

// Transport frames payloads into fixed-size packets. Every packet on a
// connection is exactly BuffSize bytes, zero-padded; the payload ends at the
// first NUL byte. Reads and writes carry the configured deadline.
type Transport struct {
	BuffSize int
	Timeout  time.Duration

	log *zap.Logger
}

func NewTransport(buffSize int, timeout time.Duration, log *zap.Logger) *Transport {
	return &Transport{BuffSize: buffSize, Timeout: timeout, log: log}
}

// WritePacket sends one zero-padded packet.
func (t *Transport) WritePacket(conn net.Conn, payload string) error {
	if len(payload) > t.BuffSize {
		return errors.Wrapf(ErrTooLarge, "%d bytes into %d", len(payload), t.BuffSize)
	}

	buf := make([]byte, t.BuffSize)
	copy(buf, payload)

	if err := conn.SetWriteDeadline(time.Now().Add(t.Timeout)); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	if _, err := conn.Write(buf); err != nil {
		return errors.Wrap(err, "write packet")
	}
	return nil
}

// ReadPacket receives one packet and strips the zero padding.
func (t *Transport) ReadPacket(conn net.Conn) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(t.Timeout)); err != nil {
		return "", errors.Wrap(err, "set read deadline")
	}

	buf := make([]byte, t.BuffSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return "", errors.Wrap(err, "read packet")
	}

	if end := strings.IndexByte(string(buf), 0); end >= 0 {
		return string(buf[:end]), nil
	}
	return string(buf), nil
}

// SendMessage delivers a reply: a packet-count header, then one packet per
// chunk, each sent only after the receiver ACKs. A STOP from the receiver
// aborts the remainder and surfaces as ErrStopped.
func (t *Transport) SendMessage(conn net.Conn, msg Message) error {
	packets, err := t.packets(msg)
	if err != nil {
		if werr := t.WritePacket(conn, headerTooLarge); werr != nil {
			return werr
		}
		return err
	}

	if err := t.WritePacket(conn, headerExpect+strconv.Itoa(len(packets))); err != nil {
		return err
	}

	for _, packet := range packets {
		signal, err := t.ReadPacket(conn)
		if err != nil {
			return err
		}
		switch signal {
		case Ack:
		case Stop:
			return ErrStopped
		default:
			return errors.Errorf("unexpected handshake signal %q", signal)
		}

		if err := t.WritePacket(conn, packet); err != nil {
			return err
		}
	}
	return nil
}

// ReadMessage is the receiving half of SendMessage: it parses the header,
// ACKs each packet and returns the concatenated payload.
func (t *Transport) ReadMessage(conn net.Conn) (string, error) {
	header, err := t.ReadPacket(conn)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(header, "500:") {
		return "", errors.New(header)
	}
	if !strings.HasPrefix(header, headerExpect) {
		return "", errors.Errorf("malformed reply header %q", header)
	}

	count, err := strconv.Atoi(header[len(headerExpect):])
	if err != nil || count < 0 {
		return "", errors.Errorf("malformed packet count in %q", header)
	}

	var sb strings.Builder
	for i := 0; i < count; i++ {
		if err := t.WritePacket(conn, Ack); err != nil {
			return "", err
		}
		packet, err := t.ReadPacket(conn)
		if err != nil {
			return "", err
		}
		sb.WriteString(packet)
	}
	return sb.String(), nil
}

// SendToPort dials a local port, sends one packet and returns the single
// packet reply. This is the request shape of all peer-to-peer messages.
func (t *Transport) SendToPort(port int, payload string) (string, error) {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("localhost", strconv.Itoa(port)), t.Timeout)
	if err != nil {
		return "", errors.Wrapf(err, "dial port %d", port)
	}
	defer conn.Close()

	if err := t.WritePacket(conn, payload); err != nil {
		return "", err
	}
	return t.ReadPacket(conn)
}

// Ping reports whether anything accepts connections on the local port.
func (t *Transport) Ping(port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("localhost", strconv.Itoa(port)), t.Timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// packets splits a message into packet payloads. Records are packed greedily
// and never split across packets; a record wider than a whole packet cannot
// be delivered at all.
func (t *Transport) packets(msg Message) ([]string, error) {
	if !msg.list {
		if len(msg.payload) > t.BuffSize {
			return nil, errors.Wrap(ErrTooLarge, "scalar reply")
		}
		return []string{msg.payload}, nil
	}

	packets := []string{""}
	for _, rec := range msg.records {
		if len(rec) > t.BuffSize {
			return nil, errors.Wrapf(ErrTooLarge, "record of %d bytes", len(rec))
		}
		last := len(packets) - 1
		if len(packets[last])+len(rec) > t.BuffSize {
			packets = append(packets, "")
			last++
		}
		packets[last] += rec
	}
	return packets, nil
}
