package eventring

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/erigontech/monadstate/internal/observability"
)

// HeartbeatPeriod is how often the server logs a liveness heartbeat, per
// §4.10's "the server heart-beats every ~1 s".
const HeartbeatPeriod = time.Second

// MessageType enumerates the control messages exchanged on the UNIX socket
// (§6.4): a client requests a ring by type, the server replies with a
// sequence of mapping messages terminated by OpenFinished, or with
// ExportError on failure.
type MessageType byte

const (
	MsgExportRing MessageType = iota
	MsgMapRingControl
	MsgMapDescriptorTable
	MsgMapPayloadPage
	MsgMetadataOffset
	MsgOpenFinished
	MsgExportError
)

// RingType identifies which ring a client is requesting (block/tx/state-
// change events share the same wire protocol but are separate rings).
type RingType byte

const (
	RingBlockFlow RingType = iota
	RingStateChange
)

// Server hands off memfd file descriptors for the control, descriptor and
// payload segments of a Ring over a UNIX-domain socket, followed by a
// metadata-offset message that carries no descriptor, heart-beating every
// ~1s (§4.10). Grounded on event_server.c's listener
// loop (original_source).
type Server struct {
	ring *Ring
	log  *observability.Logger
}

// NewServer returns a Server exporting ring over future client connections.
func NewServer(ring *Ring) *Server {
	return &Server{ring: ring, log: observability.New("component", "eventring")}
}

// Serve accepts connections on l until it returns an error (typically from
// l.Close()), handling each connection on its own goroutine — export
// handoff is a short, one-shot exchange per client.
func (s *Server) Serve(l *net.UnixListener) error {
	for {
		conn, err := l.AcceptUnix()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn *net.UnixConn) {
	defer conn.Close()

	req := make([]byte, 2)
	if _, err := conn.Read(req); err != nil {
		return
	}
	if MessageType(req[0]) != MsgExportRing {
		s.writeError(conn, "unexpected first message, want EXPORT_RING")
		return
	}

	if err := s.sendFD(conn, MsgMapRingControl, s.ring.memfdControl); err != nil {
		s.log.Warn("failed to send control memfd", "err", err)
		return
	}
	if err := s.sendFD(conn, MsgMapDescriptorTable, s.ring.memfdDescriptor); err != nil {
		s.log.Warn("failed to send descriptor memfd", "err", err)
		return
	}
	if err := s.sendFD(conn, MsgMapPayloadPage, s.ring.memfdPayload); err != nil {
		s.log.Warn("failed to send payload memfd", "err", err)
		return
	}
	if err := s.sendMetadataOffset(conn); err != nil {
		s.log.Warn("failed to send metadata offset", "err", err)
		return
	}
	s.writeSimple(conn, MsgOpenFinished)
}

// Heartbeat logs a liveness message every HeartbeatPeriod until stop is
// closed, matching the original server's ~1s heartbeat cadence.
func (s *Server) Heartbeat(stop <-chan struct{}) {
	t := time.NewTicker(HeartbeatPeriod)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.log.Debug("eventring heartbeat", "pending", s.ring.Pending())
		case <-stop:
			return
		}
	}
}

func (s *Server) writeSimple(conn *net.UnixConn, t MessageType) {
	conn.Write([]byte{byte(t)})
}

func (s *Server) writeError(conn *net.UnixConn, reason string) {
	buf := append([]byte{byte(MsgExportError)}, []byte(reason)...)
	conn.Write(buf)
}

func (s *Server) sendFD(conn *net.UnixConn, t MessageType, fd int) error {
	rights := unix.UnixRights(fd)
	_, _, err := conn.WriteMsgUnix([]byte{byte(t)}, rights, nil)
	return err
}

func (s *Server) sendMetadataOffset(conn *net.UnixConn) error {
	buf := make([]byte, 1+4+8)
	buf[0] = byte(MsgMetadataOffset)
	binary.LittleEndian.PutUint32(buf[1:5], s.ring.descriptorCapacity)
	binary.LittleEndian.PutUint64(buf[5:13], s.ring.payloadSize)
	_, err := conn.Write(buf)
	return err
}

// ExportedRing holds the memfds a client received from a Server's export
// handoff, along with the descriptor capacity and payload size it parsed
// out of the metadata-offset message.
type ExportedRing struct {
	ControlFD    int
	DescriptorFD int
	PayloadFD    int

	DescriptorCapacity uint32
	PayloadSize        uint64
}

// RequestRing performs the client half of the EXPORT_RING handoff over
// conn, blocking until OPEN_FINISHED or EXPORT_ERROR arrives.
func RequestRing(conn *net.UnixConn, ring RingType) (*ExportedRing, error) {
	if _, err := conn.Write([]byte{byte(MsgExportRing), byte(ring)}); err != nil {
		return nil, err
	}

	out := &ExportedRing{ControlFD: -1, DescriptorFD: -1, PayloadFD: -1}
	buf := make([]byte, 256)
	oob := make([]byte, unix.CmsgSpace(4))

	for {
		n, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, fmt.Errorf("eventring: empty control message")
		}
		msgType := MessageType(buf[0])

		if oobn > 0 {
			fd, err := extractFD(oob[:oobn])
			if err != nil {
				return nil, err
			}
			switch msgType {
			case MsgMapRingControl:
				out.ControlFD = fd
			case MsgMapDescriptorTable:
				out.DescriptorFD = fd
			case MsgMapPayloadPage:
				out.PayloadFD = fd
			}
			continue
		}

		switch msgType {
		case MsgMetadataOffset:
			out.DescriptorCapacity = binary.LittleEndian.Uint32(buf[1:5])
			out.PayloadSize = binary.LittleEndian.Uint64(buf[5:13])
		case MsgOpenFinished:
			return out, nil
		case MsgExportError:
			return nil, fmt.Errorf("eventring: export failed: %s", string(buf[1:n]))
		}
	}
}

func extractFD(oob []byte) (int, error) {
	messages, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return -1, err
	}
	for _, m := range messages {
		fds, err := unix.ParseUnixRights(&m)
		if err != nil {
			continue
		}
		if len(fds) > 0 {
			return fds[0], nil
		}
	}
	return -1, fmt.Errorf("eventring: control message carried no file descriptor")
}
