package handshake

import (
	"io"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/bromq-dev/mqttwire/pkg/packet"
)

var (
	// ErrNotConnect is reported when the first packet on a connection is not CONNECT.
	ErrNotConnect = errors.New("first packet is not CONNECT")

	// ErrProtocolName is reported when the CONNECT protocol name is not "MQTT".
	// MQTT 3.1.1 Section 3.1.2.1: the server closes without sending CONNACK.
	ErrProtocolName = errors.New("unsupported protocol name")

	// ErrUnsupportedPacket is reported when an accepted client sends a packet type
	// this server does not handle.
	ErrUnsupportedPacket = errors.New("unsupported packet type")
)

// handshake reads CONNECT and replies with CONNACK. info.Connect is filled in once a
// CONNECT variable header has been decoded.
func (s *Server) handshake(conn net.Conn, reader *packet.Reader, info *ConnInfo) Outcome {
	start := time.Now()
	outcome := func(replied bool, code packet.ConnackReturnCode, err error) Outcome {
		return Outcome{
			Info:       *info,
			Replied:    replied,
			ReturnCode: code,
			Err:        err,
			Duration:   time.Since(start),
		}
	}

	if s.config.ConnectTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.config.ConnectTimeout))
	}

	pkt, err := reader.ReadPacket()
	if err != nil {
		s.metrics.decodeError(err)
		return outcome(false, 0, errors.Wrap(err, "read connect"))
	}
	s.metrics.packet(pkt.Header.Type)

	// First packet must be CONNECT
	vh, ok := pkt.Variable.(packet.ConnectHeader)
	if !ok {
		return outcome(false, 0, errors.Wrapf(ErrNotConnect, "got %s", pkt.Header.Type))
	}
	info.Connect = vh

	if !vh.HasProtocolName(packet.ProtocolNameMQTT) {
		return outcome(false, 0, errors.Wrapf(ErrProtocolName, "% x", vh.ProtocolName[:]))
	}

	code, err := s.checkConnect(*info)
	if werr := s.writeConnack(conn, code); werr != nil {
		return outcome(false, code, errors.Wrap(werr, "write connack"))
	}
	if code != packet.ConnackAccepted {
		if err == nil {
			err = &RejectError{Code: code}
		}
		return outcome(true, code, err)
	}

	conn.SetReadDeadline(time.Time{})
	return outcome(true, code, nil)
}

// checkConnect decides the CONNACK return code for a CONNECT with a valid protocol name.
func (s *Server) checkConnect(info ConnInfo) (packet.ConnackReturnCode, error) {
	if info.Connect.ProtocolLevel != packet.ProtocolLevel311 {
		return packet.ConnackUnacceptableProtocolVersion, nil
	}

	if s.config.MaxConnections > 0 && s.connectionCount() > s.config.MaxConnections {
		return packet.ConnackServerUnavailable, errors.New("connection limit reached")
	}

	if err := s.hooks.OnConnect(s.ctx, info); err != nil {
		var rejectErr *RejectError
		if errors.As(err, &rejectErr) {
			return rejectErr.Code, err
		}
		return packet.ConnackServerUnavailable, err
	}

	return packet.ConnackAccepted, nil
}

// writeConnack replies to CONNECT. The server keeps no session state, so session
// present is always false.
func (s *Server) writeConnack(conn net.Conn, code packet.ConnackReturnCode) error {
	s.setWriteDeadline(conn)
	return packet.WritePacket(conn, packet.ConnackHeader{ReturnCode: code}, nil)
}

func (s *Server) setWriteDeadline(conn net.Conn) {
	if s.config.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
}

// serve handles packets after a successful handshake until the connection ends.
func (s *Server) serve(conn net.Conn, reader *packet.Reader, info ConnInfo) error {
	for {
		pkt, err := reader.ReadPacket()
		if err != nil {
			if errors.Is(err, io.EOF) || s.ctx.Err() != nil {
				return nil
			}
			s.metrics.decodeError(err)
			return errors.Wrap(err, "read packet")
		}
		s.metrics.packet(pkt.Header.Type)
		s.hooks.OnPacket(s.ctx, info, pkt)

		switch pkt.Header.Type {
		case packet.TypePingreq:
			s.setWriteDeadline(conn)
			if err := packet.WriteControl(conn, packet.TypePingresp); err != nil {
				return errors.Wrap(err, "write pingresp")
			}
		case packet.TypeDisconnect:
			return nil
		case packet.TypeConnect:
			// MQTT 3.1.1 Section 3.1.0: a second CONNECT is a protocol violation.
			return errors.Wrap(ErrUnsupportedPacket, "second CONNECT")
		default:
			s.log.Debug("unsupported packet",
				"remote_addr", info.RemoteAddr,
				"type", pkt.Header.Type.String(),
				"remaining_length", pkt.Header.RemainingLength,
			)
			return errors.Wrapf(ErrUnsupportedPacket, "%s", pkt.Header.Type)
		}
	}
}
