package packet

import (
	"errors"
	"io"
	"sync"
)

// Reader reads MQTT packets from an io.Reader.
// It buffers partial packets until they are complete. A Reader is not safe for
// concurrent use.
type Reader struct {
	r             io.Reader
	buf           []byte
	pos           int
	end           int
	maxPacketSize int
}

// NewReader creates a new packet reader.
func NewReader(r io.Reader, bufSize int) *Reader {
	if bufSize < 1024 {
		bufSize = 1024
	}
	return &Reader{
		r:             r,
		buf:           make([]byte, bufSize),
		maxPacketSize: MaxPacketSize,
	}
}

// SetMaxPacketSize limits the total size of packets the reader accepts.
// Values outside 1..MaxPacketSize reset the limit to MaxPacketSize.
func (r *Reader) SetMaxPacketSize(n int) {
	if n <= 0 || n > MaxPacketSize {
		n = MaxPacketSize
	}
	r.maxPacketSize = n
}

// fill reads more data into the buffer.
func (r *Reader) fill() error {
	// Shift remaining data to the beginning
	if r.pos > 0 {
		copy(r.buf, r.buf[r.pos:r.end])
		r.end -= r.pos
		r.pos = 0
	}

	// Grow buffer if needed
	if r.end == len(r.buf) {
		newBuf := make([]byte, len(r.buf)*2)
		copy(newBuf, r.buf)
		r.buf = newBuf
	}

	n, err := r.r.Read(r.buf[r.end:])
	r.end += n
	if n > 0 || err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) && r.available() > 0 {
		return io.ErrUnexpectedEOF
	}
	return err
}

// available returns the number of unread bytes in the buffer.
func (r *Reader) available() int {
	return r.end - r.pos
}

// ReadPacket reads the next packet from the reader.
// Returns io.EOF only when the stream ends on a packet boundary.
func (r *Reader) ReadPacket() (Packet, error) {
	// A truncated fixed header only means more bytes are on the way.
	var headerLen int
	var h FixedHeader
	for {
		var err error
		h, headerLen, err = DecodeFixedHeader(r.buf[:r.end], r.pos)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrTruncatedBuffer) {
			return Packet{}, err
		}
		if err := r.fill(); err != nil {
			return Packet{}, err
		}
	}

	totalLen := headerLen + int(h.RemainingLength)
	if totalLen > r.maxPacketSize {
		return Packet{}, ErrPacketTooLarge
	}

	// Read until we have the complete packet
	for r.available() < totalLen {
		if err := r.fill(); err != nil {
			return Packet{}, err
		}
	}

	p, _, err := DecodePacket(r.buf[r.pos : r.pos+totalLen])
	r.pos += totalLen
	if err != nil {
		return Packet{}, err
	}
	return p, nil
}

// WritePacket encodes a packet made of vh and payload and writes it to w.
func WritePacket(w io.Writer, vh VariableHeader, payload []byte) error {
	return writeEncoded(w, 1+4+vh.Size()+len(payload), func(buf []byte) (int, error) {
		return EncodePacket(buf, vh, payload)
	})
}

// WriteControl writes a header-only packet of type t to w.
func WriteControl(w io.Writer, t Type) error {
	return writeEncoded(w, 2, func(buf []byte) (int, error) {
		return EncodeControl(buf, t)
	})
}

func writeEncoded(w io.Writer, maxSize int, encode func([]byte) (int, error)) error {
	buf := GetBuffer()
	defer PutBuffer(buf)
	if len(buf) < maxSize {
		buf = make([]byte, maxSize)
	}

	n, err := encode(buf)
	if err != nil {
		return err
	}
	_, err = w.Write(buf[:n])
	return err
}

// BufferPool provides a pool of reusable buffers for packet encoding.
var BufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 4096)
		return &buf
	},
}

// GetBuffer returns a buffer from the pool.
func GetBuffer() []byte {
	return *BufferPool.Get().(*[]byte)
}

// PutBuffer returns a buffer to the pool.
func PutBuffer(buf []byte) {
	// Only return buffers of reasonable size
	if cap(buf) <= 65536 {
		buf = buf[:cap(buf)]
		BufferPool.Put(&buf)
	}
}
