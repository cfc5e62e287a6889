package hardware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"cat_feeder/internal/logger"

	"go.bug.st/serial"
)

const (
	// DefaultBaudRate matches the bridge firmware.
	DefaultBaudRate = 115200
	// pollInterval bounds each blocking read so ctx deadlines are honoured.
	pollInterval = 50 * time.Millisecond
	maxLineBytes = 128
)

// ErrNotConnected is returned when a request is made before Connect.
var ErrNotConnected = errors.New("serial bridge not connected")

// port is the subset of serial.Port the bridge needs.
type port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Serial is a line-protocol link to the microcontroller that samples the
// HX711 and drives the servo PWM.
//
//	host -> MCU   "R\n"          read one conversion
//	host -> MCU   "A,<deg>\n"    move servo
//	MCU  -> host  "W,<raw>\n" | "OK\n" | "ERR,<msg>\n"
type Serial struct {
	portName string
	baudRate int
	log      *logger.Logger

	mu      sync.Mutex
	conn    port
	pending []byte
}

func NewSerial(portName string, baudRate int, log *logger.Logger) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	return &Serial{portName: portName, baudRate: baudRate, log: logger.OrNop(log)}
}

// Connect opens the serial port.
func (s *Serial) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return fmt.Errorf("already connected")
	}

	p, err := serial.Open(s.portName, &serial.Mode{BaudRate: s.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.portName, err)
	}
	if err := p.SetReadTimeout(pollInterval); err != nil {
		_ = p.Close()
		return fmt.Errorf("set read timeout on %s: %w", s.portName, err)
	}
	s.conn = p
	s.pending = s.pending[:0]
	s.log.Infow("serial_connected", "port", s.portName, "baud", s.baudRate)
	return nil
}

// Close closes the port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// ReadRaw asks the bridge for one HX711 conversion.
func (s *Serial) ReadRaw(ctx context.Context) (int64, error) {
	rep, err := s.request(ctx, "R")
	if err != nil {
		return 0, err
	}
	if rep.Kind != replyWeight {
		return 0, fmt.Errorf("unexpected reply %q to read", rep.Kind)
	}
	return rep.Raw, nil
}

// SetAngle moves the servo and waits for the bridge to acknowledge.
func (s *Serial) SetAngle(ctx context.Context, angle int) error {
	rep, err := s.request(ctx, "A,"+strconv.Itoa(angle))
	if err != nil {
		return err
	}
	if rep.Kind != replyOK {
		return fmt.Errorf("unexpected reply %q to move", rep.Kind)
	}
	return nil
}

func (s *Serial) request(ctx context.Context, cmd string) (reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return reply{}, ErrNotConnected
	}

	s.pending = s.pending[:0] // stale replies from a timed-out request
	if _, err := s.conn.Write([]byte(cmd + "\n")); err != nil {
		return reply{}, fmt.Errorf("write %q: %w", cmd, err)
	}

	line, err := s.readLine(ctx)
	if err != nil {
		return reply{}, err
	}
	rep, err := parseLine(line)
	if err != nil {
		return reply{}, err
	}
	if rep.Kind == replyError {
		return reply{}, fmt.Errorf("bridge rejected %q: %s", cmd, rep.Msg)
	}
	return rep, nil
}

func (s *Serial) readLine(ctx context.Context) (string, error) {
	buf := make([]byte, 64)
	for {
		if i := bytes.IndexByte(s.pending, '\n'); i >= 0 {
			line := strings.TrimSpace(string(s.pending[:i]))
			s.pending = append(s.pending[:0], s.pending[i+1:]...)
			if line == "" {
				continue
			}
			return line, nil
		}
		if len(s.pending) > maxLineBytes {
			s.pending = s.pending[:0]
			return "", fmt.Errorf("line exceeds %d bytes", maxLineBytes)
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := s.conn.Read(buf)
		if err != nil {
			return "", fmt.Errorf("read serial: %w", err)
		}
		s.pending = append(s.pending, buf[:n]...)
	}
}

type replyKind string

const (
	replyWeight replyKind = "W"
	replyOK     replyKind = "OK"
	replyError  replyKind = "ERR"
)

type reply struct {
	Kind replyKind
	Raw  int64
	Msg  string
}

// parseLine parses one bridge reply. HX711 output is 24-bit two's complement,
// so raw values outside that range are rejected.
func parseLine(line string) (reply, error) {
	parts := strings.SplitN(strings.TrimSpace(line), ",", 2)
	switch replyKind(parts[0]) {
	case replyOK:
		return reply{Kind: replyOK}, nil
	case replyError:
		msg := ""
		if len(parts) == 2 {
			msg = parts[1]
		}
		return reply{Kind: replyError, Msg: msg}, nil
	case replyWeight:
		if len(parts) != 2 {
			return reply{}, fmt.Errorf("invalid weight line %q", line)
		}
		raw, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return reply{}, fmt.Errorf("invalid raw value: %w", err)
		}
		if raw < -(1<<23) || raw >= 1<<23 {
			return reply{}, fmt.Errorf("raw value out of 24-bit range: %d", raw)
		}
		return reply{Kind: replyWeight, Raw: raw}, nil
	default:
		return reply{}, fmt.Errorf("unknown reply %q", line)
	}
}
