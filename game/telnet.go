package game

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gliderlabs/ssh"
	"golang.org/x/term"
)

const (
	telnetIAC  byte = 255
	telnetDONT byte = 254
	telnetDO   byte = 253
	telnetWONT byte = 252
	telnetWILL byte = 251
	telnetSB   byte = 250
	telnetSE   byte = 240
)

const (
	telnetOptEcho       byte = 1
	telnetOptSuppressGA byte = 3
)

// lineStream is a newline delimited stream over a raw TCP connection. In
// telnet mode it negotiates options, strips IAC sequences from input and
// writes CRLF line endings.
type lineStream struct {
	conn    net.Conn
	reader  *bufio.Reader
	maxLine int
	telnet  atomic.Bool

	mu sync.Mutex
}

func newLineStream(conn net.Conn, maxLine int) *lineStream {
	return &lineStream{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		maxLine: maxLine,
	}
}

func (s *lineStream) enableTelnet() {
	s.telnet.Store(true)
	s.writeCommand(telnetWILL, telnetOptSuppressGA)
}

func (s *lineStream) writeCommand(cmd, opt byte) error {
	return s.writeRaw([]byte{telnetIAC, cmd, opt})
}

func (s *lineStream) writeRaw(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Write(payload)
	return err
}

func (s *lineStream) Write(b []byte) (int, error) {
	payload := b
	if s.telnet.Load() {
		payload = translateForTelnet(b)
	}
	if err := s.writeRaw(payload); err != nil {
		return 0, err
	}
	return len(b), nil
}

func translateForTelnet(msg []byte) []byte {
	var buf bytes.Buffer
	var prev byte
	for _, b := range msg {
		switch b {
		case '\n':
			if prev != '\r' {
				buf.WriteByte('\r')
			}
			buf.WriteByte('\n')
		case telnetIAC:
			buf.WriteByte(telnetIAC)
			buf.WriteByte(telnetIAC)
		default:
			buf.WriteByte(b)
		}
		prev = b
	}
	return buf.Bytes()
}

func (s *lineStream) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// ReadLine returns the next line without its terminator. Bytes past maxLine are dropped.
func (s *lineStream) ReadLine() (string, error) {
	var buf bytes.Buffer
	add := func(b byte) {
		if s.maxLine <= 0 || buf.Len() < s.maxLine {
			buf.WriteByte(b)
		}
	}
	for {
		b, err := s.reader.ReadByte()
		if err != nil {
			if err == io.EOF && buf.Len() > 0 {
				return buf.String(), nil
			}
			return "", err
		}
		switch b {
		case '\r':
			if next, err := s.reader.Peek(1); err == nil && (next[0] == '\n' || next[0] == 0) {
				s.reader.ReadByte()
			}
			return buf.String(), nil
		case '\n':
			return buf.String(), nil
		case 0x08, 0x7f:
			if bs := buf.Bytes(); len(bs) > 0 {
				buf.Truncate(len(bs) - 1)
			}
		case 0x00:
		case telnetIAC:
			if err := s.handleIAC(add); err != nil {
				return "", err
			}
		default:
			add(b)
		}
	}
}

func (s *lineStream) handleIAC(add func(byte)) error {
	cmd, err := s.reader.ReadByte()
	if err != nil {
		return err
	}
	switch cmd {
	case telnetIAC:
		add(telnetIAC)
	case telnetDO, telnetDONT, telnetWILL, telnetWONT:
		opt, err := s.reader.ReadByte()
		if err != nil {
			return err
		}
		s.handleNegotiation(cmd, opt)
	case telnetSB:
		for {
			b, err := s.reader.ReadByte()
			if err != nil {
				return err
			}
			if b != telnetIAC {
				continue
			}
			esc, err := s.reader.ReadByte()
			if err != nil {
				return err
			}
			if esc == telnetSE {
				break
			}
		}
	}
	return nil
}

func (s *lineStream) handleNegotiation(cmd, opt byte) {
	if !s.telnet.Load() {
		return
	}
	switch cmd {
	case telnetDO:
		if opt == telnetOptSuppressGA || opt == telnetOptEcho {
			return
		}
		s.writeCommand(telnetWONT, opt)
	case telnetWILL:
		s.writeCommand(telnetDONT, opt)
	}
}

// ReadPassword reads a line with the client's local echo turned off.
func (s *lineStream) ReadPassword(prompt string) (string, error) {
	if _, err := io.WriteString(s, prompt); err != nil {
		return "", err
	}
	if s.telnet.Load() {
		s.writeCommand(telnetWILL, telnetOptEcho)
		defer func() {
			s.writeCommand(telnetWONT, telnetOptEcho)
			io.WriteString(s, "\n")
		}()
	}
	return s.ReadLine()
}

// Prompt shows the command prompt to telnet clients.
func (s *lineStream) Prompt() {
	if s.telnet.Load() {
		io.WriteString(s, "> ")
	}
}

func (s *lineStream) Close() error {
	return s.conn.Close()
}

// terminalStream is an SSH channel driven through term.Terminal.
type terminalStream struct {
	*term.Terminal
	sess ssh.Session
}

func newTerminalStream(sess ssh.Session) *terminalStream {
	return &terminalStream{
		Terminal: term.NewTerminal(sess, "> "),
		sess:     sess,
	}
}

func (t *terminalStream) Close() error {
	return t.sess.Close()
}
