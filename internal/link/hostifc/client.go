package hostifc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pion/logging"

	"radioftp/internal/link"
)

// DefaultTimeout bounds how long a command waits for its response.
const DefaultTimeout = time.Second

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Client is a link.Link backed by a module on a byte stream.
type Client struct {
	mu      sync.Mutex
	rw      io.ReadWriteCloser
	msgNum  uint8
	timeout time.Duration
	log     logging.LeveledLogger
	closed  bool
}

// Version is the module firmware version.
type Version struct {
	Major uint8
	Minor uint8
	Tag   uint16
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Tag)
}

// NewClient wraps an already opened stream.
func NewClient(rw io.ReadWriteCloser, timeout time.Duration, loggerFactory logging.LoggerFactory) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		rw:      rw,
		timeout: timeout,
		log:     loggerFactory.NewLogger("link"),
	}
}

// Dial opens the tty at path and returns a client for the module on it.
func Dial(path string, baud int, timeout time.Duration, loggerFactory logging.LoggerFactory) (*Client, error) {
	tty, err := OpenTTY(path, baud)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	c := NewClient(tty, timeout, loggerFactory)
	c.log.Infof("Opened %s at %d baud", path, baud)
	return c, nil
}

// transact sends one command and waits for its response. NACKs come back as
// *link.NackError naming op.
func (c *Client) transact(op string, cmd uint8, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, link.ErrClosed
	}

	c.msgNum++
	req, err := encodeFrame(frame{cmd: cmd, msgNum: c.msgNum, payload: payload}, false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c.log.Tracef("-> %s cmd=0x%02x msg=%d len=%d", op, cmd, c.msgNum, len(payload))
	if _, err := c.rw.Write(req); err != nil {
		return nil, fmt.Errorf("%s: failed to write command: %w", op, err)
	}

	if d, ok := c.rw.(deadliner); ok {
		_ = d.SetReadDeadline(time.Now().Add(c.timeout))
	}
	resp, err := c.awaitResponse()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	switch {
	case resp.cmd != cmd:
		return nil, fmt.Errorf("%s: %w: sent 0x%02x, got 0x%02x", op, link.ErrCommandMismatch, cmd, resp.cmd)
	case resp.ack != AckOK:
		return nil, &link.NackError{Op: op, Code: link.NackCode(resp.ack)}
	}
	return resp.payload, nil
}

// awaitResponse reads frames until one carries the current message number.
// Late answers to commands that already timed out are dropped.
func (c *Client) awaitResponse() (frame, error) {
	stale := 0
	for {
		resp, err := readFrame(timeoutReader{c.rw}, true)
		if err != nil {
			if stale > 0 {
				return frame{}, fmt.Errorf("%w (dropped %d stale responses)", err, stale)
			}
			return frame{}, err
		}
		if resp.msgNum == c.msgNum {
			return resp, nil
		}
		stale++
		c.log.Debugf("Dropping stale response cmd=0x%02x: %v: want %d, got %d",
			resp.cmd, link.ErrMsgNumMismatch, c.msgNum, resp.msgNum)
	}
}

// Version queries the module firmware version.
func (c *Client) Version() (Version, error) {
	p, err := c.transact("version", CmdVersion, nil)
	if err != nil {
		return Version{}, err
	}
	if len(p) != 4 {
		return Version{}, fmt.Errorf("version: %w: %d bytes", link.ErrInvalidParameter, len(p))
	}
	return Version{Major: p[0], Minor: p[1], Tag: binary.BigEndian.Uint16(p[2:])}, nil
}

func (c *Client) IRQFlags(clear link.IRQFlags) (link.IRQFlags, error) {
	p, err := c.transact("irq flags", CmdIRQFlags, binary.BigEndian.AppendUint32(nil, uint32(clear)))
	if err != nil {
		return 0, err
	}
	if len(p) != 4 {
		return 0, fmt.Errorf("irq flags: %w: %d bytes", link.ErrInvalidParameter, len(p))
	}
	return link.IRQFlags(binary.BigEndian.Uint32(p)), nil
}

// Retrieve pulls the next downlink from the module. A NACK_NODATA answer is
// reported as an empty message.
func (c *Client) Retrieve(buf []byte) (link.Message, error) {
	p, err := c.transact("retrieve message", CmdRetrieveMsg, nil)
	if link.IsNack(err, link.NackNoData) {
		return link.Message{}, nil
	}
	if err != nil {
		return link.Message{}, err
	}
	if len(p) == 0 {
		return link.Message{}, nil
	}
	if len(p) < 4 {
		return link.Message{}, fmt.Errorf("retrieve message: %w: %d bytes", link.ErrInvalidParameter, len(p))
	}

	data := p[4:]
	if len(data) > len(buf) {
		return link.Message{}, fmt.Errorf("retrieve message: %w: %d > %d", link.ErrPayloadTooLarge, len(data), len(buf))
	}
	n := copy(buf, data)
	return link.Message{
		Payload: buf[:n],
		Port:    p[0],
		RSSI:    int16(binary.BigEndian.Uint16(p[1:3])),
		SNR:     p[3],
	}, nil
}

func (c *Client) Send(payload []byte, acked bool, port uint8) error {
	if len(payload) == 0 || len(payload) > link.MaxPayload {
		return fmt.Errorf("message send: %w: %d byte payload", link.ErrInvalidParameter, len(payload))
	}
	req := make([]byte, 0, 2+len(payload))
	ack := uint8(0)
	if acked {
		ack = 1
	}
	req = append(req, port, ack)
	req = append(req, payload...)
	_, err := c.transact("message send", CmdMsgSend, req)
	return err
}

func (c *Client) Config() (link.RadioConfig, error) {
	p, err := c.transact("config get", CmdConfigGet, nil)
	if err != nil {
		return link.RadioConfig{}, err
	}
	cfg, err := decodeConfig(p)
	if err != nil {
		return link.RadioConfig{}, fmt.Errorf("config get: %w", err)
	}
	return cfg, nil
}

func (c *Client) SetConfig(cfg link.RadioConfig) error {
	_, err := c.transact("config set", CmdConfigSet, encodeConfig(cfg))
	return err
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rw.Close()
}

// timeoutReader turns the ways a stream signals "no byte in time" into
// link.ErrTimeout: a VTIME expiry on a tty (0, nil or EOF) and a passed
// read deadline.
type timeoutReader struct {
	r io.Reader
}

func (t timeoutReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		return n, nil
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded) {
		return 0, link.ErrTimeout
	}
	return 0, err
}
