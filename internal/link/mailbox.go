package link

import "sync"

// DefaultMailboxCheckEvery is how many polls a module in mailbox mode waits
// between checks of its network mailbox.
const DefaultMailboxCheckEvery = 5

// DefaultQueueDepth bounds the downlinks a gateway holds for one device.
const DefaultQueueDepth = 64

// Mailbox emulates the module side of downlink delivery. Downlinks wait in
// the network queue until the module's downlink mode lets them through:
// always-on releases them at the next poll, mailbox mode only every
// checkEvery polls, and off never. Released messages stay pending until
// retrieved and raise RX_DONE.
type Mailbox struct {
	mu         sync.Mutex
	network    []Message
	pending    []Message
	mode       DownlinkMode
	flags      IRQFlags
	polls      int
	checkEvery int
	depth      int
}

// NewMailbox returns a mailbox in mailbox mode.
func NewMailbox(checkEvery, depth int) *Mailbox {
	if checkEvery <= 0 {
		checkEvery = DefaultMailboxCheckEvery
	}
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Mailbox{
		mode:       DownlinkMailbox,
		checkEvery: checkEvery,
		depth:      depth,
		flags:      IRQInitializationComplete | IRQConnected,
	}
}

// Enqueue places a downlink in the network queue.
func (m *Mailbox) Enqueue(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.network) >= m.depth {
		return &NackError{Op: "downlink", Code: NackQueueFull}
	}
	m.network = append(m.network, msg)
	return nil
}

// Poll advances the module clock by one poll, releases whatever the
// downlink mode allows, and returns the flags before clearing clear.
func (m *Mailbox) Poll(clear IRQFlags) IRQFlags {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.polls++
	release := false
	switch m.mode {
	case DownlinkAlwaysOn:
		release = true
	case DownlinkMailbox:
		release = m.polls%m.checkEvery == 0
	}
	if release && len(m.network) > 0 {
		m.pending = append(m.pending, m.network...)
		m.network = m.network[:0]
		m.flags |= IRQRxDone
	}

	flags := m.flags
	m.flags &^= clear
	return flags
}

// Take removes the oldest released message.
func (m *Mailbox) Take() (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return Message{}, false
	}
	msg := m.pending[0]
	m.pending = m.pending[1:]
	return msg, true
}

// Raise sets flags, e.g. TX_DONE after an uplink.
func (m *Mailbox) Raise(flags IRQFlags) {
	m.mu.Lock()
	m.flags |= flags
	m.mu.Unlock()
}

func (m *Mailbox) SetMode(mode DownlinkMode) {
	m.mu.Lock()
	m.mode = mode
	m.mu.Unlock()
}

func (m *Mailbox) Mode() DownlinkMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Queued returns the number of downlinks not yet released to the module.
func (m *Mailbox) Queued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.network)
}

// RetrieveInto copies the next released message into buf. It returns an
// empty Message when nothing is pending.
func (m *Mailbox) RetrieveInto(buf []byte) (Message, error) {
	msg, ok := m.Take()
	if !ok {
		return Message{}, nil
	}
	if len(msg.Payload) > len(buf) {
		return Message{}, ErrPayloadTooLarge
	}
	n := copy(buf, msg.Payload)
	msg.Payload = buf[:n]
	return msg, nil
}
