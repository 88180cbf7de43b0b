package link

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRQFlagsString(t *testing.T) {
	tests := []struct {
		flags IRQFlags
		want  string
	}{
		{0, "[]"},
		{IRQRxDone, "[RX_DONE]"},
		{IRQRxDone | IRQTxDone | IRQAssert, "[ASSERT|RX_DONE|TX_DONE]"},
		{IRQConnected | 0x4, "[CONNECTED|0x4]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.flags.String())
	}
	assert.True(t, (IRQRxDone | IRQTxDone).Has(IRQRxDone))
	assert.False(t, IRQTxDone.Has(IRQRxDone))
}

func TestNackError(t *testing.T) {
	err := fmt.Errorf("send: %w", &NackError{Op: "message send", Code: NackBusyTryAgain})
	assert.True(t, IsNack(err, NackBusyTryAgain))
	assert.False(t, IsNack(err, NackQueueFull))
	assert.Contains(t, err.Error(), "busy try again")
	assert.Equal(t, "nack 42", NackCode(42).String())
}

func TestMailboxModes(t *testing.T) {
	tests := []struct {
		name        string
		mode        DownlinkMode
		polls       int
		wantRelease bool
	}{
		{name: "always on releases at next poll", mode: DownlinkAlwaysOn, polls: 1, wantRelease: true},
		{name: "mailbox waits for check", mode: DownlinkMailbox, polls: 2, wantRelease: false},
		{name: "mailbox releases on check", mode: DownlinkMailbox, polls: 3, wantRelease: true},
		{name: "off never releases", mode: DownlinkOff, polls: 10, wantRelease: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mb := NewMailbox(3, 4)
			mb.SetMode(tt.mode)
			require.NoError(t, mb.Enqueue(Message{Payload: []byte{1, 2}, Port: 128}))

			var flags IRQFlags
			for range tt.polls {
				flags = mb.Poll(0)
			}
			assert.Equal(t, tt.wantRelease, flags.Has(IRQRxDone))
			if tt.wantRelease {
				assert.Equal(t, 0, mb.Queued())
			} else {
				assert.Equal(t, 1, mb.Queued())
			}
		})
	}
}

func TestMailboxRetrieve(t *testing.T) {
	mb := NewMailbox(1, 2)
	require.NoError(t, mb.Enqueue(Message{Payload: []byte("abc"), Port: 7, RSSI: -90, SNR: 12}))
	require.NoError(t, mb.Enqueue(Message{Payload: []byte("defgh"), Port: 7}))
	assert.True(t, IsNack(mb.Enqueue(Message{Payload: []byte("x")}), NackQueueFull))

	flags := mb.Poll(IRQRxDone)
	require.True(t, flags.Has(IRQRxDone))
	assert.False(t, mb.Poll(0).Has(IRQRxDone), "cleared by the previous poll")

	buf := make([]byte, 4)
	msg, err := mb.RetrieveInto(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), msg.Payload)
	assert.Equal(t, uint8(7), msg.Port)
	assert.Equal(t, int16(-90), msg.RSSI)

	_, err = mb.RetrieveInto(buf)
	require.ErrorIs(t, err, ErrPayloadTooLarge)

	msg, err = mb.RetrieveInto(buf)
	require.NoError(t, err)
	assert.Empty(t, msg.Payload)
}
