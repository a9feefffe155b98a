package ipcc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func pending(line <-chan struct{}) bool {
	select {
	case <-line:
		return true
	default:
		return false
	}
}

func TestEnableOnce(t *testing.T) {
	p := New()
	require.False(t, p.Enabled())
	require.NoError(t, p.Enable())
	require.True(t, p.Enabled())
	require.ErrorIs(t, p.Enable(), ErrAlreadyEnabled)
}

func TestFlagHandshake(t *testing.T) {
	p := New()
	require.NoError(t, p.Enable())
	c1, c2 := p.Core(Core1), p.Core(Core2)

	c2.SetRxInterrupt(2, true)
	c1.SetTxInterrupt(2, true)
	// channel free on unmask
	require.True(t, pending(c1.TxIRQ()))

	c1.SetFlag(2)
	require.True(t, c1.IsTxActive(2))
	require.True(t, c2.IsRxActive(2))
	require.False(t, c1.IsRxActive(2))
	require.True(t, pending(c2.RxIRQ()))
	require.False(t, pending(c1.TxIRQ()))

	c2.ClearFlag(2)
	require.False(t, c1.IsTxActive(2))
	require.False(t, c2.IsRxActive(2))
	require.True(t, pending(c1.TxIRQ()))
}

func TestMaskedChannelDoesNotInterrupt(t *testing.T) {
	p := New()
	require.NoError(t, p.Enable())
	c1, c2 := p.Core(Core1), p.Core(Core2)

	c2.SetFlag(1)
	require.False(t, pending(c1.RxIRQ()))

	// unmasking a pending channel raises the line
	c1.SetRxInterrupt(1, true)
	require.True(t, pending(c1.RxIRQ()))
	require.True(t, c1.RxInterruptEnabled(1))

	c1.SetRxInterrupt(1, false)
	require.False(t, c1.RxInterruptEnabled(1))
}

func TestInterruptLinesCoalesce(t *testing.T) {
	p := New()
	require.NoError(t, p.Enable())
	c1, c2 := p.Core(Core1), p.Core(Core2)
	c1.SetRxInterrupt(1, true)
	c1.SetRxInterrupt(2, true)

	c2.SetFlag(1)
	c2.SetFlag(2)

	require.True(t, pending(c1.RxIRQ()))
	require.False(t, pending(c1.RxIRQ()))
	require.True(t, c1.IsRxActive(1))
	require.True(t, c1.IsRxActive(2))
}

func TestChannelsIndependent(t *testing.T) {
	p := New()
	require.NoError(t, p.Enable())
	c1, c2 := p.Core(Core1), p.Core(Core2)

	c1.SetFlag(4)
	c2.SetFlag(4)
	c1.ClearFlag(4)

	require.True(t, c1.IsTxActive(4))
	require.False(t, c2.IsTxActive(4))
	require.Equal(t, []Channel{1, 2, 3, 4, 5, 6}, Channels())
	require.Panics(t, func() { c1.SetFlag(7) })
}

func TestReleaseCore2(t *testing.T) {
	p := New()
	select {
	case <-p.Core2Released():
		t.Fatal("released before ReleaseCore2")
	default:
	}
	p.ReleaseCore2()
	p.ReleaseCore2()
	<-p.Core2Released()
}
