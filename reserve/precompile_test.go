package reserve

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func addr(b byte) Address {
	var a Address
	a[0] = b
	return a
}

// TestReserveBalanceScenario reproduces §8 scenario 6: update(123) from A
// succeeds; getDelayedURB(A) still returns the default (zero) because the
// update hasn't finalized; a second update(0) from A within the same
// block reverts with "pending update".
func TestReserveBalanceScenario(t *testing.T) {
	p := New()
	a := addr(0xAA)

	_, err := p.Call(CallInput{Caller: a, Selector: SelectorUpdate, Args: EncodeUint256Arg(123), Value: new(uint256.Int)})
	require.NoError(t, err)

	got := p.GetDelayedURB(a)
	require.True(t, got.IsZero())

	_, err = p.Call(CallInput{Caller: a, Selector: SelectorUpdate, Args: EncodeUint256Arg(0), Value: new(uint256.Int)})
	require.Error(t, err)
	var revertErr *RevertError
	require.ErrorAs(t, err, &revertErr)
	require.Equal(t, ErrPendingUpdate, revertErr.Reason)
}

func TestReserveBalancePromoteBlock(t *testing.T) {
	p := New()
	a := addr(0xAA)

	_, err := p.Call(CallInput{Caller: a, Selector: SelectorUpdate, Args: EncodeUint256Arg(123), Value: new(uint256.Int)})
	require.NoError(t, err)

	p.PromoteBlock()

	got := p.GetDelayedURB(a)
	require.Equal(t, uint64(123), got.Uint64())

	_, hasPending := p.PendingUpdate(a)
	require.False(t, hasPending)

	// A new update is now accepted since the previous one was promoted.
	_, err = p.Call(CallInput{Caller: a, Selector: SelectorUpdate, Args: EncodeUint256Arg(456), Value: new(uint256.Int)})
	require.NoError(t, err)
}

func TestReserveBalancePayableCheck(t *testing.T) {
	p := New()
	a := addr(0xAA)

	_, err := p.Call(CallInput{Caller: a, Selector: SelectorUpdate, Args: EncodeUint256Arg(1), Value: uint256.NewInt(1)})
	require.Error(t, err)
	var revertErr *RevertError
	require.ErrorAs(t, err, &revertErr)
	require.Equal(t, ErrValueNonZero, revertErr.Reason)
}

func TestReserveBalanceUnknownSelector(t *testing.T) {
	p := New()
	a := addr(0xAA)

	_, err := p.Call(CallInput{Caller: a, Selector: [4]byte{0xDE, 0xAD, 0xBE, 0xEF}, Value: new(uint256.Int)})
	require.Error(t, err)
	var revertErr *RevertError
	require.ErrorAs(t, err, &revertErr)
	require.Equal(t, ErrMethodNotSupported, revertErr.Reason)
}

func TestGetDelayedURBSelectorCall(t *testing.T) {
	p := New()
	a := addr(0xBB)
	_, err := p.Call(CallInput{Caller: a, Selector: SelectorUpdate, Args: EncodeUint256Arg(42), Value: new(uint256.Int)})
	require.NoError(t, err)
	p.PromoteBlock()

	out, err := p.Call(CallInput{Selector: SelectorGetDelayedURB, Args: EncodeAddressArg(a)})
	require.NoError(t, err)
	require.Len(t, out, 32)
	v := new(uint256.Int).SetBytes(out)
	require.Equal(t, uint64(42), v.Uint64())
}
