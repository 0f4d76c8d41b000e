package chainconfig

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestCalcExcessBlobGas(t *testing.T) {
	cfg := &Config{TargetBlobGasPerBlock: 393216}
	used := uint64(393216)
	excess := uint64(0)
	parent := &Header{BlobGasUsed: &used, ExcessBlobGas: &excess}
	require.Equal(t, uint64(0), CalcExcessBlobGas(cfg, parent))

	used2 := uint64(786432)
	got := CalcExcessBlobGas(cfg, &Header{BlobGasUsed: &used2, ExcessBlobGas: &excess})
	require.Equal(t, uint64(393216), got)
}

func TestFakeExponential(t *testing.T) {
	out, err := FakeExponential(uint256.NewInt(1), uint256.NewInt(1), 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), out.Uint64())
}

func TestValidateHeaderGatesOnFork(t *testing.T) {
	cfg := &Config{CancunTime: 1000}
	require.NoError(t, ValidateHeader(cfg, &Header{Time: 500}))

	used := uint64(0)
	excess := uint64(0)
	root := [32]byte{}
	require.NoError(t, ValidateHeader(cfg, &Header{Time: 1500, BlobGasUsed: &used, ExcessBlobGas: &excess, ParentBeaconBlockRoot: &root}))

	require.Error(t, ValidateHeader(cfg, &Header{Time: 1500}))
	require.Error(t, ValidateHeader(cfg, &Header{Time: 500, BlobGasUsed: &used}))
}
