package admin

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewire/settled/internal/domain"
)

var (
	owner    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	operator = common.HexToAddress("0x0000000000000000000000000000000000000002")
	fees     = common.HexToAddress("0x0000000000000000000000000000000000000003")
	stranger = common.HexToAddress("0x0000000000000000000000000000000000000004")
)

func TestRegistryRoles(t *testing.T) {
	r := NewRegistry(owner, fees, []common.Address{operator})

	assert.True(t, r.IsOwner(owner))
	assert.False(t, r.IsOwner(operator))
	assert.True(t, r.IsOperator(operator))
	assert.False(t, r.IsOperator(owner))
	assert.False(t, r.IsOperator(stranger))
	assert.Equal(t, fees, r.FeeAccount())
}

func TestRegistryOperatorManagement(t *testing.T) {
	r := NewRegistry(owner, fees, nil)

	require.NoError(t, r.AddOperator(owner, operator))
	assert.True(t, r.IsOperator(operator))

	assert.ErrorIs(t, r.AddOperator(stranger, stranger), domain.ErrUnauthorized)
	assert.False(t, r.IsOperator(stranger))

	require.NoError(t, r.RemoveOperator(owner, operator))
	assert.False(t, r.IsOperator(operator))
	assert.ErrorIs(t, r.RemoveOperator(operator, operator), domain.ErrUnauthorized)
}

func TestRegistrySetFeeAccount(t *testing.T) {
	r := NewRegistry(owner, fees, nil)

	next := common.HexToAddress("0x0000000000000000000000000000000000000005")
	require.NoError(t, r.SetFeeAccount(owner, next))
	assert.Equal(t, next, r.FeeAccount())

	assert.ErrorIs(t, r.SetFeeAccount(stranger, fees), domain.ErrUnauthorized)
	assert.Equal(t, next, r.FeeAccount())
}
