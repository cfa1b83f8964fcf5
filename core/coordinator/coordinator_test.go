package coordinator

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocklotto/aa-pipeline/core/paymaster"
	"github.com/blocklotto/aa-pipeline/core/testutil"
	"github.com/blocklotto/aa-pipeline/pkg/erc4337/builder"
)

var (
	testOwner  = common.HexToAddress("0xe0f7D11FD714674722d325Cd86062A5F1882E13a")
	testTarget = common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	db := testutil.TestMustDB()
	t.Cleanup(func() { db.Close() })
	return NewCoordinator(testutil.GetTestConfig(), db)
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "building", StateBuilding.String())
	assert.Equal(t, "awaiting_receipt", StateAwaitingReceipt.String())
	assert.Equal(t, "unknown", State(99).String())

	assert.True(t, StateConfirmed.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateSponsoring.Terminal())
}

func TestBuildShellSingleVsBatch(t *testing.T) {
	c := newTestCoordinator(t)
	sender := common.HexToAddress("0x5Df343de7d99fd64b2479189692C1dAb8f46184a")

	single, err := c.buildShell(Request{
		Owner: testOwner,
		Calls: []Call{{Target: testTarget, Value: big.NewInt(1), Payload: []byte{0x01}}},
	}, sender)
	require.NoError(t, err)
	assert.Equal(t, sender, single.Sender)

	batch, err := c.buildShell(Request{
		Owner: testOwner,
		Calls: []Call{
			{Target: testTarget, Payload: []byte{0x01}},
			{Target: testTarget, Payload: []byte{0x02}},
		},
	}, sender)
	require.NoError(t, err)
	assert.NotEqual(t, single.CallData, batch.CallData, "batch wraps executeBatchWithValues, not execute")
}

func TestBuildShellNeverPartiallyBuilds(t *testing.T) {
	// mismatched shapes never reach the builder's packing stage
	_, err := builder.New(testOwner).BuildBatch(
		[]common.Address{testTarget},
		[]*big.Int{big.NewInt(0), big.NewInt(1)},
		[][]byte{{0x01}},
	)
	assert.ErrorIs(t, err, builder.ErrBatchLengthMismatch)
}

func TestLaneIsStablePerSender(t *testing.T) {
	c := newTestCoordinator(t)
	a := common.HexToAddress("0x0000000000000000000000000000000000000001")
	b := common.HexToAddress("0x0000000000000000000000000000000000000002")

	laneA1 := c.lane(a)
	laneA2 := c.lane(a)
	laneB := c.lane(b)

	assert.True(t, laneA1 == laneA2, "same sender must share one lane")
	assert.False(t, laneA1 == laneB, "different senders must not serialize each other")

	// at most one in-flight operation per lane
	laneA1 <- struct{}{}
	select {
	case laneA1 <- struct{}{}:
		t.Fatal("lane admitted a second in-flight operation")
	default:
	}
	<-laneA1
}

func TestControllerSignerProducesEIP191Signature(t *testing.T) {
	cfg := testutil.GetTestConfig()
	s := controllerSigner{cfg: cfg}

	sig, err := s.Sign(common.HexToHash("0xdead").Bytes())
	require.NoError(t, err)
	assert.Len(t, sig, 65)
	assert.GreaterOrEqual(t, sig[64], byte(27), "v is shifted into the 27/28 convention")
}

func TestRealEnvNeverMasks(t *testing.T) {
	_, ok := RealEnv{}.MaskSponsorFailure(paymaster.SponsoredMethod(), assert.AnError)
	assert.False(t, ok)
}

func TestSandboxEnvFabricatesSponsorship(t *testing.T) {
	res, ok := SandboxEnv{}.MaskSponsorFailure(paymaster.SponsoredMethod(), assert.AnError)
	require.True(t, ok)
	assert.NotEmpty(t, res.PaymasterAndData)
}

func TestSubmitRejectsEmptyRequest(t *testing.T) {
	c := newTestCoordinator(t)
	_, err := c.Submit(context.Background(), Request{Owner: testOwner})
	assert.Error(t, err)
}
