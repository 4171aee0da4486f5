package evolution_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/futarchia/foresight/internal/model"
	"github.com/futarchia/foresight/internal/params"
	"github.com/futarchia/foresight/internal/service/evolution"
	"github.com/futarchia/foresight/internal/storage"
	"github.com/futarchia/foresight/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	code := setupAndRun(m, tc)
	tc.Terminate()
	os.Exit(code)
}

func setupAndRun(m *testing.M, tc *testutil.TestContainer) int {
	ctx := context.Background()

	var err error
	testDB, err = tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "evolution test: create DB: %v\n", err)
		return 1
	}
	defer testDB.Close()

	return m.Run()
}

func newService(t *testing.T) (*evolution.Service, *params.Store) {
	t.Helper()
	ps, err := params.NewStore(params.Defaults(), testDB, testutil.TestLogger())
	require.NoError(t, err)
	svc, err := evolution.New(context.Background(), testDB, ps, testutil.TestLogger())
	require.NoError(t, err)
	return svc, ps
}

// lowParticipation is a snapshot that is healthy everywhere except
// participation, so only a participation rule can fire.
func lowParticipation() model.GovernanceMetrics {
	return model.GovernanceMetrics{
		ProposalQuality:   80,
		ParticipationRate: 20,
		OutcomeAccuracy:   75,
		ProductDelivery:   70,
		TimeToExecution:   (3 * 24 * time.Hour).Seconds(),
		StakingEfficiency: 60,
	}
}

func TestEvaluationPassFiresOnceThenCoolsDown(t *testing.T) {
	ctx := context.Background()
	svc, ps := newService(t)

	require.NoError(t, svc.ReplaceRules(ctx, []model.AdaptationRule{{
		Metric:    model.MetricParticipationRate,
		Threshold: 30,
		Action:    model.ActionDecreaseMinStake,
		FactorPct: 25,
		Cooldown:  time.Hour,
		Active:    true,
	}}))

	// Below threshold from the first snapshot, but nothing may fire until
	// the history window holds enough data points.
	for i := 0; i < evolution.MinDataPoints-1; i++ {
		fired, err := svc.UpdateMetrics(ctx, lowParticipation())
		require.NoError(t, err)
		assert.Empty(t, fired, "snapshot %d: rules must hold until the history fills", i+1)
	}

	// Window full: the participation rule trims the stake floor by 25%.
	fired, err := svc.UpdateMetrics(ctx, lowParticipation())
	require.NoError(t, err)
	require.Len(t, fired, 1)

	act := fired[0]
	assert.Equal(t, model.MetricParticipationRate, act.Rule)
	assert.Equal(t, model.ActionDecreaseMinStake, act.Action)
	assert.Equal(t, "min_proposal_stake", act.Parameter)
	assert.True(t, act.Applied)
	assert.Equal(t, float64(100), act.OldValue)
	assert.Equal(t, float64(75), act.NewValue)
	assert.NotZero(t, act.ID)
	assert.NotEmpty(t, act.ContentHash)

	cur := ps.Current()
	assert.Equal(t, int64(75), cur.MinProposalStake)
	assert.Equal(t, int64(2), cur.Version, "adjustment must bump the parameter version")

	// Still below threshold, but inside the cooldown: no second firing,
	// and the parameters hold still.
	fired, err = svc.UpdateMetrics(ctx, lowParticipation())
	require.NoError(t, err)
	assert.Empty(t, fired)
	assert.Equal(t, int64(75), ps.Current().MinProposalStake)

	// The audit entry survives and the chain verifies clean.
	actions, err := svc.Actions(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, act.ContentHash, actions[0].ContentHash)

	corrupted, err := svc.VerifyChain(ctx)
	require.NoError(t, err)
	assert.Zero(t, corrupted)
}

func TestInactiveRuleNeverFires(t *testing.T) {
	ctx := context.Background()
	svc, ps := newService(t)
	before := ps.Current()

	require.NoError(t, svc.ReplaceRules(ctx, []model.AdaptationRule{{
		Metric:    model.MetricParticipationRate,
		Threshold: 30,
		Action:    model.ActionDecreaseMinStake,
		FactorPct: 25,
		Cooldown:  time.Hour,
		Active:    false,
	}}))

	for i := 0; i < evolution.MinDataPoints; i++ {
		fired, err := svc.UpdateMetrics(ctx, lowParticipation())
		require.NoError(t, err)
		assert.Empty(t, fired)
	}
	assert.Equal(t, before.MinProposalStake, ps.Current().MinProposalStake)
}
