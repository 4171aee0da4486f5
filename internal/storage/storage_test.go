package storage_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/futarchia/foresight/internal/model"
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
		fmt.Fprintf(os.Stderr, "storage test: create DB: %v\n", err)
		return 1
	}
	defer testDB.Close()

	return m.Run()
}

func deposit(t *testing.T, agent string, amount int64) {
	t.Helper()
	_, err := testDB.Deposit(context.Background(), agent, amount, time.Now().UTC())
	require.NoError(t, err)
}

// newProposal opens a funded proposal whose voting window closes at
// deadline.
func newProposal(t *testing.T, proposer string, bond int64, deadline, execDeadline time.Time) model.Proposal {
	t.Helper()
	p, err := testDB.CreateProposal(context.Background(), model.Proposal{
		Title:             "upgrade the widget pipeline",
		Description:       "replaces the batch pipeline with a streaming one",
		Proposer:          proposer,
		OutcomeTag:        "pipeline_throughput",
		Deliverable:       model.Deliverable{Type: "service", Description: "streaming pipeline"},
		MinStake:          bond,
		Status:            model.StatusActive,
		CreatedAt:         time.Now().UTC(),
		Deadline:          deadline,
		ExecutionDeadline: execDeadline,
	})
	require.NoError(t, err)
	return p
}

func TestCreateProposalBond(t *testing.T) {
	ctx := context.Background()
	deposit(t, "bond-proposer", 1000)

	now := time.Now().UTC()
	p := newProposal(t, "bond-proposer", 100, now.Add(time.Hour), now.Add(2*time.Hour))
	require.NotZero(t, p.ID)

	acct, err := testDB.GetAccount(ctx, "bond-proposer")
	require.NoError(t, err)
	assert.Equal(t, int64(900), acct.Available)
	assert.Equal(t, int64(100), acct.Locked)

	t.Run("insufficient funds rejected", func(t *testing.T) {
		_, err := testDB.CreateProposal(ctx, model.Proposal{
			Title:             "unfunded",
			Proposer:          "bond-pauper",
			OutcomeTag:        "x",
			Deliverable:       model.Deliverable{Type: "doc", Description: "d"},
			MinStake:          100,
			Status:            model.StatusActive,
			CreatedAt:         now,
			Deadline:          now.Add(time.Hour),
			ExecutionDeadline: now.Add(2 * time.Hour),
		})
		var eligErr *model.EligibilityError
		require.ErrorAs(t, err, &eligErr)
		assert.ErrorIs(t, err, model.ErrInsufficientFunds)
	})
}

func TestMarketLifecycleYesWins(t *testing.T) {
	ctx := context.Background()
	deposit(t, "yes-proposer", 500)
	deposit(t, "yes-alice", 500)
	deposit(t, "yes-bob", 500)

	now := time.Now().UTC()
	deadline := now.Add(time.Hour)
	execDeadline := now.Add(48 * time.Hour)
	p := newProposal(t, "yes-proposer", 100, deadline, execDeadline)

	_, _, err := testDB.PlaceBet(ctx, p.ID, "yes-alice", model.SideYes, 300, now)
	require.NoError(t, err)
	m, pos, err := testDB.PlaceBet(ctx, p.ID, "yes-bob", model.SideNo, 100, now)
	require.NoError(t, err)

	assert.Equal(t, int64(300), m.YesTotal)
	assert.Equal(t, int64(100), m.NoTotal)
	assert.Equal(t, int64(400), m.TotalStaked)
	assert.Equal(t, int64(400), m.EscrowBalance)
	assert.Equal(t, 2, m.Participants)
	assert.True(t, m.CheckInvariant())
	assert.Equal(t, int64(100), pos.NoStake)

	t.Run("escrow debits bettor accounts", func(t *testing.T) {
		acct, err := testDB.GetAccount(ctx, "yes-alice")
		require.NoError(t, err)
		assert.Equal(t, int64(200), acct.Available)
	})

	t.Run("resolution blocked while voting open", func(t *testing.T) {
		_, _, err := testDB.ResolveProposal(ctx, p.ID, now.Add(time.Minute), 10, 24*time.Hour)
		var timingErr *model.TimingError
		require.ErrorAs(t, err, &timingErr)
		assert.ErrorIs(t, err, model.ErrVotingOpen)
	})

	resolveAt := deadline.Add(time.Minute)
	resolved, rm, err := testDB.ResolveProposal(ctx, p.ID, resolveAt, 10, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExecuted, resolved.Status)
	assert.Equal(t, model.WinnerYes, rm.Winner)
	require.NotNil(t, resolved.PredictedYes)
	assert.True(t, *resolved.PredictedYes)

	t.Run("bond released at resolution", func(t *testing.T) {
		acct, err := testDB.GetAccount(ctx, "yes-proposer")
		require.NoError(t, err)
		assert.Equal(t, int64(500), acct.Available)
		assert.Zero(t, acct.Locked)
	})

	t.Run("double resolution rejected", func(t *testing.T) {
		_, _, err := testDB.ResolveProposal(ctx, p.ID, resolveAt, 10, 24*time.Hour)
		assert.ErrorIs(t, err, model.ErrProposalNotActive)
	})

	t.Run("claims blocked until outcome measured", func(t *testing.T) {
		_, _, err := testDB.ClaimRewards(ctx, p.ID, "yes-alice", resolveAt.Add(time.Minute))
		assert.ErrorIs(t, err, model.ErrClaimsNotOpen)
	})

	t.Run("measurement window enforced", func(t *testing.T) {
		_, _, err := testDB.ReportOutcome(ctx, p.ID, 0.8, resolveAt.Add(time.Hour), 10)
		assert.ErrorIs(t, err, model.ErrMeasurementOpen)
	})

	measureAt := resolveAt.Add(25 * time.Hour)
	meas, accurate, err := testDB.ReportOutcome(ctx, p.ID, 0.8, measureAt, 10)
	require.NoError(t, err)
	assert.True(t, meas.Measured)
	assert.True(t, accurate, "YES majority and outcome >= 0.5 is an accurate market")

	t.Run("second measurement rejected", func(t *testing.T) {
		_, _, err := testDB.ReportOutcome(ctx, p.ID, 0.4, measureAt, 10)
		assert.ErrorIs(t, err, model.ErrAlreadyMeasured)
	})

	// Pool = 400*10% = 40, within the losing side's 100. The unclaimed
	// 60 of the losing pool sweeps to the reserve at distribution time.
	dist, err := testDB.GetDistribution(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WinnerYes, dist.Winner)
	assert.Equal(t, int64(40), dist.Pool)
	assert.Equal(t, int64(300), dist.WinningTotal)

	claimAt := measureAt.Add(time.Minute)
	payout, _, err := testDB.ClaimRewards(ctx, p.ID, "yes-alice", claimAt)
	require.NoError(t, err)
	assert.Equal(t, int64(340), payout, "principal 300 plus the full 40 pool")

	loserPayout, losePos, err := testDB.ClaimRewards(ctx, p.ID, "yes-bob", claimAt)
	require.NoError(t, err)
	assert.Zero(t, loserPayout)
	assert.True(t, losePos.Claimed)

	t.Run("double claim rejected", func(t *testing.T) {
		_, _, err := testDB.ClaimRewards(ctx, p.ID, "yes-alice", claimAt)
		assert.ErrorIs(t, err, model.ErrAlreadyClaimed)
	})

	t.Run("escrow fully drained", func(t *testing.T) {
		m, err := testDB.GetMarket(ctx, p.ID)
		require.NoError(t, err)
		assert.Zero(t, m.EscrowBalance)
	})

	t.Run("no position rejected", func(t *testing.T) {
		_, _, err := testDB.ClaimRewards(ctx, p.ID, "yes-stranger", claimAt)
		assert.ErrorIs(t, err, model.ErrNoPosition)
	})
}

func TestMarketTieRefundsPrincipal(t *testing.T) {
	ctx := context.Background()
	deposit(t, "tie-proposer", 200)
	deposit(t, "tie-alice", 200)
	deposit(t, "tie-bob", 200)

	now := time.Now().UTC()
	deadline := now.Add(time.Hour)
	p := newProposal(t, "tie-proposer", 100, deadline, now.Add(48*time.Hour))

	_, _, err := testDB.PlaceBet(ctx, p.ID, "tie-alice", model.SideYes, 150, now)
	require.NoError(t, err)
	_, _, err = testDB.PlaceBet(ctx, p.ID, "tie-bob", model.SideNo, 150, now)
	require.NoError(t, err)

	resolved, rm, err := testDB.ResolveProposal(ctx, p.ID, deadline.Add(time.Minute), 10, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, resolved.Status, "a tie must not execute")
	assert.Equal(t, model.WinnerNone, rm.Winner)

	payout, _, err := testDB.ClaimRewards(ctx, p.ID, "tie-alice", deadline.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(150), payout, "ties refund principal")

	acct, err := testDB.GetAccount(ctx, "tie-alice")
	require.NoError(t, err)
	assert.Equal(t, int64(200), acct.Available)
}

func TestMarketNoMajorityOpensClaimsAtResolution(t *testing.T) {
	ctx := context.Background()
	deposit(t, "no-proposer", 200)
	deposit(t, "no-alice", 400)
	deposit(t, "no-bob", 400)

	now := time.Now().UTC()
	deadline := now.Add(time.Hour)
	p := newProposal(t, "no-proposer", 100, deadline, now.Add(48*time.Hour))

	_, _, err := testDB.PlaceBet(ctx, p.ID, "no-alice", model.SideYes, 100, now)
	require.NoError(t, err)
	_, _, err = testDB.PlaceBet(ctx, p.ID, "no-bob", model.SideNo, 300, now)
	require.NoError(t, err)

	resolved, rm, err := testDB.ResolveProposal(ctx, p.ID, deadline.Add(time.Minute), 10, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, resolved.Status)
	assert.Equal(t, model.WinnerNo, rm.Winner)

	// NO wins need no measurement: the distribution exists immediately.
	dist, err := testDB.GetDistribution(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WinnerNo, dist.Winner)
	assert.Equal(t, int64(40), dist.Pool, "400*10% = 40, within the 100 losing pool")

	payout, _, err := testDB.ClaimRewards(ctx, p.ID, "no-bob", deadline.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(340), payout)

	payout, _, err = testDB.ClaimRewards(ctx, p.ID, "no-alice", deadline.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, payout)
}

func TestExpiredProposalRefundsOnClaim(t *testing.T) {
	ctx := context.Background()
	deposit(t, "exp-proposer", 200)
	deposit(t, "exp-alice", 200)

	now := time.Now().UTC()
	deadline := now.Add(time.Hour)
	execDeadline := now.Add(2 * time.Hour)
	p := newProposal(t, "exp-proposer", 100, deadline, execDeadline)

	_, _, err := testDB.PlaceBet(ctx, p.ID, "exp-alice", model.SideYes, 50, now)
	require.NoError(t, err)

	// Nobody resolved in time; the first claim past the execution
	// deadline expires the proposal lazily and refunds principal.
	payout, _, err := testDB.ClaimRewards(ctx, p.ID, "exp-alice", execDeadline.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(50), payout)

	expired, err := testDB.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, expired.Status)

	t.Run("resolution after expiry rejected", func(t *testing.T) {
		_, _, err := testDB.ResolveProposal(ctx, p.ID, execDeadline.Add(time.Hour), 10, 24*time.Hour)
		assert.ErrorIs(t, err, model.ErrProposalNotActive)
	})
}

func TestBetTimingAndValidation(t *testing.T) {
	ctx := context.Background()
	deposit(t, "bet-proposer", 200)
	deposit(t, "bet-alice", 200)

	now := time.Now().UTC()
	deadline := now.Add(time.Hour)
	p := newProposal(t, "bet-proposer", 100, deadline, now.Add(48*time.Hour))

	t.Run("bet after deadline rejected", func(t *testing.T) {
		_, _, err := testDB.PlaceBet(ctx, p.ID, "bet-alice", model.SideYes, 50, deadline.Add(time.Minute))
		var timingErr *model.TimingError
		require.ErrorAs(t, err, &timingErr)
		assert.ErrorIs(t, err, model.ErrVotingClosed)
	})

	t.Run("bet without funds rejected", func(t *testing.T) {
		_, _, err := testDB.PlaceBet(ctx, p.ID, "bet-pauper", model.SideYes, 50, now)
		assert.ErrorIs(t, err, model.ErrInsufficientFunds)
	})

	t.Run("unknown proposal", func(t *testing.T) {
		_, _, err := testDB.PlaceBet(ctx, 99999999, "bet-alice", model.SideYes, 50, now)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestBindIdentitySingleUseProofs(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, testDB.UpsertReputation(ctx, model.AgentReputation{Agent: "id-a", LastUpdate: now}))
	require.NoError(t, testDB.UpsertReputation(ctx, model.AgentReputation{Agent: "id-b", LastUpdate: now}))

	require.NoError(t, testDB.BindIdentity(ctx, "id-a", "moltres", "hash-1", now))

	t.Run("consumed proof rejected", func(t *testing.T) {
		err := testDB.BindIdentity(ctx, "id-a", "moltres", "hash-1", now)
		assert.ErrorIs(t, err, storage.ErrProofConsumed)
	})

	t.Run("username rebinding is last-wins", func(t *testing.T) {
		require.NoError(t, testDB.BindIdentity(ctx, "id-b", "moltres", "hash-2", now))

		repA, err := testDB.GetReputation(ctx, "id-a")
		require.NoError(t, err)
		assert.False(t, repA.Verified)
		assert.Nil(t, repA.PlatformUsername)

		repB, err := testDB.GetReputation(ctx, "id-b")
		require.NoError(t, err)
		assert.True(t, repB.Verified)
		require.NotNil(t, repB.PlatformUsername)
		assert.Equal(t, "moltres", *repB.PlatformUsername)
	})
}

func TestIdempotencyKeyLifecycle(t *testing.T) {
	ctx := context.Background()
	const endpoint = "POST:/v1/proposals/1/stakes"

	lookup, err := testDB.BeginIdempotency(ctx, "idem-a", endpoint, "key-1", "hash-a")
	require.NoError(t, err)
	assert.False(t, lookup.Completed, "first reservation is owned by the caller")

	t.Run("concurrent retry blocked while in progress", func(t *testing.T) {
		_, err := testDB.BeginIdempotency(ctx, "idem-a", endpoint, "key-1", "hash-a")
		assert.ErrorIs(t, err, storage.ErrIdempotencyInProgress)
	})

	t.Run("payload mismatch rejected", func(t *testing.T) {
		_, err := testDB.BeginIdempotency(ctx, "idem-a", endpoint, "key-1", "hash-b")
		assert.ErrorIs(t, err, storage.ErrIdempotencyPayloadMismatch)
	})

	require.NoError(t, testDB.CompleteIdempotency(ctx, "idem-a", endpoint, "key-1", 201, map[string]any{"payout": 42}))

	t.Run("completed key replays stored response", func(t *testing.T) {
		lookup, err := testDB.BeginIdempotency(ctx, "idem-a", endpoint, "key-1", "hash-a")
		require.NoError(t, err)
		assert.True(t, lookup.Completed)
		assert.Equal(t, 201, lookup.StatusCode)
		assert.JSONEq(t, `{"payout": 42}`, string(lookup.ResponseData))
	})

	t.Run("cleared key can be retried", func(t *testing.T) {
		_, err := testDB.BeginIdempotency(ctx, "idem-b", endpoint, "key-2", "hash-a")
		require.NoError(t, err)
		require.NoError(t, testDB.ClearInProgressIdempotency(ctx, "idem-b", endpoint, "key-2"))

		lookup, err := testDB.BeginIdempotency(ctx, "idem-b", endpoint, "key-2", "hash-a")
		require.NoError(t, err)
		assert.False(t, lookup.Completed)
	})
}

func TestEvolutionActionChain(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := testDB.AppendEvolutionAction(ctx, model.EvolutionAction{
		Rule:          model.MetricProposalQuality,
		Action:        model.ActionIncreaseMinStake,
		Parameter:     "min_proposal_stake",
		OldValue:      100,
		NewValue:      120,
		Applied:       true,
		Justification: "proposal_quality 35.00 below threshold 40.00",
		CreatedAt:     now,
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.ContentHash)

	second, err := testDB.AppendEvolutionAction(ctx, model.EvolutionAction{
		Rule:          model.MetricParticipationRate,
		Action:        model.ActionDecreaseMinStake,
		Parameter:     "min_proposal_stake",
		OldValue:      120,
		NewValue:      90,
		Applied:       true,
		Justification: "participation_rate 20.00 below threshold 30.00",
		CreatedAt:     now.Add(time.Second),
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ContentHash, second.ContentHash)

	corrupted, err := testDB.VerifyActionChain(ctx)
	require.NoError(t, err)
	assert.Zero(t, corrupted, "untampered chain verifies clean")

	t.Run("tampering is detected", func(t *testing.T) {
		_, err := testDB.Pool().Exec(ctx,
			`UPDATE evolution_actions SET new_value = 9999 WHERE id = $1`, second.ID)
		require.NoError(t, err)

		corrupted, err := testDB.VerifyActionChain(ctx)
		require.NoError(t, err)
		assert.Equal(t, second.ID, corrupted)

		// Restore so later appends chain correctly.
		_, err = testDB.Pool().Exec(ctx,
			`UPDATE evolution_actions SET new_value = 90 WHERE id = $1`, second.ID)
		require.NoError(t, err)
	})
}

func TestRulePersistenceKeepsCooldownState(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rules := []model.AdaptationRule{
		{
			Metric:    model.MetricOutcomeAccuracy,
			Threshold: 50,
			Action:    model.ActionExtendVotingDuration,
			FactorPct: 15,
			Cooldown:  14 * 24 * time.Hour,
			Active:    true,
		},
	}
	require.NoError(t, testDB.ReplaceRules(ctx, rules))
	require.NoError(t, testDB.TouchRule(ctx, model.MetricOutcomeAccuracy, now))

	// Replacement preserves the surviving rule's cooldown state.
	rules[0].FactorPct = 20
	require.NoError(t, testDB.ReplaceRules(ctx, rules))

	loaded, err := testDB.LoadRules(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, float64(20), loaded[0].FactorPct)
	assert.WithinDuration(t, now, loaded[0].LastTriggered, time.Second)
}

func TestTreasuryStatsAggregates(t *testing.T) {
	ctx := context.Background()
	deposit(t, "stats-solo", 777)

	stats, err := testDB.GetTreasuryStats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.TotalAvailable, int64(777))
	assert.GreaterOrEqual(t, stats.Accounts, 1)
}
