package chain

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/punchamoorthee/pkrsettle/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStub_ConfirmsWithStableHash(t *testing.T) {
	job := &domain.ChainJob{ID: uuid.New(), JobType: domain.JobMint, AmountUnits: 42}

	r1, err := NewStub().Submit(context.Background(), job)
	require.NoError(t, err)
	r2, err := NewStub().Submit(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, domain.JobConfirmed, r1.Status)
	assert.Equal(t, r1.TxHash, r2.TxHash)
	assert.Len(t, r1.TxHash, 66)

	other := *job
	other.JobType = domain.JobBurn
	assert.NotEqual(t, TxHash(job), TxHash(&other))
}

func TestDeferred_LeavesPending(t *testing.T) {
	r, err := NewDeferred().Submit(context.Background(), &domain.ChainJob{ID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, r.Status)
	assert.Empty(t, r.TxHash)
}

func TestSubmit_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, b := range []Backend{NewStub(), NewDeferred()} {
		_, err := b.Submit(ctx, &domain.ChainJob{})
		assert.ErrorIs(t, err, context.Canceled)
	}
}
