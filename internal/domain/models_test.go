package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainJobTransition(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	j := &ChainJob{Status: JobPending}
	require.NoError(t, j.Transition(JobConfirmed, at))
	assert.Equal(t, JobConfirmed, j.Status)
	require.NotNil(t, j.ConfirmedAt)
	assert.Equal(t, at, *j.ConfirmedAt)

	assert.ErrorIs(t, j.Transition(JobFailed, at), ErrInvalidTransition)

	p := &ChainJob{Status: JobPending}
	assert.ErrorIs(t, p.Transition(JobPending, at), ErrInvalidTransition)
	require.NoError(t, p.Transition(JobFailed, at))
	assert.Nil(t, p.ConfirmedAt)
}

func TestSignedAmounts(t *testing.T) {
	assert.Equal(t, int64(5), (&ChainJob{JobType: JobMint, AmountUnits: 5}).SignedAmount())
	assert.Equal(t, int64(-5), (&ChainJob{JobType: JobBurn, AmountUnits: 5}).SignedAmount())
	assert.Equal(t, int64(-3), LedgerEntry{Side: SideCredit, AmountUnits: 3}.Signed())
	assert.Equal(t, int64(3), LedgerEntry{Side: SideDebit, AmountUnits: 3}.Signed())
}

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("redeem: %w", Errorf(ErrInsufficientBalance, "need %d", 10))
	assert.True(t, errors.Is(err, ErrInsufficientBalance))
	assert.Equal(t, Code("insufficient_balance"), CodeOf(err))
	assert.Equal(t, Code(""), CodeOf(errors.New("db down")))
}
