// Package chain is the boundary to the token chain. The deterministic stub
// confirms synchronously; Deferred leaves jobs PENDING for a later
// confirmation callback.
package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/punchamoorthee/pkrsettle/internal/domain"
)

type Receipt struct {
	TxHash string
	Status domain.JobStatus
}

type Backend interface {
	Submit(ctx context.Context, job *domain.ChainJob) (Receipt, error)
}

// Stub confirms every job immediately with a hash derived from the job.
type Stub struct{}

func NewStub() *Stub { return &Stub{} }

func (s *Stub) Submit(ctx context.Context, job *domain.ChainJob) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	return Receipt{TxHash: TxHash(job), Status: domain.JobConfirmed}, nil
}

// TxHash is the stub's receipt hash for a job.
func TxHash(job *domain.ChainJob) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", job.JobType, job.ID, job.AmountUnits)))
	return "0x" + hex.EncodeToString(sum[:])
}

// Deferred accepts jobs without confirming them.
type Deferred struct{}

func NewDeferred() *Deferred { return &Deferred{} }

func (d *Deferred) Submit(ctx context.Context, _ *domain.ChainJob) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	return Receipt{Status: domain.JobPending}, nil
}
