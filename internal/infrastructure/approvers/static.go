package approvers

import (
	"context"

	"github.com/vonssyb/nacionmx-ems/internal/domain/interfaces"
)

// StaticDirectory resolves approvers from a fixed configuration list. The
// initiator is always excluded so the pool can never approve itself.
type StaticDirectory struct {
	pool []string
}

func NewStatic(pool []string) interfaces.ApproverDirectory {
	return &StaticDirectory{pool: pool}
}

func (d *StaticDirectory) ApproversFor(ctx context.Context, initiator string) ([]string, error) {
	eligible := make([]string, 0, len(d.pool))
	for _, actor := range d.pool {
		if actor != initiator {
			eligible = append(eligible, actor)
		}
	}
	return eligible, nil
}
