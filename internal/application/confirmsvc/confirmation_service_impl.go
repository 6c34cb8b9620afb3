package confirmsvc

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vonssyb/nacionmx-ems/internal/domain"
	"github.com/vonssyb/nacionmx-ems/internal/domain/interfaces"
	"github.com/vonssyb/nacionmx-ems/internal/server/metrics"
	"github.com/vonssyb/nacionmx-ems/pkg/config"
)

// IConfirmationService gates every destructive operation behind an explicit
// confirmation window, a shared-secret challenge for transfers, and dual
// control for self-targeted sensitive actions.
type IConfirmationService interface {
	ProposeReset(ctx context.Context, initiator, target, reason, evidence string, protectedGrants, stripGrants []string) (*domain.ProposalSummary, error)
	ProposeTransfer(ctx context.Context, initiator, source, destination, reason string, excludeGrants []string) (*domain.ProposalSummary, error)

	// Confirm advances a proposed operation: transfers move to the challenge
	// stage, resets start executing.
	Confirm(ctx context.Context, operationID int64, actor string) (*domain.OperationRecord, error)

	// AnswerChallenge resolves a transfer's challenge stage. A wrong answer
	// cancels the operation outright.
	AnswerChallenge(ctx context.Context, operationID int64, actor, answer string) (*domain.OperationRecord, error)

	Cancel(ctx context.Context, operationID int64, actor string) error
	Approve(ctx context.Context, operationID int64, approver string) error
	Reject(ctx context.Context, operationID int64, approver string) error
	Get(ctx context.Context, operationID int64) (*domain.OperationRecord, error)
}

type pendingOp struct {
	rec              *domain.OperationRecord
	timer            *time.Timer
	requiresApproval bool
	locked           []string
}

type confirmationService struct {
	ops       interfaces.OperationRepository
	ledger    interfaces.LedgerClient
	grants    interfaces.GrantsClient
	orgs      interfaces.OrganizationRepository
	approvers interfaces.ApproverDirectory
	notifier  interfaces.Notifier
	resets    interfaces.ResetEngine
	transfers interfaces.TransferEngine
	cfg       config.ConfirmationConfig
	logger    zerolog.Logger

	mu        sync.Mutex
	pending   map[int64]*pendingOp
	executing map[string]int64
}

func New(
	ops interfaces.OperationRepository,
	ledger interfaces.LedgerClient,
	grants interfaces.GrantsClient,
	orgs interfaces.OrganizationRepository,
	approvers interfaces.ApproverDirectory,
	notifier interfaces.Notifier,
	resets interfaces.ResetEngine,
	transfers interfaces.TransferEngine,
	cfg config.ConfirmationConfig,
	logger zerolog.Logger,
) IConfirmationService {
	return &confirmationService{
		ops:       ops,
		ledger:    ledger,
		grants:    grants,
		orgs:      orgs,
		approvers: approvers,
		notifier:  notifier,
		resets:    resets,
		transfers: transfers,
		cfg:       cfg,
		logger:    logger.With().Str("component", "confirmation_service").Logger(),
		pending:   make(map[int64]*pendingOp),
		executing: make(map[string]int64),
	}
}

func (s *confirmationService) ProposeReset(ctx context.Context, initiator, target, reason, evidence string, protectedGrants, stripGrants []string) (*domain.ProposalSummary, error) {
	if err := s.validateSubject(target); err != nil {
		return nil, err
	}

	rec := &domain.OperationRecord{
		Kind:            domain.OperationReset,
		Initiator:       initiator,
		Target:          target,
		Reason:          reason,
		Evidence:        evidence,
		ProtectedGrants: protectedGrants,
		StripGrants:     stripGrants,
		Status:          domain.StatusProposed,
	}
	return s.propose(ctx, rec, []string{target}, s.cfg.ResetTimeout)
}

func (s *confirmationService) ProposeTransfer(ctx context.Context, initiator, source, destination, reason string, excludeGrants []string) (*domain.ProposalSummary, error) {
	if source == destination {
		return nil, domain.ErrSameEntity
	}
	if err := s.validateSubject(source); err != nil {
		return nil, err
	}
	if contains(s.cfg.NonPlayerActors, destination) {
		return nil, domain.ErrNonPlayerActor
	}

	rec := &domain.OperationRecord{
		Kind:          domain.OperationTransfer,
		Initiator:     initiator,
		Source:        source,
		Destination:   destination,
		Reason:        reason,
		ExcludeGrants: excludeGrants,
		Status:        domain.StatusProposed,
	}
	return s.propose(ctx, rec, []string{source, destination}, s.cfg.TransferTimeout)
}

func (s *confirmationService) validateSubject(entityID string) error {
	if contains(s.cfg.NonPlayerActors, entityID) {
		return domain.ErrNonPlayerActor
	}
	if contains(s.cfg.ProtectedTargets, entityID) {
		return domain.ErrProtectedTarget
	}
	return nil
}

func (s *confirmationService) propose(ctx context.Context, rec *domain.OperationRecord, entities []string, timeout time.Duration) (*domain.ProposalSummary, error) {
	s.mu.Lock()
	for _, entity := range entities {
		if opID, busy := s.executing[entity]; busy {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: operation %d holds %s", domain.ErrOperationInProgress, opID, entity)
		}
	}
	s.mu.Unlock()

	subject := rec.Subject()
	balance, err := s.ledger.GetBalance(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to build proposal summary: %w", err)
	}
	grantList, err := s.grants.ListGrants(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to build proposal summary: %w", err)
	}
	owned, err := s.orgs.ListOwned(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to build proposal summary: %w", err)
	}

	requiresApproval := rec.Initiator == subject && contains(s.cfg.SelfSensitive, string(rec.Kind))

	if _, err := s.ops.Insert(ctx, rec); err != nil {
		return nil, err
	}

	p := &pendingOp{rec: rec, requiresApproval: requiresApproval, locked: entities}
	p.timer = time.AfterFunc(timeout, func() { s.expire(rec.ID) })

	s.mu.Lock()
	// Re-check under the lock; a racing proposal may have claimed an entity
	// while we were reading stores.
	for _, entity := range entities {
		if opID, busy := s.executing[entity]; busy {
			s.mu.Unlock()
			p.timer.Stop()
			_ = s.ops.UpdateStatus(ctx, rec.ID, domain.StatusCancelled)
			return nil, fmt.Errorf("%w: operation %d holds %s", domain.ErrOperationInProgress, opID, entity)
		}
	}
	for _, entity := range entities {
		s.executing[entity] = rec.ID
	}
	s.pending[rec.ID] = p
	s.mu.Unlock()

	if requiresApproval {
		s.notifyApprovers(ctx, rec)
	}

	s.logger.Info().
		Int64("operation_id", rec.ID).
		Str("kind", string(rec.Kind)).
		Str("initiator", rec.Initiator).
		Str("subject", subject).
		Bool("dual_control", requiresApproval).
		Msg("Operation proposed")

	return &domain.ProposalSummary{
		OperationID:   rec.ID,
		Kind:          string(rec.Kind),
		Balance:       balance,
		GrantCount:    len(grantList),
		OrgCount:      len(owned),
		RequiresDual:  requiresApproval,
		TimeoutSecond: int(timeout.Seconds()),
	}, nil
}

func (s *confirmationService) notifyApprovers(ctx context.Context, rec *domain.OperationRecord) {
	pool, err := s.approvers.ApproversFor(ctx, rec.Initiator)
	if err != nil {
		s.logger.Error().Err(err).Int64("operation_id", rec.ID).Msg("Failed to resolve approver pool")
		return
	}
	for _, approver := range pool {
		err := s.notifier.Notify(ctx, domain.Notification{
			Type:        domain.NotifyApprovalRequest,
			EntityID:    approver,
			OperationID: rec.ID,
			Message: fmt.Sprintf("%s requested a self-targeted %s and needs your approval",
				rec.Initiator, rec.Kind),
		})
		if err != nil {
			s.logger.Error().Err(err).Str("approver", approver).Msg("Failed to notify approver")
		}
	}
}

func (s *confirmationService) Confirm(ctx context.Context, operationID int64, actor string) (*domain.OperationRecord, error) {
	s.mu.Lock()
	p, ok := s.pending[operationID]
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrOperationNotFound
	}
	if actor != p.rec.Initiator {
		s.mu.Unlock()
		return nil, domain.ErrNotInitiator
	}
	if p.rec.Status != domain.StatusProposed {
		s.mu.Unlock()
		return nil, domain.ErrInvalidTransition
	}
	if p.requiresApproval && p.rec.ApprovedBy == "" {
		s.mu.Unlock()
		return nil, domain.ErrSelfTargetRequiresApproval
	}

	if p.rec.Kind == domain.OperationTransfer {
		p.rec.Status = domain.StatusChallengePending
		p.timer.Stop()
		p.timer = time.AfterFunc(s.cfg.ChallengeTimeout, func() { s.expire(operationID) })
		rec := p.rec
		s.mu.Unlock()

		if err := s.ops.UpdateStatus(ctx, operationID, domain.StatusChallengePending); err != nil {
			return nil, err
		}
		return rec, nil
	}

	p.rec.Status = domain.StatusConfirmed
	s.mu.Unlock()

	if err := s.ops.UpdateStatus(ctx, operationID, domain.StatusConfirmed); err != nil {
		return nil, err
	}
	return s.startExecution(ctx, p)
}

func (s *confirmationService) AnswerChallenge(ctx context.Context, operationID int64, actor, answer string) (*domain.OperationRecord, error) {
	s.mu.Lock()
	p, ok := s.pending[operationID]
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrOperationNotFound
	}
	if actor != p.rec.Initiator {
		s.mu.Unlock()
		return nil, domain.ErrNotInitiator
	}
	if p.rec.Status != domain.StatusChallengePending {
		s.mu.Unlock()
		return nil, domain.ErrInvalidTransition
	}
	s.mu.Unlock()

	if subtle.ConstantTimeCompare([]byte(answer), []byte(s.cfg.TransferSecret)) != 1 {
		s.logger.Warn().Int64("operation_id", operationID).Str("actor", actor).Msg("Challenge answer rejected")
		if err := s.cancelPending(ctx, operationID, "challenge failed"); err != nil {
			return nil, err
		}
		return nil, domain.ErrChallengeFailed
	}

	s.mu.Lock()
	if p.rec.Status != domain.StatusChallengePending {
		s.mu.Unlock()
		return nil, domain.ErrInvalidTransition
	}
	p.rec.Status = domain.StatusConfirmed
	s.mu.Unlock()

	if err := s.ops.UpdateStatus(ctx, operationID, domain.StatusConfirmed); err != nil {
		return nil, err
	}
	return s.startExecution(ctx, p)
}

func (s *confirmationService) Cancel(ctx context.Context, operationID int64, actor string) error {
	s.mu.Lock()
	p, ok := s.pending[operationID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrOperationNotFound
	}
	if actor != p.rec.Initiator {
		s.mu.Unlock()
		return domain.ErrNotInitiator
	}
	s.mu.Unlock()

	return s.cancelPending(ctx, operationID, "cancelled by initiator")
}

func (s *confirmationService) Approve(ctx context.Context, operationID int64, approver string) error {
	s.mu.Lock()
	p, ok := s.pending[operationID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrOperationNotFound
	}
	if !p.requiresApproval {
		s.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	if approver == p.rec.Initiator {
		s.mu.Unlock()
		return domain.ErrSelfApproval
	}
	initiator := p.rec.Initiator
	s.mu.Unlock()

	pool, err := s.approvers.ApproversFor(ctx, initiator)
	if err != nil {
		return fmt.Errorf("failed to resolve approver pool: %w", err)
	}
	if !contains(pool, approver) {
		return domain.ErrNotEligibleApprover
	}

	s.mu.Lock()
	p.rec.ApprovedBy = approver
	rec := *p.rec
	s.mu.Unlock()

	if err := s.ops.Update(ctx, &rec); err != nil {
		return err
	}

	s.logger.Info().
		Int64("operation_id", operationID).
		Str("approver", approver).
		Msg("Operation approved")
	return nil
}

func (s *confirmationService) Reject(ctx context.Context, operationID int64, approver string) error {
	s.mu.Lock()
	p, ok := s.pending[operationID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrOperationNotFound
	}
	if !p.requiresApproval {
		s.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	if approver == p.rec.Initiator {
		s.mu.Unlock()
		return domain.ErrSelfApproval
	}
	initiator := p.rec.Initiator
	s.mu.Unlock()

	pool, err := s.approvers.ApproversFor(ctx, initiator)
	if err != nil {
		return fmt.Errorf("failed to resolve approver pool: %w", err)
	}
	if !contains(pool, approver) {
		return domain.ErrNotEligibleApprover
	}

	return s.cancelPending(ctx, operationID, fmt.Sprintf("rejected by %s", approver))
}

func (s *confirmationService) Get(ctx context.Context, operationID int64) (*domain.OperationRecord, error) {
	return s.ops.Get(ctx, operationID)
}

// expire fires from the proposal or challenge timer. The operation may have
// been confirmed or cancelled in the meantime; only still-pending states get
// cancelled.
func (s *confirmationService) expire(operationID int64) {
	s.mu.Lock()
	p, ok := s.pending[operationID]
	if !ok || (p.rec.Status != domain.StatusProposed && p.rec.Status != domain.StatusChallengePending) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.logger.Info().Int64("operation_id", operationID).Msg("Confirmation window expired")
	if err := s.cancelPending(context.Background(), operationID, "confirmation window expired"); err != nil {
		s.logger.Error().Err(err).Int64("operation_id", operationID).Msg("Failed to cancel expired operation")
	}
}

func (s *confirmationService) cancelPending(ctx context.Context, operationID int64, cause string) error {
	s.mu.Lock()
	p, ok := s.pending[operationID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrOperationNotFound
	}
	p.timer.Stop()
	p.rec.Status = domain.StatusCancelled
	s.release(p)
	s.mu.Unlock()

	if err := s.ops.UpdateStatus(ctx, operationID, domain.StatusCancelled); err != nil {
		return err
	}

	s.notifyState(ctx, p.rec, cause)
	return nil
}

// startExecution hands the operation to its engine on a fresh goroutine; the
// engine persists the final record, the protocol releases the entity locks
// and reports the outcome.
func (s *confirmationService) startExecution(ctx context.Context, p *pendingOp) (*domain.OperationRecord, error) {
	s.mu.Lock()
	p.timer.Stop()
	p.rec.Status = domain.StatusExecuting
	rec := p.rec
	s.mu.Unlock()

	if err := s.ops.UpdateStatus(ctx, rec.ID, domain.StatusExecuting); err != nil {
		return nil, err
	}
	s.notifyState(ctx, rec, "executing")

	go func() {
		ctx := context.Background()
		var err error
		if rec.Kind == domain.OperationReset {
			_, err = s.resets.ExecuteReset(ctx, rec)
		} else {
			_, err = s.transfers.ExecuteTransfer(ctx, rec)
		}

		s.mu.Lock()
		s.release(p)
		s.mu.Unlock()

		if err != nil {
			s.logger.Error().Err(err).Int64("operation_id", rec.ID).Msg("Operation execution failed")
		}
		metrics.OperationsFinished.WithLabelValues(string(rec.Kind), string(rec.Status)).Inc()
		s.notifyOutcome(ctx, rec, err)
	}()

	return rec, nil
}

// release must run with s.mu held.
func (s *confirmationService) release(p *pendingOp) {
	for _, entity := range p.locked {
		if s.executing[entity] == p.rec.ID {
			delete(s.executing, entity)
		}
	}
	delete(s.pending, p.rec.ID)
}

func (s *confirmationService) notifyState(ctx context.Context, rec *domain.OperationRecord, detail string) {
	err := s.notifier.Notify(ctx, domain.Notification{
		Type:        domain.NotifyOperationState,
		EntityID:    rec.Subject(),
		OperationID: rec.ID,
		Message:     fmt.Sprintf("%s %d: %s (%s)", rec.Kind, rec.ID, rec.Status, detail),
	})
	if err != nil {
		s.logger.Error().Err(err).Int64("operation_id", rec.ID).Msg("Failed to notify state change")
	}
}

func (s *confirmationService) notifyOutcome(ctx context.Context, rec *domain.OperationRecord, execErr error) {
	msg := fmt.Sprintf("%s %d finished: %s", rec.Kind, rec.ID, rec.Status)
	if execErr != nil {
		msg = fmt.Sprintf("%s %d failed at %s: %v", rec.Kind, rec.ID, rec.FailedStep, execErr)
	}
	err := s.notifier.Notify(ctx, domain.Notification{
		Type:        domain.NotifyOperationOutcome,
		EntityID:    rec.Subject(),
		OperationID: rec.ID,
		Message:     msg,
	})
	if err != nil {
		s.logger.Error().Err(err).Int64("operation_id", rec.ID).Msg("Failed to notify outcome")
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
