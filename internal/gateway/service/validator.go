// Package service holds the gateway's orchestration layer, between the HTTP
// handlers and the policy/seal/ledger subsystems.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/relay-protocol/relay/internal/ledger"
	"github.com/relay-protocol/relay/internal/model"
	"github.com/relay-protocol/relay/internal/policy"
	"github.com/relay-protocol/relay/internal/seal"
	"go.uber.org/zap"
)

// Evaluator is the slice of the policy client the validator needs.
type Evaluator interface {
	Evaluate(ctx context.Context, input map[string]any) (*policy.Decision, error)
	PolicyVersion(ctx context.Context) string
}

// Validator runs the decision pipeline for one manifest: policy evaluation,
// seal minting, and the audit write. Fail-closed: if the evaluator cannot
// answer, the error propagates and nothing is sealed or recorded.
type Validator struct {
	evaluator Evaluator
	engine    *seal.Engine
	ledger    ledger.Ledger
	logger    *zap.Logger
}

// NewValidator creates a Validator.
func NewValidator(evaluator Evaluator, engine *seal.Engine, led ledger.Ledger, logger *zap.Logger) *Validator {
	return &Validator{evaluator: evaluator, engine: engine, ledger: led, logger: logger}
}

// Validate evaluates the manifest against policy and mints a seal over the
// decision. Approvals and denials are both sealed and recorded; the response
// carries the seal only on approval. With dryRun set the decision is computed
// and signed but nothing is written to the ledger.
//
// The manifest must already be normalized and schema-validated.
func (v *Validator) Validate(ctx context.Context, m *model.Manifest, dryRun bool) (*model.ValidationResponse, error) {
	decision, err := v.evaluator.Evaluate(ctx, m.PolicyInput())
	if err != nil {
		return nil, err
	}
	policyVersion := v.evaluator.PolicyVersion(ctx)

	s, err := v.engine.CreateSeal(m, decision.Approved, policyVersion, decision.DenialReason)
	if err != nil {
		return nil, fmt.Errorf("create seal: %w", err)
	}

	if !dryRun {
		row, err := ledger.NewManifestRow(m)
		if err != nil {
			return nil, err
		}
		if err := v.ledger.WriteDecision(ctx, row, s); err != nil {
			return nil, fmt.Errorf("record decision: %w", err)
		}
	}

	v.logger.Info("manifest validated",
		zap.String("manifest_id", m.ManifestID.String()),
		zap.String("seal_id", s.SealID),
		zap.Bool("approved", decision.Approved),
		zap.String("org_id", m.Agent.OrgID),
		zap.String("provider", m.Action.Provider),
		zap.String("method", m.Action.Method),
		zap.Bool("dry_run", dryRun),
	)

	resp := &model.ValidationResponse{
		ManifestID:    m.ManifestID,
		Approved:      decision.Approved,
		DenialReason:  decision.DenialReason,
		PolicyVersion: policyVersion,
		Timestamp:     s.IssuedAt,
	}
	if decision.Approved {
		resp.Seal = s
	}
	return resp, nil
}

// VerifySeal produces the verification report for a stored seal. The reason
// reflects the most fundamental defect: a bad signature outranks a denial,
// which outranks expiry, which outranks prior execution.
func (v *Validator) VerifySeal(ctx context.Context, sealID string) (*model.VerificationResponse, error) {
	s, err := v.ledger.GetSeal(ctx, sealID)
	if err != nil {
		return nil, err
	}
	row, err := v.ledger.GetManifest(ctx, s.ManifestID)
	if err != nil {
		return nil, err
	}
	m, err := row.Decode()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	report := &model.VerificationResponse{
		SealID:          s.SealID,
		Approved:        s.Approved,
		Expired:         s.IsExpired(now),
		AlreadyExecuted: s.Executed,
		ManifestID:      s.ManifestID,
	}

	sigOK := seal.VerifySeal(s, m)
	report.Valid = sigOK && s.Approved && !report.Expired && !report.AlreadyExecuted

	switch {
	case !sigOK:
		report.Reason = "Signature verification failed"
	case !s.Approved:
		report.Reason = s.DenialReason
		if report.Reason == "" {
			report.Reason = "Seal records a denial"
		}
	case report.Expired:
		report.Reason = "Seal has expired"
	case report.AlreadyExecuted:
		report.Reason = "Seal was already executed"
	}
	return report, nil
}

// MarkExecuted consumes a seal's one-time-use bit, returning when it was spent.
func (v *Validator) MarkExecuted(ctx context.Context, sealID string) (time.Time, error) {
	execAt, err := v.ledger.MarkExecuted(ctx, sealID)
	if err != nil {
		return time.Time{}, err
	}
	v.logger.Info("seal executed", zap.String("seal_id", sealID), zap.Time("executed_at", execAt))
	return execAt, nil
}
