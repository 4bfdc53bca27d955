package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/SoulaanRad/soulaan-coop-sub001/internal/rbac"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/store"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/util"
)

// ProposeAmendment records a proposed change against the active config. A new
// proposal for the same section supersedes any pending one; the store does
// that swap transactionally.
func (s *Service) ProposeAmendment(ctx context.Context, session Session, coopID string, input ProposeAmendmentInput) (store.Amendment, error) {
	if !s.Can(session.Role, rbac.ActionSubmit) {
		return store.Amendment{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	section := strings.TrimSpace(input.Section)
	if _, ok := allowedAmendmentSections[section]; !ok {
		return store.Amendment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown amendment section", map[string]any{"section": section})
	}
	kind := strings.ToUpper(strings.TrimSpace(input.Kind))
	if kind != store.AmendmentKindCharter && kind != store.AmendmentKindConfig {
		return store.Amendment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "kind must be CHARTER or CONFIG", nil)
	}
	if strings.TrimSpace(input.Reason) == "" {
		return store.Amendment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "reason is required", nil)
	}
	if kind == store.AmendmentKindCharter && strings.TrimSpace(input.ProposedText) == "" {
		return store.Amendment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "proposedText is required for charter amendments", nil)
	}
	if kind == store.AmendmentKindConfig {
		if len(input.ProposedChanges) == 0 {
			return store.Amendment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "proposedChanges is required for config amendments", nil)
		}
		for field := range input.ProposedChanges {
			if _, ok := allowedConfigFields[field]; !ok {
				return store.Amendment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown config field", map[string]any{"field": field})
			}
		}
	}

	active, err := s.store.GetActiveConfig(ctx, coopID)
	if err != nil {
		return store.Amendment{}, err
	}
	if active == nil {
		return store.Amendment{}, domainError(http.StatusNotFound, "NOT_FOUND", "Coop has no active config", nil)
	}

	item := store.Amendment{
		ID:              util.NewID("amd"),
		CoopID:          coopID,
		Section:         section,
		Kind:            kind,
		ProposedChanges: input.ProposedChanges,
		ProposedText:    input.ProposedText,
		CurrentSnapshot: amendmentSnapshot(*active, input.ProposedChanges, kind),
		Reason:          input.Reason,
		Status:          store.AmendmentPending,
		ProposedBy:      session.Wallet,
	}
	if err := s.store.InsertAmendment(ctx, item); err != nil {
		return store.Amendment{}, err
	}
	return s.store.GetAmendment(ctx, item.ID)
}

func (s *Service) ListAmendments(ctx context.Context, coopID, status, section string) ([]store.Amendment, error) {
	if strings.EqualFold(status, store.AmendmentPending) {
		return s.store.ListPendingAmendments(ctx, coopID, section)
	}
	return s.store.ListAmendments(ctx, coopID)
}

func (s *Service) GetAmendment(ctx context.Context, coopID, amendmentID string) (store.Amendment, error) {
	item, err := s.store.GetAmendment(ctx, amendmentID)
	if err != nil {
		return store.Amendment{}, err
	}
	if item.CoopID != coopID {
		return store.Amendment{}, domainError(http.StatusNotFound, "NOT_FOUND", "Amendment not found", nil)
	}
	return item, nil
}

// AcknowledgeAmendment applies a pending amendment as the next config version
// and marks it ACKNOWLEDGED with the version it produced.
func (s *Service) AcknowledgeAmendment(ctx context.Context, session Session, coopID, amendmentID string) (store.Amendment, store.CoopConfig, error) {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return store.Amendment{}, store.CoopConfig{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	item, err := s.GetAmendment(ctx, coopID, amendmentID)
	if err != nil {
		return store.Amendment{}, store.CoopConfig{}, err
	}
	if item.Status != store.AmendmentPending {
		return store.Amendment{}, store.CoopConfig{}, domainError(http.StatusConflict, "AMENDMENT_NOT_PENDING", "Amendment is no longer pending", map[string]any{"status": item.Status})
	}

	active, err := s.store.GetActiveConfig(ctx, coopID)
	if err != nil {
		return store.Amendment{}, store.CoopConfig{}, err
	}
	if active == nil {
		return store.Amendment{}, store.CoopConfig{}, domainError(http.StatusNotFound, "NOT_FOUND", "Coop has no active config", nil)
	}

	changes := item.ProposedChanges
	if item.Kind == store.AmendmentKindCharter {
		changes = map[string]any{"charterText": item.ProposedText}
	}

	reason := fmt.Sprintf("amendment %s (%s): %s", item.ID, item.Section, item.Reason)
	next, err := s.bumpConfig(ctx, *active, changes, session.Wallet, reason, "Amendment applied in v%d")
	if err != nil {
		return store.Amendment{}, store.CoopConfig{}, err
	}

	applied := next.Version
	resolved, err := s.store.ResolveAmendment(ctx, item.ID, store.AmendmentAcknowledged, session.Wallet, &applied)
	if err != nil {
		return store.Amendment{}, store.CoopConfig{}, err
	}
	if !resolved {
		return store.Amendment{}, store.CoopConfig{}, domainError(http.StatusConflict, "AMENDMENT_NOT_PENDING", "Amendment was resolved concurrently", nil)
	}

	item, err = s.store.GetAmendment(ctx, item.ID)
	if err != nil {
		return store.Amendment{}, store.CoopConfig{}, err
	}
	return item, next, nil
}

func (s *Service) RejectAmendment(ctx context.Context, session Session, coopID, amendmentID string) (store.Amendment, error) {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return store.Amendment{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	item, err := s.GetAmendment(ctx, coopID, amendmentID)
	if err != nil {
		return store.Amendment{}, err
	}
	if item.Status != store.AmendmentPending {
		return store.Amendment{}, domainError(http.StatusConflict, "AMENDMENT_NOT_PENDING", "Amendment is no longer pending", map[string]any{"status": item.Status})
	}

	resolved, err := s.store.ResolveAmendment(ctx, item.ID, store.AmendmentRejected, session.Wallet, nil)
	if err != nil {
		return store.Amendment{}, err
	}
	if !resolved {
		return store.Amendment{}, domainError(http.StatusConflict, "AMENDMENT_NOT_PENDING", "Amendment was resolved concurrently", nil)
	}
	return s.store.GetAmendment(ctx, item.ID)
}

// amendmentSnapshot captures the current value of every field the amendment
// touches, so reviewers see exactly what the change is relative to.
func amendmentSnapshot(cfg store.CoopConfig, changes map[string]any, kind string) map[string]any {
	snapshot := make(map[string]any)
	if kind == store.AmendmentKindCharter {
		snapshot["charterText"] = cfg.CharterText
		return snapshot
	}
	for field := range changes {
		snapshot[field] = configFieldValue(cfg, field)
	}
	return snapshot
}
