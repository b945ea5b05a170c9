package feeledger

import (
	"context"
	"fmt"
	"slices"
)

// Capability names an engine operation a caller must be allowed to invoke.
type Capability string

const (
	CapAll               Capability = "*"
	CapRead              Capability = "fees.read"
	CapCatalogManage     Capability = "fees.catalog.manage"
	CapStructureAssign   Capability = "fees.structure.assign"
	CapScheduleRegen     Capability = "fees.schedule.regenerate"
	CapConcessionApply   Capability = "fees.concession.apply"
	CapFineApply         Capability = "fees.fine.apply"
	CapEntryReverse      Capability = "fees.entry.reverse"
	CapOfflinePayment    Capability = "fees.payment.record_offline"
	CapPaymentInitiate   Capability = "fees.payment.initiate"
	CapReviewResolve     Capability = "fees.review.resolve"
	CapReconcile         Capability = "fees.payment.reconcile"
	CapDefaultersRefresh Capability = "fees.defaulters.refresh"
)

// Actor is the identity invoking an operation. The engine records ID on
// every entry and admin action.
type Actor struct {
	ID           string       `json:"id"`
	Capabilities []Capability `json:"capabilities,omitempty"`
}

// Can reports whether the actor holds capability c.
func (a Actor) Can(c Capability) bool {
	return slices.Contains(a.Capabilities, CapAll) || slices.Contains(a.Capabilities, c)
}

// SystemActor is the identity of the engine's own workers and of gateway
// callbacks.
var SystemActor = Actor{ID: "system", Capabilities: []Capability{CapAll}}

// Authorizer decides whether an actor may perform an operation.
type Authorizer interface {
	Authorize(ctx context.Context, actor Actor, capability Capability) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, actor Actor, capability Capability) error

// Authorize calls f.
func (f AuthorizerFunc) Authorize(ctx context.Context, actor Actor, capability Capability) error {
	return f(ctx, actor, capability)
}

// CapabilityAuthorizer grants an operation when the actor carries its
// capability. It is the default Authorizer.
type CapabilityAuthorizer struct{}

// Authorize implements Authorizer.
func (CapabilityAuthorizer) Authorize(_ context.Context, actor Actor, capability Capability) error {
	if actor.ID == "" {
		return fmt.Errorf("%w: anonymous actor", ErrForbidden)
	}
	if !actor.Can(capability) {
		return fmt.Errorf("%w: %s lacks %s", ErrForbidden, actor.ID, capability)
	}
	return nil
}

func (e *Engine) authorize(ctx context.Context, actor Actor, capability Capability) error {
	if err := e.authorizer.Authorize(ctx, actor, capability); err != nil {
		e.logger.Warn("operation denied", "actor", actor.ID, "capability", capability, "error", err)
		return err
	}
	return nil
}
