package access

import (
	"fmt"
	"time"

	"github.com/dmitrymomot/quotagate/pkg/plan"
	"github.com/dmitrymomot/quotagate/pkg/quota"
)

// Reason identifies the rule that produced a decision.
type Reason string

const (
	ReasonGranted             Reason = "granted"
	ReasonAdminOverride       Reason = "admin_override"
	ReasonPlanTooLow          Reason = "plan_too_low"
	ReasonQuotaExhausted      Reason = "quota_exhausted"
	ReasonIdentityUnresolved  Reason = "identity_unresolved"
	ReasonSubscriptionPending Reason = "subscription_pending"
	ReasonUsageUnavailable    Reason = "usage_unavailable"
	ReasonMisconfigured       Reason = "misconfigured"
	ReasonReplayed            Reason = "replayed"
)

// State says how much the decision can be trusted.
type State string

const (
	// Determined decisions were computed from fresh, complete inputs.
	Determined State = "determined"
	// Degraded decisions were computed with a fallback for a failed read.
	Degraded State = "degraded"
	// Pending decisions carry no verdict yet; the caller should retry.
	Pending State = "pending"
)

// Decision is the answer to "may this user use this resource now".
type Decision struct {
	HasAccess       bool      `json:"has_access"`
	HasReachedLimit bool      `json:"has_reached_limit"`
	CallsUsed       int64     `json:"calls_used"`
	CallLimit       int64     `json:"call_limit"`
	CallsRemaining  int64     `json:"calls_remaining"`
	Message         string    `json:"message"`
	Reason          Reason    `json:"reason"`
	State           State     `json:"state"`
	Plan            plan.Tier `json:"plan,omitempty"`
	RequiredPlan    plan.Tier `json:"required_plan,omitempty"`
	ResetsAt        time.Time `json:"resets_at,omitzero"`
	// Cause is the underlying error for degraded, pending and misconfigured decisions.
	Cause error `json:"-"`
}

// Messages shown to end users.
const (
	msgAdmin        = "Administrator access."
	msgUnverified   = "We could not verify your access. Please sign in and try again."
	msgPending      = "We are still checking your subscription. Please try again in a moment."
	msgUnavailable  = "Usage could not be verified right now. Please try again shortly."
	msgMisconfigure = "This resource is temporarily unavailable."
	msgNotOnPlan    = "This resource is not available on your plan."
	msgReplayed     = "This action was already recorded."
)

func planMessage(required plan.Tier) string {
	if required == "" {
		return msgNotOnPlan
	}
	return fmt.Sprintf("This resource requires the %s plan or higher. Upgrade to get access.", required)
}

func exhaustedMessage(u quota.Usage) string {
	return fmt.Sprintf("You have used all %d of your monthly calls. Your allowance resets on %s.",
		u.Limit, u.ResetsAt.Format("January 2"))
}

func remainingMessage(u quota.Usage) string {
	return fmt.Sprintf("You have %d of %d calls remaining this month.", u.Remaining, u.Limit)
}

func (d *Decision) applyUsage(u quota.Usage) {
	d.CallsUsed = u.Used
	d.CallLimit = u.Limit
	d.CallsRemaining = u.Remaining
	d.HasReachedLimit = u.ReachedLimit
	d.ResetsAt = u.ResetsAt
}

func identityUnresolved() Decision {
	return Decision{
		HasAccess:       false,
		HasReachedLimit: true,
		Message:         msgUnverified,
		Reason:          ReasonIdentityUnresolved,
		State:           Determined,
		Cause:           ErrIdentityUnresolved,
	}
}

func pending(cause error) Decision {
	return Decision{
		Message: msgPending,
		Reason:  ReasonSubscriptionPending,
		State:   Pending,
		Cause:   cause,
	}
}
