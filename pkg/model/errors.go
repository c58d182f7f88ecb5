package model

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an engine error by how the caller is expected to react to it.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation is bad input shape or values. The operation had no effect.
	KindValidation
	// KindState is an operation attempted in the wrong lifecycle or sub-state.
	KindState
	// KindAuthorization is a wrong identity attempting a privileged action.
	KindAuthorization
	// KindWindowExpired is a decline or appeal attempted after its deadline.
	KindWindowExpired
	// KindInvariant is a bookkeeping violation. The affected campaign is halted.
	KindInvariant
	// KindNotFound is a lookup of an entity that does not exist.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindState:
		return "StateError"
	case KindAuthorization:
		return "AuthorizationError"
	case KindWindowExpired:
		return "WindowExpiredError"
	case KindInvariant:
		return "InvariantViolation"
	case KindNotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// Error is a typed engine error. Sentinels below are wrapped with context by the
// engine and matched with errors.Is.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrAlreadyExists = errors.New("object already exists")
	ErrNotFound      = newError(KindNotFound, "NotFound", "not found")

	ErrInvalidAmount     = newError(KindValidation, "InvalidAmount", "amount must be positive")
	ErrInvalidCampaign   = newError(KindValidation, "InvalidCampaign", "campaign draft is invalid")
	ErrWrongPanelSize    = newError(KindValidation, "WrongPanelSize", "wrong number of reviewers")
	ErrDuplicateReviewer = newError(KindValidation, "DuplicateReviewer", "reviewer appears more than once")
	ErrInvalidDecision   = newError(KindValidation, "InvalidDecision", "decision must be approve or reject")
	ErrInvalidMilestone  = newError(KindValidation, "InvalidMilestone", "milestone index is out of range")
	ErrEmptyProof        = newError(KindValidation, "EmptyProof", "proof reference is required")
	ErrInvalidIdentity   = newError(KindValidation, "InvalidIdentity", "identity is empty")
	ErrCreatorAsReviewer = newError(KindValidation, "CreatorAsReviewer", "campaign creator can't review own campaign")

	ErrInvalidState        = newError(KindState, "InvalidState", "operation is not allowed in the current state")
	ErrDeadlinePassed      = newError(KindState, "DeadlinePassed", "campaign deadline has passed")
	ErrNothingToRefund     = newError(KindState, "NothingToRefund", "nothing to refund")
	ErrAlreadyReleased     = newError(KindState, "AlreadyReleased", "milestone funds already released")
	ErrAlreadyVoted        = newError(KindState, "AlreadyVoted", "reviewer already voted this round")
	ErrNotRejected         = newError(KindState, "NotRejected", "milestone is not rejected")
	ErrAlreadyAppealed     = newError(KindState, "AlreadyAppealed", "milestone appeal already used")
	ErrPanelIncomplete     = newError(KindState, "PanelIncomplete", "reviewer panel does not have enough active members")
	ErrPanelAssigned       = newError(KindState, "PanelAssigned", "reviewer panel is already assigned")
	ErrNoVacancy           = newError(KindState, "NoVacancy", "reviewer panel has no vacant seat")
	ErrReviewerHasVoted    = newError(KindState, "ReviewerHasVoted", "reviewer already cast votes for this campaign")
	ErrResubmissionLimit   = newError(KindState, "ResubmissionLimit", "milestone resubmission limit reached")
	ErrCampaignPaused      = newError(KindState, "CampaignPaused", "campaign is paused")
	ErrCampaignHalted      = newError(KindInvariant, "CampaignHalted", "campaign is halted pending audit")
	ErrNotAuthorized       = newError(KindAuthorization, "NotAuthorized", "caller is not authorized")
	ErrWindowExpired       = newError(KindWindowExpired, "WindowExpired", "decline window expired")
	ErrAppealWindowExpired = newError(KindWindowExpired, "AppealWindowExpired", "appeal window expired")

	ErrInsufficientEscrow = newError(KindInvariant, "InsufficientEscrow", "release exceeds escrowed funds")
	ErrConservation       = newError(KindInvariant, "ConservationViolated", "escrow balances do not add up")
)

// KindOf classifies any error returned by the engine.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the stable error code, or an empty string for untyped errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsInvariant reports whether err must halt the affected campaign.
func IsInvariant(err error) bool {
	return KindOf(err) == KindInvariant
}
