package workflow

import (
	"fmt"

	"kycflow/pkg/domain"
)

// ActionName identifies an action variant.
type ActionName string

const (
	ActionAuthorize                 ActionName = "authorize"
	ActionMakeVendorCalls           ActionName = "make_vendor_calls"
	ActionMakeDecision              ActionName = "make_decision"
	ActionDocCollected              ActionName = "doc_collected"
	ActionBoKycCompleted            ActionName = "bo_kyc_completed"
	ActionAsyncVendorCallsCompleted ActionName = "async_vendor_calls_completed"
)

// Action is the closed set of inputs a workflow accepts.
type Action interface {
	Name() ActionName
	isAction()
}

// Authorize records the subject's consent to be verified.
type Authorize struct{}

type MakeVendorCalls struct{}

type MakeDecision struct{}

// DocCollected carries the document uploaded after a step-up.
type DocCollected struct {
	DocumentID domain.DocumentID
}

// BoKycCompleted signals that every beneficial owner finished KYC.
type BoKycCompleted struct{}

// AsyncVendorCallsCompleted carries the webhook-delivered vendor result.
type AsyncVendorCallsCompleted struct {
	ResultID domain.VerificationResultID
}

func (Authorize) Name() ActionName                 { return ActionAuthorize }
func (MakeVendorCalls) Name() ActionName           { return ActionMakeVendorCalls }
func (MakeDecision) Name() ActionName              { return ActionMakeDecision }
func (DocCollected) Name() ActionName              { return ActionDocCollected }
func (BoKycCompleted) Name() ActionName            { return ActionBoKycCompleted }
func (AsyncVendorCallsCompleted) Name() ActionName { return ActionAsyncVendorCallsCompleted }

func (Authorize) isAction()                 {}
func (MakeVendorCalls) isAction()           {}
func (MakeDecision) isAction()              {}
func (DocCollected) isAction()              {}
func (BoKycCompleted) isAction()            {}
func (AsyncVendorCallsCompleted) isAction() {}

// ParseAction builds an action from its name. arg carries the document id for
// doc_collected and the verification result id for
// async_vendor_calls_completed.
func ParseAction(name, arg string) (Action, error) {
	switch ActionName(name) {
	case ActionAuthorize:
		return Authorize{}, nil
	case ActionMakeVendorCalls:
		return MakeVendorCalls{}, nil
	case ActionMakeDecision:
		return MakeDecision{}, nil
	case ActionBoKycCompleted:
		return BoKycCompleted{}, nil
	case ActionDocCollected:
		id, err := domain.ParseDocumentID(arg)
		if err != nil {
			return nil, err
		}
		return DocCollected{DocumentID: id}, nil
	case ActionAsyncVendorCallsCompleted:
		id, err := domain.ParseVerificationResultID(arg)
		if err != nil {
			return nil, err
		}
		return AsyncVendorCallsCompleted{ResultID: id}, nil
	}
	return nil, fmt.Errorf("unknown action: %q", name)
}
