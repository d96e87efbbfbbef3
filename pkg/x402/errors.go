package x402

import "fmt"

// InvalidReason is the closed set of machine-readable tags returned by
// VerifyResponse.InvalidReason, SettleResponse.ErrorReason, and the 402
// PaymentRequired.Error field. Every scheme implementation MUST draw from
// this set (or a scheme-specific variant following the same naming
// convention, e.g. "invalid_exact_evm_payload_signature").
type InvalidReason string

// Transport/framing errors.
const (
	ReasonInvalidPayload             InvalidReason = "invalid_payload"
	ReasonInvalidX402Version         InvalidReason = "invalid_x402_version"
	ReasonUnsupportedScheme          InvalidReason = "unsupported_scheme"
	ReasonInvalidNetwork             InvalidReason = "invalid_network"
	ReasonInvalidPaymentRequirements InvalidReason = "invalid_payment_requirements"
	ReasonUnmatched                  InvalidReason = "unmatched"
	ReasonUnsupportedKind            InvalidReason = "unsupported_kind"
	ReasonAlreadyRegistered          InvalidReason = "already_registered"
)

// Authorization errors.
const (
	ReasonAssetMismatch           InvalidReason = "asset_mismatch"
	ReasonAmountMismatch          InvalidReason = "amount_mismatch"
	ReasonNonceMismatch           InvalidReason = "nonce_mismatch"
	ReasonUndeployedSmartWallet   InvalidReason = "undeployed_smart_wallet"
	ReasonRecipientMismatchFmt                  = "invalid_exact_%s_payload_recipient_mismatch"
	ReasonSignatureInvalidFmt                   = "invalid_exact_%s_payload_signature"
	ReasonSmartWalletUnsupported                = "smart_contract_wallet_not_supported_on_%s"
)

// Timing errors.
const (
	ReasonPaymentExpired InvalidReason = "payment_expired"
	ReasonValidBeforeFmt               = "invalid_exact_%s_payload_authorization_valid_before"
	ReasonValidAfterFmt                = "invalid_exact_%s_payload_authorization_valid_after"
)

// Funds errors.
const (
	ReasonInsufficientFunds InvalidReason = "insufficient_funds"
	ReasonPayloadValueFmt                = "invalid_exact_%s_payload_value"
)

// Settlement errors.
const (
	ReasonInvalidTransactionState InvalidReason = "invalid_transaction_state"
	ReasonUnexpectedSettleError   InvalidReason = "unexpected_settle_error"
	ReasonUnexpectedVerifyError   InvalidReason = "unexpected_verify_error"
	ReasonTransactionFailedFmt                  = "transaction_failed: %s"
)

// Facilitator errors.
const (
	ReasonFeePayerNotManaged        InvalidReason = "fee_payer_not_managed_by_facilitator"
	ReasonFeePayerTransferringFunds InvalidReason = "fee_payer_transferring_funds"
	ReasonFeePayerTransferringFundsFmt            = "invalid_exact_%s_payload_fee_payer_transferring_funds"
)

// Client-side errors (§4.9).
const (
	ReasonExceedsMaxValue InvalidReason = "exceeds_max_value"
	ReasonPaymentRejected InvalidReason = "payment_rejected"
)

// Family returns a family-scoped variant of a format-style reason, e.g.
// Family(ReasonRecipientMismatchFmt, "evm") => "invalid_exact_evm_payload_recipient_mismatch".
func Family(format string, family string) InvalidReason {
	return InvalidReason(fmt.Sprintf(format, family))
}

// TransactionFailed builds the settlement failure tag carrying the underlying message.
func TransactionFailed(msg string) InvalidReason {
	return InvalidReason(fmt.Sprintf(ReasonTransactionFailedFmt, msg))
}

// VerifyError is returned by facilitator-side verify/settle implementations when
// a structural or invariant check fails. It carries a stable InvalidReason plus
// the underlying error for logging.
type VerifyError struct {
	Reason InvalidReason
	Err    error
}

func (e *VerifyError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *VerifyError) Unwrap() error { return e.Err }

// NewVerifyError constructs a VerifyError with a stable wire-level reason.
func NewVerifyError(reason InvalidReason, err error) *VerifyError {
	return &VerifyError{Reason: reason, Err: err}
}

// RegistryError reports scheme-registry failures (§4.2).
type RegistryError struct {
	Reason InvalidReason
	Scheme string
	Network string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("x402 registry: %s (scheme=%s network=%s)", e.Reason, e.Scheme, e.Network)
}
