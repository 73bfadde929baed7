package errors

// Code is the stable machine-readable error code carried on the wire.
// The numeric values are part of the merchant-facing contract and must not
// change between releases.
type Code string

const (
	CodeSuccess Code = "0"

	// Authentication
	CodeTerminalInactive Code = "202" // merchant exists but is switched off
	CodeInvalidToken     Code = "204" // token mismatch or unknown teamSlug
	CodeTeamLocked       Code = "206" // too many failed auth attempts

	// Lookup
	CodeNotFound Code = "255" // payment or team not found

	// Business rules
	CodeDuplicateOrder Code = "335" // (teamId, orderId) already used
	CodeLimitExceeded  Code = "341" // amount or daily limit violation

	// State machine
	CodeBadStatus      Code = "1003" // operation not allowed in current status
	CodeAmountExceeded Code = "1007" // confirm/refund amount above remainder

	// Validation
	CodeValidation     Code = "1100" // merchant API request validation
	CodeFormValidation Code = "2100" // hosted form submission validation

	// Conflicts and infrastructure
	CodeStateConflict Code = "2409" // concurrent transition lost the race
	CodeNetworkError  Code = "501"  // acquirer or webhook transport failure
	CodeInternal      Code = "999"  // unexpected system error
)

// Kind classifies an error for propagation policy decisions.
type Kind int

const (
	KindValidation Kind = iota
	KindAuthentication
	KindBusinessRule
	KindStateConflict
	KindNotFound
	KindNetwork
	KindSystem
)

// HTTPStatus maps a wire code to the HTTP status the handlers reply with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeSuccess:
		return 200
	case CodeValidation, CodeFormValidation, CodeBadStatus, CodeAmountExceeded,
		CodeDuplicateOrder, CodeLimitExceeded:
		return 400
	case CodeInvalidToken, CodeTerminalInactive:
		return 401
	case CodeTeamLocked:
		return 403
	case CodeNotFound:
		return 404
	case CodeStateConflict:
		return 409
	case CodeNetworkError:
		return 502
	default:
		return 500
	}
}

// IsRetryable reports whether the client may retry the same request unchanged.
// Only transport and concurrency failures qualify; business and validation
// failures are deterministic and will fail again.
func (c Code) IsRetryable() bool {
	switch c {
	case CodeNetworkError, CodeStateConflict, CodeInternal:
		return true
	default:
		return false
	}
}
