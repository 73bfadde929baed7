package errors

import (
	"encoding/json"
	"net/http"
)

// Response is the common envelope every gateway endpoint replies with.
type Response struct {
	Success   bool   `json:"success"`
	Status    string `json:"status,omitempty"`
	PaymentID string `json:"paymentId,omitempty"`
	OrderID   string `json:"orderId,omitempty"`
	ErrorCode Code   `json:"errorCode"`
	Message   string `json:"message,omitempty"`
	Details   string `json:"details,omitempty"`
}

// WriteJSON writes the envelope with the HTTP status derived from its code.
func (r Response) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(r.ErrorCode.HTTPStatus())
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(r)
}

// WriteError renders a gateway error as the standard envelope.
func WriteError(w http.ResponseWriter, err *Error) {
	Response{
		Success:   false,
		ErrorCode: err.Code,
		Message:   err.Message,
		Details:   err.Details,
	}.WriteJSON(w)
}

// WriteErrorFor renders a gateway error while preserving the payment/order
// identifiers the caller already resolved.
func WriteErrorFor(w http.ResponseWriter, err *Error, paymentID, orderID string) {
	Response{
		Success:   false,
		PaymentID: paymentID,
		OrderID:   orderID,
		ErrorCode: err.Code,
		Message:   err.Message,
		Details:   err.Details,
	}.WriteJSON(w)
}
