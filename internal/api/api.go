// Package api defines the merchant-facing request and response shapes.
// Field names are part of the wire contract.
package api

// InitRequest creates a new payment session.
type InitRequest struct {
	TeamSlug        string            `json:"teamSlug"`
	Token           string            `json:"token"`
	Amount          int64             `json:"amount"`
	OrderID         string            `json:"orderId"`
	Currency        string            `json:"currency"`
	PayType         string            `json:"payType"`
	Description     string            `json:"description"`
	CustomerKey     string            `json:"customerKey"`
	Recurrent       string            `json:"recurrent"`
	Language        string            `json:"language"`
	PaymentExpiry   int               `json:"paymentExpiry"`
	RedirectDueDate string            `json:"redirectDueDate"`
	SuccessURL      string            `json:"successURL"`
	FailURL         string            `json:"failURL"`
	NotificationURL string            `json:"notificationURL"`
	Email           string            `json:"email"`
	Phone           string            `json:"phone"`
	Data            map[string]string `json:"data,omitempty"`
	Receipt         *Receipt          `json:"receipt,omitempty"`
}

// Receipt is the fiscal receipt attached to an Init request.
type Receipt struct {
	Email string        `json:"email"`
	Phone string        `json:"phone"`
	Items []ReceiptItem `json:"items"`
}

// ReceiptItem is one fiscal line. Amount must equal Quantity×Price.
type ReceiptItem struct {
	Name     string `json:"name"`
	Quantity int64  `json:"quantity"`
	Price    int64  `json:"price"`
	Amount   int64  `json:"amount"`
}

// FormSubmitRequest carries the card data posted by the hosted form.
// Card fields are consumed during authorization and never persisted.
type FormSubmitRequest struct {
	PaymentID  string `json:"paymentId"`
	PAN        string `json:"pan"`
	ExpDate    string `json:"expDate"` // MMYY
	CVV        string `json:"cvv"`
	CardHolder string `json:"cardHolder"`
	Email      string `json:"email"`
}

// ConfirmRequest captures an authorized two-stage payment.
type ConfirmRequest struct {
	TeamSlug  string            `json:"teamSlug"`
	Token     string            `json:"token"`
	PaymentID string            `json:"paymentId"`
	Amount    int64             `json:"amount,omitempty"` // 0 = full capture
	Data      map[string]string `json:"data,omitempty"`
}

// CancelRequest cancels, reverses, or refunds depending on current status.
type CancelRequest struct {
	TeamSlug  string `json:"teamSlug"`
	Token     string `json:"token"`
	PaymentID string `json:"paymentId"`
	Amount    int64  `json:"amount,omitempty"` // 0 = full amount
	Reason    string `json:"reason"`
}

// CheckRequest reads the current state of a payment.
type CheckRequest struct {
	TeamSlug       string `json:"teamSlug"`
	Token          string `json:"token"`
	PaymentID      string `json:"paymentId"`
	OrderID        string `json:"orderId"`
	IncludeHistory bool   `json:"includeHistory,omitempty"`
}

// TokenParams returns the scalar request parameters the token is computed
// over: every non-empty scalar field except the token itself. Maps and
// nested objects never participate.
func (r *InitRequest) TokenParams() map[string]any {
	p := map[string]any{}
	putStr(p, "teamSlug", r.TeamSlug)
	putInt(p, "amount", r.Amount)
	putStr(p, "orderId", r.OrderID)
	putStr(p, "currency", r.Currency)
	putStr(p, "payType", r.PayType)
	putStr(p, "description", r.Description)
	putStr(p, "customerKey", r.CustomerKey)
	putStr(p, "recurrent", r.Recurrent)
	putStr(p, "language", r.Language)
	if r.PaymentExpiry != 0 {
		p["paymentExpiry"] = r.PaymentExpiry
	}
	putStr(p, "redirectDueDate", r.RedirectDueDate)
	putStr(p, "successURL", r.SuccessURL)
	putStr(p, "failURL", r.FailURL)
	putStr(p, "notificationURL", r.NotificationURL)
	putStr(p, "email", r.Email)
	putStr(p, "phone", r.Phone)
	return p
}

// TokenParams returns the signed scalar parameters of a Confirm request.
func (r *ConfirmRequest) TokenParams() map[string]any {
	p := map[string]any{}
	putStr(p, "teamSlug", r.TeamSlug)
	putStr(p, "paymentId", r.PaymentID)
	putInt(p, "amount", r.Amount)
	return p
}

// TokenParams returns the signed scalar parameters of a Cancel request.
func (r *CancelRequest) TokenParams() map[string]any {
	p := map[string]any{}
	putStr(p, "teamSlug", r.TeamSlug)
	putStr(p, "paymentId", r.PaymentID)
	putInt(p, "amount", r.Amount)
	putStr(p, "reason", r.Reason)
	return p
}

// TokenParams returns the signed scalar parameters of a Check request.
func (r *CheckRequest) TokenParams() map[string]any {
	p := map[string]any{}
	putStr(p, "teamSlug", r.TeamSlug)
	putStr(p, "paymentId", r.PaymentID)
	putStr(p, "orderId", r.OrderID)
	return p
}

func putStr(p map[string]any, key, value string) {
	if value != "" {
		p[key] = value
	}
}

func putInt(p map[string]any, key string, value int64) {
	if value != 0 {
		p[key] = value
	}
}
