package validate

import (
	"time"

	"github.com/cardflow/gateway/internal/api"
	"github.com/cardflow/gateway/internal/errors"
)

// Init validates an Init request. Returns nil when clean, otherwise a "1100"
// error whose details list every violation.
func Init(req *api.InitRequest, now time.Time) *errors.Error {
	c := newChecker(req.Language)

	c.teamSlug(req.TeamSlug)
	c.token(req.Token)
	c.amount(req.Amount, true)
	c.orderID(req.OrderID)
	c.currency(req.Currency)
	c.payType(req.PayType)
	c.language(req.Language)
	c.paymentExpiry(req.PaymentExpiry)
	c.callbackURL("successURL", req.SuccessURL)
	c.callbackURL("failURL", req.FailURL)
	c.callbackURL("notificationURL", req.NotificationURL)
	c.email("email", req.Email)
	c.phone("phone", req.Phone)
	c.maxLen("description", req.Description, maxDescriptionLen)
	c.data(req.Data)
	c.redirectDueDate(req.RedirectDueDate, now)

	if req.Recurrent == "Y" && req.CustomerKey == "" {
		c.add("customerKey", "is required when recurrent is Y", "обязательное поле при recurrent = Y")
	}
	c.callbackProtocols(req.SuccessURL, req.FailURL)
	c.receipt(req)

	return c.err(errors.CodeValidation)
}

// FormSubmit validates the hosted form submission. Violations carry the form
// validation code "2100".
func FormSubmit(req *api.FormSubmitRequest) *errors.Error {
	c := newChecker("")

	c.paymentID(req.PaymentID)
	if !panPattern.MatchString(req.PAN) {
		c.add("pan", "must be 12-19 digits", "12-19 цифр")
	}
	if !expDatePattern.MatchString(req.ExpDate) {
		c.add("expDate", "must be MMYY", "формат MMYY")
	}
	if !cvvPattern.MatchString(req.CVV) {
		c.add("cvv", "must be 3-4 digits", "3-4 цифры")
	}
	if req.CardHolder == "" {
		c.add("cardHolder", "is required", "обязательное поле")
	}
	c.email("email", req.Email)

	return c.err(errors.CodeFormValidation)
}

// Confirm validates a Confirm request.
func Confirm(req *api.ConfirmRequest) *errors.Error {
	c := newChecker("")

	c.teamSlug(req.TeamSlug)
	c.token(req.Token)
	c.paymentID(req.PaymentID)
	if req.Amount < 0 {
		c.add("amount", "must be positive", "должна быть положительной")
	}
	c.data(req.Data)

	return c.err(errors.CodeValidation)
}

// Cancel validates a Cancel request.
func Cancel(req *api.CancelRequest) *errors.Error {
	c := newChecker("")

	c.teamSlug(req.TeamSlug)
	c.token(req.Token)
	c.paymentID(req.PaymentID)
	if req.Amount < 0 {
		c.add("amount", "must be positive", "должна быть положительной")
	}
	c.maxLen("reason", req.Reason, maxReasonLen)

	return c.err(errors.CodeValidation)
}

// Check validates a Check request. Either paymentId or orderId must identify
// the payment.
func Check(req *api.CheckRequest) *errors.Error {
	c := newChecker("")

	c.teamSlug(req.TeamSlug)
	c.token(req.Token)
	if req.PaymentID == "" && req.OrderID == "" {
		c.add("paymentId", "paymentId or orderId is required", "требуется paymentId или orderId")
	}
	if req.PaymentID != "" {
		c.paymentID(req.PaymentID)
	}
	if req.OrderID != "" {
		c.orderID(req.OrderID)
	}

	return c.err(errors.CodeValidation)
}

// callbackProtocols enforces that the success and fail redirect URLs share a
// protocol, so a merchant page cannot be downgraded on one leg only.
func (c *checker) callbackProtocols(successURL, failURL string) {
	if successURL == "" || failURL == "" {
		return
	}
	if schemeOf(successURL) != schemeOf(failURL) {
		c.add("failURL", "must use the same protocol as successURL", "протокол должен совпадать с successURL")
	}
}

func schemeOf(raw string) string {
	for i := 0; i < len(raw); i++ {
		if raw[i] == ':' {
			return raw[:i]
		}
	}
	return ""
}

// receipt checks the fiscal receipt arithmetic and its contact consistency
// with the customer contact fields.
func (c *checker) receipt(req *api.InitRequest) {
	r := req.Receipt
	if r == nil {
		return
	}

	c.email("receipt.email", r.Email)
	c.phone("receipt.phone", r.Phone)
	if r.Email != "" && req.Email != "" && r.Email != req.Email {
		c.add("receipt.email", "must match the customer email", "должен совпадать с email покупателя")
	}
	if r.Phone != "" && req.Phone != "" && r.Phone != req.Phone {
		c.add("receipt.phone", "must match the customer phone", "должен совпадать с телефоном покупателя")
	}

	var total int64
	for _, item := range r.Items {
		if item.Amount != item.Quantity*item.Price {
			c.add("receipt.items",
				"item amount must equal quantity times price",
				"сумма позиции должна равняться количеству, умноженному на цену")
			return
		}
		total += item.Amount
	}
	if len(r.Items) > 0 && total != req.Amount {
		c.add("receipt.items",
			"sum of item amounts must equal the payment amount",
			"сумма позиций должна равняться сумме платежа")
	}
}
