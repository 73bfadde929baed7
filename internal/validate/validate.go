// Package validate implements per-operation request validation. Each
// operation runs a list of field checks and returns every violation at once,
// localized to the request language.
package validate

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/cardflow/gateway/internal/errors"
)

const (
	maxTeamSlugLen    = 50
	maxTokenLen       = 256
	minAmount         = 1000
	maxAmount         = 50_000_000
	maxOrderIDLen     = 36
	maxPaymentIDLen   = 20
	maxURLLen         = 2048
	maxEmailLen       = 254
	maxDescriptionLen = 140
	maxReasonLen      = 500
	maxDataEntries    = 20
	maxAccountLen     = 30
	maxExpiryMinutes  = 43200
	maxDueDateAhead   = 90 * 24 * time.Hour
)

var (
	slugPattern     = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	hexPattern      = regexp.MustCompile(`^[0-9a-fA-F]+$`)
	digitsPattern   = regexp.MustCompile(`^[0-9]+$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
	phonePattern    = regexp.MustCompile(`^\+?[0-9]{7,20}$`)
	panPattern      = regexp.MustCompile(`^[0-9]{12,19}$`)
	expDatePattern  = regexp.MustCompile(`^(0[1-9]|1[0-2])[0-9]{2}$`)
	cvvPattern      = regexp.MustCompile(`^[0-9]{3,4}$`)
)

// Violation is one field-scoped validation failure.
type Violation struct {
	Field   string
	Message string
}

func (v Violation) String() string {
	return v.Field + ": " + v.Message
}

// checker accumulates violations for one request.
type checker struct {
	lang       string
	violations []Violation
}

func newChecker(language string) *checker {
	lang := "ru"
	if strings.EqualFold(language, "en") {
		lang = "en"
	}
	return &checker{lang: lang}
}

// msg picks the localized message. Russian is the default per the wire
// contract; "en" switches to English.
func (c *checker) msg(en, ru string) string {
	if c.lang == "en" {
		return en
	}
	return ru
}

func (c *checker) add(field, en, ru string) {
	c.violations = append(c.violations, Violation{Field: field, Message: c.msg(en, ru)})
}

// err folds the accumulated violations into a single wire error, or returns
// nil when the request is clean.
func (c *checker) err(code errors.Code) *errors.Error {
	if len(c.violations) == 0 {
		return nil
	}
	parts := make([]string, len(c.violations))
	for i, v := range c.violations {
		parts[i] = v.String()
	}
	e := errors.New(errors.KindValidation, code, c.msg("request validation failed", "ошибка валидации запроса"))
	return e.WithDetails(strings.Join(parts, "; "))
}

func (c *checker) teamSlug(v string) {
	if v == "" {
		c.add("teamSlug", "is required", "обязательное поле")
		return
	}
	if len(v) > maxTeamSlugLen || !slugPattern.MatchString(v) {
		c.add("teamSlug", "must be at most 50 characters of [A-Za-z0-9_-]", "не более 50 символов [A-Za-z0-9_-]")
	}
}

func (c *checker) token(v string) {
	if v == "" {
		c.add("token", "is required", "обязательное поле")
		return
	}
	if len(v) > maxTokenLen || !hexPattern.MatchString(v) {
		c.add("token", "must be a hex string of at most 256 characters", "шестнадцатеричная строка не более 256 символов")
	}
}

func (c *checker) amount(v int64, required bool) {
	if v == 0 && !required {
		return
	}
	if v < minAmount || v > maxAmount {
		c.add("amount",
			fmt.Sprintf("must be between %d and %d minor units", minAmount, maxAmount),
			fmt.Sprintf("должна быть от %d до %d копеек", minAmount, maxAmount))
	}
}

func (c *checker) orderID(v string) {
	if v == "" {
		c.add("orderId", "is required", "обязательное поле")
		return
	}
	if len(v) > maxOrderIDLen || !slugPattern.MatchString(v) {
		c.add("orderId", "must be at most 36 characters of [A-Za-z0-9_-]", "не более 36 символов [A-Za-z0-9_-]")
	}
}

func (c *checker) paymentID(v string) {
	if v == "" {
		c.add("paymentId", "is required", "обязательное поле")
		return
	}
	if len(v) > maxPaymentIDLen || !digitsPattern.MatchString(v) {
		c.add("paymentId", "must be at most 20 digits", "не более 20 цифр")
	}
}

func (c *checker) currency(v string) {
	if v == "" {
		return
	}
	if !currencyPattern.MatchString(v) {
		c.add("currency", "must be a 3-letter uppercase code", "трёхбуквенный код в верхнем регистре")
	}
}

func (c *checker) payType(v string) {
	if v != "" && v != "O" && v != "T" {
		c.add("payType", `must be "O" or "T"`, `допустимы значения "O" и "T"`)
	}
}

func (c *checker) language(v string) {
	if v != "" && v != "ru" && v != "en" {
		c.add("language", `must be "ru" or "en"`, `допустимы значения "ru" и "en"`)
	}
}

func (c *checker) paymentExpiry(v int) {
	if v == 0 {
		return
	}
	if v < 1 || v > maxExpiryMinutes {
		c.add("paymentExpiry", "must be between 1 and 43200 minutes", "от 1 до 43200 минут")
	}
}

func (c *checker) callbackURL(field, v string) {
	if v == "" {
		return
	}
	if len(v) > maxURLLen {
		c.add(field, "must be at most 2048 characters", "не более 2048 символов")
		return
	}
	u, err := url.Parse(v)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		c.add(field, "must be an absolute http(s) URL", "абсолютный http(s) URL")
	}
}

func (c *checker) email(field, v string) {
	if v == "" {
		return
	}
	if len(v) > maxEmailLen {
		c.add(field, "must be at most 254 characters", "не более 254 символов")
		return
	}
	if _, err := mail.ParseAddress(v); err != nil {
		c.add(field, "must be a valid email address", "некорректный адрес электронной почты")
	}
}

func (c *checker) phone(field, v string) {
	if v == "" {
		return
	}
	if !phonePattern.MatchString(v) {
		c.add(field, "must be 7-20 digits with optional leading +", "7-20 цифр, допустим ведущий +")
	}
}

func (c *checker) maxLen(field, v string, max int) {
	if len(v) > max {
		c.add(field,
			fmt.Sprintf("must be at most %d characters", max),
			fmt.Sprintf("не более %d символов", max))
	}
}

func (c *checker) data(data map[string]string) {
	if len(data) > maxDataEntries {
		c.add("data", "must have at most 20 entries", "не более 20 элементов")
	}
	if v, ok := data["Phone"]; ok {
		c.phone("data.Phone", v)
	}
	if v, ok := data["account"]; ok {
		c.maxLen("data.account", v, maxAccountLen)
	}
}

func (c *checker) redirectDueDate(v string, now time.Time) {
	if v == "" {
		return
	}
	due, err := time.Parse(time.RFC3339, v)
	if err != nil {
		c.add("redirectDueDate", "must be an RFC 3339 timestamp", "дата в формате RFC 3339")
		return
	}
	if !due.After(now) {
		c.add("redirectDueDate", "must be in the future", "должна быть в будущем")
		return
	}
	if due.Sub(now) > maxDueDateAhead {
		c.add("redirectDueDate", "must be at most 90 days ahead", "не более чем на 90 дней вперёд")
	}
}
