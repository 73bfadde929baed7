package validate

import (
	"strings"
	"testing"
	"time"

	"github.com/cardflow/gateway/internal/api"
	"github.com/cardflow/gateway/internal/errors"
)

func validInit() *api.InitRequest {
	return &api.InitRequest{
		TeamSlug: "demo-team",
		Token:    "deadbeef",
		Amount:   100000,
		OrderID:  "order-1",
		Currency: "RUB",
		PayType:  "O",
		Language: "en",
	}
}

func TestInitValid(t *testing.T) {
	if err := Init(validInit(), time.Now()); err != nil {
		t.Fatalf("Init: %v", err)
	}
}

func TestInitFieldRules(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		mutate func(*api.InitRequest)
		field  string
	}{
		{"missing teamSlug", func(r *api.InitRequest) { r.TeamSlug = "" }, "teamSlug"},
		{"bad teamSlug chars", func(r *api.InitRequest) { r.TeamSlug = "demo team!" }, "teamSlug"},
		{"long teamSlug", func(r *api.InitRequest) { r.TeamSlug = strings.Repeat("a", 51) }, "teamSlug"},
		{"missing token", func(r *api.InitRequest) { r.Token = "" }, "token"},
		{"non-hex token", func(r *api.InitRequest) { r.Token = "zzzz" }, "token"},
		{"amount below floor", func(r *api.InitRequest) { r.Amount = 999 }, "amount"},
		{"amount above cap", func(r *api.InitRequest) { r.Amount = 50_000_001 }, "amount"},
		{"missing orderId", func(r *api.InitRequest) { r.OrderID = "" }, "orderId"},
		{"long orderId", func(r *api.InitRequest) { r.OrderID = strings.Repeat("x", 37) }, "orderId"},
		{"lowercase currency", func(r *api.InitRequest) { r.Currency = "rub" }, "currency"},
		{"bad payType", func(r *api.InitRequest) { r.PayType = "X" }, "payType"},
		{"bad language", func(r *api.InitRequest) { r.Language = "de" }, "language"},
		{"expiry too large", func(r *api.InitRequest) { r.PaymentExpiry = 43201 }, "paymentExpiry"},
		{"relative successURL", func(r *api.InitRequest) { r.SuccessURL = "/done" }, "successURL"},
		{"ftp notificationURL", func(r *api.InitRequest) { r.NotificationURL = "ftp://x.example/hook" }, "notificationURL"},
		{"bad email", func(r *api.InitRequest) { r.Email = "not-an-email" }, "email"},
		{"short phone", func(r *api.InitRequest) { r.Phone = "+12345" }, "phone"},
		{"long description", func(r *api.InitRequest) { r.Description = strings.Repeat("d", 141) }, "description"},
		{"recurrent without customerKey", func(r *api.InitRequest) { r.Recurrent = "Y" }, "customerKey"},
		{"past redirectDueDate", func(r *api.InitRequest) {
			r.RedirectDueDate = now.Add(-time.Hour).Format(time.RFC3339)
		}, "redirectDueDate"},
		{"redirectDueDate too far", func(r *api.InitRequest) {
			r.RedirectDueDate = now.Add(91 * 24 * time.Hour).Format(time.RFC3339)
		}, "redirectDueDate"},
		{"mixed callback protocols", func(r *api.InitRequest) {
			r.SuccessURL = "https://shop.example/ok"
			r.FailURL = "http://shop.example/fail"
		}, "failURL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validInit()
			tt.mutate(req)
			err := Init(req, now)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if err.Code != errors.CodeValidation {
				t.Errorf("code = %s, want %s", err.Code, errors.CodeValidation)
			}
			if !strings.Contains(err.Details, tt.field) {
				t.Errorf("details %q do not mention %q", err.Details, tt.field)
			}
		})
	}
}

func TestInitAcceptedBoundaries(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		mutate func(*api.InitRequest)
	}{
		{"amount at floor", func(r *api.InitRequest) { r.Amount = 1000 }},
		{"amount at cap", func(r *api.InitRequest) { r.Amount = 50_000_000 }},
		{"orderId at max length", func(r *api.InitRequest) { r.OrderID = strings.Repeat("x", 36) }},
		{"teamSlug at max length", func(r *api.InitRequest) { r.TeamSlug = strings.Repeat("a", 50) }},
		{"expiry at floor", func(r *api.InitRequest) { r.PaymentExpiry = 1 }},
		{"expiry at cap", func(r *api.InitRequest) { r.PaymentExpiry = 43200 }},
		{"description at max length", func(r *api.InitRequest) { r.Description = strings.Repeat("d", 140) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validInit()
			tt.mutate(req)
			if err := Init(req, now); err != nil {
				t.Fatalf("Init rejected the boundary value: %v", err)
			}
		})
	}
}

func TestInitCollectsAllViolations(t *testing.T) {
	req := validInit()
	req.TeamSlug = ""
	req.Amount = 1
	req.OrderID = ""

	err := Init(req, time.Now())
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, field := range []string{"teamSlug", "amount", "orderId"} {
		if !strings.Contains(err.Details, field) {
			t.Errorf("details %q missing %q", err.Details, field)
		}
	}
}

func TestInitDataRules(t *testing.T) {
	req := validInit()
	req.Data = map[string]string{"Phone": "12ab", "account": strings.Repeat("9", 31)}

	err := Init(req, time.Now())
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Details, "data.Phone") || !strings.Contains(err.Details, "data.account") {
		t.Errorf("details %q missing data key violations", err.Details)
	}

	req = validInit()
	req.Data = map[string]string{}
	for i := 0; i < 21; i++ {
		req.Data[strings.Repeat("k", i+1)] = "v"
	}
	if err := Init(req, time.Now()); err == nil || !strings.Contains(err.Details, "data") {
		t.Errorf("oversized data map not rejected: %v", err)
	}
}

func TestInitReceiptArithmetic(t *testing.T) {
	req := validInit()
	req.Receipt = &api.Receipt{Items: []api.ReceiptItem{
		{Name: "widget", Quantity: 2, Price: 30000, Amount: 60000},
		{Name: "gadget", Quantity: 1, Price: 40000, Amount: 40000},
	}}
	if err := Init(req, time.Now()); err != nil {
		t.Fatalf("Init with balanced receipt: %v", err)
	}

	req.Receipt.Items[0].Amount = 50000 // 2×30000 ≠ 50000
	if err := Init(req, time.Now()); err == nil {
		t.Error("item arithmetic mismatch not rejected")
	}

	req.Receipt.Items[0].Amount = 60000
	req.Amount = 90000 // items sum to 100000
	if err := Init(req, time.Now()); err == nil {
		t.Error("receipt total mismatch not rejected")
	}
}

func TestInitRussianMessagesByDefault(t *testing.T) {
	req := validInit()
	req.Language = ""
	req.Amount = 1

	err := Init(req, time.Now())
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Details, "копеек") {
		t.Errorf("details %q not localized to Russian", err.Details)
	}
}

func TestFormSubmit(t *testing.T) {
	valid := api.FormSubmitRequest{
		PaymentID:  "12345678901234567890",
		PAN:        "4111111111111111",
		ExpDate:    "1230",
		CVV:        "123",
		CardHolder: "IVAN IVANOV",
	}
	if err := FormSubmit(&valid); err != nil {
		t.Fatalf("FormSubmit: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*api.FormSubmitRequest)
	}{
		{"short pan", func(r *api.FormSubmitRequest) { r.PAN = "411111" }},
		{"bad month", func(r *api.FormSubmitRequest) { r.ExpDate = "1330" }},
		{"bad cvv", func(r *api.FormSubmitRequest) { r.CVV = "12" }},
		{"missing holder", func(r *api.FormSubmitRequest) { r.CardHolder = "" }},
		{"missing paymentId", func(r *api.FormSubmitRequest) { r.PaymentID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			err := FormSubmit(&req)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if err.Code != errors.CodeFormValidation {
				t.Errorf("code = %s, want %s", err.Code, errors.CodeFormValidation)
			}
		})
	}
}

func TestCheckRequiresIdentifier(t *testing.T) {
	req := &api.CheckRequest{TeamSlug: "demo-team", Token: "deadbeef"}
	if err := Check(req); err == nil {
		t.Fatal("expected validation error when both ids missing")
	}

	req.OrderID = "order-1"
	if err := Check(req); err != nil {
		t.Fatalf("Check by orderId: %v", err)
	}
}
