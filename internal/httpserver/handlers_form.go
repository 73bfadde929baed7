package httpserver

import (
	"fmt"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cardflow/gateway/internal/api"
	"github.com/cardflow/gateway/internal/errors"
	"github.com/cardflow/gateway/pkg/responders"
)

// formPage is the hosted card-entry page. It posts the card data as JSON to
// /paymentform/process and follows the redirect URL from the response, so the
// PAN never touches merchant infrastructure.
var formPage = template.Must(template.New("form").Parse(`<!DOCTYPE html>
<html lang="{{.Lang}}">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,sans-serif;background:#f4f5f7;margin:0;display:flex;justify-content:center;padding-top:48px}
.card{background:#fff;border-radius:8px;box-shadow:0 1px 4px rgba(0,0,0,.12);padding:32px;width:360px}
h1{font-size:18px;margin:0 0 4px}
.amount{font-size:28px;font-weight:600;margin-bottom:24px}
label{display:block;font-size:13px;color:#555;margin:12px 0 4px}
input{width:100%;box-sizing:border-box;padding:10px;border:1px solid #ccd;border-radius:4px;font-size:15px}
.row{display:flex;gap:12px}
.row>div{flex:1}
button{width:100%;margin-top:24px;padding:12px;border:0;border-radius:4px;background:#2563eb;color:#fff;font-size:16px;cursor:pointer}
button:disabled{background:#93b4f5}
.error{color:#b91c1c;font-size:13px;margin-top:12px;min-height:16px}
</style>
</head>
<body>
<div class="card">
<h1>{{.Description}}</h1>
<div class="amount">{{.AmountDisplay}} {{.Currency}}</div>
<form id="pay">
<label>{{.Labels.PAN}}</label>
<input name="pan" inputmode="numeric" autocomplete="cc-number" maxlength="19" required>
<div class="row">
<div><label>{{.Labels.Expiry}}</label><input name="expDate" placeholder="MMYY" inputmode="numeric" maxlength="4" required></div>
<div><label>CVV</label><input name="cvv" type="password" inputmode="numeric" maxlength="4" required></div>
</div>
<label>{{.Labels.Holder}}</label>
<input name="cardHolder" autocomplete="cc-name">
<button type="submit">{{.Labels.Pay}}</button>
<div class="error" id="err"></div>
</form>
</div>
<script>
document.getElementById('pay').addEventListener('submit', async function(e){
  e.preventDefault();
  var f = e.target, btn = f.querySelector('button'), err = document.getElementById('err');
  btn.disabled = true; err.textContent = '';
  var body = {
    paymentId: {{.PaymentID}},
    pan: f.pan.value.replace(/\s+/g,''),
    expDate: f.expDate.value,
    cvv: f.cvv.value,
    cardHolder: f.cardHolder.value
  };
  try {
    var resp = await fetch('/paymentform/process', {
      method: 'POST',
      headers: {'Content-Type': 'application/json'},
      body: JSON.stringify(body)
    });
    var data = await resp.json();
    if (data.redirectURL) { window.location = data.redirectURL; return; }
    err.textContent = data.message || {{.Labels.Failed}};
    btn.disabled = !(data.attemptsLeft > 0);
  } catch (_) {
    err.textContent = {{.Labels.Failed}};
    btn.disabled = false;
  }
});
</script>
</body>
</html>
`))

type formLabels struct {
	PAN    string
	Expiry string
	Holder string
	Pay    string
	Failed string
}

var formLabelsByLang = map[string]formLabels{
	"ru": {
		PAN:    "Номер карты",
		Expiry: "Срок действия",
		Holder: "Держатель карты",
		Pay:    "Оплатить",
		Failed: "Оплата не прошла, попробуйте ещё раз",
	},
	"en": {
		PAN:    "Card number",
		Expiry: "Expiry",
		Holder: "Cardholder name",
		Pay:    "Pay",
		Failed: "Payment failed, please try again",
	},
}

type formView struct {
	Lang          string
	Title         string
	PaymentID     string
	Description   string
	AmountDisplay string
	Currency      string
	Labels        formLabels
}

// paymentFormPage handles GET /paymentform/{paymentId}.
func (s *Server) paymentFormPage(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentId")

	form, err := s.gateway.ShowForm(r.Context(), paymentID)
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	lang := form.Language
	labels, ok := formLabelsByLang[lang]
	if !ok {
		lang, labels = "ru", formLabelsByLang["ru"]
	}

	view := formView{
		Lang:          lang,
		Title:         labels.Pay,
		PaymentID:     form.PaymentID,
		Description:   form.Description,
		AmountDisplay: minorToDisplay(form.Amount),
		Currency:      form.Currency,
		Labels:        labels,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if terr := formPage.Execute(w, view); terr != nil {
		s.logger.Error().Err(terr).Str("payment_id", paymentID).Msg("form template render failed")
	}
}

// paymentFormProcess handles POST /paymentform/process. The response shape is
// consumed by the script on the hosted page, not by merchants, so it is the
// SubmitResult directly rather than the merchant envelope.
func (s *Server) paymentFormProcess(w http.ResponseWriter, r *http.Request) {
	var req api.FormSubmitRequest
	if derr := decodeJSON(r, &req); derr != nil {
		errors.WriteError(w, derr)
		return
	}

	result, err := s.gateway.SubmitForm(r.Context(), &req)
	if err != nil {
		errors.WriteErrorFor(w, err, req.PaymentID, "")
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusPaymentRequired
	}
	responders.JSON(w, status, result)
}

// minorToDisplay renders an amount in minor units as "12 345.67".
func minorToDisplay(amount int64) string {
	major := amount / 100
	minor := amount % 100
	out := ""
	if major == 0 {
		out = "0"
	}
	for major > 0 {
		group := major % 1000
		major /= 1000
		if major > 0 {
			out = fmt.Sprintf(" %03d%s", group, out)
		} else {
			out = fmt.Sprintf("%d%s", group, out)
		}
	}
	return fmt.Sprintf("%s.%02d", out, minor)
}
