package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/cardflow/gateway/internal/api"
	"github.com/cardflow/gateway/internal/errors"
	"github.com/cardflow/gateway/pkg/responders"
)

// timeFormat is RFC 3339 with second precision, matching the notification
// payload timestamps.
const timeFormat = "2006-01-02T15:04:05Z07:00"

// decodeJSON reads a request body into dst, rejecting unknown garbage early
// with the validation code rather than a bare 400.
func decodeJSON(r *http.Request, dst any) *errors.Error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return errors.New(errors.KindValidation, errors.CodeValidation, "malformed JSON body")
	}
	return nil
}

type initResponse struct {
	errors.Response
	Amount     int64  `json:"amount"`
	PaymentURL string `json:"paymentURL"`
}

// paymentInit handles POST /paymentinit/init.
func (s *Server) paymentInit(w http.ResponseWriter, r *http.Request) {
	var req api.InitRequest
	if derr := decodeJSON(r, &req); derr != nil {
		errors.WriteError(w, derr)
		return
	}

	result, err := s.gateway.Init(r.Context(), &req)
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, initResponse{
		Response: errors.Response{
			Success:   true,
			Status:    string(result.Status),
			PaymentID: result.PaymentID,
			OrderID:   result.OrderID,
			ErrorCode: errors.CodeSuccess,
		},
		Amount:     result.Amount,
		PaymentURL: result.PaymentURL,
	})
}

type confirmResponse struct {
	errors.Response
	Amount int64 `json:"amount"`
}

// paymentConfirm handles POST /paymentconfirm/confirm.
func (s *Server) paymentConfirm(w http.ResponseWriter, r *http.Request) {
	var req api.ConfirmRequest
	if derr := decodeJSON(r, &req); derr != nil {
		errors.WriteError(w, derr)
		return
	}

	result, err := s.gateway.Confirm(r.Context(), &req)
	if err != nil {
		errors.WriteErrorFor(w, err, req.PaymentID, "")
		return
	}

	responders.JSON(w, http.StatusOK, confirmResponse{
		Response: errors.Response{
			Success:   true,
			Status:    string(result.Status),
			PaymentID: result.PaymentID,
			OrderID:   result.OrderID,
			ErrorCode: errors.CodeSuccess,
		},
		Amount: result.Amount,
	})
}

type cancelResponse struct {
	errors.Response
	OriginalAmount int64 `json:"originalAmount"`
	NewAmount      int64 `json:"newAmount"`
}

// paymentCancel handles POST /paymentcancel/cancel.
func (s *Server) paymentCancel(w http.ResponseWriter, r *http.Request) {
	var req api.CancelRequest
	if derr := decodeJSON(r, &req); derr != nil {
		errors.WriteError(w, derr)
		return
	}

	result, err := s.gateway.Cancel(r.Context(), &req)
	if err != nil {
		errors.WriteErrorFor(w, err, req.PaymentID, "")
		return
	}

	responders.JSON(w, http.StatusOK, cancelResponse{
		Response: errors.Response{
			Success:   true,
			Status:    string(result.Status),
			PaymentID: result.PaymentID,
			OrderID:   result.OrderID,
			ErrorCode: errors.CodeSuccess,
		},
		OriginalAmount: result.OriginalAmount,
		NewAmount:      result.NewAmount,
	})
}

type checkResponse struct {
	errors.Response
	Amount         int64             `json:"amount"`
	RefundedAmount int64             `json:"refundedAmount,omitempty"`
	Currency       string            `json:"currency"`
	CreatedAt      string            `json:"createdAt"`
	ExpiresAt      string            `json:"expiresAt,omitempty"`
	History        []checkTransition `json:"history,omitempty"`
}

type checkTransition struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Timestamp string `json:"timestamp"`
	Actor     string `json:"actor"`
	ErrorCode string `json:"errorCode,omitempty"`
	Message   string `json:"message,omitempty"`
}

// paymentCheck handles POST /paymentcheck/check.
func (s *Server) paymentCheck(w http.ResponseWriter, r *http.Request) {
	var req api.CheckRequest
	if derr := decodeJSON(r, &req); derr != nil {
		errors.WriteError(w, derr)
		return
	}

	result, err := s.gateway.Check(r.Context(), &req)
	if err != nil {
		errors.WriteErrorFor(w, err, req.PaymentID, req.OrderID)
		return
	}

	resp := checkResponse{
		Response: errors.Response{
			Success:   true,
			Status:    string(result.Status),
			PaymentID: result.PaymentID,
			OrderID:   result.OrderID,
			ErrorCode: errors.CodeSuccess,
			Message:   result.Message,
		},
		Amount:         result.Amount,
		RefundedAmount: result.RefundedAmount,
		Currency:       result.Currency,
		CreatedAt:      result.CreatedAt.Format(timeFormat),
	}
	if result.ErrorCode != "" {
		resp.Response.ErrorCode = errors.Code(result.ErrorCode)
	}
	if !result.ExpiresAt.IsZero() {
		resp.ExpiresAt = result.ExpiresAt.Format(timeFormat)
	}
	for _, tr := range result.History {
		resp.History = append(resp.History, checkTransition{
			From:      string(tr.FromStatus),
			To:        string(tr.ToStatus),
			Timestamp: tr.Timestamp.Format(timeFormat),
			Actor:     tr.Actor,
			ErrorCode: tr.ErrorCode,
			Message:   tr.Message,
		})
	}
	responders.JSON(w, http.StatusOK, resp)
}

// health handles GET /health.
func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
