// Package midtrans adapts the Midtrans Snap and Core APIs to the gateway
// contract. The attempt ID is used as the Midtrans order_id.
package midtrans

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"

	"github.com/xraph/feeledger/gateway"
	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/types"
)

// Name is the gateway name recorded on attempts and idempotency keys.
const Name = "midtrans"

// Midtrans settles in rupiah only.
const currency = "idr"

type snapAPI interface {
	CreateTransaction(req *snap.Request) (*snap.Response, *midtrans.Error)
}

type coreAPI interface {
	CheckTransaction(param string) (*coreapi.TransactionStatusResponse, *midtrans.Error)
}

// Config configures the adapter.
type Config struct {
	ServerKey  string `json:"server_key" mapstructure:"server_key" yaml:"server_key"`
	Production bool   `json:"production" mapstructure:"production" yaml:"production"`
}

// Gateway is the Midtrans adapter.
type Gateway struct {
	serverKey string
	snap      snapAPI
	core      coreAPI
}

var _ gateway.Gateway = (*Gateway)(nil)

// New creates a Midtrans adapter for the sandbox or production environment.
func New(cfg Config) (*Gateway, error) {
	if cfg.ServerKey == "" {
		return nil, errors.New("midtrans: server key is required")
	}
	env := midtrans.Sandbox
	if cfg.Production {
		env = midtrans.Production
	}

	var s snap.Client
	s.New(cfg.ServerKey, env)
	var c coreapi.Client
	c.New(cfg.ServerKey, env)

	return &Gateway{serverKey: cfg.ServerKey, snap: &s, core: &c}, nil
}

// Name returns "midtrans".
func (g *Gateway) Name() string { return Name }

// Initiate creates a Snap transaction and returns its redirect URL.
func (g *Gateway) Initiate(ctx context.Context, req *gateway.InitiateRequest) (*gateway.InitiateResponse, error) {
	if !strings.EqualFold(req.Amount.Currency, currency) {
		return nil, &gateway.Error{Gateway: Name, Op: "initiate", Err: fmt.Errorf("unsupported currency %q", req.Amount.Currency)}
	}
	if !req.Amount.IsPositive() {
		return nil, &gateway.Error{Gateway: Name, Op: "initiate", Err: errors.New("amount must be positive")}
	}

	sreq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.AttemptID.String(),
			GrossAmt: req.Amount.Major().IntPart(),
		},
		CustomField1: truncate(req.StudentFeeID.String(), 255),
	}
	if req.Customer != nil {
		sreq.CustomerDetail = &midtrans.CustomerDetails{
			FName: req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
		}
	}
	if req.Description != "" {
		sreq.Items = &[]midtrans.ItemDetails{{
			ID:    req.StudentFeeID.String(),
			Price: req.Amount.Major().IntPart(),
			Qty:   1,
			Name:  truncate(req.Description, 50),
		}}
	}

	type result struct {
		resp *snap.Response
		err  *midtrans.Error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := g.snap.CreateTransaction(sreq)
		done <- result{resp, err}
	}()

	select {
	case <-ctx.Done():
		return nil, &gateway.Error{Gateway: Name, Op: "initiate", Transient: errors.Is(ctx.Err(), context.DeadlineExceeded), Err: ctx.Err()}
	case r := <-done:
		if r.err != nil {
			return nil, wrap("initiate", r.err)
		}
		return &gateway.InitiateResponse{PaymentURL: r.resp.RedirectURL, Reference: r.resp.Token}, nil
	}
}

// Query re-reads the transaction status by order id.
func (g *Gateway) Query(ctx context.Context, attemptID id.AttemptID) (*gateway.StatusResult, error) {
	type result struct {
		resp *coreapi.TransactionStatusResponse
		err  *midtrans.Error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := g.core.CheckTransaction(attemptID.String())
		done <- result{resp, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return nil, &gateway.Error{Gateway: Name, Op: "query", Transient: errors.Is(ctx.Err(), context.DeadlineExceeded), Err: ctx.Err()}
	case r = <-done:
	}
	if r.err != nil {
		if r.err.StatusCode == 404 {
			return nil, fmt.Errorf("%w: %s", gateway.ErrUnknownTransaction, attemptID)
		}
		return nil, wrap("query", r.err)
	}
	if r.resp.StatusCode == "404" {
		return nil, fmt.Errorf("%w: %s", gateway.ErrUnknownTransaction, attemptID)
	}

	amount, err := types.ParseMajor(r.resp.GrossAmount, currency)
	if err != nil {
		return nil, &gateway.Error{Gateway: Name, Op: "query", Err: fmt.Errorf("gross_amount: %w", err)}
	}
	return &gateway.StatusResult{
		GatewayTxnID: r.resp.TransactionID,
		Amount:       amount,
		Status:       MapStatus(r.resp.TransactionStatus, r.resp.FraudStatus),
	}, nil
}

// VerifySignature checks SHA512(order_id + status_code + gross_amount + server_key).
func (g *Gateway) VerifySignature(cb *gateway.Callback) bool {
	if cb.Signature == "" || cb.Payload == nil {
		return false
	}
	want := Signature(cb.Payload["order_id"], cb.Payload["status_code"], cb.Payload["gross_amount"], g.serverKey)
	got := strings.ToLower(cb.Signature)
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// Signature computes the Midtrans notification signature key.
func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	h := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(h[:])
}

// Notification is the HTTP notification body Midtrans posts.
type Notification struct {
	TransactionTime   string `json:"transaction_time"`
	TransactionStatus string `json:"transaction_status"`
	StatusCode        string `json:"status_code"`
	SignatureKey      string `json:"signature_key"`
	OrderID           string `json:"order_id"`
	GrossAmount       string `json:"gross_amount"`
	PaymentType       string `json:"payment_type"`
	FraudStatus       string `json:"fraud_status"`
	TransactionID     string `json:"transaction_id"`
	SettlementTime    string `json:"settlement_time"`
}

// ParseNotification decodes a notification body into a callback. The
// signature is carried, not checked; the engine verifies it.
func ParseNotification(body []byte) (*gateway.Callback, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("midtrans: decode notification: %w", err)
	}
	attemptID, err := id.ParseAttemptID(n.OrderID)
	if err != nil {
		return nil, fmt.Errorf("midtrans: order_id: %w", err)
	}
	amount, err := types.ParseMajor(n.GrossAmount, currency)
	if err != nil {
		return nil, fmt.Errorf("midtrans: gross_amount: %w", err)
	}
	return &gateway.Callback{
		Gateway:      Name,
		GatewayTxnID: n.TransactionID,
		AttemptID:    attemptID,
		Amount:       amount,
		Status:       MapStatus(n.TransactionStatus, n.FraudStatus),
		Signature:    n.SignatureKey,
		Payload: map[string]string{
			"order_id":           n.OrderID,
			"status_code":        n.StatusCode,
			"gross_amount":       n.GrossAmount,
			"transaction_status": n.TransactionStatus,
			"fraud_status":       n.FraudStatus,
			"payment_type":       n.PaymentType,
		},
	}, nil
}

// MapStatus maps Midtrans transaction and fraud status to a gateway status.
func MapStatus(transactionStatus, fraudStatus string) gateway.Status {
	switch strings.ToLower(transactionStatus) {
	case "settlement":
		return gateway.StatusSuccess
	case "capture":
		switch strings.ToLower(fraudStatus) {
		case "", "accept":
			return gateway.StatusSuccess
		case "deny":
			return gateway.StatusFailed
		default:
			return gateway.StatusAmbiguous
		}
	case "pending", "authorize":
		return gateway.StatusPending
	case "deny", "cancel", "expire", "failure":
		return gateway.StatusFailed
	default:
		return gateway.StatusAmbiguous
	}
}

func wrap(op string, err *midtrans.Error) error {
	return &gateway.Error{
		Gateway:    Name,
		Op:         op,
		StatusCode: err.StatusCode,
		Transient:  gateway.ClassifyStatus(err.StatusCode),
		Err:        errors.New(err.Message),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
