// Package gatewaytest provides a scriptable in-process gateway for tests.
// Callbacks are signed with HMAC-SHA256 over their normalized fields.
package gatewaytest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/xraph/feeledger/gateway"
	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/types"
)

// Gateway is a fake gateway. The zero value is not usable; call New.
type Gateway struct {
	name   string
	secret []byte

	mu           sync.Mutex
	initiateErrs []error
	queryErrs    []error
	initiated    map[string]*gateway.InitiateRequest
	statuses     map[string]*gateway.StatusResult
	initCalls    int
	queryCalls   int
}

var _ gateway.Gateway = (*Gateway)(nil)

// New creates a fake gateway named name signing with secret.
func New(name, secret string) *Gateway {
	return &Gateway{
		name:      name,
		secret:    []byte(secret),
		initiated: make(map[string]*gateway.InitiateRequest),
		statuses:  make(map[string]*gateway.StatusResult),
	}
}

// Name returns the gateway name.
func (g *Gateway) Name() string { return g.name }

// FailInitiate queues errors returned by the next Initiate calls, in order.
func (g *Gateway) FailInitiate(errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initiateErrs = append(g.initiateErrs, errs...)
}

// FailQuery queues errors returned by the next Query calls, in order.
func (g *Gateway) FailQuery(errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queryErrs = append(g.queryErrs, errs...)
}

// Initiate records the request and returns a fake payment URL.
func (g *Gateway) Initiate(ctx context.Context, req *gateway.InitiateRequest) (*gateway.InitiateResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initCalls++
	if err := ctx.Err(); err != nil {
		return nil, &gateway.Error{Gateway: g.name, Op: "initiate", Transient: true, Err: err}
	}
	if len(g.initiateErrs) > 0 {
		err := g.initiateErrs[0]
		g.initiateErrs = g.initiateErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	g.initiated[req.AttemptID.String()] = req
	return &gateway.InitiateResponse{
		PaymentURL: "https://" + g.name + ".test/pay/" + req.AttemptID.String(),
		Reference:  "ref-" + req.AttemptID.String(),
	}, nil
}

// Query returns the scripted status for the attempt.
func (g *Gateway) Query(ctx context.Context, attemptID id.AttemptID) (*gateway.StatusResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queryCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(g.queryErrs) > 0 {
		err := g.queryErrs[0]
		g.queryErrs = g.queryErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	st, ok := g.statuses[attemptID.String()]
	if !ok {
		if _, initiated := g.initiated[attemptID.String()]; initiated {
			return &gateway.StatusResult{Status: gateway.StatusPending}, nil
		}
		return nil, fmt.Errorf("%w: %s", gateway.ErrUnknownTransaction, attemptID)
	}
	cp := *st
	return &cp, nil
}

// SetStatus scripts what Query reports for an attempt.
func (g *Gateway) SetStatus(attemptID id.AttemptID, status gateway.Status, txnID string, amount types.Money) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[attemptID.String()] = &gateway.StatusResult{GatewayTxnID: txnID, Amount: amount, Status: status}
}

// Initiated returns the request recorded for an attempt.
func (g *Gateway) Initiated(attemptID id.AttemptID) (*gateway.InitiateRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.initiated[attemptID.String()]
	return req, ok
}

// InitiateCalls returns how many times Initiate was called.
func (g *Gateway) InitiateCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.initCalls
}

// QueryCalls returns how many times Query was called.
func (g *Gateway) QueryCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queryCalls
}

// Callback builds a correctly signed callback.
func (g *Gateway) Callback(attemptID id.AttemptID, txnID string, amount types.Money, status gateway.Status) *gateway.Callback {
	cb := &gateway.Callback{
		Gateway:      g.name,
		GatewayTxnID: txnID,
		AttemptID:    attemptID,
		Amount:       amount,
		Status:       status,
	}
	cb.Signature = g.Sign(cb)
	return cb
}

// Sign computes the signature of cb's normalized fields.
func (g *Gateway) Sign(cb *gateway.Callback) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(cb.Gateway + "|" + cb.GatewayTxnID + "|" + cb.AttemptID.String() + "|" +
		strconv.FormatInt(cb.Amount.Amount, 10) + "|" + cb.Amount.Currency + "|" + string(cb.Status)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks cb against Sign.
func (g *Gateway) VerifySignature(cb *gateway.Callback) bool {
	want, err := hex.DecodeString(g.Sign(cb))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(cb.Signature)
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

// Transient wraps msg as a retryable gateway error.
func Transient(msg string) error {
	return &gateway.Error{Gateway: "test", Op: "call", StatusCode: 503, Transient: true, Err: errors.New(msg)}
}

// Terminal wraps msg as a non-retryable gateway error.
func Terminal(msg string) error {
	return &gateway.Error{Gateway: "test", Op: "call", StatusCode: 400, Err: errors.New(msg)}
}
