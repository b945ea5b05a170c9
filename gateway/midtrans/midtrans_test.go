package midtrans

import (
	"context"
	"errors"
	"fmt"
	"testing"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"

	"github.com/xraph/feeledger/gateway"
	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/types"
)

type fakeSnap struct {
	got  *snap.Request
	resp *snap.Response
	err  *midtrans.Error
}

func (f *fakeSnap) CreateTransaction(req *snap.Request) (*snap.Response, *midtrans.Error) {
	f.got = req
	return f.resp, f.err
}

type fakeCore struct {
	resp *coreapi.TransactionStatusResponse
	err  *midtrans.Error
}

func (f *fakeCore) CheckTransaction(string) (*coreapi.TransactionStatusResponse, *midtrans.Error) {
	return f.resp, f.err
}

func TestInitiate(t *testing.T) {
	fs := &fakeSnap{resp: &snap.Response{Token: "tok-1", RedirectURL: "https://pay.example/tok-1"}}
	g := &Gateway{serverKey: "key", snap: fs}

	attempt := id.NewAttemptID()
	resp, err := g.Initiate(context.Background(), &gateway.InitiateRequest{
		AttemptID:    attempt,
		StudentFeeID: id.NewStudentFeeID(),
		Amount:       types.New(150000, "idr"),
		Description:  "Semester 1 fee",
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if resp.PaymentURL != "https://pay.example/tok-1" || resp.Reference != "tok-1" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if fs.got.TransactionDetails.OrderID != attempt.String() {
		t.Errorf("OrderID: got %s, want %s", fs.got.TransactionDetails.OrderID, attempt)
	}
	if fs.got.TransactionDetails.GrossAmt != 150000 {
		t.Errorf("GrossAmt: got %d, want 150000", fs.got.TransactionDetails.GrossAmt)
	}
}

func TestInitiateErrors(t *testing.T) {
	tests := []struct {
		name          string
		amount        types.Money
		err           *midtrans.Error
		wantTransient bool
	}{
		{"server error is transient", types.New(1000, "idr"), &midtrans.Error{Message: "boom", StatusCode: 503}, true},
		{"bad request is terminal", types.New(1000, "idr"), &midtrans.Error{Message: "bad", StatusCode: 400}, false},
		{"unsupported currency", types.New(1000, "usd"), nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &Gateway{serverKey: "key", snap: &fakeSnap{err: tt.err}}
			_, err := g.Initiate(context.Background(), &gateway.InitiateRequest{AttemptID: id.NewAttemptID(), Amount: tt.amount})
			var gerr *gateway.Error
			if !errors.As(err, &gerr) {
				t.Fatalf("expected *gateway.Error, got %v", err)
			}
			if gerr.Transient != tt.wantTransient {
				t.Errorf("Transient: got %v, want %v", gerr.Transient, tt.wantTransient)
			}
		})
	}
}

func TestQuery(t *testing.T) {
	g := &Gateway{serverKey: "key", core: &fakeCore{resp: &coreapi.TransactionStatusResponse{
		TransactionID:     "txn-9",
		GrossAmount:       "150000.00",
		TransactionStatus: "settlement",
		StatusCode:        "200",
	}}}
	res, err := g.Query(context.Background(), id.NewAttemptID())
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Status != gateway.StatusSuccess || res.GatewayTxnID != "txn-9" || !res.Amount.Equal(types.New(150000, "idr")) {
		t.Errorf("unexpected result: %+v", res)
	}

	missing := &Gateway{core: &fakeCore{err: &midtrans.Error{Message: "not found", StatusCode: 404}}}
	if _, err := missing.Query(context.Background(), id.NewAttemptID()); !errors.Is(err, gateway.ErrUnknownTransaction) {
		t.Errorf("expected ErrUnknownTransaction, got %v", err)
	}
}

func TestParseNotificationAndVerify(t *testing.T) {
	attempt := id.NewAttemptID()
	sig := Signature(attempt.String(), "200", "150000.00", "server-key")
	body := fmt.Sprintf(`{"order_id":%q,"status_code":"200","gross_amount":"150000.00","transaction_status":"capture","fraud_status":"accept","transaction_id":"txn-1","signature_key":%q}`,
		attempt.String(), sig)

	cb, err := ParseNotification([]byte(body))
	if err != nil {
		t.Fatalf("ParseNotification: %v", err)
	}
	if cb.AttemptID.String() != attempt.String() || cb.GatewayTxnID != "txn-1" {
		t.Errorf("unexpected callback: %+v", cb)
	}
	if !cb.Amount.Equal(types.New(150000, "idr")) {
		t.Errorf("Amount: got %v", cb.Amount)
	}
	if cb.Status != gateway.StatusSuccess {
		t.Errorf("Status: got %s", cb.Status)
	}

	g := &Gateway{serverKey: "server-key"}
	if !g.VerifySignature(cb) {
		t.Error("valid signature rejected")
	}
	cb.Payload["gross_amount"] = "1.00"
	if g.VerifySignature(cb) {
		t.Error("tampered amount accepted")
	}
	if (&Gateway{serverKey: "other"}).VerifySignature(cb) {
		t.Error("wrong key accepted")
	}
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		tx, fraud string
		want      gateway.Status
	}{
		{"settlement", "", gateway.StatusSuccess},
		{"capture", "accept", gateway.StatusSuccess},
		{"capture", "challenge", gateway.StatusAmbiguous},
		{"capture", "deny", gateway.StatusFailed},
		{"pending", "", gateway.StatusPending},
		{"expire", "", gateway.StatusFailed},
		{"cancel", "", gateway.StatusFailed},
		{"refund", "", gateway.StatusAmbiguous},
	}
	for _, tt := range tests {
		if got := MapStatus(tt.tx, tt.fraud); got != tt.want {
			t.Errorf("MapStatus(%s, %s): got %s, want %s", tt.tx, tt.fraud, got, tt.want)
		}
	}
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without server key")
	}
	g, err := New(Config{ServerKey: "SB-key"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g.Name() != Name {
		t.Errorf("Name: got %s", g.Name())
	}
}
