package aureuspay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// testClient builds a client against the given test server, counting requests.
func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(&Config{
		APIKey:  makeToken(t, map[string]interface{}{"subjectId": "biz1"}),
		BaseURL: server.URL,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client, server, &calls
}

func TestNewClientRequiresCredential(t *testing.T) {
	if _, err := NewClient(nil); err == nil {
		t.Fatal("Expected error for missing credential")
	}

	_, err := NewClient(&Config{APIKey: "not-a-token"})
	if !IsCode(err, ErrCodeMalformedCredential) {
		t.Fatalf("Expected %s, got %v", ErrCodeMalformedCredential, err)
	}
}

func TestCreatePaymentValidation(t *testing.T) {
	client, _, calls := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("Expected no network call for an invalid spec")
	})

	tests := []struct {
		name string
		spec PaymentSpec
	}{
		{"missing amount", PaymentSpec{Currency: CurrencyUSDC}},
		{"missing currency", PaymentSpec{Amount: "1.00"}},
		{"unsupported currency", PaymentSpec{Amount: "1.00", Currency: "EUR"}},
		{"non-numeric amount", PaymentSpec{Amount: "abc", Currency: CurrencyUSDC}},
		{"negative amount", PaymentSpec{Amount: "-1", Currency: CurrencyUSDC}},
		{"zero amount", PaymentSpec{Amount: "0", Currency: CurrencyUSDC}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.CreatePayment(context.Background(), tc.spec)
			if !IsCode(err, ErrCodeInvalidPaymentSpec) {
				t.Fatalf("Expected %s, got %v", ErrCodeInvalidPaymentSpec, err)
			}
		})
	}
	if got := atomic.LoadInt32(calls); got != 0 {
		t.Errorf("Expected zero network calls, got %d", got)
	}
}

func TestCreatePayment(t *testing.T) {
	client, _, calls := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/createPayment" {
			t.Errorf("Expected path /createPayment, got %s", r.URL.Path)
		}
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}

		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if body["amount"] != "0.10" {
			t.Errorf("Expected amount string '0.10', got %v", body["amount"])
		}
		if body["currency"] != "USDC" {
			t.Errorf("Expected currency USDC, got %v", body["currency"])
		}
		meta, _ := body["metadata"].(map[string]interface{})
		if meta["orderId"] != "o-42" {
			t.Errorf("Expected metadata passed verbatim, got %v", body["metadata"])
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":           "p1",
			"status":       "pending",
			"amount":       "0.10",
			"currency":     "USDC",
			"destinations": map[string]string{"ethereum": "0xdest"},
			"metadata":     map[string]interface{}{"orderId": "o-42"},
			"createdAt":    1700000000000,
			"expiresAt":    1700000900000,
			"qrCode":       "aureus://pay/p1",
		})
	})

	payment, err := client.CreatePayment(context.Background(), PaymentSpec{
		Amount:   "0.10",
		Currency: CurrencyUSDC,
		Metadata: map[string]interface{}{"orderId": "o-42"},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if payment.ID != "p1" {
		t.Errorf("Expected id 'p1', got %q", payment.ID)
	}
	if payment.Amount != "0.10" {
		t.Errorf("Expected amount '0.10', got %q", payment.Amount)
	}
	if payment.Status() != StatusPending {
		t.Errorf("Expected pending, got %s", payment.Status())
	}
	if payment.Destinations["ethereum"] != "0xdest" {
		t.Errorf("Expected destination to survive decoding, got %v", payment.Destinations)
	}
	if payment.QRCode != "aureus://pay/p1" {
		t.Errorf("Expected QR code, got %q", payment.QRCode)
	}
	if got := atomic.LoadInt32(calls); got != 1 {
		t.Errorf("Expected exactly 1 request, got %d", got)
	}
}

func TestCreatePaymentLegacyResponseShape(t *testing.T) {
	client, _, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"paymentId": "p2",
			"status":    "created",
			"deepLink":  "aureus://pay/p2",
		})
	})

	payment, err := client.CreatePayment(context.Background(), PaymentSpec{Amount: "5", Currency: CurrencyUSDT})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if payment.ID != "p2" {
		t.Errorf("Expected paymentId field to fill id, got %q", payment.ID)
	}
	if payment.QRCode != "aureus://pay/p2" {
		t.Errorf("Expected deepLink to fill qrCode, got %q", payment.QRCode)
	}
}

func TestCreatePaymentWrapsServerError(t *testing.T) {
	client, _, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"limit exceeded"}`))
	})

	_, err := client.CreatePayment(context.Background(), PaymentSpec{Amount: "1", Currency: CurrencyUSD})
	if !IsCode(err, ErrCodeServerRejected) {
		t.Fatalf("Expected %s, got %v", ErrCodeServerRejected, err)
	}
	if !strings.Contains(err.Error(), "Payment creation failed: limit exceeded") {
		t.Errorf("Expected wrapped message, got %q", err.Error())
	}
}

func TestGetPaymentRequiresID(t *testing.T) {
	client, _, calls := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("Expected no network call for a missing id")
	})

	_, err := client.GetPayment(context.Background(), "")
	if !IsCode(err, ErrCodeMissingID) {
		t.Fatalf("Expected %s, got %v", ErrCodeMissingID, err)
	}
	if got := atomic.LoadInt32(calls); got != 0 {
		t.Errorf("Expected zero network calls, got %d", got)
	}
}

func TestGetPayment(t *testing.T) {
	client, _, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getPayment" {
			t.Errorf("Expected path /getPayment, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("id") != "p1" {
			t.Errorf("Expected id query param 'p1', got %q", r.URL.Query().Get("id"))
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "p1", "status": "pending"})
	})

	payment, err := client.GetPayment(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if payment.ID != "p1" || payment.Status() != StatusPending {
		t.Errorf("Unexpected payment: %s %s", payment.ID, payment.Status())
	}
}

func TestCancelPayment(t *testing.T) {
	client, _, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cancelPayment" {
			t.Errorf("Expected path /cancelPayment, got %s", r.URL.Path)
		}
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["paymentId"] != "p1" {
			t.Errorf("Expected paymentId 'p1', got %v", body["paymentId"])
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "p1", "status": "cancelled"})
	})

	payment, err := client.CancelPayment(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if payment.Status() != StatusCancelled {
		t.Errorf("Expected cancelled, got %s", payment.Status())
	}
}

func TestCancelPaymentRequiresID(t *testing.T) {
	client, _, calls := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("Expected no network call for a missing id")
	})

	_, err := client.CancelPayment(context.Background(), "")
	if !IsCode(err, ErrCodeMissingID) {
		t.Fatalf("Expected %s, got %v", ErrCodeMissingID, err)
	}
	if got := atomic.LoadInt32(calls); got != 0 {
		t.Errorf("Expected zero network calls, got %d", got)
	}
}
