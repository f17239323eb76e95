package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Gateway is the outbound payment provider port. Verification happens before
// any transaction begins; no gateway I/O runs while database locks are held.
type Gateway interface {
	// VerifyPayment fetches the charge for a reference and reports whether it
	// actually settled. Implementations must treat an unknown reference as an
	// error, not as an unpaid charge.
	VerifyPayment(ctx context.Context, ref string) (Charge, error)
}

// HTTPGateway verifies charges against the provider's REST API.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGateway(baseURL string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *HTTPGateway) VerifyPayment(ctx context.Context, ref string) (Charge, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v1/charges/"+ref, nil)
	if err != nil {
		return Charge{}, fmt.Errorf("payment: build verify request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return Charge{}, fmt.Errorf("payment: verify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Charge{}, fmt.Errorf("payment: gateway returned %d for %s", resp.StatusCode, ref)
	}

	var body struct {
		Ref      string `json:"ref"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Paid     bool   `json:"paid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Charge{}, fmt.Errorf("payment: decode charge: %w", err)
	}

	return Charge{Ref: body.Ref, Amount: body.Amount, Currency: body.Currency, Paid: body.Paid}, nil
}
