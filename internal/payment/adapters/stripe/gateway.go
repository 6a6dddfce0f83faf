package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/lanes/internal/config"
	paymentdomain "github.com/smallbiznis/lanes/internal/payment/domain"
	"go.uber.org/zap"
)

// Gateway talks to the Stripe REST API with form-encoded requests.
type Gateway struct {
	apiBase   string
	secretKey string
	client    *http.Client
	log       *zap.Logger
}

func NewGateway(cfg config.Config, log *zap.Logger) *Gateway {
	return &Gateway{
		apiBase:   strings.TrimRight(cfg.Stripe.APIBase, "/"),
		secretKey: cfg.Stripe.SecretKey,
		client:    &http.Client{Timeout: 15 * time.Second},
		log:       log.Named("payment.stripe"),
	}
}

// APIError is a non-2xx answer from Stripe.
type APIError struct {
	Status  int
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stripe: %d %s: %s", e.Status, e.Type, e.Message)
}

func (g *Gateway) Provider() string { return providerName }

func (g *Gateway) EnsurePrice(ctx context.Context, req paymentdomain.PriceRequest) (paymentdomain.PriceRef, error) {
	var product struct {
		ID string `json:"id"`
	}
	productForm := url.Values{}
	productForm.Set("name", req.Name)
	productForm.Set("metadata[item_identifier]", req.ItemIdentifier)
	if err := g.do(ctx, http.MethodPost, "/v1/products", productForm, "product:"+req.ItemIdentifier, &product); err != nil {
		return paymentdomain.PriceRef{}, err
	}

	var price struct {
		ID string `json:"id"`
	}
	priceForm := url.Values{}
	priceForm.Set("product", product.ID)
	priceForm.Set("unit_amount", strconv.FormatInt(req.Amount, 10))
	priceForm.Set("currency", req.Currency)
	idem := fmt.Sprintf("price:%s:%d", req.ItemIdentifier, req.Amount)
	if err := g.do(ctx, http.MethodPost, "/v1/prices", priceForm, idem, &price); err != nil {
		return paymentdomain.PriceRef{}, err
	}
	return paymentdomain.PriceRef{ProductID: product.ID, PriceID: price.ID}, nil
}

func (g *Gateway) CreateCheckoutSession(ctx context.Context, req paymentdomain.CheckoutSessionRequest) (*paymentdomain.GatewaySession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", req.ClientReference)
	form.Set("success_url", req.SuccessURL)
	form.Set("cancel_url", req.CancelURL)
	if req.CustomerEmail != "" {
		form.Set("customer_email", req.CustomerEmail)
	}
	for i, line := range req.Lines {
		form.Set(fmt.Sprintf("line_items[%d][price]", i), line.PriceID)
		form.Set(fmt.Sprintf("line_items[%d][quantity]", i), strconv.Itoa(line.Quantity))
	}
	for key, value := range req.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", key), value)
	}

	if req.Discount > 0 {
		var coupon struct {
			ID string `json:"id"`
		}
		couponForm := url.Values{}
		couponForm.Set("amount_off", strconv.FormatInt(req.Discount, 10))
		couponForm.Set("currency", req.Currency)
		couponForm.Set("duration", "once")
		if err := g.do(ctx, http.MethodPost, "/v1/coupons", couponForm, "coupon:"+req.ClientReference, &coupon); err != nil {
			return nil, err
		}
		form.Set("discounts[0][coupon]", coupon.ID)
	}

	var session struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := g.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, "session:"+req.ClientReference, &session); err != nil {
		return nil, err
	}
	return &paymentdomain.GatewaySession{ID: session.ID, URL: session.URL}, nil
}

func (g *Gateway) ListLineItems(ctx context.Context, sessionID string) ([]paymentdomain.GatewayLineItem, error) {
	var out []paymentdomain.GatewayLineItem
	startingAfter := ""
	for {
		query := url.Values{}
		query.Set("limit", "100")
		if startingAfter != "" {
			query.Set("starting_after", startingAfter)
		}
		var page struct {
			HasMore bool `json:"has_more"`
			Data    []struct {
				ID          string `json:"id"`
				Quantity    int    `json:"quantity"`
				AmountTotal int64  `json:"amount_total"`
				Price       struct {
					ID string `json:"id"`
				} `json:"price"`
			} `json:"data"`
		}
		path := "/v1/checkout/sessions/" + url.PathEscape(sessionID) + "/line_items?" + query.Encode()
		if err := g.do(ctx, http.MethodGet, path, nil, "", &page); err != nil {
			return nil, err
		}
		for _, line := range page.Data {
			out = append(out, paymentdomain.GatewayLineItem{
				PriceID:  line.Price.ID,
				Quantity: line.Quantity,
				Amount:   line.AmountTotal,
			})
		}
		if !page.HasMore || len(page.Data) == 0 {
			return out, nil
		}
		startingAfter = page.Data[len(page.Data)-1].ID
	}
}

func (g *Gateway) do(ctx context.Context, method, path string, form url.Values, idempotencyKey string, out any) error {
	if strings.TrimSpace(g.secretKey) == "" {
		return paymentdomain.ErrInvalidConfig
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, g.apiBase+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(g.secretKey, "")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != nil {
			apiErr.Type = envelope.Error.Type
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		g.log.Debug("stripe request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
