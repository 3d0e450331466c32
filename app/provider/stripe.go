package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const stripeSignatureHeader = "Stripe-Signature"

// Stripe amounts are integers in the currency's smallest unit. Currencies not
// listed here use two decimals.
var stripeMinorUnitExponents = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "JPY": 0, "KMF": 0, "KRW": 0, "MGA": 0,
	"PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0, "XOF": 0, "XPF": 0,
	"BHD": 3, "JOD": 3, "KWD": 3, "OMR": 3, "TND": 3,
}

type StripeConfig struct {
	SecretKey                 string
	WebhookSecret             string
	APIBaseURL                string
	SuccessURL                string
	CancelURL                 string
	SignatureToleranceSeconds int64
	HTTPTimeout               time.Duration
}

type StripeProvider struct {
	cfg    StripeConfig
	client *http.Client
}

func NewStripeProvider(cfg StripeConfig) *StripeProvider {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tolerance := cfg.SignatureToleranceSeconds
	if tolerance <= 0 {
		tolerance = 300
	}
	cfg.SignatureToleranceSeconds = tolerance

	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.stripe.com"
	}

	return &StripeProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *StripeProvider) Code() string {
	return CodeStripe
}

func (p *StripeProvider) CreateCheckout(ctx context.Context, input *CheckoutInput) (*CheckoutOutput, error) {
	if strings.TrimSpace(p.cfg.SecretKey) == "" {
		return nil, errors.New("stripe secret key is not configured")
	}
	if !input.Amount.IsPositive() {
		return nil, errors.New("stripe checkout amount must be positive")
	}

	unitAmount, err := stripeUnitAmount(input.Amount, input.Currency)
	if err != nil {
		return nil, err
	}

	investmentRef := strconv.FormatUint(input.InvestmentID, 10)

	values := url.Values{}
	values.Set("mode", "payment")
	values.Set("line_items[0][quantity]", "1")
	values.Set("line_items[0][price_data][currency]", strings.ToLower(input.Currency))
	values.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(unitAmount, 10))
	values.Set("line_items[0][price_data][product_data][name]", buildProductName(input))
	values.Set("client_reference_id", investmentRef)
	values.Set("metadata[investment_id]", investmentRef)
	if s := strings.TrimSpace(p.cfg.SuccessURL); s != "" {
		values.Set("success_url", s)
	}
	if s := strings.TrimSpace(p.cfg.CancelURL); s != "" {
		values.Set("cancel_url", s)
	}

	body, err := p.postForm(ctx, "/v1/checkout/sessions", values, input.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	var payload struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	result := &CheckoutOutput{
		ProviderPaymentID: strings.TrimSpace(payload.ID),
		CheckoutURL:       strings.TrimSpace(payload.URL),
	}
	if result.ProviderPaymentID == "" || result.CheckoutURL == "" {
		return nil, errors.New("stripe checkout session is missing id or url")
	}

	return result, nil
}

func (p *StripeProvider) GetPaymentStatus(ctx context.Context, providerPaymentID string) (string, error) {
	if strings.TrimSpace(providerPaymentID) == "" {
		return OutcomePending, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.APIBaseURL+"/v1/checkout/sessions/"+url.PathEscape(providerPaymentID), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("stripe get checkout session failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var payload struct {
		Status        string `json:"status"`
		PaymentStatus string `json:"payment_status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", err
	}

	if payload.Status == "expired" {
		return OutcomeCanceled, nil
	}

	switch payload.PaymentStatus {
	case "paid", "no_payment_required":
		return OutcomeSuccess, nil
	default:
		return OutcomePending, nil
	}
}

func (p *StripeProvider) VerifyWebhookSignature(payload []byte, headers http.Header) bool {
	return verifyStripeSignature(payload, headers.Get(stripeSignatureHeader), p.cfg.WebhookSecret, p.cfg.SignatureToleranceSeconds)
}

func (p *StripeProvider) postForm(ctx context.Context, path string, values url.Values, idempotencyKey string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.APIBaseURL+path, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("stripe request failed: path=%s status=%d body=%s", path, resp.StatusCode, string(body))
	}

	return body, nil
}

func stripeUnitAmount(amount decimal.Decimal, currency string) (int64, error) {
	exponent, ok := stripeMinorUnitExponents[strings.ToUpper(strings.TrimSpace(currency))]
	if !ok {
		exponent = 2
	}

	minor := amount.Shift(exponent)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("stripe amount %s has more decimals than %s allows", amount.String(), currency)
	}
	return minor.IntPart(), nil
}

func buildProductName(input *CheckoutInput) string {
	if name := strings.TrimSpace(input.Description); name != "" {
		return name
	}
	return "investment-" + strconv.FormatUint(input.InvestmentID, 10)
}

func verifyStripeSignature(payload []byte, signatureHeader string, webhookSecret string, toleranceSeconds int64) bool {
	signatureHeader = strings.TrimSpace(signatureHeader)
	if signatureHeader == "" || strings.TrimSpace(webhookSecret) == "" {
		return false
	}

	var ts string
	v1 := make([]string, 0, 1)
	for _, part := range strings.Split(signatureHeader, ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "t=") {
			ts = strings.TrimSpace(strings.TrimPrefix(part, "t="))
		}
		if strings.HasPrefix(part, "v1=") {
			v1 = append(v1, strings.TrimSpace(strings.TrimPrefix(part, "v1=")))
		}
	}
	if ts == "" || len(v1) == 0 {
		return false
	}

	tsUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	now := time.Now().Unix()
	if now-tsUnix > toleranceSeconds || tsUnix-now > toleranceSeconds {
		return false
	}

	mac := hmac.New(sha256.New, []byte(webhookSecret))
	_, _ = mac.Write([]byte(ts + "." + string(payload)))
	expected := mac.Sum(nil)

	for _, sig := range v1 {
		candidate, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(candidate, expected) {
			return true
		}
	}

	return false
}
