package xendit

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/ordercore/pkg/errors"
)

const (
	defaultBaseURL                = "https://api.xendit.co"
	defaultTimeout                = 15 * time.Second
	defaultInvoiceDuration        = 24 * time.Hour
	responseBodyReadLimit   int64 = 1024
	currencyIDR                   = "IDR"
	creditCardPaymentMethod       = "CREDIT_CARD"
)

var errAPIKeyRequired = errors.New("xendit api key is required")

// Client talks to the Xendit invoice API.
type Client struct {
	httpClient      *http.Client
	baseURL         string
	apiKey          string
	callbackToken   string
	allowUnsigned   bool
	successURL      string
	failureURL      string
	invoiceDuration time.Duration
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = strings.TrimRight(trimmed, "/")
		}
	}
}

// WithCallbackToken sets the shared token Xendit sends in x-callback-token.
func WithCallbackToken(token string) Option {
	return func(c *Client) {
		c.callbackToken = strings.TrimSpace(token)
	}
}

// WithUnsignedCallbacks accepts callbacks when no token is configured. Dev only.
func WithUnsignedCallbacks(allow bool) Option {
	return func(c *Client) {
		c.allowUnsigned = allow
	}
}

// WithRedirectURLs sets where the hosted page sends the customer afterwards.
func WithRedirectURLs(success, failure string) Option {
	return func(c *Client) {
		c.successURL = strings.TrimSpace(success)
		c.failureURL = strings.TrimSpace(failure)
	}
}

// WithInvoiceDuration sets how long an invoice stays payable.
func WithInvoiceDuration(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.invoiceDuration = d
		}
	}
}

// NewClient builds the Xendit client given a secret API key.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return nil, errAPIKeyRequired
	}
	client := &Client{
		apiKey:          trimmedKey,
		baseURL:         defaultBaseURL,
		httpClient:      &http.Client{Timeout: defaultTimeout},
		invoiceDuration: defaultInvoiceDuration,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Customer is the payer block attached to an invoice.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// Item is an itemized invoice line.
type Item struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

// Fee is an extra invoice line such as shipping or the payment fee.
type Fee struct {
	Type  string `json:"type"`
	Value int64  `json:"value"`
}

// InvoiceRequest describes a hosted invoice for one order.
type InvoiceRequest struct {
	ExternalID      string
	Amount          int64
	Description     string
	Customer        Customer
	Items           []Item
	Fees            []Fee
	PaymentMethods  []string
	InstallmentTerm int
}

// Invoice is the subset of the invoice resource the order engine keeps.
type Invoice struct {
	ID         string
	ExternalID string
	Status     string
	Amount     int64
	InvoiceURL string
	ExpiryDate time.Time
}

type invoiceCustomer struct {
	GivenNames   string `json:"given_names"`
	Email        string `json:"email,omitempty"`
	MobileNumber string `json:"mobile_number,omitempty"`
}

type allowedTerm struct {
	Issuer string `json:"issuer"`
	Terms  []int  `json:"terms"`
}

type installmentConfiguration struct {
	AllowFullPayment bool          `json:"allow_full_payment"`
	AllowInstallment bool          `json:"allow_installment"`
	AllowedTerms     []allowedTerm `json:"allowed_terms,omitempty"`
}

type channelProperties struct {
	Cards struct {
		InstallmentConfiguration installmentConfiguration `json:"installment_configuration"`
	} `json:"cards"`
}

type createInvoiceBody struct {
	ExternalID         string             `json:"external_id"`
	Amount             int64              `json:"amount"`
	Description        string             `json:"description,omitempty"`
	Currency           string             `json:"currency"`
	InvoiceDuration    int64              `json:"invoice_duration"`
	PayerEmail         string             `json:"payer_email,omitempty"`
	Customer           invoiceCustomer    `json:"customer"`
	Items              []Item             `json:"items,omitempty"`
	Fees               []Fee              `json:"fees,omitempty"`
	PaymentMethods     []string           `json:"payment_methods,omitempty"`
	SuccessRedirectURL string             `json:"success_redirect_url,omitempty"`
	FailureRedirectURL string             `json:"failure_redirect_url,omitempty"`
	ChannelProperties  *channelProperties `json:"channel_properties,omitempty"`
}

type invoiceResponse struct {
	ID         string     `json:"id"`
	ExternalID string     `json:"external_id"`
	Status     string     `json:"status"`
	Amount     float64    `json:"amount"`
	InvoiceURL string     `json:"invoice_url"`
	ExpiryDate *time.Time `json:"expiry_date"`
}

// CreateInvoice requests a hosted invoice. Any non-2xx or malformed response is a dependency error.
func (c *Client) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "xendit client not configured")
	}
	if strings.TrimSpace(req.ExternalID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice external id is required")
	}
	if req.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice amount must be positive")
	}

	body := createInvoiceBody{
		ExternalID:         req.ExternalID,
		Amount:             req.Amount,
		Description:        req.Description,
		Currency:           currencyIDR,
		InvoiceDuration:    int64(c.invoiceDuration / time.Second),
		PayerEmail:         req.Customer.Email,
		Customer:           invoiceCustomer{GivenNames: req.Customer.Name, Email: req.Customer.Email, MobileNumber: req.Customer.Phone},
		Items:              req.Items,
		Fees:               req.Fees,
		PaymentMethods:     req.PaymentMethods,
		SuccessRedirectURL: c.successURL,
		FailureRedirectURL: c.failureURL,
	}
	if req.InstallmentTerm > 0 && containsCard(req.PaymentMethods) {
		props := &channelProperties{}
		props.Cards.InstallmentConfiguration = installmentConfiguration{
			AllowInstallment: true,
			AllowedTerms:     []allowedTerm{{Issuer: "ALL", Terms: []int{req.InstallmentTerm}}},
		}
		body.ChannelProperties = props
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal invoice request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/invoices", bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build invoice request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.apiKey, "")

	var res invoiceResponse
	if err := c.do(httpReq, "create invoice", &res); err != nil {
		return nil, err
	}
	if res.ID == "" || res.InvoiceURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "invoice response missing id or invoice_url")
	}

	invoice := &Invoice{
		ID:         res.ID,
		ExternalID: res.ExternalID,
		Status:     res.Status,
		Amount:     int64(res.Amount),
		InvoiceURL: res.InvoiceURL,
	}
	if res.ExpiryDate != nil {
		invoice.ExpiryDate = *res.ExpiryDate
	}
	return invoice, nil
}

// ExpireInvoice closes an unpaid invoice so it can no longer be paid.
func (c *Client) ExpireInvoice(ctx context.Context, invoiceID string) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "xendit client not configured")
	}
	trimmed := strings.TrimSpace(invoiceID)
	if trimmed == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "invoice id is required")
	}
	endpoint := fmt.Sprintf("%s/invoices/%s/expire!", c.baseURL, url.PathEscape(trimmed))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build expire request")
	}
	httpReq.SetBasicAuth(c.apiKey, "")
	return c.do(httpReq, "expire invoice", nil)
}

// VerifyCallbackToken compares the x-callback-token header in constant time.
func (c *Client) VerifyCallbackToken(token string) bool {
	if c == nil {
		return false
	}
	if c.callbackToken == "" {
		return c.allowUnsigned
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(c.callbackToken)) == 1
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op+" request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), op+" failed")
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode "+op+" response")
	}
	return nil
}

func containsCard(methods []string) bool {
	for _, m := range methods {
		if strings.EqualFold(m, creditCardPaymentMethod) {
			return true
		}
	}
	return false
}
