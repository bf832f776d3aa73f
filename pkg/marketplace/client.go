package marketplace

import (
	"bytes"
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
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/angelmondragon/ordercore/pkg/config"
	pkgerrors "github.com/angelmondragon/ordercore/pkg/errors"
)

const (
	defaultPageSize                = 50
	defaultTimeout                 = 10 * time.Second
	defaultRequestsPerSecond       = 5
	responseBodyReadLimit    int64 = 1024

	searchProductsPath  = "/product/202309/products/search"
	updateInventoryPath = "/product/202309/products/%s/inventory/update"
)

var errNotConfigured = errors.New("marketplace app key, secret and access token are required")

// Client calls the marketplace open API with signed, rate-limited requests.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	appKey      string
	appSecret   string
	accessToken string
	shopCipher  string
	pageSize    int
	limiter     *rate.Limiter
	now         func() time.Time
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

// WithBaseURL overrides the configured base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = strings.TrimRight(trimmed, "/")
		}
	}
}

// WithLimiter replaces the outbound request limiter.
func WithLimiter(limiter *rate.Limiter) Option {
	return func(c *Client) {
		if limiter != nil {
			c.limiter = limiter
		}
	}
}

// WithClock overrides the time source used for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient builds a marketplace client from configuration.
func NewClient(cfg config.MarketplaceConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.AppKey) == "" || strings.TrimSpace(cfg.AppSecret) == "" || strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errNotConfigured
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		appKey:      strings.TrimSpace(cfg.AppKey),
		appSecret:   strings.TrimSpace(cfg.AppSecret),
		accessToken: strings.TrimSpace(cfg.AccessToken),
		shopCipher:  strings.TrimSpace(cfg.ShopCipher),
		pageSize:    pageSize,
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.baseURL == "" {
		return nil, errors.New("marketplace base url is required")
	}
	return client, nil
}

// SKUStock is the marketplace-reported stock of one SKU.
type SKUStock struct {
	ProductID string
	SKUID     string
	Inventory int
}

// ProductPage is one page of the marketplace catalog.
type ProductPage struct {
	SKUs          []SKUStock
	NextPageToken string
}

// SKUQuantity is an absolute stock value to set for a SKU.
type SKUQuantity struct {
	SKUID    string
	Quantity int
}

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

type searchResponse struct {
	Products []struct {
		ID   string `json:"id"`
		SKUs []struct {
			ID        string `json:"id"`
			Inventory []struct {
				Quantity int `json:"quantity"`
			} `json:"inventory"`
		} `json:"skus"`
	} `json:"products"`
	NextPageToken string `json:"next_page_token"`
}

type inventoryUpdate struct {
	SKUs []inventorySKU `json:"skus"`
}

type inventorySKU struct {
	ID        string              `json:"id"`
	Inventory []inventoryQuantity `json:"inventory"`
}

type inventoryQuantity struct {
	Quantity int `json:"quantity"`
}

// ListProducts fetches one catalog page. An empty NextPageToken marks the last page.
func (c *Client) ListProducts(ctx context.Context, pageToken string) (*ProductPage, error) {
	query := url.Values{}
	query.Set("page_size", strconv.Itoa(c.pageSize))
	if token := strings.TrimSpace(pageToken); token != "" {
		query.Set("page_token", token)
	}
	body := []byte(`{"status":"ACTIVATE"}`)

	var res searchResponse
	if err := c.call(ctx, searchProductsPath, query, body, "list products", &res); err != nil {
		return nil, err
	}

	page := &ProductPage{NextPageToken: res.NextPageToken}
	for _, p := range res.Products {
		for _, sku := range p.SKUs {
			if sku.ID == "" {
				return nil, pkgerrors.New(pkgerrors.CodeDependency, "marketplace product "+p.ID+" has a sku without id")
			}
			total := 0
			for _, inv := range sku.Inventory {
				total += inv.Quantity
			}
			page.SKUs = append(page.SKUs, SKUStock{ProductID: p.ID, SKUID: sku.ID, Inventory: total})
		}
	}
	return page, nil
}

// UpdateInventory sets absolute stock for the given SKUs of one marketplace product.
func (c *Client) UpdateInventory(ctx context.Context, productID string, skus []SKUQuantity) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "marketplace product id is required")
	}
	if len(skus) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one sku is required")
	}
	payload := inventoryUpdate{SKUs: make([]inventorySKU, 0, len(skus))}
	for _, sku := range skus {
		qty := sku.Quantity
		if qty < 0 {
			qty = 0
		}
		payload.SKUs = append(payload.SKUs, inventorySKU{ID: sku.SKUID, Inventory: []inventoryQuantity{{Quantity: qty}}})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal inventory update")
	}
	path := fmt.Sprintf(updateInventoryPath, url.PathEscape(productID))
	return c.call(ctx, path, url.Values{}, body, "update inventory", nil)
}

func (c *Client) call(ctx context.Context, path string, query url.Values, body []byte, op string, out any) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "marketplace client not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marketplace rate limiter")
	}

	query.Set("app_key", c.appKey)
	query.Set("timestamp", strconv.FormatInt(c.now().Unix(), 10))
	if c.shopCipher != "" {
		query.Set("shop_cipher", c.shopCipher)
	}
	query.Set("sign", Sign(c.appSecret, path, query, body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path+"?"+query.Encode(), bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build marketplace "+op+" request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-tts-access-token", c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marketplace "+op+" request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "marketplace "+op+" failed")
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode marketplace "+op+" response")
	}
	if env.Code != 0 {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("code %d: %s (request %s)", env.Code, env.Message, env.RequestID), "marketplace "+op+" rejected")
	}
	if out == nil {
		return nil
	}
	if len(env.Data) == 0 {
		return pkgerrors.New(pkgerrors.CodeDependency, "marketplace "+op+" response missing data")
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode marketplace "+op+" data")
	}
	return nil
}

// Sign computes the request signature: HMAC-SHA256 over
// secret + path + sorted(key+value, excluding sign and access_token) + body + secret.
func Sign(secret, path string, query url.Values, body []byte) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		if k == "sign" || k == "access_token" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(secret)
	b.WriteString(path)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(query.Get(k))
	}
	b.Write(body)
	b.WriteString(secret)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}
