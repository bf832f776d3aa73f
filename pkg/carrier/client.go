package carrier

import (
	"context"
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
	"unicode"

	"github.com/angelmondragon/ordercore/pkg/config"
	pkgerrors "github.com/angelmondragon/ordercore/pkg/errors"
)

const (
	defaultTimeout              = 10 * time.Second
	responseBodyReadLimit int64 = 1024
	historyTimeLayout           = "02-01-2006 15:04"
	deliveredMarker             = "DELIVERED"
)

// Courier is the courier code stored on orders shipped through this client.
const Courier = "jne"

var errCredentialsRequired = errors.New("carrier username and api key are required")

// Shipper is the sender block printed on every waybill.
type Shipper struct {
	Name    string
	Phone   string
	Address string
	City    string
	Zip     string
}

// Client wraps the carrier pricing, booking and tracking endpoints.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	username     string
	apiKey       string
	customerCode string
	originCode   string
	branchCode   string
	shipper      Shipper
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

// NewClient builds a carrier client from configuration.
func NewClient(cfg config.CarrierConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.Username) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errCredentialsRequired
	}
	if strings.TrimSpace(cfg.OriginCode) == "" {
		return nil, errors.New("carrier origin code is required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		username:     strings.TrimSpace(cfg.Username),
		apiKey:       strings.TrimSpace(cfg.APIKey),
		customerCode: cfg.CustomerCode,
		originCode:   strings.TrimSpace(cfg.OriginCode),
		branchCode:   cfg.BranchCode,
		shipper: Shipper{
			Name:    cfg.ShipperName,
			Phone:   cfg.ShipperPhone,
			Address: cfg.ShipperAddress,
			City:    cfg.ShipperCity,
			Zip:     cfg.ShipperZip,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.baseURL == "" {
		return nil, errors.New("carrier base url is required")
	}
	return client, nil
}

// OriginCode is the routing code shipments leave from.
func (c *Client) OriginCode() string {
	return c.originCode
}

// Rate is one priced carrier service.
type Rate struct {
	ServiceCode string `json:"service_code"`
	ServiceName string `json:"service_name"`
	Price       int64  `json:"price"`
	ETD         string `json:"etd"`
}

// Receiver is the consignee block of a shipment.
type Receiver struct {
	Name    string
	Phone   string
	Address string
	City    string
	Zip     string
}

// Shipment holds what the carrier needs to issue a waybill.
type Shipment struct {
	Reference       string
	DestinationCode string
	ServiceCode     string
	WeightKg        int
	Quantity        int
	GoodsDesc       string
	GoodsValue      int64
	Receiver        Receiver
}

// ChargeableWeightKg converts a parcel weight to whole kilograms, rounding up
// and never going below the carrier minimum.
func ChargeableWeightKg(grams, minKg int) int {
	if minKg < 1 {
		minKg = 1
	}
	kg := (grams + 999) / 1000
	if kg < minKg {
		return minKg
	}
	return kg
}

// TrackingEvent is one row of carrier history.
type TrackingEvent struct {
	Description string    `json:"description"`
	At          time.Time `json:"at"`
}

// Tracking is the parsed history of a waybill, oldest event first.
type Tracking struct {
	WaybillNumber string
	PODStatus     string
	History       []TrackingEvent
}

// Latest returns the most recent event, if any.
func (t Tracking) Latest() (TrackingEvent, bool) {
	if len(t.History) == 0 {
		return TrackingEvent{}, false
	}
	return t.History[len(t.History)-1], true
}

// Delivered reports whether the carrier considers the parcel delivered: the
// POD status is DELIVERED, or the latest history row starts with the word
// DELIVERED. UNDELIVERED and similar failed-delivery statuses never match.
func (t Tracking) Delivered() bool {
	if strings.EqualFold(strings.TrimSpace(t.PODStatus), deliveredMarker) {
		return true
	}
	latest, ok := t.Latest()
	if !ok {
		return false
	}
	words := strings.FieldsFunc(strings.ToUpper(latest.Description), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	return len(words) > 0 && words[0] == deliveredMarker
}

// Price quotes every service between origin and destination for the given weight.
func (c *Client) Price(ctx context.Context, destinationCode string, weightKg int) ([]Rate, error) {
	if strings.TrimSpace(destinationCode) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "destination code is required")
	}
	if weightKg <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "weight must be positive")
	}
	form := c.credentials()
	form.Set("from", c.originCode)
	form.Set("thru", strings.TrimSpace(destinationCode))
	form.Set("weight", strconv.Itoa(weightKg))

	var res struct {
		Price []struct {
			ServiceDisplay string `json:"service_display"`
			ServiceCode    string `json:"service_code"`
			Price          string `json:"price"`
			EtdFrom        string `json:"etd_from"`
			EtdThru        string `json:"etd_thru"`
		} `json:"price"`
		Error string `json:"error"`
	}
	if err := c.post(ctx, "/tracing/api/pricedev", form, "price", &res); err != nil {
		return nil, err
	}
	if res.Error != "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "carrier price error: "+res.Error)
	}

	rates := make([]Rate, 0, len(res.Price))
	for _, p := range res.Price {
		amount, err := strconv.ParseInt(strings.TrimSpace(p.Price), 10, 64)
		if err != nil || p.ServiceCode == "" {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("service %q price %q", p.ServiceCode, p.Price), "malformed carrier price row")
		}
		rates = append(rates, Rate{
			ServiceCode: p.ServiceCode,
			ServiceName: p.ServiceDisplay,
			Price:       amount,
			ETD:         formatETD(p.EtdFrom, p.EtdThru),
		})
	}
	return rates, nil
}

// GenerateWaybill books a shipment and returns the waybill number.
func (c *Client) GenerateWaybill(ctx context.Context, shipment Shipment) (string, error) {
	if strings.TrimSpace(shipment.Reference) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "shipment reference is required")
	}
	if strings.TrimSpace(shipment.DestinationCode) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "destination code is required")
	}
	qty := shipment.Quantity
	if qty <= 0 {
		qty = 1
	}
	form := c.credentials()
	form.Set("OLSHOP_BRANCH", c.branchCode)
	form.Set("OLSHOP_CUST", c.customerCode)
	form.Set("OLSHOP_ORDERID", shipment.Reference)
	form.Set("OLSHOP_SHIPPER_NAME", c.shipper.Name)
	form.Set("OLSHOP_SHIPPER_ADDR1", c.shipper.Address)
	form.Set("OLSHOP_SHIPPER_CITY", c.shipper.City)
	form.Set("OLSHOP_SHIPPER_ZIP", c.shipper.Zip)
	form.Set("OLSHOP_SHIPPER_PHONE", c.shipper.Phone)
	form.Set("OLSHOP_RECEIVER_NAME", shipment.Receiver.Name)
	form.Set("OLSHOP_RECEIVER_ADDR1", shipment.Receiver.Address)
	form.Set("OLSHOP_RECEIVER_CITY", shipment.Receiver.City)
	form.Set("OLSHOP_RECEIVER_ZIP", shipment.Receiver.Zip)
	form.Set("OLSHOP_RECEIVER_PHONE", shipment.Receiver.Phone)
	form.Set("OLSHOP_QTY", strconv.Itoa(qty))
	form.Set("OLSHOP_WEIGHT", strconv.Itoa(shipment.WeightKg))
	form.Set("OLSHOP_GOODSDESC", shipment.GoodsDesc)
	form.Set("OLSHOP_GOODSVALUE", strconv.FormatInt(shipment.GoodsValue, 10))
	form.Set("OLSHOP_INS_FLAG", "N")
	form.Set("OLSHOP_ORIG", c.originCode)
	form.Set("OLSHOP_DEST", shipment.DestinationCode)
	form.Set("OLSHOP_SERVICE", shipment.ServiceCode)
	form.Set("OLSHOP_COD_FLAG", "N")
	form.Set("OLSHOP_COD_AMOUNT", "0")

	var res struct {
		Detail []struct {
			Status  string `json:"status"`
			CnoteNo string `json:"cnote_no"`
			Reason  string `json:"reason"`
		} `json:"detail"`
	}
	if err := c.post(ctx, "/tracing/api/generatecnote", form, "generate waybill", &res); err != nil {
		return "", err
	}
	if len(res.Detail) == 0 {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "carrier returned no waybill detail")
	}
	detail := res.Detail[0]
	if !strings.EqualFold(detail.Status, "sukses") || strings.TrimSpace(detail.CnoteNo) == "" {
		reason := detail.Reason
		if reason == "" {
			reason = detail.Status
		}
		return "", pkgerrors.New(pkgerrors.CodeDependency, "carrier rejected waybill: "+reason)
	}
	return strings.TrimSpace(detail.CnoteNo), nil
}

// Track fetches the tracking history of a waybill.
func (c *Client) Track(ctx context.Context, waybill string) (*Tracking, error) {
	trimmed := strings.TrimSpace(waybill)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "waybill number is required")
	}

	var res struct {
		Cnote struct {
			CnoteNo   string `json:"cnote_no"`
			PODStatus string `json:"pod_status"`
		} `json:"cnote"`
		History []struct {
			Date string `json:"date"`
			Desc string `json:"desc"`
		} `json:"history"`
		Error string `json:"error"`
	}
	path := "/tracing/api/list/v1/cnote/" + url.PathEscape(trimmed)
	if err := c.post(ctx, path, c.credentials(), "track", &res); err != nil {
		return nil, err
	}
	if res.Error != "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "carrier tracking error: "+res.Error)
	}

	tracking := &Tracking{
		WaybillNumber: trimmed,
		PODStatus:     res.Cnote.PODStatus,
		History:       make([]TrackingEvent, 0, len(res.History)),
	}
	for _, h := range res.History {
		at, err := time.Parse(historyTimeLayout, strings.TrimSpace(h.Date))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "carrier tracking returned an unreadable history date").
				WithDetails(map[string]any{"waybill_number": trimmed, "date": h.Date})
		}
		tracking.History = append(tracking.History, TrackingEvent{Description: h.Desc, At: at})
	}
	sort.SliceStable(tracking.History, func(i, j int) bool {
		return tracking.History[i].At.Before(tracking.History[j].At)
	})
	return tracking, nil
}

func (c *Client) credentials() url.Values {
	form := url.Values{}
	form.Set("username", c.username)
	form.Set("api_key", c.apiKey)
	return form
}

func (c *Client) post(ctx context.Context, path string, form url.Values, op string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build carrier "+op+" request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "carrier "+op+" request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "carrier "+op+" failed")
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode carrier "+op+" response")
	}
	return nil
}

func formatETD(from, thru string) string {
	from, thru = strings.TrimSpace(from), strings.TrimSpace(thru)
	switch {
	case from == "" && thru == "":
		return ""
	case from == thru || thru == "":
		return from
	case from == "":
		return thru
	default:
		return from + "-" + thru
	}
}
