package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	tradingPath = "/tradingApi"
	publicPath  = "/public"

	// retryBackoff paces the unbounded retry loop on transport failures.
	retryBackoff = 15 * time.Second
)

// ErrOfferGone reports that a cancel targeted an offer the exchange no
// longer knows about. Callers must treat it as a non-fatal result.
var ErrOfferGone = errors.New("loan offer already gone")

// UnexpectedResultError wraps an error field the client has no handling for.
// It is surfaced to the caller and never retried automatically.
type UnexpectedResultError struct {
	Message string
}

func (e *UnexpectedResultError) Error() string {
	return fmt.Sprintf("unexpected exchange result: %s", e.Message)
}

// The exchange words nonce rejections two ways depending on the endpoint
// generation; both carry the minimum acceptable value.
var nonceTooLowRe = regexp.MustCompile(`(?i)(?:nonce must be greater than|nonce too low, minimum is)\s*(\d+)`)

const cancelGonePrefix = "error canceling loan order"

// Options parameterise the exchange client.
type Options struct {
	BaseURL            string
	Key                string
	Secret             string
	Timeout            time.Duration
	MinRequestInterval time.Duration
}

// Client issues signed and public calls against the lending exchange,
// surviving transient failures, rate-limit rejections, and nonce
// desynchronisation without corrupting its authentication state.
type Client struct {
	opts    Options
	baseURL string
	nonces  NonceStore
	limiter *Limiter
	clock   Clock
	client  *http.Client
	logger  zerolog.Logger
	backoff time.Duration
}

// NewClient constructs an exchange client. A nil clock selects the system
// clock; the limiter is owned by the client but driven by the same clock so
// tests stay deterministic.
func NewClient(opts Options, nonces NonceStore, clock Clock, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if clock == nil {
		clock = SystemClock{}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://poloniex.com"
	}

	return &Client{
		opts:    opts,
		baseURL: baseURL,
		nonces:  nonces,
		limiter: NewLimiter(opts.MinRequestInterval, clock),
		clock:   clock,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "exchange_client").Logger(),
		backoff: retryBackoff,
	}
}

// Limiter exposes the adaptive rate limiter, mainly for tests and status.
func (c *Client) Limiter() *Limiter { return c.limiter }

// query sends one logical request, retrying transient failures indefinitely
// until ctx is cancelled. A nil body with nil error means the exchange
// answered with a light non-JSON response.
func (c *Client) query(ctx context.Context, method string, authenticated bool, path string, params url.Values) ([]byte, error) {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, retryable, err := c.send(ctx, method, authenticated, path, params)
		if err == nil {
			return body, nil
		}
		if !retryable {
			return body, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		c.logger.Warn().Err(err).Str("path", path).Msg("request failed; backing off before retry")
		if sleepErr := c.clock.Sleep(ctx, c.backoff); sleepErr != nil {
			return nil, sleepErr
		}
	}
}

func (c *Client) send(ctx context.Context, method string, authenticated bool, path string, params url.Values) (result []byte, retryable bool, err error) {
	req, err := c.makeRequest(ctx, method, authenticated, path, params)
	if err != nil {
		return nil, false, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.logger.Warn().Dur("interval", c.limiter.Interval()).Msg("rate limited by exchange; widening request interval")
		if err := c.limiter.Penalize(ctx); err != nil {
			return nil, false, err
		}
		return nil, true, errors.New("too many requests")

	case resp.StatusCode == http.StatusOK && strings.HasPrefix(contentType, "application/json"):
		return c.handleJSON(payload)

	case strings.HasPrefix(contentType, "text/html"), strings.HasPrefix(contentType, "text/plain"):
		// The exchange occasionally serves an HTML error page on an
		// otherwise healthy connection. Treat it as empty content and
		// let the interval drift back toward the floor.
		c.limiter.Relax()
		return nil, false, nil

	default:
		return nil, true, fmt.Errorf("unexpected response (%d: %s)", resp.StatusCode, contentType)
	}
}

func (c *Client) handleJSON(payload []byte) (result []byte, retryable bool, err error) {
	var probe struct {
		Error string `json:"error"`
	}
	// Arrays and primitives fail to probe; only object bodies can carry
	// an error field.
	if unmarshalErr := json.Unmarshal(payload, &probe); unmarshalErr != nil || probe.Error == "" {
		return payload, false, nil
	}

	if match := nonceTooLowRe.FindStringSubmatch(probe.Error); match != nil {
		minimum, parseErr := strconv.ParseUint(match[1], 10, 64)
		if parseErr != nil {
			return nil, false, &UnexpectedResultError{Message: probe.Error}
		}
		if resetErr := c.nonces.Reset(minimum); resetErr != nil {
			return nil, false, resetErr
		}
		c.logger.Warn().Uint64("nonce", minimum).Msg("nonce desynchronised; reset from exchange hint")
		return nil, true, fmt.Errorf("nonce too low: %s", probe.Error)
	}

	if strings.HasPrefix(strings.ToLower(probe.Error), cancelGonePrefix) {
		return payload, false, fmt.Errorf("%w: %s", ErrOfferGone, probe.Error)
	}

	return nil, false, &UnexpectedResultError{Message: probe.Error}
}

func (c *Client) makeRequest(ctx context.Context, method string, authenticated bool, path string, params url.Values) (*http.Request, error) {
	if params == nil {
		params = url.Values{}
	}

	if !authenticated {
		endpoint := c.baseURL + path
		if encoded := params.Encode(); encoded != "" {
			endpoint += "?" + encoded
		}
		return http.NewRequestWithContext(ctx, method, endpoint, nil)
	}

	nonce, err := c.nonces.Next()
	if err != nil {
		return nil, fmt.Errorf("issue nonce: %w", err)
	}
	params.Set("nonce", strconv.FormatUint(nonce, 10))

	encoded := params.Encode()
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader([]byte(encoded)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Key", c.opts.Key)
	req.Header.Set("Sign", signBody(c.opts.Secret, encoded))
	return req, nil
}

// CreateLoanOffer submits a new loan offer. Duration must be in
// [MinDurationDays, MaxDurationDays].
func (c *Client) CreateLoanOffer(ctx context.Context, currency string, amount decimal.Decimal, durationDays uint16, autoRenew bool, rate decimal.Decimal) (CreateOfferResult, error) {
	if durationDays < MinDurationDays || durationDays > MaxDurationDays {
		return CreateOfferResult{}, fmt.Errorf("invalid duration %d: exchange range is [%d, %d] days", durationDays, MinDurationDays, MaxDurationDays)
	}

	renew := "0"
	if autoRenew {
		renew = "1"
	}
	params := url.Values{
		"command":     {"createLoanOffer"},
		"currency":    {currency},
		"amount":      {amount.String()},
		"duration":    {strconv.Itoa(int(durationDays))},
		"autoRenew":   {renew},
		"lendingRate": {rate.StringFixed(6)},
	}

	body, err := c.query(ctx, http.MethodPost, true, tradingPath, params)
	if err != nil {
		return CreateOfferResult{}, err
	}
	if len(body) == 0 {
		return CreateOfferResult{}, nil
	}

	var resp struct {
		OrderID uint64 `json:"orderID"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return CreateOfferResult{}, fmt.Errorf("decode create offer response: %w", err)
	}
	return CreateOfferResult{OrderID: resp.OrderID, Message: resp.Message}, nil
}

// CancelLoanOffer cancels an open offer. ErrOfferGone is returned when the
// offer already vanished; callers must not treat that as a failure.
func (c *Client) CancelLoanOffer(ctx context.Context, orderID uint64) error {
	params := url.Values{
		"command":     {"cancelLoanOffer"},
		"orderNumber": {strconv.FormatUint(orderID, 10)},
	}
	_, err := c.query(ctx, http.MethodPost, true, tradingPath, params)
	return err
}

// ToggleAutoRenew flips the auto-renew flag of one active loan.
func (c *Client) ToggleAutoRenew(ctx context.Context, loanID uint64) error {
	params := url.Values{
		"command":     {"toggleAutoRenew"},
		"orderNumber": {strconv.FormatUint(loanID, 10)},
	}
	_, err := c.query(ctx, http.MethodPost, true, tradingPath, params)
	return err
}

// ActiveLoans returns the loans currently provided to borrowers, keyed by
// currency.
func (c *Client) ActiveLoans(ctx context.Context) (map[string][]ActiveLoan, error) {
	body, err := c.query(ctx, http.MethodPost, true, tradingPath, url.Values{"command": {"returnActiveLoans"}})
	if err != nil {
		return nil, err
	}

	loans := make(map[string][]ActiveLoan)
	if len(body) == 0 {
		return loans, nil
	}

	var resp struct {
		Provided []wireLoan `json:"provided"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode active loans: %w", err)
	}

	for _, raw := range resp.Provided {
		loan, err := raw.activeLoan()
		if err != nil {
			return nil, err
		}
		loans[loan.Currency] = append(loans[loan.Currency], loan)
	}
	return loans, nil
}

// OpenLoanOffers returns the not-yet-matched offers, keyed by currency.
// The exchange answers an empty array instead of an object when there are
// none.
func (c *Client) OpenLoanOffers(ctx context.Context) (map[string][]LoanOffer, error) {
	body, err := c.query(ctx, http.MethodPost, true, tradingPath, url.Values{"command": {"returnOpenLoanOffers"}})
	if err != nil {
		return nil, err
	}

	offers := make(map[string][]LoanOffer)
	if emptyResponse(body) {
		return offers, nil
	}

	var resp map[string][]wireLoan
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode open loan offers: %w", err)
	}

	for currency, raws := range resp {
		for _, raw := range raws {
			offer, err := raw.loanOffer(currency)
			if err != nil {
				return nil, err
			}
			offers[currency] = append(offers[currency], offer)
		}
	}
	return offers, nil
}

// LendingBalances returns the available balance of the lending account per
// currency.
func (c *Client) LendingBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	params := url.Values{
		"command": {"returnAvailableAccountBalances"},
		"account": {"lending"},
	}
	body, err := c.query(ctx, http.MethodPost, true, tradingPath, params)
	if err != nil {
		return nil, err
	}

	balances := make(map[string]decimal.Decimal)
	if emptyResponse(body) {
		return balances, nil
	}

	var resp struct {
		Lending map[string]string `json:"lending"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode lending balances: %w", err)
	}

	for currency, raw := range resp.Lending {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s balance: %w", currency, err)
		}
		balances[currency] = amount
	}
	return balances, nil
}

// LoanOrders fetches the public loan order book for one currency. A limit
// of zero requests the exchange default depth.
func (c *Client) LoanOrders(ctx context.Context, currency string, limit int) (OrderBook, error) {
	params := url.Values{
		"command":  {"returnLoanOrders"},
		"currency": {currency},
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.query(ctx, http.MethodGet, false, publicPath, params)
	if err != nil {
		return OrderBook{}, err
	}
	if len(body) == 0 {
		return OrderBook{}, nil
	}

	var resp struct {
		Offers  []wireBookLevel `json:"offers"`
		Demands []wireBookLevel `json:"demands"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return OrderBook{}, fmt.Errorf("decode loan orders: %w", err)
	}

	offers, err := parseLevels(resp.Offers)
	if err != nil {
		return OrderBook{}, err
	}
	demands, err := parseLevels(resp.Demands)
	if err != nil {
		return OrderBook{}, err
	}
	return OrderBook{Offers: offers, Demands: demands}, nil
}

// emptyResponse recognises the exchange's "[]" placeholder for maps with no
// entries.
func emptyResponse(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("[]"))
}
