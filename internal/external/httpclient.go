package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// The production collaborators are sibling services reached over HTTP/JSON.
// Each client wraps one base URL; all calls POST a request document and decode
// a response document. A non-2xx status with a recognized error code maps to
// the matching sentinel so the engine can branch on it.

const defaultCallTimeout = 5 * time.Second

type httpClient struct {
	baseURL string
	client  *http.Client
}

func newHTTPClient(baseURL string) httpClient {
	return httpClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultCallTimeout},
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c httpClient) post(ctx context.Context, path string, reqBody, respBody any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var er errorResponse
		if json.NewDecoder(resp.Body).Decode(&er) == nil {
			switch er.Code {
			case "rate_limit_exceeded":
				return ErrRateLimitExceeded
			case "currency_not_configured":
				return ErrCurrencyNotConfigured
			}
			if er.Message != "" {
				return fmt.Errorf("%s: %s (status %d)", path, er.Message, resp.StatusCode)
			}
		}
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}

	if respBody == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// AmmClient executes trades against the money market service.
type AmmClient struct {
	httpClient
}

func NewAmmClient(baseURL string) *AmmClient {
	return &AmmClient{newHTTPClient(baseURL)}
}

func (a *AmmClient) ExecuteTrade(ctx context.Context, currency CurrencyID, maturity, netDebtUnits, rateLimit int64) (int64, error) {
	req := struct {
		Currency     CurrencyID `json:"currency"`
		Maturity     int64      `json:"maturity"`
		NetDebtUnits int64      `json:"net_debt_units"`
		RateLimit    int64      `json:"rate_limit"`
	}{currency, maturity, netDebtUnits, rateLimit}

	var resp struct {
		CashAmount int64 `json:"cash_amount"`
	}
	if err := a.post(ctx, "/v1/trades", req, &resp); err != nil {
		return 0, err
	}
	return resp.CashAmount, nil
}

func (a *AmmClient) OracleRate(currency CurrencyID, maturity int64) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
	defer cancel()

	req := struct {
		Currency CurrencyID `json:"currency"`
		Maturity int64      `json:"maturity"`
	}{currency, maturity}

	var resp struct {
		AnnualRate int64 `json:"annual_rate"`
	}
	if err := a.post(ctx, "/v1/oracle-rate", req, &resp); err != nil {
		return 0, err
	}
	return resp.AnnualRate, nil
}

// RatesClient converts balances through the rate oracle service.
type RatesClient struct {
	httpClient
}

func NewRatesClient(baseURL string) *RatesClient {
	return &RatesClient{newHTTPClient(baseURL)}
}

func (r *RatesClient) convert(path string, req, resp any) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
	defer cancel()
	return r.post(ctx, path, req, resp)
}

func (r *RatesClient) ConvertToUnderlying(currency CurrencyID, primeUnits int64) (int64, error) {
	req := struct {
		Currency CurrencyID `json:"currency"`
		Units    int64      `json:"units"`
	}{currency, primeUnits}
	var resp struct {
		Underlying int64 `json:"underlying"`
	}
	if err := r.convert("/v1/convert/to-underlying", req, &resp); err != nil {
		return 0, err
	}
	return resp.Underlying, nil
}

func (r *RatesClient) ConvertFromUnderlying(currency CurrencyID, underlying int64) (int64, error) {
	req := struct {
		Currency   CurrencyID `json:"currency"`
		Underlying int64      `json:"underlying"`
	}{currency, underlying}
	var resp struct {
		Units int64 `json:"units"`
	}
	if err := r.convert("/v1/convert/from-underlying", req, &resp); err != nil {
		return 0, err
	}
	return resp.Units, nil
}

func (r *RatesClient) ConvertDebtStorageToUnderlying(currency CurrencyID, maturity, debtUnits int64) (int64, error) {
	req := struct {
		Currency  CurrencyID `json:"currency"`
		Maturity  int64      `json:"maturity"`
		DebtUnits int64      `json:"debt_units"`
	}{currency, maturity, debtUnits}
	var resp struct {
		Underlying int64 `json:"underlying"`
	}
	if err := r.convert("/v1/convert/debt-storage", req, &resp); err != nil {
		return 0, err
	}
	return resp.Underlying, nil
}

func (r *RatesClient) ExchangeRate(base, quote CurrencyID) (int64, error) {
	req := struct {
		Base  CurrencyID `json:"base"`
		Quote CurrencyID `json:"quote"`
	}{base, quote}
	var resp struct {
		Rate int64 `json:"rate"`
	}
	if err := r.convert("/v1/exchange-rate", req, &resp); err != nil {
		return 0, err
	}
	return resp.Rate, nil
}

// StrategyClient drives the collateral strategy service.
type StrategyClient struct {
	httpClient
}

func NewStrategyClient(baseURL string) *StrategyClient {
	return &StrategyClient{newHTTPClient(baseURL)}
}

func (s *StrategyClient) ConvertStrategyToUnderlying(vaultID string, account uuid.UUID, shares, maturity int64) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
	defer cancel()

	req := struct {
		VaultID  string    `json:"vault_id"`
		Account  uuid.UUID `json:"account"`
		Shares   int64     `json:"shares"`
		Maturity int64     `json:"maturity"`
	}{vaultID, account, shares, maturity}
	var resp struct {
		Underlying int64 `json:"underlying"`
	}
	if err := s.post(ctx, "/v1/value", req, &resp); err != nil {
		return 0, err
	}
	return resp.Underlying, nil
}

func (s *StrategyClient) Deposit(ctx context.Context, vaultID string, account uuid.UUID, cash, maturity int64, data []byte) (int64, error) {
	req := struct {
		VaultID  string    `json:"vault_id"`
		Account  uuid.UUID `json:"account"`
		Cash     int64     `json:"cash"`
		Maturity int64     `json:"maturity"`
		Data     []byte    `json:"data,omitempty"`
	}{vaultID, account, cash, maturity, data}
	var resp struct {
		SharesMinted int64 `json:"shares_minted"`
	}
	if err := s.post(ctx, "/v1/deposit", req, &resp); err != nil {
		return 0, err
	}
	return resp.SharesMinted, nil
}

func (s *StrategyClient) Redeem(ctx context.Context, vaultID string, account uuid.UUID, shares, maturity int64, data []byte) (int64, error) {
	req := struct {
		VaultID  string    `json:"vault_id"`
		Account  uuid.UUID `json:"account"`
		Shares   int64     `json:"shares"`
		Maturity int64     `json:"maturity"`
		Data     []byte    `json:"data,omitempty"`
	}{vaultID, account, shares, maturity, data}
	var resp struct {
		CashReturned int64 `json:"cash_returned"`
	}
	if err := s.post(ctx, "/v1/redeem", req, &resp); err != nil {
		return 0, err
	}
	return resp.CashReturned, nil
}

func (s *StrategyClient) ConvertSharesToPrime(ctx context.Context, vaultID string, maturity, shares int64) (int64, error) {
	req := struct {
		VaultID  string `json:"vault_id"`
		Maturity int64  `json:"maturity"`
		Shares   int64  `json:"shares"`
	}{vaultID, maturity, shares}
	var resp struct {
		PrimeShares int64 `json:"prime_shares"`
	}
	if err := s.post(ctx, "/v1/convert-to-prime", req, &resp); err != nil {
		return 0, err
	}
	return resp.PrimeShares, nil
}

// InsuranceClient routes fees and shortfall redemptions through the backstop
// pool service.
type InsuranceClient struct {
	httpClient
}

func NewInsuranceClient(baseURL string) *InsuranceClient {
	return &InsuranceClient{newHTTPClient(baseURL)}
}

func (i *InsuranceClient) PayFee(ctx context.Context, currency CurrencyID, amount int64) (int64, error) {
	req := struct {
		Currency CurrencyID `json:"currency"`
		Amount   int64      `json:"amount"`
	}{currency, amount}
	var resp struct {
		InsuredValue int64 `json:"insured_value"`
	}
	if err := i.post(ctx, "/v1/fees", req, &resp); err != nil {
		return 0, err
	}
	return resp.InsuredValue, nil
}

func (i *InsuranceClient) RedeemToCoverShortfall(ctx context.Context, currency CurrencyID, amount int64) (int64, error) {
	req := struct {
		Currency CurrencyID `json:"currency"`
		Amount   int64      `json:"amount"`
	}{currency, amount}
	var resp struct {
		Raised int64 `json:"raised"`
	}
	if err := i.post(ctx, "/v1/shortfalls", req, &resp); err != nil {
		return 0, err
	}
	return resp.Raised, nil
}
