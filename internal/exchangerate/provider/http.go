package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/fxpay/internal/config"
	"github.com/smallbiznis/fxpay/internal/exchangerate/domain"
)

const DefaultBaseURL = "https://cdn.jsdelivr.net/npm/@fawazahmed0/currency-api"

// HTTPProvider reads the public currency-api feed:
// GET {base_url}@latest/v1/currencies/{base}.json → {"date": "...", "{base}": {"usd": 0.012, ...}}
type HTTPProvider struct {
	baseURL *url.URL
	urlErr  error
	apiKey  string
	client  *http.Client
}

func NewHTTPProvider(cfg config.Config) domain.Provider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.Rates.ProviderURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Rates.ProviderTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	u, err := url.Parse(baseURL)
	if err == nil && (u.Scheme == "" || u.Host == "") {
		err = fmt.Errorf("rate provider url %q is not absolute", baseURL)
	}
	return &HTTPProvider{
		baseURL: u,
		urlErr:  err,
		apiKey:  cfg.Rates.ProviderAPIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Fetch(ctx context.Context, base string) (domain.UpstreamRates, error) {
	code := strings.ToLower(strings.TrimSpace(base))
	endpoint, err := p.endpoint(code)
	if err != nil {
		return domain.UpstreamRates{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.UpstreamRates{}, err
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.UpstreamRates{}, fmt.Errorf("fetch rates for %s: %w", base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.UpstreamRates{}, fmt.Errorf("fetch rates for %s: upstream returned %d", base, resp.StatusCode)
	}

	var payload map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.UpstreamRates{}, fmt.Errorf("decode rates for %s: %w", base, err)
	}

	raw, ok := payload[code]
	if !ok {
		return domain.UpstreamRates{}, fmt.Errorf("decode rates for %s: missing %q section", base, code)
	}
	var rates map[string]float64
	if err := json.Unmarshal(raw, &rates); err != nil {
		return domain.UpstreamRates{}, fmt.Errorf("decode rates for %s: %w", base, err)
	}

	var asOf string
	if d, ok := payload["date"]; ok {
		_ = json.Unmarshal(d, &asOf)
	}

	out := make(map[string]float64, len(rates))
	for k, v := range rates {
		out[strings.ToUpper(k)] = v
	}
	return domain.UpstreamRates{
		Base:  strings.ToUpper(code),
		Rates: out,
		AsOf:  asOf,
	}, nil
}

// endpoint appends the version tag to the last path segment of the base URL,
// so a host-only base yields /@latest/... rather than userinfo.
func (p *HTTPProvider) endpoint(code string) (string, error) {
	if p.urlErr != nil {
		return "", p.urlErr
	}
	u := *p.baseURL
	prefix := strings.TrimRight(u.Path, "/")
	if prefix == "" {
		prefix = "/"
	}
	u.Path = prefix + "@latest/v1/currencies/" + code + ".json"
	u.RawPath = ""
	return u.String(), nil
}
