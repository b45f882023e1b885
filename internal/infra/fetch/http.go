package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/haunv/profilesync/internal/core/domain"
	"github.com/haunv/profilesync/internal/syncing/metrics"
)

// HTTPSource fetches ownership data from a JSON HTTP API.
type HTTPSource struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPSource creates an HTTP source against the given base URL.
func NewHTTPSource(baseURL, apiKey string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// VerifyWallet confirms the address resolves to a live identity.
func (s *HTTPSource) VerifyWallet(ctx context.Context, address string) (*domain.WalletIdentity, error) {
	var out struct {
		Address     string `json:"address"`
		NetworkType string `json:"network_type"`
		Verified    bool   `json:"verified"`
	}
	if err := s.getJSON(ctx, "verify_wallet", "/v1/wallets/"+address+"/verify", &out); err != nil {
		return nil, err
	}
	return &domain.WalletIdentity{
		Address:     out.Address,
		NetworkType: domain.NetworkType(out.NetworkType),
		Verified:    out.Verified,
	}, nil
}

// FetchCollection returns the full collection snapshot for an address.
func (s *HTTPSource) FetchCollection(ctx context.Context, address string) (*CollectionSnapshot, error) {
	var out CollectionSnapshot
	if err := s.getJSON(ctx, "fetch_collection", "/v1/wallets/"+address+"/nfts", &out); err != nil {
		return nil, err
	}
	out.Address = address
	if out.FetchedAt.IsZero() {
		out.FetchedAt = time.Now()
	}
	return &out, nil
}

// FetchCollectionDelta returns changes since the given checkpoint hash. A 404
// on the delta endpoint means the source has no delta support.
func (s *HTTPSource) FetchCollectionDelta(ctx context.Context, address string, sinceHash uint64) (*CollectionDelta, error) {
	path := "/v1/wallets/" + address + "/nfts/delta?since=" + strconv.FormatUint(sinceHash, 10)
	var out CollectionDelta
	if err := s.getJSON(ctx, "fetch_delta", path, &out); err != nil {
		var serr *StatusError
		if errors.As(err, &serr) && serr.Code == http.StatusNotFound {
			return nil, ErrDeltaUnsupported
		}
		return nil, err
	}
	out.Address = address
	return &out, nil
}

// FetchProfileStats returns aggregate profile statistics.
func (s *HTTPSource) FetchProfileStats(ctx context.Context, address string) (*domain.ProfileStats, error) {
	var out domain.ProfileStats
	if err := s.getJSON(ctx, "fetch_stats", "/v1/wallets/"+address+"/profile", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *HTTPSource) getJSON(ctx context.Context, method, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		metrics.SourceCalls.WithLabelValues(method, "error").Inc()
		return fmt.Errorf("source call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.SourceCalls.WithLabelValues(method, "error").Inc()
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.SourceCalls.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
		return &StatusError{Code: resp.StatusCode, Status: resp.Status, Body: string(body)}
	}

	if err := json.Unmarshal(body, dest); err != nil {
		metrics.SourceCalls.WithLabelValues(method, "decode_error").Inc()
		return fmt.Errorf("decode response: %w", err)
	}
	metrics.SourceCalls.WithLabelValues(method, "ok").Inc()
	return nil
}
