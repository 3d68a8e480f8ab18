// README: Fetcher that polls GET /api/orders/{id}, the uncached source of truth.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"quickcart/internal/modules/order"
	"quickcart/internal/types"
)

type HTTPFetcher struct {
	baseURL string
	client  *http.Client
}

// NewHTTPFetcher polls baseURL (e.g. http://localhost:8080). Timeouts come from the
// reconciler's poll context, so the client needs none of its own.
func NewHTTPFetcher(baseURL string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

var _ Fetcher = (*HTTPFetcher)(nil)

func (f *HTTPFetcher) FetchStatus(ctx context.Context, id types.ID) (Snapshot, error) {
	endpoint := f.baseURL + "/api/orders/" + url.PathEscape(string(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Snapshot{}, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return Snapshot{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Snapshot{}, fmt.Errorf("fetch status of %s: http %d: %s", id, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	// Only the status fields of the order document are read.
	var body struct {
		ID            types.ID     `json:"id"`
		Status        order.Status `json:"status"`
		StatusVersion int          `json:"statusVersion"`
		UpdatedAt     time.Time    `json:"updatedAt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Snapshot{}, fmt.Errorf("decode order %s: %w", id, err)
	}
	if body.ID != "" && body.ID != id {
		return Snapshot{}, fmt.Errorf("fetch status of %s: response is for order %s", id, body.ID)
	}
	return Snapshot{OrderID: id, Status: body.Status, StatusVersion: body.StatusVersion, UpdatedAt: body.UpdatedAt}, nil
}
