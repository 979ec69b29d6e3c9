// internal/sync/source.go
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPSource pulls table rows from an upstream ingestion service
// (GET {baseURL}/tables/{name}), authenticating with the service token.
type HTTPSource struct {
	baseURL      string
	serviceToken string
	client       *http.Client
}

func NewHTTPSource(baseURL, serviceToken string) *HTTPSource {
	return &HTTPSource{
		baseURL:      strings.TrimRight(baseURL, "/"),
		serviceToken: serviceToken,
		client:       &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *HTTPSource) Fetch(ctx context.Context, tableName string) (*SourceData, error) {
	endpoint := fmt.Sprintf("%s/tables/%s", s.baseURL, url.PathEscape(tableName))
	log.Printf("🌐 [SYNC] fetching %s", endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Service-Token", s.serviceToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("❌ [SYNC] source error response: %s", string(body))
		return nil, fmt.Errorf("source returned status: %d", resp.StatusCode)
	}

	var data SourceData
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal source response: %w", err)
	}
	if data.TableName == "" {
		data.TableName = tableName
	}
	if data.TableName != tableName {
		return nil, fmt.Errorf("source answered for table %q, asked for %q", data.TableName, tableName)
	}
	log.Printf("📥 [SYNC] retrieved %d rows for %s", len(data.Rows), tableName)
	return &data, nil
}
