package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type wellKnownResponse struct {
	Server string `json:"m.server"`
}

// fetchWellKnown retrieves https://host/.well-known/matrix/server and
// returns its "m.server" delegation target, if any. Any failure --
// network error, non-200, unparseable body, empty field -- is treated
// as "no delegation" per spec.md §4.4 step 3.
func (r *Resolver) fetchWellKnown(ctx context.Context, host string) (string, bool) {
	url := fmt.Sprintf("https://%s/.well-known/matrix/server", host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", false
	}

	var parsed wellKnownResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", false
	}
	if parsed.Server == "" {
		return "", false
	}
	return parsed.Server, true
}
