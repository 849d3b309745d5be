package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Loader fetches and validates the schema document from the model origin.
type Loader struct {
	BaseURL string
	Client  *http.Client
}

func NewLoader(baseURL string) *Loader {
	return &Loader{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Load fetches <base>/schema.json, decodes it and validates it. Any failure
// surfaces as a SchemaError.
func (l *Loader) Load(ctx context.Context) (*Document, error) {
	endpoint := fmt.Sprintf("%s/schema.json", l.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &SchemaError{Reason: "building schema request", Err: err}
	}

	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, &SchemaError{Reason: "fetching schema", Err: err}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SchemaError{Reason: "reading schema body", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &SchemaError{Reason: fmt.Sprintf("schema fetch returned status %d", resp.StatusCode)}
	}

	var doc Document
	if err := json.Unmarshal(bodyBytes, &doc); err != nil {
		return nil, &SchemaError{Reason: "decoding schema", Err: err}
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}
