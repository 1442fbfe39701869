package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notify-dispatch/internal/domain"
)

const (
	defaultSearchTimeout = 10 * time.Second
	selectPath           = "/select"
	// Two rows are enough to tell a unique match from an ambiguous one.
	resolveRows = 2
)

// Resolver turns an object identifier into its indexed record.
type Resolver interface {
	Resolve(ctx context.Context, identifier string) (domain.Record, error)
}

type selectResponse struct {
	Response struct {
		NumFound int                          `json:"numFound"`
		Docs     []map[string]json.RawMessage `json:"docs"`
	} `json:"response"`
}

var _ Resolver = (*SolrClient)(nil)

// SolrClient resolves identifiers against a Solr core's select handler.
type SolrClient struct {
	client  *resty.Client
	baseURL string
	idField string
}

func NewSolrClient(baseURL string) (*SolrClient, error) {
	client := resty.New()
	client.SetTimeout(defaultSearchTimeout)
	client.SetRetryCount(0)

	return NewSolrClientWithClient(baseURL, client)
}

func NewSolrClientWithClient(baseURL string, client *resty.Client) (*SolrClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: solr url is required", domain.ErrConfiguration)
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("%w: invalid solr url: %v", domain.ErrConfiguration, err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSearchTimeout)
	}

	return &SolrClient{
		client:  client,
		baseURL: trimmed,
		idField: "id",
	}, nil
}

func (c *SolrClient) Resolve(ctx context.Context, identifier string) (domain.Record, error) {
	if c == nil || c.client == nil {
		return domain.Record{}, fmt.Errorf("solr client is not initialized")
	}
	if strings.TrimSpace(identifier) == "" {
		return domain.Record{}, fmt.Errorf("%w: identifier is required", domain.ErrValidation)
	}

	response, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":    fmt.Sprintf("%s:%s", c.idField, quoteTerm(identifier)),
			"rows": strconv.Itoa(resolveRows),
			"wt":   "json",
		}).
		Get(c.baseURL + selectPath)
	if err != nil {
		return domain.Record{}, fmt.Errorf("%w: %v", domain.ErrSearchUnavailable, err)
	}

	statusCode := response.StatusCode()
	if searchUnavailableStatus(statusCode) {
		return domain.Record{}, fmt.Errorf("%w: solr returned status %d", domain.ErrSearchUnavailable, statusCode)
	}
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return domain.Record{}, fmt.Errorf("%w: solr returned status %d for %q", domain.ErrResolution, statusCode, identifier)
	}

	var parsed selectResponse
	if err := json.Unmarshal(response.Body(), &parsed); err != nil {
		return domain.Record{}, fmt.Errorf("%w: invalid solr response: %v", domain.ErrSearchUnavailable, err)
	}

	docs := parsed.Response.Docs
	switch {
	case len(docs) == 0:
		return domain.Record{}, fmt.Errorf("%w: identifier %q", domain.ErrRecordNotFound, identifier)
	case len(docs) > 1 || parsed.Response.NumFound > 1:
		return domain.Record{}, fmt.Errorf("%w: identifier %q matched %d documents", domain.ErrAmbiguous, identifier, parsed.Response.NumFound)
	}

	return recordFromDoc(identifier, docs[0]), nil
}

// searchUnavailableStatus reports statuses that no identifier can succeed
// against: server errors, throttling, and a missing or forbidden core.
func searchUnavailableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusTooManyRequests:
		return true
	}
	return statusCode >= http.StatusInternalServerError
}

func recordFromDoc(identifier string, doc map[string]json.RawMessage) domain.Record {
	record := domain.Record{
		ID:     identifier,
		Fields: make(map[string]domain.Field, len(doc)),
	}

	for name, raw := range doc {
		field, ok := decodeField(raw)
		if !ok {
			continue
		}
		record.Fields[name] = field
	}

	return record
}

func decodeField(raw json.RawMessage) (domain.Field, bool) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil || value == nil {
		return domain.Field{}, false
	}

	if items, ok := value.([]any); ok {
		values := make([]string, 0, len(items))
		for _, item := range items {
			if item == nil {
				continue
			}
			values = append(values, stringify(item))
		}
		return domain.Field{Values: values}, true
	}

	return domain.Field{Value: stringify(value)}, true
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

// quoteTerm wraps an identifier as a Solr phrase so that ':' and other query
// syntax inside object ids is matched literally.
func quoteTerm(term string) string {
	escaped := strings.ReplaceAll(term, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}
