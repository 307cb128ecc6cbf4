package jsonapisource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nimbusdata/syncengine/internal/model"
)

// ClientOptions configures a Client: a bounded exponential backoff over a
// small retry budget, honoring Retry-After on 429/5xx.
type ClientOptions struct {
	Host       string
	Namespace  string
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Headers    map[string]string
}

// Client issues JSON:API requests for one operation at a time. It has no
// knowledge of the ActionQueue/Notifier lifecycle above it; that belongs
// to Source, which wraps a Client with source.Base.
type Client struct {
	host       string
	namespace  string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	headers    map[string]string
}

func NewClient(opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &Client{
		host:       strings.TrimRight(opts.Host, "/"),
		namespace:  opts.Namespace,
		httpClient: httpClient,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		headers:    opts.Headers,
	}
}

// Do dispatches op according to the JSON:API operation table below and
// returns the parsed response document, if any.
func (c *Client) Do(ctx context.Context, op model.Operation) (*Document, error) {
	req, err := c.buildRequest(op)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, req.method, req.url, req.body)
}

type builtRequest struct {
	method string
	url    string
	body   any
}

func (c *Client) buildRequest(op model.Operation) (builtRequest, error) {
	switch op.Type {
	case model.OpAddRecord:
		if op.FullRecord == nil {
			return builtRequest{}, fmt.Errorf("jsonapisource: addRecord requires a full record")
		}
		return builtRequest{
			method: http.MethodPost,
			url:    BuildURL(c.host, c.namespace, op.FullRecord.Type, ""),
			body:   Document{Data: ref(recordToResource(*op.FullRecord))},
		}, nil

	case model.OpReplaceRecord:
		if op.FullRecord == nil {
			return builtRequest{}, fmt.Errorf("jsonapisource: replaceRecord requires a full record")
		}
		return builtRequest{
			method: http.MethodPatch,
			url:    BuildURL(c.host, c.namespace, op.Record.Type, op.Record.ID),
			body:   Document{Data: ref(recordToResource(*op.FullRecord))},
		}, nil

	case model.OpRemoveRecord:
		return builtRequest{
			method: http.MethodDelete,
			url:    BuildURL(c.host, c.namespace, op.Record.Type, op.Record.ID),
		}, nil

	case model.OpAddToHasMany:
		return builtRequest{
			method: http.MethodPost,
			url:    relationshipURL(c.host, c.namespace, op.Record.Type, op.Record.ID, op.Relationship),
			body:   identifierListBody(*op.RelatedRecord),
		}, nil

	case model.OpRemoveFromHasMany:
		return builtRequest{
			method: http.MethodDelete,
			url:    relationshipURL(c.host, c.namespace, op.Record.Type, op.Record.ID, op.Relationship),
			body:   identifierListBody(*op.RelatedRecord),
		}, nil

	case model.OpReplaceHasMany:
		rel := model.NewHasMany(op.RelatedRecords...)
		return builtRequest{
			method: http.MethodPatch,
			url:    BuildURL(c.host, c.namespace, op.Record.Type, op.Record.ID),
			body: Document{Data: ref(ResourceObject{
				Type: pluralize(op.Record.Type), ID: op.Record.ID,
				Relationships: map[string]RelationshipObject{op.Relationship: relationshipToObject(rel)},
			})},
		}, nil

	case model.OpReplaceHasOne:
		rel := model.NewHasOne(op.RelatedRecord)
		return builtRequest{
			method: http.MethodPatch,
			url:    BuildURL(c.host, c.namespace, op.Record.Type, op.Record.ID),
			body: Document{Data: ref(ResourceObject{
				Type: pluralize(op.Record.Type), ID: op.Record.ID,
				Relationships: map[string]RelationshipObject{op.Relationship: relationshipToObject(rel)},
			})},
		}, nil

	case model.OpReplaceKey:
		// replaceKey updates the KeyMap locally (the caller's
		// responsibility) and forwards as a plain attribute-shaped PATCH
		// here, since JSON:API has no first-class "key" concept distinct
		// from an attribute.
		return builtRequest{
			method: http.MethodPatch,
			url:    BuildURL(c.host, c.namespace, op.Record.Type, op.Record.ID),
			body: Document{Data: ref(ResourceObject{
				Type: pluralize(op.Record.Type), ID: op.Record.ID,
				Attributes: map[string]any{op.Key: op.Value},
			})},
		}, nil

	case model.OpReplaceAttribute:
		return builtRequest{
			method: http.MethodPatch,
			url:    BuildURL(c.host, c.namespace, op.Record.Type, op.Record.ID),
			body: Document{Data: ref(ResourceObject{
				Type: pluralize(op.Record.Type), ID: op.Record.ID,
				Attributes: map[string]any{op.Attribute: op.Value},
			})},
		}, nil

	default:
		return builtRequest{}, fmt.Errorf("jsonapisource: unsupported operation %q", op.Type)
	}
}

func identifierListBody(keys ...model.Key) any {
	idents := make([]ResourceIdentifier, len(keys))
	for i, k := range keys {
		idents[i] = ResourceIdentifier{Type: pluralize(k.Type), ID: k.ID}
	}
	return struct {
		Data []ResourceIdentifier `json:"data"`
	}{Data: idents}
}

func ref(r ResourceObject) *ResourceObject { return &r }

func (c *Client) send(ctx context.Context, method, url string, body any) (*Document, error) {
	var bodyBytes []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyBytes = encoded
	}

	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if bodyBytes != nil {
			reader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/vnd.api+json")
		req.Header.Set("Accept", "application/vnd.api+json")
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, err
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if len(respBody) == 0 {
				return nil, nil
			}
			var doc Document
			if err := json.Unmarshal(respBody, &doc); err != nil {
				return nil, err
			}
			return &doc, nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		return nil, parseServerError(resp.StatusCode, respBody)
	}
}

func parseServerError(status int, body []byte) *model.ServerError {
	var doc Document
	if json.Unmarshal(body, &doc) == nil && len(doc.Errors) > 0 {
		detail := doc.Errors[0].Detail
		if detail == "" {
			detail = doc.Errors[0].Title
		}
		payload := map[string]any{"errors": doc.Errors}
		return &model.ServerError{StatusCode: status, Detail: detail, Payload: payload}
	}
	return &model.ServerError{StatusCode: status, Detail: strings.TrimSpace(string(body))}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
