package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime"
	"strings"

	"github.com/fedora-infra/fasjson-client/internal/auth"
	"github.com/fedora-infra/fasjson-client/internal/constants"
	"github.com/fedora-infra/fasjson-client/internal/http"
	"github.com/fedora-infra/fasjson-client/internal/spec"
	"github.com/fedora-infra/fasjson-client/pkg/fasjson"
)

// Client implements the fasjson.Client interface. It is read-only once
// New returns and safe for concurrent use.
type Client struct {
	httpClient *http.Client
	document   *spec.Document
	registry   *spec.Registry
	serverURL  string
	formats    fasjson.Formats
	logger     fasjson.Logger
}

// createProvider returns the configured provider, or a GSSAPI provider.
func createProvider(config *fasjson.Config) fasjson.CredentialProvider {
	if config.CredentialProvider != nil {
		return config.CredentialProvider
	}

	return auth.NewGSSAPIProvider(config.Kerberos)
}

// createHTTPClientOptions builds HTTP client options from config.
func createHTTPClientOptions(config *fasjson.Config) []http.Option {
	httpOpts := []http.Option{
		http.WithPrincipal(config.Principal),
		http.WithTimeout(config.HTTPTimeout),
	}

	if config.HTTPClient != nil {
		httpOpts = append(httpOpts, http.WithHTTPClient(config.HTTPClient))
	}

	if config.Logger != nil {
		httpOpts = append(httpOpts, http.WithLogger(config.Logger))
	}

	if config.Debug {
		httpOpts = append(httpOpts, http.WithDebug(true))
	}

	if config.UserAgent != "" {
		httpOpts = append(httpOpts, http.WithUserAgent(config.UserAgent))
	}

	if config.Interceptors != nil {
		httpOpts = append(httpOpts, http.WithInterceptors(config.Interceptors))
	}

	if config.RetryMax > 0 {
		retryWaitMin := constants.DefaultRetryWaitMin
		retryWaitMax := constants.DefaultRetryWaitMax

		if config.RetryWaitMin > 0 {
			retryWaitMin = config.RetryWaitMin
		}

		if config.RetryWaitMax > 0 {
			retryWaitMax = config.RetryWaitMax
		}

		httpOpts = append(httpOpts, http.WithRetryConfig(config.RetryMax, retryWaitMin, retryWaitMax))
	}

	return httpOpts
}

// New loads the spec of the configured deployment and builds the
// operation registry. Every failure is a *fasjson.ClientError.
func New(ctx context.Context, config *fasjson.Config) (*Client, error) {
	if config == nil {
		return nil, fasjson.NewClientError(fasjson.ErrInvalidConfig, constants.CodeInvalidArgument,
			map[string]interface{}{"message": "configuration is required"}, nil)
	}

	cfg := *config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = fasjson.NopLogger{}
	}

	httpClient := http.NewClient(cfg.BaseURL(), createProvider(&cfg), createHTTPClientOptions(&cfg)...)

	loaderOpts := []spec.LoaderOption{spec.WithLogger(logger)}
	if cfg.SpecCache != nil {
		loaderOpts = append(loaderOpts, spec.WithCache(cfg.SpecCache, cfg.SpecCacheTTL))
	}

	document, err := spec.NewLoader(httpClient, loaderOpts...).Load(ctx, cfg.SpecURL())
	if err != nil {
		return nil, err
	}

	serverURL := document.ServerURL()
	if serverURL == "" {
		serverURL = cfg.FallbackServerURL()
	}

	client := &Client{
		httpClient: httpClient,
		document:   document,
		registry:   spec.NewRegistry(document, logger),
		serverURL:  serverURL,
		formats:    fasjson.DefaultFormats().Merge(cfg.Formats),
		logger:     logger,
	}

	logger.Debug("Client ready", map[string]interface{}{
		"spec":       document.SpecURL(),
		"server":     serverURL,
		"operations": client.registry.Len(),
	})

	return client, nil
}

// Operations implements fasjson.Client.Operations.
func (c *Client) Operations() []string {
	return c.registry.Names()
}

// Operation implements fasjson.Client.Operation.
func (c *Client) Operation(name string) (fasjson.Operation, error) {
	op, err := c.registry.Get(name)
	if err != nil {
		return nil, err
	}

	return &operation{client: c, op: op}, nil
}

// Call implements fasjson.Client.Call.
func (c *Client) Call(ctx context.Context, name string, args fasjson.Args) (*fasjson.Response, error) {
	op, err := c.Operation(name)
	if err != nil {
		return nil, err
	}

	return op.Call(ctx, args)
}

// ListAllEntities implements fasjson.Client.ListAllEntities. A zero
// pageSize selects the default page size.
func (c *Client) ListAllEntities(ctx context.Context, entity string, pageSize int) (*fasjson.EntityIterator, error) {
	if entity == "" {
		return nil, fasjson.NewUsageError("an entity name is required")
	}

	if pageSize < 0 {
		return nil, fasjson.NewUsageError("page size must be positive, got %d", pageSize)
	}

	if pageSize == 0 {
		pageSize = constants.DefaultPageSize
	}

	name := constants.ListOperationPrefix + entity

	op, err := c.Operation(name)
	if err != nil {
		return nil, fasjson.NewUsageError("cannot list %q: no operation named %s", entity, name)
	}

	return fasjson.NewEntityIterator(ctx, op, nil, pageSize), nil
}

// Spec implements fasjson.Client.Spec.
func (c *Client) Spec() fasjson.SpecInfo {
	return fasjson.SpecInfo{
		Title:      c.document.Title(),
		Version:    c.document.Version(),
		Dialect:    c.document.Dialect(),
		SpecURL:    c.document.SpecURL(),
		ServerURL:  c.serverURL,
		Operations: c.registry.Len(),
		Collisions: c.registry.Collisions(),
	}
}

// invoke builds, authenticates, sends and classifies one call.
func (c *Client) invoke(ctx context.Context, o *operation, args fasjson.Args) (*fasjson.Response, error) {
	req, err := spec.BuildRequest(c.serverURL, o.op, args, c.formats)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(ctx, req)
	if err != nil {
		var clientErr *fasjson.ClientError
		if errors.As(err, &clientErr) {
			return nil, clientErr
		}

		return nil, fasjson.NewTransportError(err)
	}

	if !resp.IsSuccess() {
		apiErr, err := fasjson.NewAPIError(resp.Raw, resp.Body)
		if err != nil {
			return nil, err
		}

		return nil, apiErr
	}

	result, page, err := decodeBody(resp)
	if err != nil {
		return nil, undecodable(resp, err)
	}

	return fasjson.NewResponse(fasjson.ResponseParams{
		Operation:  o,
		Args:       args,
		Result:     result,
		Page:       page,
		StatusCode: resp.StatusCode,
		Header:     resp.Headers,
		Body:       resp.Body,
	}), nil
}

// decodeBody decodes a success body according to its content type. The
// result of a JSON object carrying a "result" key is that key's value.
func decodeBody(resp *http.Response) (interface{}, *fasjson.Page, error) {
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return nil, nil, nil
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Headers.Get("Content-Type"))

	switch {
	case isJSON(mediaType) || (mediaType == "" && json.Valid(body)):
		return decodeJSON(body)
	case strings.HasPrefix(mediaType, "text/"):
		return string(resp.Body), nil, nil
	default:
		return bytes.Clone(resp.Body), nil, nil
	}
}

func decodeJSON(body []byte) (interface{}, *fasjson.Page, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil || envelope == nil {
		var decoded interface{}
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, nil, err
		}

		return decoded, nil, nil
	}

	var page *fasjson.Page
	if raw, ok := envelope["page"]; ok {
		page = fasjson.DecodePage(raw)
	}

	var result interface{}

	raw, ok := envelope["result"]
	if !ok {
		raw = body
	}

	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, nil, err
	}

	return result, page, nil
}

func isJSON(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// undecodable reports a success response whose body does not match its
// declared content type.
func undecodable(resp *http.Response, err error) *fasjson.APIError {
	return &fasjson.APIError{
		BaseError: fasjson.BaseError{
			Message: "invalid response body: " + err.Error(),
			Code:    resp.StatusCode,
			Data: map[string]interface{}{
				"body":     string(resp.Body),
				"response": resp.Raw,
				"result":   nil,
			},
			Err: err,
		},
	}
}

// operation binds a registry entry to the client that calls it.
type operation struct {
	client *Client
	op     *spec.Operation
}

func (o *operation) Name() string                    { return o.op.Name() }
func (o *operation) Method() string                  { return o.op.Method() }
func (o *operation) Path() string                    { return o.op.Path() }
func (o *operation) Summary() string                 { return o.op.Summary() }
func (o *operation) Tags() []string                  { return o.op.Tags() }
func (o *operation) Consumes() []string              { return o.op.Consumes() }
func (o *operation) Produces() []string              { return o.op.Produces() }
func (o *operation) Parameters() []fasjson.Parameter { return o.op.Parameters() }

// Call implements fasjson.Operation.Call.
func (o *operation) Call(ctx context.Context, args fasjson.Args) (*fasjson.Response, error) {
	return o.client.invoke(ctx, o, args)
}

// String returns the operation name.
func (o *operation) String() string {
	return o.op.Name()
}
