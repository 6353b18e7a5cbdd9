package fasjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Argument names used to navigate pages.
const (
	PageNumberArg = "page_number"
	PageSizeArg   = "page_size"
)

// Response is the normalized result of a successful operation call.
// It is immutable.
type Response struct {
	result     interface{}
	page       *Page
	operation  Operation
	args       Args
	statusCode int
	header     http.Header
	body       []byte
}

// ResponseParams holds what NewResponse needs to build a Response.
type ResponseParams struct {
	Operation  Operation
	Args       Args
	Result     interface{}
	Page       *Page
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewResponse builds a Response. Args are copied.
func NewResponse(params ResponseParams) *Response {
	var page *Page
	if params.Page != nil {
		p := *params.Page
		page = &p
	}

	return &Response{
		result:     params.Result,
		page:       page,
		operation:  params.Operation,
		args:       params.Args.Clone(),
		statusCode: params.StatusCode,
		header:     params.Header.Clone(),
		body:       bytes.Clone(params.Body),
	}
}

// Result returns the decoded payload.
func (r *Response) Result() interface{} {
	return r.result
}

// Page returns a copy of the pagination metadata, or nil when the result
// is not paginated.
func (r *Response) Page() *Page {
	if r.page == nil {
		return nil
	}

	p := *r.page

	return &p
}

// Operation returns the operation that produced the response.
func (r *Response) Operation() Operation {
	return r.operation
}

// Args returns a copy of the arguments the operation was called with.
func (r *Response) Args() Args {
	return r.args.Clone()
}

// StatusCode returns the HTTP status of the exchange.
func (r *Response) StatusCode() int {
	return r.statusCode
}

// Header returns a copy of the response headers.
func (r *Response) Header() http.Header {
	return r.header.Clone()
}

// RawBody returns a copy of the undecoded body.
func (r *Response) RawBody() []byte {
	return bytes.Clone(r.body)
}

// Decode converts the result into v, which is typically a pointer to a
// struct or a slice of structs.
func (r *Response) Decode(v interface{}) error {
	data, err := json.Marshal(r.result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}

	return nil
}

// Records returns the result as a list of records. It fails when the
// result is not a list.
func (r *Response) Records() ([]interface{}, error) {
	switch v := r.result.(type) {
	case []interface{}:
		return v, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrNotACollection, r.result)
	}
}

// String renders the result.
func (r *Response) String() string {
	return fmt.Sprint(r.result)
}

// GoString renders the response with its originating call.
func (r *Response) GoString() string {
	name := ""
	if r.operation != nil {
		name = r.operation.Name()
	}

	return fmt.Sprintf("<Response for %s(%s)>", name, r.args)
}

// NextPage fetches the page after this one.
func (r *Response) NextPage(ctx context.Context) (*Response, error) {
	return r.shiftPage(ctx, 1)
}

// PrevPage fetches the page before this one.
func (r *Response) PrevPage(ctx context.Context) (*Response, error) {
	return r.shiftPage(ctx, -1)
}

func (r *Response) shiftPage(ctx context.Context, shift int) (*Response, error) {
	if r.page == nil || r.operation == nil {
		return nil, newPaginationError(ErrNoPagination, ErrNoPagination.Error(), nil)
	}

	target := r.page.PageNumber + shift
	if target < 1 || target > r.page.TotalPages {
		return nil, newPaginationError(ErrPageOutOfRange, fmt.Sprintf("There is no page %d", target),
			map[string]interface{}{
				"page_number": target,
				"total_pages": r.page.TotalPages,
			})
	}

	args := r.args.Clone()
	args[PageNumberArg] = target

	if r.page.PageSize > 0 {
		args[PageSizeArg] = r.page.PageSize
	}

	return r.operation.Call(ctx, args)
}

// DecodePage reads pagination metadata from the raw value of a body's
// page key. Missing sub-fields are tolerated: a missing page number
// means the first page, a missing total means the current page is the
// last one. It returns nil when raw is absent or not an object.
func DecodePage(raw json.RawMessage) *Page {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}

	var wire struct {
		PageNumber   *int `json:"page_number"`
		PageSize     *int `json:"page_size"`
		TotalPages   *int `json:"total_pages"`
		TotalResults *int `json:"total_results"`
	}

	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil
	}

	page := &Page{PageNumber: 1, TotalResults: wire.TotalResults}

	if wire.PageNumber != nil {
		page.PageNumber = *wire.PageNumber
	}

	if wire.PageSize != nil {
		page.PageSize = *wire.PageSize
	}

	page.TotalPages = page.PageNumber
	if wire.TotalPages != nil {
		page.TotalPages = *wire.TotalPages
	}

	return page
}
