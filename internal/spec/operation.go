package spec

import (
	"regexp"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/fedora-infra/fasjson-client/pkg/fasjson"
)

// Parameter locations.
const (
	InPath   = "path"
	InQuery  = "query"
	InHeader = "header"
	InCookie = "cookie"
	InBody   = "body"
)

// Content types the request builder can encode.
const (
	ContentTypeJSON      = "application/json"
	ContentTypeForm      = "application/x-www-form-urlencoded"
	ContentTypeMultipart = "multipart/form-data"
)

const (
	defaultBodyParam  = "body"
	originalParamName = "x-originalParamName"
)

var nonIdentifier = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Param is a non-body parameter of an Operation.
type Param struct {
	Name        string
	In          string
	Type        string
	ItemsType   string
	Format      string
	Required    bool
	Description string
	Style       string
	Explode     bool
}

// Body describes the request body of an Operation.
type Body struct {
	// Name is the argument holding the whole body.
	Name         string
	Required     bool
	Description  string
	ContentTypes []string
	Properties   []string
	Mandatory    []string
}

// Operation is one callable operation of a Document.
type Operation struct {
	name        string
	method      string
	path        string
	summary     string
	description string
	tags        []string
	deprecated  bool
	params      []Param
	body        *Body
	produces    []string
}

// NewOperation builds an Operation from a Document endpoint. Parameters
// declared on the path item apply unless the operation overrides them.
func NewOperation(endpoint Endpoint) *Operation {
	op := endpoint.Operation

	o := &Operation{
		name:        OperationName(endpoint),
		method:      endpoint.Method,
		path:        endpoint.Path,
		summary:     op.Summary,
		description: op.Description,
		tags:        append([]string(nil), op.Tags...),
		deprecated:  op.Deprecated,
		params:      mergeParams(endpoint.Item.Parameters, op.Parameters),
		produces:    responseContentTypes(op),
	}

	if op.RequestBody != nil && op.RequestBody.Value != nil {
		o.body = newBody(op.RequestBody.Value)
	}

	return o
}

// OperationName returns the operationId, or a name derived from the
// method and path when the spec gives none.
func OperationName(endpoint Endpoint) string {
	if id := strings.TrimSpace(endpoint.Operation.OperationID); id != "" {
		return id
	}

	path := strings.Trim(nonIdentifier.ReplaceAllString(endpoint.Path, "_"), "_")
	if path == "" {
		return strings.ToLower(endpoint.Method)
	}

	return strings.ToLower(endpoint.Method) + "_" + strings.ToLower(path)
}

func (o *Operation) Name() string        { return o.name }
func (o *Operation) Method() string      { return o.method }
func (o *Operation) Path() string        { return o.path }
func (o *Operation) Summary() string     { return o.summary }
func (o *Operation) Description() string { return o.description }
func (o *Operation) Deprecated() bool    { return o.deprecated }
func (o *Operation) Body() *Body         { return o.body }

// Tags returns the resource groups the operation is declared in.
func (o *Operation) Tags() []string {
	return append([]string(nil), o.tags...)
}

// Consumes returns the request content types.
func (o *Operation) Consumes() []string {
	if o.body == nil {
		return nil
	}

	return append([]string(nil), o.body.ContentTypes...)
}

// Produces returns the content types of the success responses.
func (o *Operation) Produces() []string {
	return append([]string(nil), o.produces...)
}

// Params returns the non-body parameters.
func (o *Operation) Params() []Param {
	return append([]Param(nil), o.params...)
}

// Parameters describes every parameter, the body included.
func (o *Operation) Parameters() []fasjson.Parameter {
	out := make([]fasjson.Parameter, 0, len(o.params)+1)

	for _, p := range o.params {
		out = append(out, fasjson.Parameter{
			Name:        p.Name,
			In:          p.In,
			Type:        p.Type,
			Format:      p.Format,
			Required:    p.Required,
			Description: p.Description,
		})
	}

	if o.body != nil {
		out = append(out, fasjson.Parameter{
			Name:        o.body.Name,
			In:          InBody,
			Type:        "object",
			Required:    o.body.Required,
			Description: o.body.Description,
		})
	}

	return out
}

func mergeParams(shared, own openapi3.Parameters) []Param {
	var params []Param

	index := make(map[string]int)

	for _, list := range []openapi3.Parameters{shared, own} {
		for _, ref := range list {
			if ref == nil || ref.Value == nil {
				continue
			}

			p := newParam(ref.Value)
			key := p.In + ":" + p.Name

			if i, ok := index[key]; ok {
				params[i] = p

				continue
			}

			index[key] = len(params)
			params = append(params, p)
		}
	}

	return params
}

func newParam(p *openapi3.Parameter) Param {
	param := Param{
		Name:        p.Name,
		In:          p.In,
		Required:    p.Required || p.In == InPath,
		Description: p.Description,
		Style:       p.Style,
	}

	if param.Style == "" {
		param.Style = openapi3.SerializationForm
		if p.In == InPath || p.In == InHeader {
			param.Style = openapi3.SerializationSimple
		}
	}

	param.Explode = param.Style == openapi3.SerializationForm
	if p.Explode != nil {
		param.Explode = *p.Explode
	}

	if p.Schema != nil && p.Schema.Value != nil {
		schema := p.Schema.Value
		param.Type = schemaType(schema)
		param.Format = schema.Format

		if schema.Items != nil && schema.Items.Value != nil {
			param.ItemsType = schemaType(schema.Items.Value)
		}
	}

	return param
}

func newBody(rb *openapi3.RequestBody) *Body {
	body := &Body{
		Name:        defaultBodyParam,
		Required:    rb.Required,
		Description: rb.Description,
	}

	if name, ok := rb.Extensions[originalParamName].(string); ok && name != "" {
		body.Name = name
	}

	body.ContentTypes = sortedContentTypes(rb.Content)

	for _, contentType := range body.ContentTypes {
		media := rb.Content[contentType]
		if media == nil || media.Schema == nil || media.Schema.Value == nil {
			continue
		}

		schema := media.Schema.Value
		for name := range schema.Properties {
			body.Properties = append(body.Properties, name)
		}

		sort.Strings(body.Properties)
		body.Mandatory = append([]string(nil), schema.Required...)

		break
	}

	return body
}

// sortedContentTypes orders JSON first, then forms, then the rest.
func sortedContentTypes(content openapi3.Content) []string {
	types := make([]string, 0, len(content))
	for contentType := range content {
		types = append(types, contentType)
	}

	sort.Slice(types, func(i, j int) bool {
		ri, rj := contentRank(types[i]), contentRank(types[j])
		if ri != rj {
			return ri < rj
		}

		return types[i] < types[j]
	})

	return types
}

func contentRank(contentType string) int {
	switch {
	case isJSON(contentType):
		return 0
	case contentType == ContentTypeForm:
		return 1
	case contentType == ContentTypeMultipart:
		return 2
	default:
		return 3
	}
}

func isJSON(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	mediaType = strings.TrimSpace(strings.ToLower(mediaType))

	return mediaType == ContentTypeJSON || strings.HasSuffix(mediaType, "+json")
}

func responseContentTypes(op *openapi3.Operation) []string {
	if op.Responses == nil {
		return nil
	}

	seen := make(map[string]bool)

	var types []string

	for code, ref := range op.Responses.Map() {
		if !strings.HasPrefix(code, "2") && code != "default" {
			continue
		}

		if ref == nil || ref.Value == nil {
			continue
		}

		for contentType := range ref.Value.Content {
			if !seen[contentType] {
				seen[contentType] = true
				types = append(types, contentType)
			}
		}
	}

	sort.Strings(types)

	return types
}

func schemaType(schema *openapi3.Schema) string {
	if schema.Type == nil {
		return ""
	}

	if types := schema.Type.Slice(); len(types) > 0 {
		return types[0]
	}

	return ""
}
