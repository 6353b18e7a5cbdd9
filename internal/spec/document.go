package spec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi2"
	"github.com/getkin/kin-openapi/openapi2conv"
	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"

	"github.com/fedora-infra/fasjson-client/pkg/fasjson"
)

// Dialects of the supported spec documents.
const (
	DialectSwagger2 = "swagger"
	DialectOpenAPI3 = "openapi"
)

// methodOrder is used for operations the declaration walk did not see.
var methodOrder = []string{
	http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete,
	http.MethodOptions, http.MethodHead, http.MethodPatch, http.MethodTrace,
}

// Endpoint is one method of one path of a Document.
type Endpoint struct {
	Path      string
	Method    string
	Item      *openapi3.PathItem
	Operation *openapi3.Operation
}

// Document is a parsed and validated spec. Swagger 2 documents are
// converted to OpenAPI 3 so the rest of the client sees a single model.
// A Document is never modified after Parse returns.
type Document struct {
	dialect   string
	version   string
	specURL   string
	serverURL string
	raw       []byte
	model     *openapi3.T
	endpoints []Endpoint
}

// Dialect returns the declared dialect and version, e.g. "swagger 2.0".
func (d *Document) Dialect() string {
	return d.dialect + " " + d.version
}

// Title returns info.title.
func (d *Document) Title() string {
	return d.model.Info.Title
}

// Version returns info.version.
func (d *Document) Version() string {
	return d.model.Info.Version
}

// SpecURL returns the URL the document was loaded from.
func (d *Document) SpecURL() string {
	return d.specURL
}

// ServerURL returns the API base the document declares, resolved against
// the spec URL. It is empty when the document declares none.
func (d *Document) ServerURL() string {
	return d.serverURL
}

// Raw returns the document as JSON.
func (d *Document) Raw() []byte {
	return bytes.Clone(d.raw)
}

// Model returns the OpenAPI 3 model of the document.
func (d *Document) Model() *openapi3.T {
	return d.model
}

// Endpoints returns every operation of the document in declaration order.
func (d *Document) Endpoints() []Endpoint {
	out := make([]Endpoint, len(d.endpoints))
	copy(out, d.endpoints)

	return out
}

// Parse parses a JSON or YAML spec document fetched from specURL.
// Documents that cannot be decoded fail with fasjson.ErrSpecMalformed,
// documents that decode but are not a valid Swagger 2 or OpenAPI 3
// description fail with fasjson.ErrSpecInvalid.
func Parse(ctx context.Context, data []byte, specURL string) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, malformed(specURL, "empty document", nil)
	}

	var root yaml.Node
	yamlErr := yaml.Unmarshal(data, &root)

	raw, err := toJSON(data, &root, yamlErr)
	if err != nil {
		return nil, malformed(specURL, err.Error(), err)
	}

	var head struct {
		Swagger string          `json:"swagger"`
		OpenAPI string          `json:"openapi"`
		Paths   json.RawMessage `json:"paths"`
	}

	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, malformed(specURL, "document is not an object", err)
	}

	doc := &Document{specURL: specURL, raw: raw}

	switch {
	case head.Swagger != "":
		doc.dialect, doc.version = DialectSwagger2, head.Swagger
		err = doc.loadSwagger2(raw)
	case head.OpenAPI != "":
		doc.dialect, doc.version = DialectOpenAPI3, head.OpenAPI
		err = doc.loadOpenAPI3(raw)
	default:
		return nil, invalid(specURL, "document declares neither swagger nor openapi", nil)
	}

	if err != nil {
		return nil, invalid(specURL, err.Error(), err)
	}

	// An empty paths object decodes to nil, which Validate rejects.
	if len(head.Paths) > 0 && string(head.Paths) != "null" && doc.model.Paths == nil {
		doc.model.Paths = openapi3.NewPaths()
	}

	if err := doc.model.Validate(ctx, openapi3.DisableExamplesValidation()); err != nil {
		return nil, invalid(specURL, err.Error(), err)
	}

	var order []Endpoint
	if yamlErr == nil {
		order = declarationOrder(&root)
	}

	doc.endpoints = doc.collectEndpoints(order)

	return doc, nil
}

func (d *Document) loadSwagger2(raw []byte) error {
	if d.version != "2.0" {
		return fmt.Errorf("unsupported swagger version %q", d.version)
	}

	var v2 openapi2.T
	if err := json.Unmarshal(raw, &v2); err != nil {
		return err
	}

	v3, err := openapi2conv.ToV3(&v2)
	if err != nil {
		return err
	}

	d.model = v3
	d.serverURL = swaggerServerURL(&v2, d.specURL)

	return nil
}

func (d *Document) loadOpenAPI3(raw []byte) error {
	if !strings.HasPrefix(d.version, "3.") {
		return fmt.Errorf("unsupported openapi version %q", d.version)
	}

	loader := openapi3.NewLoader()

	v3, err := loader.LoadFromData(raw)
	if err != nil {
		return err
	}

	d.model = v3
	d.serverURL = openAPI3ServerURL(v3, d.specURL)

	return nil
}

// collectEndpoints lists the model's operations, first in the given
// order and then, sorted, any the order walk missed.
func (d *Document) collectEndpoints(order []Endpoint) []Endpoint {
	if d.model.Paths == nil {
		return nil
	}

	seen := make(map[string]bool)
	endpoints := make([]Endpoint, 0, len(order))

	add := func(path, method string) {
		key := method + " " + path
		if seen[key] {
			return
		}

		item := d.model.Paths.Value(path)
		if item == nil {
			return
		}

		op := item.GetOperation(method)
		if op == nil {
			return
		}

		seen[key] = true
		endpoints = append(endpoints, Endpoint{Path: path, Method: method, Item: item, Operation: op})
	}

	for _, endpoint := range order {
		add(endpoint.Path, endpoint.Method)
	}

	paths := d.model.Paths.InMatchingOrder()
	sort.Strings(paths)

	for _, path := range paths {
		for _, method := range methodOrder {
			add(path, method)
		}
	}

	return endpoints
}

// declarationOrder walks the paths mapping of the source document.
func declarationOrder(root *yaml.Node) []Endpoint {
	doc := root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}

	paths := mappingValue(doc, "paths")
	if paths == nil || paths.Kind != yaml.MappingNode {
		return nil
	}

	var order []Endpoint

	for i := 0; i+1 < len(paths.Content); i += 2 {
		path, item := paths.Content[i].Value, paths.Content[i+1]
		if item.Kind != yaml.MappingNode {
			continue
		}

		for j := 0; j+1 < len(item.Content); j += 2 {
			method := strings.ToUpper(item.Content[j].Value)
			if isMethod(method) {
				order = append(order, Endpoint{Path: path, Method: method})
			}
		}
	}

	return order
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}

	return nil
}

func isMethod(method string) bool {
	for _, m := range methodOrder {
		if m == method {
			return true
		}
	}

	return false
}

// toJSON returns data as JSON. JSON input is used as is, YAML input is
// decoded from its node tree.
func toJSON(data []byte, root *yaml.Node, yamlErr error) ([]byte, error) {
	if json.Valid(data) {
		return data, nil
	}

	if yamlErr != nil {
		return nil, yamlErr
	}

	var decoded interface{}
	if err := root.Decode(&decoded); err != nil {
		return nil, err
	}

	obj, ok := normalize(decoded).(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("document is a %T, not an object", decoded)
	}

	return json.Marshal(obj)
}

// normalize turns YAML mappings with non-string keys, such as response
// codes, into JSON-compatible maps.
func normalize(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		for key, item := range v {
			v[key] = normalize(item)
		}

		return v
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			out[fmt.Sprint(key)] = normalize(item)
		}

		return out
	case []interface{}:
		for i, item := range v {
			v[i] = normalize(item)
		}

		return v
	default:
		return v
	}
}

func swaggerServerURL(v2 *openapi2.T, specURL string) string {
	if v2.Host == "" && v2.BasePath == "" {
		return ""
	}

	ref := &url.URL{Host: v2.Host, Path: v2.BasePath}

	if v2.Host != "" {
		ref.Scheme = preferredScheme(v2.Schemes, specURL)
	}

	return resolve(specURL, ref)
}

// preferredScheme keeps the scheme the spec was fetched over when the
// document allows it, so a plain-http deployment is not redirected to https.
func preferredScheme(schemes []string, specURL string) string {
	var fetched string
	if u, err := url.Parse(specURL); err == nil {
		fetched = strings.ToLower(u.Scheme)
	}

	for _, scheme := range schemes {
		if fetched != "" && strings.EqualFold(scheme, fetched) {
			return fetched
		}
	}

	if len(schemes) > 0 {
		return schemes[0]
	}

	if fetched != "" {
		return fetched
	}

	return "https"
}

func openAPI3ServerURL(v3 *openapi3.T, specURL string) string {
	if len(v3.Servers) == 0 || v3.Servers[0] == nil {
		return ""
	}

	server := v3.Servers[0]
	raw := server.URL

	for name, variable := range server.Variables {
		if variable != nil {
			raw = strings.ReplaceAll(raw, "{"+name+"}", variable.Default)
		}
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return strings.TrimRight(raw, "/")
	}

	return resolve(specURL, ref)
}

func resolve(specURL string, ref *url.URL) string {
	base, err := url.Parse(specURL)
	if err != nil || ref.IsAbs() {
		return strings.TrimRight(ref.String(), "/")
	}

	return strings.TrimRight(base.ResolveReference(ref).String(), "/")
}

func malformed(specURL, message string, cause error) error {
	return fasjson.NewClientError(fasjson.ErrSpecMalformed, fasjson.CodeProtocol,
		map[string]interface{}{"url": specURL, "error": message}, cause)
}

func invalid(specURL, message string, cause error) error {
	return fasjson.NewClientError(fasjson.ErrSpecInvalid, fasjson.CodeProtocol,
		map[string]interface{}{"url": specURL, "error": message}, cause)
}
