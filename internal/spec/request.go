package spec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	fjhttp "github.com/fedora-infra/fasjson-client/internal/http"
	"github.com/fedora-infra/fasjson-client/pkg/fasjson"
)

// BuildRequest turns named arguments into an HTTP request for op against
// serverURL. Missing required parameters and arguments the operation
// does not declare are usage errors.
func BuildRequest(serverURL string, op *Operation, args fasjson.Args, formats fasjson.Formats) (*fjhttp.Request, error) {
	remaining := args.Clone()
	if remaining == nil {
		remaining = fasjson.Args{}
	}

	path := op.path
	query := url.Values{}
	headers := map[string]string{}

	var cookies []string

	for _, param := range op.params {
		value, ok := remaining[param.Name]
		delete(remaining, param.Name)

		if !ok || value == nil {
			if param.Required {
				return nil, fasjson.NewUsageError("%s() missing required argument %q", op.name, param.Name)
			}

			continue
		}

		values, err := serialize(param, value, formats)
		if err != nil {
			return nil, fasjson.NewUsageError("%s(): invalid value for %q: %v", op.name, param.Name, err)
		}

		switch param.In {
		case InPath:
			escaped := make([]string, len(values))
			for i, v := range values {
				escaped[i] = url.PathEscape(v)
			}

			path = strings.ReplaceAll(path, "{"+param.Name+"}", strings.Join(escaped, ","))
		case InQuery:
			if param.Explode && param.Style == openapi3.SerializationForm {
				query[param.Name] = append(query[param.Name], values...)
			} else {
				query.Set(param.Name, strings.Join(values, delimiter(param.Style)))
			}
		case InHeader:
			headers[param.Name] = strings.Join(values, ",")
		case InCookie:
			cookies = append(cookies, param.Name+"="+url.QueryEscape(strings.Join(values, ",")))
		}
	}

	if len(cookies) > 0 {
		headers["Cookie"] = strings.Join(cookies, "; ")
	}

	req := &fjhttp.Request{
		Method:    op.method,
		Path:      strings.TrimRight(serverURL, "/") + path,
		Query:     query,
		Headers:   headers,
		Operation: op.name,
	}

	if op.body != nil {
		if err := buildBody(req, op, remaining, formats); err != nil {
			return nil, err
		}
	}

	if len(remaining) > 0 {
		names := make([]string, 0, len(remaining))
		for name := range remaining {
			names = append(names, name)
		}

		sort.Strings(names)

		return nil, fasjson.NewUsageError("%s() got unexpected argument(s): %s", op.name, strings.Join(names, ", "))
	}

	return req, nil
}

// buildBody consumes the body arguments from remaining.
func buildBody(req *fjhttp.Request, op *Operation, remaining fasjson.Args, formats fasjson.Formats) error {
	body := op.body

	var payload interface{}

	if value, ok := remaining[body.Name]; ok {
		payload = value
		delete(remaining, body.Name)
	} else {
		fields := map[string]interface{}{}

		for _, name := range body.Properties {
			if value, ok := remaining[name]; ok {
				fields[name] = value
				delete(remaining, name)
			}
		}

		for _, name := range body.Mandatory {
			if _, ok := fields[name]; !ok {
				return fasjson.NewUsageError("%s() missing required argument %q", op.name, name)
			}
		}

		if len(fields) > 0 {
			payload = fields
		}
	}

	if payload == nil {
		if body.Required {
			return fasjson.NewUsageError("%s() missing required argument %q", op.name, body.Name)
		}

		return nil
	}

	contentType := ContentTypeJSON
	if len(body.ContentTypes) > 0 {
		contentType = body.ContentTypes[0]
	}

	switch {
	case isJSON(contentType):
		req.Body = payload
		req.ContentType = contentType
	case contentType == ContentTypeForm:
		form, err := formValues(payload, formats)
		if err != nil {
			return fasjson.NewUsageError("%s(): invalid form body: %v", op.name, err)
		}

		req.Body = form
		req.ContentType = contentType
	case contentType == ContentTypeMultipart:
		form, err := formValues(payload, formats)
		if err != nil {
			return fasjson.NewUsageError("%s(): invalid form body: %v", op.name, err)
		}

		data, multipartType, err := multipartBody(form)
		if err != nil {
			return fasjson.NewUsageError("%s(): invalid form body: %v", op.name, err)
		}

		req.Body = data
		req.ContentType = multipartType
	default:
		raw, err := rawBody(payload)
		if err != nil {
			return fasjson.NewUsageError("%s(): %v", op.name, err)
		}

		req.Body = raw
		req.ContentType = contentType
	}

	return nil
}

func formValues(payload interface{}, formats fasjson.Formats) (url.Values, error) {
	fields, ok := payload.(map[string]interface{})
	if !ok {
		if args, isArgs := payload.(fasjson.Args); isArgs {
			fields, ok = args, true
		}
	}

	if !ok {
		return nil, fmt.Errorf("expected an object, got %T", payload)
	}

	form := url.Values{}

	for name, value := range fields {
		values, err := serialize(Param{Name: name, Style: openapi3.SerializationForm, Explode: true}, value, formats)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}

		form[name] = values
	}

	return form, nil
}

func multipartBody(form url.Values) ([]byte, string, error) {
	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	names := make([]string, 0, len(form))
	for name := range form {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		for _, value := range form[name] {
			if err := writer.WriteField(name, value); err != nil {
				return nil, "", err
			}
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), writer.FormDataContentType(), nil
}

func rawBody(payload interface{}) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("body must be bytes or a string, got %T", payload)
	}
}

// serialize renders a parameter value as one or more strings. A
// registered format takes precedence over the default rendering.
func serialize(param Param, value interface{}, formats fasjson.Formats) ([]string, error) {
	if formatter, ok := formats[param.Format]; ok && param.Format != "" {
		s, err := formatter(value)
		if err != nil {
			return nil, err
		}

		return []string{s}, nil
	}

	rv := reflect.ValueOf(value)
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() != reflect.Uint8 {
		out := make([]string, 0, rv.Len())

		for i := 0; i < rv.Len(); i++ {
			s, err := scalar(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}

			out = append(out, s)
		}

		return out, nil
	}

	s, err := scalar(value)
	if err != nil {
		return nil, err
	}

	return []string{s}, nil
}

func scalar(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case json.Number:
		return v.String(), nil
	case fmt.Stringer:
		return v.String(), nil
	}

	rv := reflect.ValueOf(value)

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 32), nil
	case reflect.Map, reflect.Struct, reflect.Slice, reflect.Array, reflect.Func, reflect.Chan, reflect.Pointer:
		return "", fmt.Errorf("cannot serialize %T as a parameter", value)
	default:
		return fmt.Sprint(value), nil
	}
}

func delimiter(style string) string {
	switch style {
	case openapi3.SerializationPipeDelimited:
		return "|"
	case openapi3.SerializationSpaceDelimited:
		return " "
	default:
		return ","
	}
}
