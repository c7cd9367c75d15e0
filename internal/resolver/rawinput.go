package resolver

import (
	"reflect"
	"strings"
)

// RawInput is a caller-supplied image-like value of unknown shape. It is one
// of Str, Seq, Mapping or Opaque; a nil RawInput resolves to nothing.
type RawInput interface {
	isRawInput()
}

// Str is a URL, a data URI, a file id or a JSON-encoded object.
type Str string

// Seq is an ordered list of inputs.
type Seq []RawInput

// Mapping is a file variable or wrapper object with fields such as
// transfer_method, url, remote_url, value and the file id fields.
type Mapping map[string]any

// Opaque is any other value, typically a host file handle exposing an id,
// a blob or a url.
type Opaque struct {
	Value any
}

func (Str) isRawInput()     {}
func (Seq) isRawInput()     {}
func (Mapping) isRawInput() {}
func (Opaque) isRawInput()  {}

// FromValue classifies a decoded JSON value (or any Go value) as a RawInput.
func FromValue(v any) RawInput {
	switch t := v.(type) {
	case nil:
		return nil
	case RawInput:
		return t
	case string:
		return Str(t)
	case []string:
		seq := make(Seq, 0, len(t))
		for _, item := range t {
			seq = append(seq, Str(item))
		}
		return seq
	case []any:
		seq := make(Seq, 0, len(t))
		for _, item := range t {
			seq = append(seq, FromValue(item))
		}
		return seq
	case []map[string]any:
		seq := make(Seq, 0, len(t))
		for _, item := range t {
			seq = append(seq, Mapping(item))
		}
		return seq
	case map[string]any:
		return Mapping(t)
	default:
		return Opaque{Value: v}
	}
}

// Host file objects may answer through methods instead of fields.
type (
	fileIDer   interface{ FileID() string }
	blobber    interface{ Blob() []byte }
	mimeTyper  interface{ MIMEType() string }
	urlCarrier interface{ URL() string }
)

// probe reads attribute key of an opaque value: a method for the common
// attributes, a string-keyed map entry, or an exported struct field matched
// by json tag or by name ignoring case and underscores. Missing attributes
// yield nil, and so does an accessor that panics (a typed-nil handle, say).
func probe(v any, key string) (attr any) {
	defer func() {
		if recover() != nil {
			attr = nil
		}
	}()

	switch key {
	case "id":
		if h, ok := v.(fileIDer); ok {
			return h.FileID()
		}
	case "blob":
		if h, ok := v.(blobber); ok {
			return h.Blob()
		}
	case "mime_type":
		if h, ok := v.(mimeTyper); ok {
			return h.MIMEType()
		}
	case "url":
		if h, ok := v.(urlCarrier); ok {
			return h.URL()
		}
	}

	if m, ok := v.(map[string]any); ok {
		return m[key]
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		entry := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !entry.IsValid() {
			return nil
		}
		return entry.Interface()
	case reflect.Struct:
	default:
		return nil
	}

	rt := rv.Type()
	want := foldName(key)
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if tag == key || foldName(field.Name) == want {
			return rv.Field(i).Interface()
		}
	}
	return nil
}

func foldName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", ""))
}
