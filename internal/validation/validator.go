// Package validation wraps go-playground/validator with a shared instance that
// reports fields by their JSON names and flattens failures into one message.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError is a single failed constraint.
type FieldError struct {
	Field string
	Tag   string
	Param string
}

func (e FieldError) Error() string {
	switch e.Tag {
	case "required":
		return fmt.Sprintf("'%s' is a required property", e.Field)
	case "oneof":
		return fmt.Sprintf("'%s' must be one of [%s]", e.Field, e.Param)
	case "type":
		return fmt.Sprintf("'%s' must be %s", e.Field, e.Param)
	default:
		return fmt.Sprintf("'%s' failed the '%s' constraint", e.Field, e.Tag)
	}
}

// Error collects the field errors of one struct.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validator returns the shared validator instance.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Struct validates s and returns *Error when any constraint fails.
func Struct(s interface{}) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &Error{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Field: fieldPath(fe.Namespace()),
			Tag:   fe.Tag(),
			Param: fe.Param(),
		})
	}
	return out
}

// fieldPath drops the root type name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

var rawMessageType = reflect.TypeOf(json.RawMessage(nil))

// TypeMismatch finds the first field of the JSON object data whose value
// cannot be decoded into the matching field of v. It returns nil when data is
// not an object or every field decodes.
func TypeMismatch(data []byte, v interface{}) *FieldError {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil
	}
	return locate(data, reflect.TypeOf(v), "")
}

func locate(data []byte, t reflect.Type, path string) *FieldError {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == rawMessageType {
		return nil
	}

	switch t.Kind() {
	case reflect.Struct:
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return &FieldError{Field: path, Tag: "type", Param: "an object"}
		}
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				continue
			}
			raw, ok := obj[name]
			if !ok {
				continue
			}
			if path != "" {
				name = path + "." + name
			}
			if fe := locate(raw, f.Type, name); fe != nil {
				return fe
			}
		}
		return nil
	case reflect.Slice, reflect.Array:
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return &FieldError{Field: path, Tag: "type", Param: "an array"}
		}
		for i, item := range items {
			if fe := locate(item, t.Elem(), fmt.Sprintf("%s[%d]", path, i)); fe != nil {
				return fe
			}
		}
		return nil
	default:
		if err := json.Unmarshal(data, reflect.New(t).Interface()); err != nil {
			return &FieldError{Field: path, Tag: "type", Param: typeName(t)}
		}
		return nil
	}
}

func typeName(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "a string"
	case reflect.Bool:
		return "a boolean"
	case reflect.Map:
		return "an object"
	case reflect.Float32, reflect.Float64,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "a number"
	default:
		return "a " + t.Kind().String()
	}
}
