package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/golobby/cast"
)

const (
	tagDefault  = "default"
	tagRequired = "required"
)

// ProcessDefaults fills every zero-valued field carrying a `default:"value"`
// tag. Nested structs are walked; nil struct pointers are left alone.
//
//	type Config struct {
//	    Addr    string        `default:":9090"`
//	    Timeout time.Duration `default:"30s"`
//	    Enabled []string      `default:"cache,scheduler"`
//	}
func ProcessDefaults(cfg any) error {
	v, err := structValue(cfg)
	if err != nil {
		return err
	}
	return processStructDefaults(v)
}

func processStructDefaults(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := processStructDefaults(field); err != nil {
				return err
			}
			continue
		}
		if field.Kind() == reflect.Pointer && field.Type().Elem().Kind() == reflect.Struct {
			if !field.IsNil() {
				if err := processStructDefaults(field.Elem()); err != nil {
					return err
				}
			}
			continue
		}

		defaultVal, hasDefault := fieldType.Tag.Lookup(tagDefault)
		if !hasDefault || !field.IsZero() {
			continue
		}
		if err := setDefaultValue(field, defaultVal); err != nil {
			return fmt.Errorf("failed to set default value for %s: %w", fieldType.Name, err)
		}
	}
	return nil
}

func setDefaultValue(field reflect.Value, defaultVal string) error {
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(defaultVal)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDefaultValueParseError, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("%w: %s", ErrUnsupportedTypeForDefault, field.Type())
		}
		parts := strings.Split(defaultVal, ",")
		out := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, p := range parts {
			out = reflect.Append(out, reflect.ValueOf(strings.TrimSpace(p)).Convert(field.Type().Elem()))
		}
		field.Set(out)
		return nil
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		converted, err := cast.FromType(defaultVal, field.Type())
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDefaultValueParseError, err)
		}
		field.Set(reflect.ValueOf(converted).Convert(field.Type()))
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedTypeForDefault, field.Kind())
	}
}

// ValidateRequired checks every field tagged `required:"true"` holds a
// non-zero value. The error lists all missing fields by dotted path.
func ValidateRequired(cfg any) error {
	v, err := structValue(cfg)
	if err != nil {
		return err
	}

	var missing []string
	validateRequiredFields(v, "", &missing)
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigRequiredFieldMissing, strings.Join(missing, ", "))
	}
	return nil
}

func validateRequiredFields(v reflect.Value, prefix string, missing *[]string) {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}
		fieldName := fieldType.Name
		if prefix != "" {
			fieldName = prefix + "." + fieldName
		}

		switch {
		case field.Kind() == reflect.Struct:
			validateRequiredFields(field, fieldName, missing)
		case field.Kind() == reflect.Pointer && field.Type().Elem().Kind() == reflect.Struct:
			if !field.IsNil() {
				validateRequiredFields(field.Elem(), fieldName, missing)
			} else if isFieldRequired(&fieldType) {
				*missing = append(*missing, fieldName)
			}
		case isFieldRequired(&fieldType) && isEmpty(field):
			*missing = append(*missing, fieldName)
		}
	}
}

func isFieldRequired(field *reflect.StructField) bool {
	required, exists := field.Tag.Lookup(tagRequired)
	return exists && required == "true"
}

func isEmpty(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	default:
		return v.IsZero()
	}
}

func structValue(cfg any) (reflect.Value, error) {
	if cfg == nil {
		return reflect.Value{}, ErrConfigNil
	}
	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return reflect.Value{}, ErrConfigNotPointer
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, ErrConfigNotStruct
	}
	return v, nil
}
