package feeders

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/golobby/cast"
)

// Env feeds struct fields tagged `env:"NAME"` from PREFIX_NAME environment
// variables. Nested structs are walked; unset or empty variables leave the
// field untouched. Slices of strings are read comma separated.
type Env struct {
	Prefix string
}

// NewEnv creates an env feeder for prefix, e.g. "MAGKERNEL".
func NewEnv(prefix string) Env {
	return Env{Prefix: prefix}
}

// Feed reads environment variables into structure, which must be a pointer
// to a struct.
func (f Env) Feed(structure any) error {
	if f.Prefix == "" {
		return ErrEnvEmptyPrefix
	}
	rv := reflect.ValueOf(structure)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return ErrEnvInvalidStructure
	}
	return f.processStruct(rv.Elem(), strings.ToUpper(strings.TrimSuffix(f.Prefix, "_")))
}

func (f Env) processStruct(rv reflect.Value, prefix string) error {
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rv.Type().Field(i)
		if !fieldType.IsExported() {
			continue
		}

		if err := f.processField(field, &fieldType, prefix); err != nil {
			return fmt.Errorf("error in field '%s': %w", fieldType.Name, err)
		}
	}
	return nil
}

func (f Env) processField(field reflect.Value, fieldType *reflect.StructField, prefix string) error {
	switch field.Kind() {
	case reflect.Struct:
		return f.processStruct(field, prefix)
	case reflect.Pointer:
		if !field.IsNil() && field.Elem().Kind() == reflect.Struct {
			return f.processStruct(field.Elem(), prefix)
		}
	}

	envTag, ok := fieldType.Tag.Lookup("env")
	if !ok || envTag == "" {
		return nil
	}
	value := os.Getenv(prefix + "_" + strings.ToUpper(envTag))
	if value == "" {
		return nil
	}
	return setFieldValue(field, value)
}

func setFieldValue(field reflect.Value, strValue string) error {
	if !field.CanSet() {
		return ErrFieldNotSettable
	}

	if field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String {
		parts := strings.Split(strValue, ",")
		out := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = reflect.Append(out, reflect.ValueOf(p).Convert(field.Type().Elem()))
			}
		}
		field.Set(out)
		return nil
	}

	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(strValue)
		if err != nil {
			return fmt.Errorf("cannot convert value to duration: %w", err)
		}
		field.SetInt(int64(d))
		return nil
	}

	convertedValue, err := cast.FromType(strValue, field.Type())
	if err != nil {
		return fmt.Errorf("cannot convert value to type %v: %w", field.Type(), err)
	}
	field.Set(reflect.ValueOf(convertedValue).Convert(field.Type()))
	return nil
}
