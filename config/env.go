package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// loadFromEnv overrides config fields from environment variables,
// walking nested structs and honoring their `env` tags.
func loadFromEnv(cfg *Config) error {
	return walkStruct(reflect.ValueOf(cfg).Elem())
}

func walkStruct(val reflect.Value) error {
	if val.Kind() != reflect.Struct {
		return fmt.Errorf("expected struct, got %s", val.Kind())
	}

	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		sf := typ.Field(i)

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			if err := walkStruct(field); err != nil {
				return err
			}
			continue
		}

		name := sf.Tag.Get("env")
		if name == "" {
			continue
		}
		raw, ok := os.LookupEnv(name)
		if !ok || raw == "" {
			continue
		}
		if err := assign(field, sf, raw); err != nil {
			return fmt.Errorf("env %s: %w", name, err)
		}
	}
	return nil
}

// assign parses raw into the field according to its kind. Durations use
// time.ParseDuration; string slices are comma-separated; string maps
// use k=v,k2=v2.
func assign(field reflect.Value, sf reflect.StructField, raw string) error {
	if !field.CanSet() {
		return fmt.Errorf("field %s is not settable", sf.Name)
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
		return nil

	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", raw)
		}
		field.SetBool(b)
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if sf.Type == durationType {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("invalid duration %q", raw)
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer %q", raw)
		}
		field.SetInt(n)
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid unsigned integer %q", raw)
		}
		field.SetUint(n)
		return nil

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid float %q", raw)
		}
		field.SetFloat(f)
		return nil

	case reflect.Slice:
		if sf.Type.Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element %s", sf.Type.Elem().Kind())
		}
		field.Set(reflect.ValueOf(splitCSV(raw)))
		return nil

	case reflect.Map:
		if sf.Type.Key().Kind() != reflect.String || sf.Type.Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported map %s -> %s", sf.Type.Key().Kind(), sf.Type.Elem().Kind())
		}
		m := reflect.MakeMap(sf.Type)
		for _, pair := range strings.Split(raw, ",") {
			kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
			if len(kv) != 2 {
				return fmt.Errorf("invalid map entry %q", pair)
			}
			m.SetMapIndex(reflect.ValueOf(kv[0]), reflect.ValueOf(kv[1]))
		}
		field.Set(m)
		return nil

	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
}
