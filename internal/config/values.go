package config

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// secretPaths are masked by Redacted.
var secretPaths = map[string]bool{
	"decision.api_key":           true,
	"database.postgres.password": true,
}

// GetValue returns the value at a dot-separated path (e.g. "browser.url").
func (c *Config) GetValue(path string) (string, error) {
	v, err := lookupPath(reflect.ValueOf(c).Elem(), path)
	if err != nil {
		return "", err
	}
	return formatValue(v), nil
}

// SetValue parses value according to the field type at path and stores it.
func (c *Config) SetValue(path, value string) error {
	v, err := lookupPath(reflect.ValueOf(c).Elem(), path)
	if err != nil {
		return err
	}
	if v.Kind() == reflect.Struct {
		return fmt.Errorf("%s is a section, not a value", path)
	}
	return setFieldValue(v, value)
}

// Redacted returns the value at path with secrets masked.
func (c *Config) Redacted(path string) (string, error) {
	v, err := c.GetValue(path)
	if err != nil || !secretPaths[path] || v == "" {
		return v, err
	}
	return "********", nil
}

// RedactedCopy returns a copy of c with every secret masked.
func (c *Config) RedactedCopy() *Config {
	cp := *c
	cp.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	for p := range secretPaths {
		if masked, err := cp.Redacted(p); err == nil {
			_ = cp.SetValue(p, masked)
		}
	}
	return &cp
}

func lookupPath(v reflect.Value, path string) (reflect.Value, error) {
	if path == "" {
		return reflect.Value{}, fmt.Errorf("empty config key")
	}
	for _, name := range strings.Split(path, ".") {
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("unknown config key: %s", path)
		}
		v = fieldByTag(v, name)
		if !v.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown config key: %s", path)
		}
	}
	return v, nil
}

func fieldByTag(v reflect.Value, name string) reflect.Value {
	t := v.Type()
	for i := range t.NumField() {
		if yamlName(t.Field(i)) == name {
			return v.Field(i)
		}
	}
	return reflect.Value{}
}

func yamlName(f reflect.StructField) string {
	if tag := f.Tag.Get("yaml"); tag != "" {
		return strings.Split(tag, ",")[0]
	}
	return strings.ToLower(f.Name)
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration %q: %w", value, err)
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer %q: %w", value, err)
		}
		field.SetInt(i)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", value, err)
		}
		field.SetFloat(f)
	case reflect.Bool:
		field.SetBool(parseBool(value))
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type())
		}
		var parts []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

func formatValue(v reflect.Value) string {
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Int, reflect.Int64:
		if v.Type() == durationType {
			return time.Duration(v.Int()).String()
		}
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Slice:
		parts := make([]string, v.Len())
		for i := range v.Len() {
			parts[i] = formatValue(v.Index(i))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

// AllConfigPaths returns every settable leaf path, sorted.
func AllConfigPaths() []string {
	var out []string
	collectPaths("", reflect.TypeOf(Config{}), &out)
	sort.Strings(out)
	return out
}

func collectPaths(prefix string, t reflect.Type, out *[]string) {
	for i := range t.NumField() {
		f := t.Field(i)
		p := yamlName(f)
		if prefix != "" {
			p = prefix + "." + p
		}
		if f.Type.Kind() == reflect.Struct && f.Type != durationType {
			collectPaths(p, f.Type, out)
			continue
		}
		*out = append(*out, p)
	}
}
