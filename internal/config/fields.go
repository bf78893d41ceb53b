package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// Field describes one option for flag registration.
type Field struct {
	Name    string
	Usage   string
	Kind    reflect.Kind
	Default string

	index int
}

var (
	fieldsOnce sync.Once
	fieldList  []Field
	fieldIndex map[string]Field
)

// Fields lists every option in declaration order.
func Fields() []Field {
	fieldsOnce.Do(buildFields)
	return fieldList
}

func fieldsByName() map[string]Field {
	fieldsOnce.Do(buildFields)
	return fieldIndex
}

func buildFields() {
	defaults := reflect.ValueOf(Default())
	t := reflect.TypeOf(Config{})
	fieldIndex = make(map[string]Field, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		name := sf.Tag.Get("name")
		if name == "" {
			continue
		}
		f := Field{
			Name:  name,
			Usage: sf.Tag.Get("usage"),
			Kind:  sf.Type.Kind(),
			index: i,
		}
		f.Default = format(defaults.Field(i))
		fieldList = append(fieldList, f)
		fieldIndex[name] = f
	}
}

func (f Field) get(c Config) string {
	return format(reflect.ValueOf(c).Field(f.index))
}

func (f Field) set(c *Config, value string) error {
	v := reflect.ValueOf(c).Elem().Field(f.index)
	switch v.Kind() {
	case reflect.String:
		v.SetString(value)
	case reflect.Bool:
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Float64:
		x, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		v.SetFloat(x)
	case reflect.Slice:
		var parts []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		v.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported option type %s", v.Kind())
	}
	return nil
}

func format(v reflect.Value) string {
	switch v.Kind() {
	case reflect.Slice:
		parts := make([]string, v.Len())
		for i := range parts {
			parts[i] = v.Index(i).String()
		}
		return strings.Join(parts, ",")
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	default:
		return fmt.Sprint(v.Interface())
	}
}
