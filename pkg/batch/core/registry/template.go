package registry

import (
	"fmt"
	"strings"
)

// Reserved template fields filled from the domain instead of the vocabulary.
const (
	FieldContext = "context"
	FieldHint1   = "h1"
	FieldHint2   = "h2"
)

// IsReservedField reports whether name is filled from domain context rather than vocabulary.
func IsReservedField(name string) bool {
	return name == FieldContext || name == FieldHint1 || name == FieldHint2
}

// Fields returns the distinct {NAME} fields of a template in first-use order.
// "{{" and "}}" are literal braces.
func Fields(tmpl string) ([]string, error) {
	var fields []string
	seen := map[string]bool{}
	err := scan(tmpl, func(name string) (string, error) {
		if !seen[name] {
			seen[name] = true
			fields = append(fields, name)
		}
		return "", nil
	}, nil)
	return fields, err
}

// Render fills every {NAME} field of tmpl from values. A field without a value is an error.
func Render(tmpl string, values map[string]string) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl))
	err := scan(tmpl, func(name string) (string, error) {
		v, ok := values[name]
		if !ok {
			return "", fmt.Errorf("template field {%s} has no value", name)
		}
		return v, nil
	}, &b)
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

func scan(tmpl string, field func(string) (string, error), out *strings.Builder) error {
	write := func(s string) {
		if out != nil {
			out.WriteString(s)
		}
	}
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch {
		case c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			write("{")
			i++
		case c == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			write("}")
			i++
		case c == '{':
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return fmt.Errorf("unclosed '{' at offset %d", i)
			}
			name := tmpl[i+1 : i+1+end]
			if name == "" || strings.ContainsAny(name, "{ \t\n") {
				return fmt.Errorf("malformed template field %q at offset %d", name, i)
			}
			v, err := field(name)
			if err != nil {
				return err
			}
			write(v)
			i += end + 1
		case c == '}':
			return fmt.Errorf("single '}' at offset %d", i)
		default:
			if out != nil {
				out.WriteByte(c)
			}
		}
	}
	return nil
}
