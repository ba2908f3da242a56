package lead

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Field names an inline-editable lead attribute
type Field string

const (
	FieldName    Field = "name"
	FieldEmail   Field = "email"
	FieldPhone   Field = "phone"
	FieldCompany Field = "company"
	FieldSource  Field = "source"
	FieldNotes   Field = "notes"
	FieldValue   Field = "value"
)

// IsValid reports whether f can be edited through a Patch
func (f Field) IsValid() bool {
	switch f {
	case FieldName, FieldEmail, FieldPhone, FieldCompany, FieldSource, FieldNotes, FieldValue:
		return true
	}
	return false
}

// Patch is a partial update of editable lead fields. Values are normalized
// on Set: text fields hold strings, FieldValue holds a decimal.Decimal.
type Patch map[Field]any

// NewPatch builds a Patch from loosely typed input such as a decoded JSON body
func NewPatch(values map[string]any) (Patch, error) {
	p := make(Patch, len(values))
	for k, v := range values {
		if err := p.Set(Field(k), v); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Set stores a normalized value for field
func (p Patch) Set(field Field, value any) error {
	if !field.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidField, field)
	}
	if field == FieldValue {
		d, err := toDecimal(value)
		if err != nil {
			return err
		}
		p[field] = d
		return nil
	}
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("%w: %s expects text, got %T", ErrInvalidFieldValue, field, value)
	}
	p[field] = s
	return nil
}

// Merge returns a new Patch holding p overlaid with other; values in other win
func (p Patch) Merge(other Patch) Patch {
	out := make(Patch, len(p)+len(other))
	for f, v := range p {
		out[f] = v
	}
	for f, v := range other {
		out[f] = v
	}
	return out
}

// Fields returns the patched fields in a stable order
func (p Patch) Fields() []Field {
	fields := make([]Field, 0, len(p))
	for f := range p {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}

// Apply returns a copy of l with the patch applied. l itself is not modified.
func (p Patch) Apply(l Lead) (Lead, error) {
	for _, f := range p.Fields() {
		v := p[f]
		if f == FieldValue {
			d, err := toDecimal(v)
			if err != nil {
				return l, err
			}
			if d.IsNegative() {
				return l, fmt.Errorf("%w: value cannot be negative", ErrInvalidFieldValue)
			}
			l.Value = d
			continue
		}
		s, ok := v.(string)
		if !ok {
			return l, fmt.Errorf("%w: %s expects text, got %T", ErrInvalidFieldValue, f, v)
		}
		switch f {
		case FieldName:
			if err := validateName(s); err != nil {
				return l, err
			}
			l.Name = s
		case FieldEmail:
			if err := validateEmail(s); err != nil {
				return l, err
			}
			l.Email = s
		case FieldPhone:
			l.Phone = s
		case FieldCompany:
			l.Company = s
		case FieldSource:
			l.Source = s
		case FieldNotes:
			l.Notes = s
		}
	}
	return l, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case string:
		d, err := decimal.NewFromString(x)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidFieldValue, x)
		}
		return d, nil
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidFieldValue, x)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: value expects a number, got %T", ErrInvalidFieldValue, v)
	}
}
