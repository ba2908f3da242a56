package lead

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPatch_Set(t *testing.T) {
	t.Run("normalizes value to decimal", func(t *testing.T) {
		for _, in := range []any{"1250.50", 1250.5, json.Number("1250.50"), decimal.RequireFromString("1250.5")} {
			p := Patch{}
			require.NoError(t, p.Set(FieldValue, in))
			d, ok := p[FieldValue].(decimal.Decimal)
			require.True(t, ok)
			assert.True(t, d.Equal(decimal.RequireFromString("1250.5")), "input %v", in)
		}
	})

	t.Run("rejects unknown field", func(t *testing.T) {
		err := Patch{}.Set(Field("status"), "won")
		assert.ErrorIs(t, err, ErrInvalidField)
	})

	t.Run("rejects non-text for text field", func(t *testing.T) {
		err := Patch{}.Set(FieldName, 42)
		assert.ErrorIs(t, err, ErrInvalidFieldValue)
	})

	t.Run("rejects malformed number", func(t *testing.T) {
		err := Patch{}.Set(FieldValue, "lots")
		assert.ErrorIs(t, err, ErrInvalidFieldValue)
	})
}

func TestNewPatch(t *testing.T) {
	p, err := NewPatch(map[string]any{"name": "Acme", "value": 10.0})
	require.NoError(t, err)
	assert.Equal(t, []Field{FieldName, FieldValue}, p.Fields())

	_, err = NewPatch(map[string]any{"owner": "x"})
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestPatch_Apply(t *testing.T) {
	base := Lead{ID: "L1", Name: "Acme", Value: decimal.NewFromInt(10)}

	t.Run("applies to a copy", func(t *testing.T) {
		p := Patch{FieldName: "Acme Corp", FieldPhone: "555-0100"}

		got, err := p.Apply(base)
		require.NoError(t, err)
		assert.Equal(t, "Acme Corp", got.Name)
		assert.Equal(t, "555-0100", got.Phone)
		assert.Equal(t, "Acme", base.Name)
	})

	t.Run("validates email", func(t *testing.T) {
		_, err := Patch{FieldEmail: "not-an-email"}.Apply(base)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "email")
	})

	t.Run("rejects negative value", func(t *testing.T) {
		_, err := Patch{FieldValue: decimal.NewFromInt(-1)}.Apply(base)
		assert.ErrorIs(t, err, ErrInvalidFieldValue)
	})
}

func TestPatch_MergeLaterWins(t *testing.T) {
	textFields := []Field{FieldName, FieldPhone, FieldCompany, FieldSource, FieldNotes}
	word := rapid.StringMatching(`[a-z]{1,12}`)

	rapid.Check(t, func(t *rapid.T) {
		first := Patch{}
		second := Patch{}
		for _, f := range textFields {
			if rapid.Bool().Draw(t, "in_first_"+string(f)) {
				first[f] = word.Draw(t, "first_"+string(f))
			}
			if rapid.Bool().Draw(t, "in_second_"+string(f)) {
				second[f] = word.Draw(t, "second_"+string(f))
			}
		}

		merged := first.Merge(second)
		for _, f := range textFields {
			want, inSecond := second[f]
			if !inSecond {
				want = first[f]
			}
			if merged[f] != want {
				t.Fatalf("field %s: got %v, want %v", f, merged[f], want)
			}
		}

		base := Lead{ID: "L1", Name: "base"}
		stepwise, err := first.Apply(base)
		if err != nil {
			t.Fatal(err)
		}
		stepwise, err = second.Apply(stepwise)
		if err != nil {
			t.Fatal(err)
		}
		combined, err := merged.Apply(base)
		if err != nil {
			t.Fatal(err)
		}
		if combined != stepwise {
			t.Fatalf("merged apply %+v differs from stepwise %+v", combined, stepwise)
		}
	})
}
