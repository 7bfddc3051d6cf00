package syncmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValue_Equal(t *testing.T) {
	tests := []struct {
		name     string
		a        Value
		b        Value
		expected bool
	}{
		{"equal strings", String("x"), String("x"), true},
		{"different strings", String("x"), String("y"), false},
		{"equal numbers", Number(1.5), Number(1.5), true},
		{"different kinds", String("1"), Number(1), false},
		{"equal maps", Map(map[string]Value{"a": Number(1)}), Map(map[string]Value{"a": Number(1)}), true},
		{"different map values", Map(map[string]Value{"a": Number(1)}), Map(map[string]Value{"a": Number(2)}), false},
		{"equal lists", List([]Value{String("a"), Number(2)}), List([]Value{String("a"), Number(2)}), true},
		{"different list length", List([]Value{String("a")}), List([]Value{String("a"), String("b")}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.a.Equal(tt.b))
		})
	}
}

func TestPayload_Clone_Independent(t *testing.T) {
	p := Payload{"name": String("orig")}
	c := p.Clone()
	c["name"] = String("changed")

	assert.Equal(t, "orig", p["name"].Str)
	assert.Equal(t, "changed", c["name"].Str)
}

func TestPayload_Diff(t *testing.T) {
	a := Payload{"name": String("x"), "age": Number(1)}
	b := Payload{"name": String("x"), "age": Number(2), "extra": Bool(true)}

	diffs := a.Diff(b)
	assert.ElementsMatch(t, []string{"age", "extra"}, diffs)
}

func TestPayload_StringField(t *testing.T) {
	p := Payload{"status": String("active"), "count": Number(3)}

	v, ok := p.StringField("status")
	assert.True(t, ok)
	assert.Equal(t, "active", v)

	_, ok = p.StringField("count")
	assert.False(t, ok)

	_, ok = p.StringField("missing")
	assert.False(t, ok)
}
