package tracescript

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestValue checks the tagged scalar accessors and rendering.
func TestValue(t *testing.T) {
	assert := assert.New(t)

	v := IntValue(-5)
	assert.Equal(KindInt, v.Kind())
	assert.Equal(int64(-5), v.Int())
	assert.Equal("-5", v.String())

	v = StringValue("hello")
	assert.Equal(KindString, v.Kind())
	assert.Equal("hello", v.Str())
	assert.Equal("hello", v.String())

	v = BoolValue(true)
	assert.Equal(KindBool, v.Kind())
	assert.True(v.Bool())
	assert.Equal("true", v.String())
	assert.Equal("false", BoolValue(false).String())
}

// TestParseKind checks catalog type name translation.
func TestParseKind(t *testing.T) {
	assert := assert.New(t)

	for name, kind := range map[string]Kind{
		"int": KindInt, "u64": KindInt, "I32": KindInt,
		"string": KindString, "str": KindString,
		"bool": KindBool,
	} {
		parsed, err := ParseKind(name)
		assert.NoError(err, name)
		assert.Equal(kind, parsed, name)
	}
	_, err := ParseKind("float")
	assert.Error(err)
}

// TestProbeIdentityString checks the specifier rendering.
func TestProbeIdentityString(t *testing.T) {
	assert := assert.New(t)

	id := ProbeIdentity{Provider: "syscall", Function: "open", Name: "entry"}
	assert.Equal("syscall::open:entry", id.String())
}
