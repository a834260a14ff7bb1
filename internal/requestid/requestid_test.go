package requestid

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_StoresID(t *testing.T) {
	ctx, id := New(context.Background())
	assert.NotEmpty(t, id)
	assert.Equal(t, id, FromContext(ctx))
}

func TestFromContext_GeneratesWhenMissing(t *testing.T) {
	a := FromContext(context.Background())
	b := FromContext(context.Background())
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestEnsure(t *testing.T) {
	ctx, id := Ensure(context.Background(), "req-123")
	assert.Equal(t, "req-123", id)
	assert.Equal(t, "req-123", FromContext(ctx))

	_, id = Ensure(context.Background(), "")
	assert.NotEmpty(t, id)

	_, id = Ensure(context.Background(), strings.Repeat("x", 200))
	assert.Len(t, id, 36)

	for _, bad := range []string{"has space", "line\nbreak", "tab\t", "caf\u00e9"} {
		_, id = Ensure(context.Background(), bad)
		assert.NotEqual(t, bad, id)
		assert.Len(t, id, 36)
	}
}
