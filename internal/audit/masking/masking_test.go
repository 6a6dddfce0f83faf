package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "pi_****7890", MaskSecret("pi_1234567890"))
	assert.Equal(t, "****", MaskSecret("abc"))
	assert.Equal(t, "****dent", MaskSecret("student@example.com"))
}

func TestMaskMetadata(t *testing.T) {
	out := MaskMetadata(map[string]any{
		"email":  "bowler@example.com",
		"amount": 12000,
		"":       "dropped",
		"note":   "visible",
	})
	assert.Equal(t, "****wler", out["email"])
	assert.Equal(t, 12000, out["amount"])
	assert.Equal(t, "visible", out["note"])
	assert.NotContains(t, out, "")
}
