package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashToken(t *testing.T) {
	a := HashToken("secret")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashToken("secret"))
	assert.NotEqual(t, a, HashToken("other"))
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual("abc", "abc"))
	assert.False(t, ConstantTimeEqual("abc", "abd"))
	assert.False(t, ConstantTimeEqual("abc", "abcd"))
}

func TestMaskCredential(t *testing.T) {
	assert.Equal(t, "123456:****", MaskCredential("123456:AAHfake-secret"))
	assert.Equal(t, "abcd-****", MaskCredential("abcdefgh"))
	assert.Equal(t, "****", MaskCredential("abc"))
}
