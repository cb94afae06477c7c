package gcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDownloadURLEscapesPath(t *testing.T) {
	assert.Equal(t,
		"https://storage.googleapis.com/efb-uploads/u1%2Fmatch%201.png",
		DownloadURL("efb-uploads", "u1/match 1.png"),
	)
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFence("```\n{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, StripCodeFence("  {\"a\":1}  "))
	assert.Equal(t, "", StripCodeFence(""))
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("EFB_TEST_STR", "value")
	t.Setenv("EFB_TEST_INT", " 42 ")
	t.Setenv("EFB_TEST_BAD_INT", "forty")
	t.Setenv("EFB_TEST_BOOL", "True")
	t.Setenv("EFB_TEST_NOT_BOOL", "1")

	assert.Equal(t, "value", GetEnv("EFB_TEST_STR", "x"))
	assert.Equal(t, "x", GetEnv("EFB_TEST_UNSET", "x"))
	assert.Equal(t, 42, GetEnvInt("EFB_TEST_INT", 7))
	assert.Equal(t, 7, GetEnvInt("EFB_TEST_BAD_INT", 7))
	assert.Equal(t, 7, GetEnvInt("EFB_TEST_UNSET", 7))
	assert.True(t, GetEnvBool("EFB_TEST_BOOL", false))
	assert.False(t, GetEnvBool("EFB_TEST_NOT_BOOL", true))
	assert.True(t, GetEnvBool("EFB_TEST_UNSET", true))
}
