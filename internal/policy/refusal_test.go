package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeEmpty(t *testing.T) {
	assert.Equal(t, Apology, Sanitize(""))
	assert.Equal(t, Apology, Sanitize(" \n\t "))
}

func TestSanitizeRefusal(t *testing.T) {
	cases := []string{
		"I'm sorry, but I cannot help with that.",
		"I’M SORRY, I can’t comply.",
		"This is DISALLOWED by our usage policy.",
		"我理解你的感受。Sorry.",
	}
	for _, raw := range cases {
		assert.Equal(t, Refusal, Sanitize(raw), raw)
	}
}

func TestSanitizePassThroughVerbatim(t *testing.T) {
	raw := "  听起来你最近压力很大。愿意说说是什么让你最累吗？\n"
	got, changed := SanitizeChanged(raw)
	assert.False(t, changed)
	assert.Equal(t, raw, got)
}

func TestSanitizeIdempotent(t *testing.T) {
	for _, raw := range []string{"", "hello there", "I cannot provide that", "你好", Refusal, Apology} {
		once := Sanitize(raw)
		assert.Equal(t, once, Sanitize(once), raw)
	}
}
