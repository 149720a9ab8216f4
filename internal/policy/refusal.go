package policy

import "strings"

const (
	// Apology replaces empty model output.
	Apology = "抱歉，我无法协助这个请求。"
	// Refusal replaces any output that looks like leaked refusal boilerplate.
	Refusal = "抱歉，这个请求涉及不被允许的内容，我无法提供帮助。"
)

// Sanitize is the last-resort output backstop. Empty output becomes Apology,
// output containing a refusal marker becomes Refusal as a whole, anything else
// is returned verbatim.
func Sanitize(raw string) string {
	out, _ := SanitizeChanged(raw)
	return out
}

// SanitizeChanged is Sanitize that also reports whether the text was replaced.
func SanitizeChanged(raw string) (string, bool) {
	if strings.TrimSpace(raw) == "" {
		return Apology, raw != Apology
	}
	if containsAny(Normalize(raw), refusalNorm) {
		return Refusal, raw != Refusal
	}
	return raw, false
}
