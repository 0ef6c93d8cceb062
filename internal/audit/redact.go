package audit

import (
	"regexp"
	"strings"
)

// secretPatterns match credential values that commands commonly echo:
// provider API keys, long hex tokens and bearer headers.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bsk-ant-[a-zA-Z0-9\-]{20,}`),
	regexp.MustCompile(`\bsk-[a-zA-Z0-9]{20,}`),
	regexp.MustCompile(`\bgsk_[a-zA-Z0-9]{20,}`),
	regexp.MustCompile(`\b[a-f0-9]{64,}\b`),
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9\-_.]{20,}`),
}

// envSecretPattern matches KEY=VALUE lines for provider credentials, as
// printed by env, set, export -p and declare -p.
var envSecretPattern = regexp.MustCompile(
	`(?im)^(?:declare -x |export )?` +
		`(OPENAI_\w*|ANTHROPIC_\w*|GROQ_\w*|OLLAMA_\w*|LAI_\w*KEY\w*|\w*API_KEY|\w*API_SECRET)` +
		`[= ].*$`,
)

const redactPlaceholder = "[REDACTED]"

// Redact returns output with credentials replaced and the number of
// replacements made.
func Redact(output string) (string, int) {
	count := 0
	result := output
	for _, re := range secretPatterns {
		if n := len(re.FindAllStringIndex(result, -1)); n > 0 {
			count += n
			result = re.ReplaceAllString(result, redactPlaceholder)
		}
	}
	if n := len(envSecretPattern.FindAllStringIndex(result, -1)); n > 0 {
		count += n
		result = envSecretPattern.ReplaceAllString(result, redactPlaceholder)
	}

	for strings.Contains(result, redactPlaceholder+"\n"+redactPlaceholder) {
		result = strings.ReplaceAll(result, redactPlaceholder+"\n"+redactPlaceholder, redactPlaceholder)
	}
	return result, count
}

// redacted returns a copy of r with both output streams scrubbed.
func (r Record) redacted() (Record, int) {
	var n, m int
	r.Stdout, n = Redact(r.Stdout)
	r.Stderr, m = Redact(r.Stderr)
	return r, n + m
}
