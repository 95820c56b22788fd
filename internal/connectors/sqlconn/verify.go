package sqlconn

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/coreflux/toolgateway/internal/errkind"
)

var (
	lineCommentPattern  = regexp.MustCompile(`--[^\n]*`)
	blockCommentPattern = regexp.MustCompile(`(?s)/\*.*?\*/`)
	whitespacePattern   = regexp.MustCompile(`\s+`)

	blockedKeywords = []string{
		"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "CREATE", "TRUNCATE",
		"GRANT", "REVOKE", "EXECUTE", "CALL", "COPY", "LOAD", "SET", "LOCK", "UNLOCK",
	}

	dangerousFunctions = []string{
		"PG_READ_FILE", "PG_WRITE_FILE", "PG_FILE_WRITE", "LO_IMPORT", "LO_EXPORT", "COPY",
	}

	allowedFirstWords = map[string]bool{"SELECT": true, "WITH": true, "EXPLAIN": true}
)

// verifyReadOnly implements the read-only verifier of the SQL safety
// connector: strip comments, collapse whitespace, uppercase, then reject
// multi-statement input, blocklisted keywords, dangerous functions, and
// any statement not starting with SELECT/WITH/EXPLAIN.
func verifyReadOnly(sql string) error {
	stripped := lineCommentPattern.ReplaceAllString(sql, "")
	stripped = blockCommentPattern.ReplaceAllString(stripped, "")
	collapsed := strings.TrimSpace(whitespacePattern.ReplaceAllString(stripped, " "))
	upper := strings.ToUpper(collapsed)

	trimmedForSplit := strings.TrimSuffix(upper, ";")
	segments := strings.Split(trimmedForSplit, ";")
	nonEmpty := 0
	for _, seg := range segments {
		if strings.TrimSpace(seg) != "" {
			nonEmpty++
		}
	}
	if nonEmpty > 1 {
		return errkind.New(errkind.SecurityError, "multiple statements are not permitted")
	}

	for _, kw := range blockedKeywords {
		if containsWholeWord(upper, kw) {
			return errkind.New(errkind.SecurityError, fmt.Sprintf("statement contains blocked keyword: %s", kw))
		}
	}

	for _, fn := range dangerousFunctions {
		if containsWholeWord(upper, fn) {
			return errkind.New(errkind.SecurityError, fmt.Sprintf("statement calls disallowed function: %s", fn))
		}
	}

	fields := strings.Fields(upper)
	if len(fields) == 0 || !allowedFirstWords[fields[0]] {
		return errkind.New(errkind.SecurityError, "statement must start with SELECT, WITH, or EXPLAIN")
	}

	return nil
}

func containsWholeWord(haystack, word string) bool {
	pattern := `\b` + regexp.QuoteMeta(word) + `\b`
	matched, _ := regexp.MatchString(pattern, haystack)
	return matched
}
