package core

// sanitize.go turns arbitrary text (file names, CSV headers) into SQL
// identifiers. Both functions are pure so they can be tested directly.

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	tagPattern     = regexp.MustCompile(`(?s)<[^>]+>`)
	entityPattern  = regexp.MustCompile(`&.+?;`)
	invalidPattern = regexp.MustCompile(`[^a-z0-9 _-]+`)
)

// transliterations maps extended Latin letters (lowercase, since input is
// lowercased first) to their closest ASCII spelling.
var transliterations = buildTransliterations(map[string]string{
	"a":  "àáâãäåāăą",
	"ae": "æ",
	"c":  "çćčĉċ",
	"d":  "ďđ",
	"e":  "èéêëēęěĕė",
	"f":  "ƒ",
	"g":  "ĝğġģ",
	"h":  "ĥħ",
	"i":  "ìíîïīĩĭįı",
	"ij": "ĳ",
	"j":  "ĵ",
	"k":  "ķĸ",
	"l":  "łľĺļŀ",
	"n":  "ñńňņŉŋ",
	"o":  "òóôõöøōőŏ",
	"oe": "œ",
	"r":  "ŕřŗ",
	"s":  "śšşŝș",
	"ss": "ß",
	"t":  "ťţŧț",
	"u":  "ùúûüūůűŭũų",
	"w":  "ŵ",
	"y":  "ýÿŷ",
	"z":  "žżź",
})

func buildTransliterations(groups map[string]string) map[rune]string {
	m := make(map[rune]string)
	for ascii, letters := range groups {
		for _, r := range letters {
			m[r] = ascii
		}
	}
	return m
}

// stripMarks catches accented letters the table does not list.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// reservedWords are PostgreSQL reserved keywords, uppercased.
var reservedWords = toSet(strings.Fields(`
	ALL ANALYSE ANALYZE AND ANY ARRAY AS ASC ASYMMETRIC AUTHORIZATION BETWEEN BINARY BOTH CASE CAST
	CHECK COLLATE COLUMN CONSTRAINT CREATE CROSS CURRENT_DATE CURRENT_ROLE CURRENT_TIME CURRENT_TIMESTAMP
	CURRENT_USER DEFAULT DEFERRABLE DESC DISTINCT DO ELSE END EXCEPT FALSE FOR FOREIGN FREEZE FROM FULL
	GRANT GROUP HAVING ILIKE IN INITIALLY INNER INTERSECT INTO IS ISNULL JOIN LEADING LEFT LIKE LIMIT LOCALTIME
	LOCALTIMESTAMP NATURAL NEW NOT NOTNULL NULL OFF OFFSET OLD ON ONLY OR ORDER OUTER OVERLAPS PLACING PRIMARY
	REFERENCES RIGHT SELECT SESSION_USER SIMILAR SOME SYMMETRIC TABLE THEN TO TRAILING TRUE UNION UNIQUE USER
	USING VERBOSE WHEN WHERE`))

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

// transliterate lowercases s and replaces extended Latin letters with ASCII.
func transliterate(s string) string {
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if ascii, ok := transliterations[r]; ok {
			b.WriteString(ascii)
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()

	if stripped, _, err := transform.String(stripMarks, out); err == nil {
		return stripped
	}
	return out
}

// Sanitize normalizes raw into a lowercase identifier made of [a-z0-9_].
// HTML-like tags and entities are removed, accented letters transliterated,
// and every run of other characters, spaces or hyphens becomes a single
// underscore. Leading and trailing separators are dropped. Blank input, or
// input with nothing usable, yields "".
//
// Sanitize is idempotent: Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(raw string) string {
	s := tagPattern.ReplaceAllString(raw, "")
	s = transliterate(s)
	s = strings.ToLower(s)
	s = entityPattern.ReplaceAllString(s, "-")
	s = invalidPattern.ReplaceAllString(s, "-")

	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '-' || unicode.IsSpace(r)
	})
	return strings.Join(parts, "_")
}

// SanitizeIdentifier is Sanitize plus escaping: the result is prefixed with an
// underscore when it does not start with a letter or underscore, or when it
// is a reserved SQL keyword. Blank input yields "", never a default name;
// callers decide how to handle it.
func SanitizeIdentifier(raw string) string {
	s := Sanitize(raw)
	if s == "" {
		return ""
	}
	if !startsWithLetterOrUnderscore(s) || reservedWords[strings.ToUpper(s)] {
		return "_" + s
	}
	return s
}

func startsWithLetterOrUnderscore(s string) bool {
	c := s[0]
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// isBlank reports whether s has no non-space characters.
func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
