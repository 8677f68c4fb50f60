// Package sortkey normalizes raw metadata values into lexicographically
// comparable sort keys for the browse index tables.
package sortkey

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/openshelf/browsedex/pkg/types"
)

// Formatter produces a sort key for a raw metadata value. Implementations
// must be deterministic and total: any non-nil input yields a key without
// error, and the same input always yields the same key.
type Formatter interface {
	Make(value, lang string, dataType types.DataType) string
}

// New selects the formatter for the given config: the collation-derived
// formatter when a locale is configured, the plain normalizing formatter
// otherwise.
func New(cfg types.Config) (Formatter, error) {
	if cfg.Collation == "" {
		return Plain{}, nil
	}
	tag, err := language.Parse(cfg.Collation)
	if err != nil {
		return nil, fmt.Errorf("parsing collation locale %q: %w", cfg.Collation, err)
	}
	return NewCollated(tag), nil
}

// Plain is the default formatter: lower-cased text, leading-article handling
// for titles, and zero-padded date keys.
type Plain struct{}

// Make implements Formatter.
func (Plain) Make(value, lang string, dataType types.DataType) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	switch dataType {
	case types.DataTypeDate:
		return dateKey(value)
	case types.DataTypeTitle:
		return titleKey(value, lang)
	default:
		return textKey(value)
	}
}

// Collated produces collation-weight keys for text and title values using a
// locale-specific collator. The keys are hex-encoded weight sequences: stable
// and comparable, but not human-readable, so they must never be displayed.
// Date values keep the plain zero-padded form, which is already comparable.
type Collated struct {
	mu  sync.Mutex
	col *collate.Collator
	buf collate.Buffer
}

// NewCollated returns a formatter deriving keys from the collation order of
// the given locale.
func NewCollated(tag language.Tag) *Collated {
	return &Collated{col: collate.New(tag, collate.IgnoreCase)}
}

// Make implements Formatter.
func (c *Collated) Make(value, lang string, dataType types.DataType) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	if dataType == types.DataTypeDate {
		return dateKey(value)
	}
	// Titles get the article treatment before collation so that leading
	// articles stay ignored under the locale order too.
	in := value
	if dataType == types.DataTypeTitle {
		in = titleKey(value, lang)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Reset()
	key := c.col.KeyFromString(&c.buf, in)
	return hex.EncodeToString(key)
}

// stopWords lists the leading articles ignored per language. The empty tag
// shares the English set.
var stopWords = map[string][]string{
	"":   {"a", "an", "the"},
	"en": {"a", "an", "the"},
	"fr": {"le", "la", "les", "un", "une"},
	"de": {"der", "die", "das", "ein", "eine"},
}

// textKey lower-cases and trims the value.
func textKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// titleKey lower-cases the value and moves a single leading stop word to the
// end, after a comma, so alphabetic order ignores leading articles while the
// original remains recoverable: "The Great Gatsby" -> "great gatsby, the".
// Only one stop word at the very start is considered.
func titleKey(value, lang string) string {
	lower := textKey(value)

	base := lang
	if i := strings.IndexAny(base, "-_"); i >= 0 {
		base = base[:i]
	}
	words, ok := stopWords[base]
	if !ok {
		words = stopWords["en"]
	}

	trimmed := strings.TrimLeftFunc(lower, isNonAlnum)
	for _, sw := range words {
		rest, found := strings.CutPrefix(trimmed, sw)
		if !found || rest == "" {
			continue
		}
		// The stop word must end at a word boundary.
		first, _ := utf8.DecodeRuneInString(rest)
		if !isNonAlnum(first) {
			continue
		}
		rest = strings.TrimLeftFunc(rest, isNonAlnum)
		if rest == "" {
			// The value is nothing but the article.
			break
		}
		return rest + ", " + sw
	}
	if trimmed == "" {
		return lower
	}
	return trimmed
}

func isNonAlnum(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// dateKey produces a zero-padded, lexicographically sortable date key from a
// full or partial date: "2020-1-5" -> "2020-01-05", "2020-01" -> "2020-01",
// "2020" -> "2020". Values without a recognizable four-digit year fall back
// to the lower-cased text key.
func dateKey(value string) string {
	fields := strings.FieldsFunc(strings.TrimSpace(value), func(r rune) bool {
		return !unicode.IsDigit(r)
	})

	year := ""
	var rest []string
	for _, f := range fields {
		if year == "" {
			if len(f) == 4 {
				year = f
			}
			continue
		}
		if len(f) <= 2 {
			rest = append(rest, f)
		}
	}
	if year == "" {
		return textKey(value)
	}

	key := year
	for i, f := range rest {
		if i >= 2 {
			break
		}
		if len(f) == 1 {
			f = "0" + f
		}
		key += "-" + f
	}
	return key
}
