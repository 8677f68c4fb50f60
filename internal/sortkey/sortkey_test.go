package sortkey

import (
	"testing"

	"golang.org/x/text/language"

	"github.com/openshelf/browsedex/pkg/types"
)

func TestPlain_Text(t *testing.T) {
	var f Plain
	if got := f.Make("Smith, John", "en", types.DataTypeText); got != "smith, john" {
		t.Errorf("Make() = %q", got)
	}
	if got := f.Make("  Mixed Case  ", "", types.DataTypeText); got != "mixed case" {
		t.Errorf("Make() = %q", got)
	}
}

func TestPlain_Title(t *testing.T) {
	var f Plain
	cases := map[string]string{
		"The Great Gatsby": "great gatsby, the",
		"A Tale of Two":    "tale of two, a",
		"An Apple":         "apple, an",
		"Birds":            "birds",
		"...The Birds":     "birds, the",
		"Theory of Change": "theory of change",
		"The":              "the",
	}
	for in, want := range cases {
		if got := f.Make(in, "en", types.DataTypeTitle); got != want {
			t.Errorf("Make(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPlain_TitleEquivalence(t *testing.T) {
	// A value with its leading article and the same value with the article
	// moved after a comma must normalize to the same ordering key.
	var f Plain
	a := f.Make("The Birds", "en", types.DataTypeTitle)
	b := f.Make("Birds, The", "en", types.DataTypeText)
	if a != b {
		t.Errorf("%q != %q", a, b)
	}
}

func TestPlain_TitleLanguages(t *testing.T) {
	var f Plain
	if got := f.Make("Der Prozess", "de", types.DataTypeTitle); got != "prozess, der" {
		t.Errorf("Make() = %q", got)
	}
	// Unknown languages fall back to the English article set.
	if got := f.Make("The Trial", "xx", types.DataTypeTitle); got != "trial, the" {
		t.Errorf("Make() = %q", got)
	}
	// Region subtags are ignored.
	if got := f.Make("The Trial", "en-GB", types.DataTypeTitle); got != "trial, the" {
		t.Errorf("Make() = %q", got)
	}
}

func TestPlain_Date(t *testing.T) {
	var f Plain
	cases := map[string]string{
		"2020-01-15": "2020-01-15",
		"2020-1-5":   "2020-01-05",
		"2020-01":    "2020-01",
		"2020":       "2020",
		"15 1 2020":  "2020", // year must come first to bind month/day
	}
	for in, want := range cases {
		if got := f.Make(in, "", types.DataTypeDate); got != want {
			t.Errorf("Make(%q) = %q, want %q", in, got, want)
		}
	}
	// Unparseable dates fall back to the text key.
	if got := f.Make("circa 190", "", types.DataTypeDate); got != "circa 190" {
		t.Errorf("Make() = %q", got)
	}
}

func TestMake_EmptyUnchanged(t *testing.T) {
	var f Plain
	for _, in := range []string{"", "   ", "\t\n"} {
		if got := f.Make(in, "en", types.DataTypeTitle); got != in {
			t.Errorf("Make(%q) = %q, want input unchanged", in, got)
		}
	}
}

func TestMake_Stable(t *testing.T) {
	var f Plain
	for _, dt := range []types.DataType{types.DataTypeText, types.DataTypeTitle, types.DataTypeDate} {
		a := f.Make("The 2020 Report", "en", dt)
		b := f.Make("The 2020 Report", "en", dt)
		if a != b {
			t.Errorf("unstable key for %s: %q vs %q", dt, a, b)
		}
	}
}

func TestCollated_Make(t *testing.T) {
	c := NewCollated(language.English)

	a := c.Make("Apple", "en", types.DataTypeText)
	b := c.Make("banana", "en", types.DataTypeText)
	if a == "" || b == "" {
		t.Fatal("expected non-empty keys")
	}
	if !(a < b) {
		t.Errorf("collated keys out of order: %q >= %q", a, b)
	}

	// Case-insensitive: same key for case variants.
	if c.Make("apple", "en", types.DataTypeText) != a {
		t.Error("collated key should ignore case")
	}

	// Dates keep the plain comparable form.
	if got := c.Make("2020-1-5", "", types.DataTypeDate); got != "2020-01-05" {
		t.Errorf("Make() = %q", got)
	}
}

func TestNew(t *testing.T) {
	cfg := types.Config{}
	f, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := f.(Plain); !ok {
		t.Errorf("expected Plain formatter, got %T", f)
	}

	cfg.Collation = "en"
	f, err = New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := f.(*Collated); !ok {
		t.Errorf("expected Collated formatter, got %T", f)
	}

	cfg.Collation = "not a locale!"
	if _, err := New(cfg); err == nil {
		t.Error("expected error for bad locale")
	}
}
