package content

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pemistahl/lingua-go"
	"golang.org/x/text/language"
)

// LangAuto asks for the language to be detected from the text.
const LangAuto = "auto"

// ErrInvalidLanguage is returned for tags that are not valid BCP 47.
var ErrInvalidLanguage = errors.New("invalid language tag")

// detectable is kept small: lingua loads one model per language.
var detectable = []lingua.Language{
	lingua.English, lingua.German, lingua.French, lingua.Spanish,
	lingua.Italian, lingua.Portuguese, lingua.Dutch, lingua.Russian,
	lingua.Polish, lingua.Swedish, lingua.Turkish, lingua.Ukrainian,
	lingua.Japanese, lingua.Chinese,
}

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

const detectSample = 2000

// ParseLang validates a BCP 47 tag and returns its canonical form. LangAuto
// is passed through.
func ParseLang(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, LangAuto) {
		return LangAuto, nil
	}
	tag, err := language.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidLanguage, s, err)
	}
	return tag.String(), nil
}

// DetectLanguage guesses the language of text. It returns fallback when the
// text is too short or ambiguous.
func DetectLanguage(text string, fallback language.Tag) language.Tag {
	if len(strings.Fields(text)) < 3 {
		return fallback
	}
	if r := []rune(text); len(r) > detectSample {
		text = string(r[:detectSample])
	}

	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(detectable...).
			Build()
	})

	lang, ok := detector.DetectLanguageOf(text)
	if !ok {
		return fallback
	}
	tag, err := language.Parse(strings.ToLower(lang.IsoCode639_1().String()))
	if err != nil {
		return fallback
	}
	return tag
}

// ResolveLang turns a configured language into the tag handed to the speech
// backend, running detection for LangAuto.
func ResolveLang(setting, text, fallback string) string {
	if !strings.EqualFold(strings.TrimSpace(setting), LangAuto) {
		return setting
	}
	fb, err := language.Parse(fallback)
	if err != nil {
		fb = language.AmericanEnglish
	}
	return DetectLanguage(text, fb).String()
}
