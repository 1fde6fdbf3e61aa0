// Package classifier maps a complaint description to the municipal
// department responsible for it.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// ErrEmptyAnswer is returned when the backend produced no usable text.
var ErrEmptyAnswer = errors.New("classifier returned an empty answer")

// Classifier returns a department code (or a free-text department name when
// nothing in the catalog fits) for a problem description.
type Classifier interface {
	Classify(ctx context.Context, description string) (string, error)
}

// Func adapts a plain function to Classifier.
type Func func(ctx context.Context, description string) (string, error)

// Classify calls f.
func (f Func) Classify(ctx context.Context, description string) (string, error) {
	return f(ctx, description)
}

// Prompt builds the instruction sent to language-model backends.
func Prompt(c *Catalog, description string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Relacione o problema abaixo com a secretaria do município de %s responsável pela sua resolução:\n", c.City)
	fmt.Fprintf(&b, "%q\n\n", description)
	fmt.Fprintf(&b, "Secretarias: %s.\n", strings.Join(c.Codes(), ", "))
	b.WriteString("Caso nenhuma seja compatível, retorne exclusivamente o nome da secretaria adequada. ")
	b.WriteString("Responda apenas com a sigla ou o nome da secretaria, sem explicações.")
	return b.String()
}

// Normalize turns a raw backend answer into a department code when the
// answer names one from the catalog, or into the cleaned free text
// otherwise.
func Normalize(c *Catalog, answer string) (string, error) {
	cleaned := strings.TrimFunc(answer, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || r == '`'
	})
	if cleaned == "" {
		return "", ErrEmptyAnswer
	}

	if d, ok := c.Lookup(cleaned); ok {
		return d.Code, nil
	}

	words := strings.FieldsFunc(cleaned, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if d, ok := c.Lookup(w); ok && strings.ToUpper(w) == w {
			return d.Code, nil
		}
	}
	return cleaned, nil
}

// WithTimeout bounds every Classify call on c by d. A non-positive d
// returns c unchanged.
func WithTimeout(c Classifier, d time.Duration) Classifier {
	if d <= 0 {
		return c
	}
	return Func(func(ctx context.Context, description string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return c.Classify(ctx, description)
	})
}
