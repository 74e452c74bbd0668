package captcha

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	base64captcha "github.com/mojocn/base64Captcha"
)

const (
	defaultLength = 4
	// Ambiguous glyphs (0/o, 1/l, i) are excluded from the charset.
	defaultCharset = "234567890abcdefghjkmnpqrstuvwxyz"
)

// Challenge is a freshly generated captcha: the key identifies it for a later
// login attempt and Image carries the rendered PNG as a base64 data URI.
type Challenge struct {
	Key    string
	Image  string
	answer string
}

// Answer exposes the expected solution so callers can persist it.
func (c Challenge) Answer() string {
	return c.answer
}

// NewChallenge builds a challenge with a known solution. Intended for
// alternate generators and tests; Generate is the production path.
func NewChallenge(key, image, answer string) Challenge {
	return Challenge{
		Key:    key,
		Image:  image,
		answer: strings.ToLower(strings.TrimSpace(answer)),
	}
}

// Generator renders string challenges as base64-encoded PNG images.
type Generator struct {
	driver *base64captcha.DriverString
}

// GeneratorOption customises Generator construction.
type GeneratorOption func(*base64captcha.DriverString)

// WithLength overrides the number of characters in each challenge.
func WithLength(length int) GeneratorOption {
	return func(d *base64captcha.DriverString) {
		if length > 0 {
			d.Length = length
		}
	}
}

// NewGenerator constructs a Generator with sane rendering defaults.
func NewGenerator(opts ...GeneratorOption) *Generator {
	driver := base64captcha.NewDriverString(
		48,
		130,
		2,
		base64captcha.OptionShowHollowLine,
		defaultLength,
		defaultCharset,
		nil,
		nil,
		nil,
	)
	for _, opt := range opts {
		if opt != nil {
			opt(driver)
		}
	}
	return &Generator{driver: driver.ConvertFonts()}
}

// Generate produces a new challenge with a random key.
func (g *Generator) Generate() (Challenge, error) {
	_, content, answer := g.driver.GenerateIdQuestionAnswer()

	item, err := g.driver.DrawCaptcha(content)
	if err != nil {
		return Challenge{}, fmt.Errorf("captcha: draw challenge: %w", err)
	}

	return Challenge{
		Key:    uuid.NewString(),
		Image:  item.EncodeB64string(),
		answer: strings.ToLower(answer),
	}, nil
}

// Matches reports whether the supplied answer solves the challenge with the
// given expected solution. Comparison is case-insensitive.
func Matches(expected, answer string) bool {
	expected = strings.ToLower(strings.TrimSpace(expected))
	answer = strings.ToLower(strings.TrimSpace(answer))
	if expected == "" || answer == "" {
		return false
	}
	return expected == answer
}
