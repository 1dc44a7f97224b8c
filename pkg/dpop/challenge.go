package dpop

import "strings"

// Challenge is one auth-scheme entry of a WWW-Authenticate header.
type Challenge struct {
	Scheme string
	Params map[string]string
}

// Is reports whether the challenge uses scheme, case-insensitively.
func (c Challenge) Is(scheme string) bool {
	return strings.EqualFold(c.Scheme, scheme)
}

// Param returns a parameter by lowercase name.
func (c Challenge) Param(name string) string {
	return c.Params[strings.ToLower(name)]
}

// ParseChallenges parses WWW-Authenticate header values into challenges.
// Tokens not followed by '=' start a new challenge, so token68 forms and
// bare words are kept as schemes rather than rejected.
func ParseChallenges(values ...string) []Challenge {
	var out []Challenge
	for _, v := range values {
		p := &challengeParser{s: v}
		out = append(out, p.parse()...)
	}
	return out
}

// FindChallenge returns the first challenge with the given scheme.
func FindChallenge(chs []Challenge, scheme string) (Challenge, bool) {
	for _, c := range chs {
		if c.Is(scheme) {
			return c, true
		}
	}
	return Challenge{}, false
}

type challengeParser struct {
	s string
	i int
}

func (p *challengeParser) parse() []Challenge {
	var out []Challenge
	for {
		p.skip(" \t,")
		if p.i >= len(p.s) {
			return out
		}

		tok := p.token()
		if tok == "" {
			p.i++
			continue
		}
		p.skip(" \t")

		if p.peek() == '=' && len(out) > 0 {
			p.i++
			p.skip(" \t")
			out[len(out)-1].Params[strings.ToLower(tok)] = p.value()
			continue
		}
		out = append(out, Challenge{Scheme: tok, Params: map[string]string{}})
	}
}

func (p *challengeParser) peek() byte {
	if p.i < len(p.s) {
		return p.s[p.i]
	}
	return 0
}

func (p *challengeParser) skip(set string) {
	for p.i < len(p.s) && strings.IndexByte(set, p.s[p.i]) >= 0 {
		p.i++
	}
}

func (p *challengeParser) token() string {
	start := p.i
	for p.i < len(p.s) && strings.IndexByte(" \t,=\"", p.s[p.i]) < 0 {
		p.i++
	}
	return p.s[start:p.i]
}

func (p *challengeParser) value() string {
	if p.peek() != '"' {
		start := p.i
		for p.i < len(p.s) && strings.IndexByte(" \t,", p.s[p.i]) < 0 {
			p.i++
		}
		return p.s[start:p.i]
	}

	p.i++
	var b strings.Builder
	for p.i < len(p.s) {
		c := p.s[p.i]
		p.i++
		switch {
		case c == '\\' && p.i < len(p.s):
			b.WriteByte(p.s[p.i])
			p.i++
		case c == '"':
			return b.String()
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
