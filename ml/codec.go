package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"
)

// Codec maps the tokens of one categorical field to contiguous codes
// 0..n-1 and back. It is never mutated after construction.
type Codec struct {
	field  string
	tokens []string
	codes  map[string]int
}

// NewCodec builds a codec whose code for tokens[i] is i.
func NewCodec(field string, tokens []string) (*Codec, error) {
	if field == "" {
		return nil, errors.New("codec field is empty")
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("codec %s has no tokens", field)
	}
	c := &Codec{
		field:  field,
		tokens: append([]string(nil), tokens...),
		codes:  make(map[string]int, len(tokens)),
	}
	for i, t := range c.tokens {
		if t == "" {
			return nil, fmt.Errorf("codec %s: empty token at %d", field, i)
		}
		if _, dup := c.codes[t]; dup {
			return nil, fmt.Errorf("codec %s: duplicate token %q", field, t)
		}
		c.codes[t] = i
	}
	return c, nil
}

// FitCodec assigns codes to the distinct observed tokens in sorted order.
func FitCodec(field string, observed []string) (*Codec, error) {
	seen := make(map[string]struct{}, len(observed))
	tokens := make([]string, 0)
	for _, t := range observed {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return NewCodec(field, tokens)
}

func (c *Codec) Field() string { return c.field }

func (c *Codec) Len() int { return len(c.tokens) }

func (c *Codec) Tokens() []string { return append([]string(nil), c.tokens...) }

func (c *Codec) Encode(token string) (int, error) {
	code, ok := c.codes[token]
	if !ok {
		return 0, &UnknownTokenError{Field: c.field, Token: token}
	}
	return code, nil
}

func (c *Codec) Decode(code int) (string, error) {
	if code < 0 || code >= len(c.tokens) {
		return "", &UnknownCodeError{Field: c.field, Code: code, Size: len(c.tokens)}
	}
	return c.tokens[code], nil
}

// CodecRegistry holds one codec per categorical field plus the species label
// codec. It is built at training time and read concurrently without locks.
type CodecRegistry struct {
	fingerprint string
	createdAt   time.Time
	codecs      map[string]*Codec
}

func NewCodecRegistry(fingerprint string, createdAt time.Time, codecs ...*Codec) (*CodecRegistry, error) {
	r := &CodecRegistry{
		fingerprint: fingerprint,
		createdAt:   createdAt,
		codecs:      make(map[string]*Codec, len(codecs)),
	}
	for _, c := range codecs {
		if c == nil {
			return nil, errors.New("nil codec")
		}
		if _, dup := r.codecs[c.field]; dup {
			return nil, fmt.Errorf("duplicate codec for %s", c.field)
		}
		r.codecs[c.field] = c
	}
	return r, nil
}

func (r *CodecRegistry) Fingerprint() string { return r.fingerprint }

func (r *CodecRegistry) CreatedAt() time.Time { return r.createdAt }

func (r *CodecRegistry) Codec(field string) (*Codec, bool) {
	c, ok := r.codecs[field]
	return c, ok
}

func (r *CodecRegistry) Fields() []string {
	fields := make([]string, 0, len(r.codecs))
	for f := range r.codecs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func (r *CodecRegistry) Encode(field, token string) (int, error) {
	c, ok := r.codecs[field]
	if !ok {
		return 0, &UnknownTokenError{Field: field, Token: token}
	}
	return c.Encode(token)
}

func (r *CodecRegistry) Decode(field string, code int) (string, error) {
	c, ok := r.codecs[field]
	if !ok {
		return "", &UnknownCodeError{Field: field, Code: code}
	}
	return c.Decode(code)
}

type encodersArtifact struct {
	Fingerprint string              `json:"fingerprint"`
	CreatedAt   time.Time           `json:"created_at"`
	Codecs      map[string][]string `json:"codecs"`
}

func (r *CodecRegistry) Save(path string) error {
	artifact := encodersArtifact{
		Fingerprint: r.fingerprint,
		CreatedAt:   r.createdAt,
		Codecs:      make(map[string][]string, len(r.codecs)),
	}
	for field, c := range r.codecs {
		artifact.Codecs[field] = c.Tokens()
	}
	payload, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, payload)
}

func LoadCodecRegistry(path string) (*CodecRegistry, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var artifact encodersArtifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return nil, err
	}
	if len(artifact.Codecs) == 0 {
		return nil, errors.New("encoder set is empty")
	}
	fields := make([]string, 0, len(artifact.Codecs))
	for field := range artifact.Codecs {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	codecs := make([]*Codec, 0, len(fields))
	for _, field := range fields {
		c, err := NewCodec(field, artifact.Codecs[field])
		if err != nil {
			return nil, err
		}
		codecs = append(codecs, c)
	}
	return NewCodecRegistry(artifact.Fingerprint, artifact.CreatedAt, codecs...)
}
