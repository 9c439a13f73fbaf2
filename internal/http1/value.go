package http1

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/YuanQin2000/datax/internal/status"
)

// ValueKind selects how a field value is parsed and rendered.
type ValueKind uint8

const (
	KindString ValueKind = iota
	KindInteger
	KindWeightedToken
	KindDate
	KindProduct
	KindTokenPair
	KindParamToken
)

// Value is one parsed field value. The set of implementations is closed:
// String, Integer, WeightedToken, Date, Product, TokenPair and ParamToken.
type Value interface {
	Kind() ValueKind
	AppendTo(dst []byte) []byte
	String() string
}

type String string

func (v String) Kind() ValueKind            { return KindString }
func (v String) AppendTo(dst []byte) []byte { return append(dst, v...) }
func (v String) String() string             { return string(v) }

type Integer int64

func (v Integer) Kind() ValueKind            { return KindInteger }
func (v Integer) AppendTo(dst []byte) []byte { return strconv.AppendInt(dst, int64(v), 10) }
func (v Integer) String() string             { return strconv.FormatInt(int64(v), 10) }

// WeightedToken is a token with a quality value in thousandths, as in
// "gzip;q=0.8". Weight 1000 is rendered without a q parameter.
type WeightedToken struct {
	Token  string
	Weight int
}

func (v WeightedToken) Kind() ValueKind { return KindWeightedToken }

func (v WeightedToken) AppendTo(dst []byte) []byte {
	dst = append(dst, v.Token...)
	switch {
	case v.Weight >= 1000 || v.Weight < 0:
		return dst
	case v.Weight == 0:
		return append(dst, ";q=0"...)
	}
	dst = append(dst, ";q=0."...)
	w := strconv.Itoa(v.Weight)
	for i := len(w); i < 3; i++ {
		dst = append(dst, '0')
	}
	return append(dst, strings.TrimRight(w, "0")...)
}

func (v WeightedToken) String() string { return string(v.AppendTo(nil)) }

type Date struct {
	time.Time
}

func (v Date) Kind() ValueKind { return KindDate }
func (v Date) AppendTo(dst []byte) []byte {
	return v.UTC().AppendFormat(dst, http.TimeFormat)
}
func (v Date) String() string { return string(v.AppendTo(nil)) }

// Product is "name/version (comment)" as used by User-Agent and Server.
type Product struct {
	Name    string
	Version string
	Comment string
}

func (v Product) Kind() ValueKind { return KindProduct }

func (v Product) AppendTo(dst []byte) []byte {
	if v.Name == "" && v.Comment != "" {
		return append(append(append(dst, '('), v.Comment...), ')')
	}
	dst = append(dst, v.Name...)
	if v.Version != "" {
		dst = append(append(dst, '/'), v.Version...)
	}
	if v.Comment != "" {
		dst = append(append(append(dst, " ("...), v.Comment...), ')')
	}
	return dst
}

func (v Product) String() string { return string(v.AppendTo(nil)) }

// TokenPair is "name=value" or a bare "name".
type TokenPair struct {
	Name  string
	Value string
}

func (v TokenPair) Kind() ValueKind { return KindTokenPair }

func (v TokenPair) AppendTo(dst []byte) []byte {
	dst = append(dst, v.Name...)
	if v.Value != "" {
		dst = append(append(dst, '='), v.Value...)
	}
	return dst
}

func (v TokenPair) String() string { return string(v.AppendTo(nil)) }

// Param is one ";name=value" parameter of a ParamToken.
type Param = TokenPair

// ParamToken is "token; a=b; c=d", as in Content-Type.
type ParamToken struct {
	Token  string
	Params []Param
}

func (v ParamToken) Kind() ValueKind { return KindParamToken }

func (v ParamToken) AppendTo(dst []byte) []byte {
	dst = append(dst, v.Token...)
	for _, p := range v.Params {
		dst = append(dst, "; "...)
		dst = p.AppendTo(dst)
	}
	return dst
}

func (v ParamToken) String() string { return string(v.AppendTo(nil)) }

// Param returns the value of the named parameter.
func (v ParamToken) Param(name string) (string, bool) {
	for _, p := range v.Params {
		if strings.EqualFold(p.Name, name) {
			return p.Value, true
		}
	}
	return "", false
}

// ParseValue parses one element of a field value according to kind.
func ParseValue(kind ValueKind, raw []byte) (Value, error) {
	raw = trimOWS(raw)
	switch kind {
	case KindString:
		return String(raw), nil
	case KindInteger:
		n, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("bad integer %q: %w", raw, status.ProtocolMalformed)
		}
		return Integer(n), nil
	case KindWeightedToken:
		return parseWeightedToken(raw)
	case KindDate:
		t, err := http.ParseTime(string(raw))
		if err != nil {
			// Invalid dates such as "Expires: 0" are legal and mean "already
			// expired"; keep the text.
			return String(raw), nil
		}
		return Date{t}, nil
	case KindProduct:
		return parseProduct(raw), nil
	case KindTokenPair:
		return parseTokenPair(raw), nil
	case KindParamToken:
		return parseParamToken(raw), nil
	}
	return nil, fmt.Errorf("value kind %d: %w", kind, status.IllegalParameter)
}

func parseWeightedToken(raw []byte) (Value, error) {
	tok, rest, _ := bytes.Cut(raw, []byte{';'})
	v := WeightedToken{Token: string(trimOWS(tok)), Weight: 1000}
	for len(rest) > 0 {
		var p []byte
		p, rest, _ = bytes.Cut(rest, []byte{';'})
		name, val, _ := bytes.Cut(trimOWS(p), []byte{'='})
		if !bytes.EqualFold(trimOWS(name), []byte("q")) {
			continue
		}
		w, ok := parseQValue(trimOWS(val))
		if !ok {
			return nil, fmt.Errorf("bad weight %q: %w", val, status.ProtocolMalformed)
		}
		v.Weight = w
	}
	return v, nil
}

// parseQValue parses "0", "0.x{0,3}", "1" and "1.0{0,3}" into thousandths.
func parseQValue(b []byte) (int, bool) {
	if len(b) == 0 || len(b) > 5 || (b[0] != '0' && b[0] != '1') {
		return 0, false
	}
	w := int(b[0]-'0') * 1000
	if len(b) == 1 {
		return w, true
	}
	if b[1] != '.' {
		return 0, false
	}
	scale := 100
	for _, c := range b[2:] {
		if !isDigit(c) {
			return 0, false
		}
		w += int(c-'0') * scale
		scale /= 10
	}
	if w > 1000 {
		return 0, false
	}
	return w, true
}

func parseProduct(raw []byte) Value {
	if len(raw) > 1 && raw[0] == '(' {
		return Product{Comment: strings.TrimSuffix(string(raw[1:]), ")")}
	}
	name, comment, _ := bytes.Cut(raw, []byte{'('})
	n, ver, _ := bytes.Cut(trimOWS(name), []byte{'/'})
	return Product{
		Name:    string(n),
		Version: string(ver),
		Comment: strings.TrimSuffix(string(trimOWS(comment)), ")"),
	}
}

func parseTokenPair(raw []byte) Value {
	name, val, _ := bytes.Cut(raw, []byte{'='})
	return TokenPair{Name: string(trimOWS(name)), Value: string(trimOWS(val))}
}

func parseParamToken(raw []byte) Value {
	parts := splitQuoted(raw, ';')
	v := ParamToken{Token: string(trimOWS(parts[0]))}
	for _, p := range parts[1:] {
		p = trimOWS(p)
		if len(p) == 0 {
			continue
		}
		tp := parseTokenPair(p).(TokenPair)
		v.Params = append(v.Params, tp)
	}
	return v
}

// splitQuoted splits b on sep outside double-quoted strings.
func splitQuoted(b []byte, sep byte) [][]byte {
	var out [][]byte
	start, quoted := 0, false
	for i := 0; i < len(b); i++ {
		switch c := b[i]; {
		case c == '\\' && quoted:
			i++
		case c == '"':
			quoted = !quoted
		case c == sep && !quoted:
			out = append(out, b[start:i])
			start = i + 1
		}
	}
	return append(out, b[start:])
}

// splitProducts splits a product list on spaces outside comments.
func splitProducts(b []byte) [][]byte {
	var out [][]byte
	depth, start := 0, -1
	for i, c := range b {
		switch {
		case c == '(':
			if depth == 0 && start < 0 {
				start = i
			}
			depth++
		case c == ')' && depth > 0:
			depth--
		case (c == ' ' || c == '\t') && depth == 0:
			if start >= 0 {
				out = append(out, b[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, b[start:])
	}
	return out
}

func trimOWS(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}
