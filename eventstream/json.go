package eventstream

import (
	"bytes"
	"strconv"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/aws-greengrass/ggipc-go/arena"
	"github.com/aws-greengrass/ggipc-go/value"
)

// EncodeJSON writes v as canonical JSON into a new buffer. Maps are
// written in their given order; callers that need stable output across
// re-encodes should Canonicalize v first.
//
// Hand-rolled rather than encoding/json: the stdlib encoder can't be
// pointed at an arbitrary tagged-union Value, sorts map[string]any keys
// itself in a way we don't control, and offers no streaming sink to an
// arena-backed destination.
func EncodeJSON(v value.Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeJSONValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeJSONValue(buf *bytes.Buffer, v value.Value) error {
	switch v.Kind() {
	case value.KindNull:
		buf.WriteString("null")
	case value.KindBool:
		b, _ := v.Bool()
		if b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case value.KindI64:
		i, _ := v.I64()
		buf.WriteString(strconv.FormatInt(i, 10))
	case value.KindF64:
		f, _ := v.F64()
		buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	case value.KindBuf:
		b, _ := v.Buffer()
		encodeJSONString(buf, b)
	case value.KindList:
		items, _ := v.List()
		buf.WriteByte('[')
		for i, item := range items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeJSONValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case value.KindMap:
		pairs, _ := v.Map()
		buf.WriteByte('{')
		for i, p := range pairs {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodeJSONString(buf, p.Key)
			buf.WriteByte(':')
			if err := encodeJSONValue(buf, p.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return errors.Errorf("eventstream: cannot encode value kind %v as json", v.Kind())
	}
	return nil
}

const hexDigits = "0123456789abcdef"

func encodeJSONString(buf *bytes.Buffer, s []byte) {
	buf.WriteByte('"')
	for len(s) > 0 {
		r, size := utf8.DecodeRune(s)
		switch {
		case r == '"':
			buf.WriteString(`\"`)
		case r == '\\':
			buf.WriteString(`\\`)
		case r == '\n':
			buf.WriteString(`\n`)
		case r == '\r':
			buf.WriteString(`\r`)
		case r == '\t':
			buf.WriteString(`\t`)
		case r < 0x20:
			buf.WriteString(`\u00`)
			buf.WriteByte(hexDigits[(r>>4)&0xf])
			buf.WriteByte(hexDigits[r&0xf])
		default:
			buf.WriteRune(r)
		}
		s = s[size:]
	}
	buf.WriteByte('"')
}

// jsonDecoder parses destructively: string and buffer values are claimed
// directly from the input data into the arena in one pass, never copied
// twice.
type jsonDecoder struct {
	data  []byte
	pos   int
	arena *arena.Arena
	depth int
}

// ErrJSON is returned for any malformed or too-deep JSON input.
var ErrJSON = errors.New("eventstream: invalid json")

// DecodeJSON parses data as JSON into a value.Value, copying the bytes of
// every string value and map key into a. List and map pair storage is
// ordinary Go memory, not taken from a. data is mutated in place for
// in-place unescaping of string contents and must not be reused by the
// caller afterward.
func DecodeJSON(data []byte, a *arena.Arena) (value.Value, error) {
	d := &jsonDecoder{data: data, arena: a}
	d.skipWhitespace()
	v, err := d.parseValue()
	if err != nil {
		return value.Value{}, err
	}
	d.skipWhitespace()
	if d.pos != len(d.data) {
		return value.Value{}, errors.Wrap(ErrJSON, "trailing data")
	}
	return v, nil
}

func (d *jsonDecoder) skipWhitespace() {
	for d.pos < len(d.data) {
		switch d.data[d.pos] {
		case ' ', '\t', '\n', '\r':
			d.pos++
		default:
			return
		}
	}
}

func (d *jsonDecoder) peek() (byte, bool) {
	if d.pos >= len(d.data) {
		return 0, false
	}
	return d.data[d.pos], true
}

func (d *jsonDecoder) parseValue() (value.Value, error) {
	d.depth++
	if d.depth > value.MaxObjectDepth {
		return value.Value{}, errors.Wrap(ErrJSON, "max object depth exceeded")
	}
	defer func() { d.depth-- }()

	c, ok := d.peek()
	if !ok {
		return value.Value{}, errors.Wrap(ErrJSON, "unexpected end of input")
	}
	switch {
	case c == '{':
		return d.parseMap()
	case c == '[':
		return d.parseList()
	case c == '"':
		return d.parseString()
	case c == 't' || c == 'f':
		return d.parseBool()
	case c == 'n':
		return d.parseNull()
	case c == '-' || (c >= '0' && c <= '9'):
		return d.parseNumber()
	default:
		return value.Value{}, errors.Wrapf(ErrJSON, "unexpected character %q", c)
	}
}

func (d *jsonDecoder) expect(lit string) error {
	if d.pos+len(lit) > len(d.data) || string(d.data[d.pos:d.pos+len(lit)]) != lit {
		return errors.Wrapf(ErrJSON, "expected %q", lit)
	}
	d.pos += len(lit)
	return nil
}

func (d *jsonDecoder) parseBool() (value.Value, error) {
	if d.data[d.pos] == 't' {
		if err := d.expect("true"); err != nil {
			return value.Value{}, err
		}
		return value.Bool(true), nil
	}
	if err := d.expect("false"); err != nil {
		return value.Value{}, err
	}
	return value.Bool(false), nil
}

func (d *jsonDecoder) parseNull() (value.Value, error) {
	if err := d.expect("null"); err != nil {
		return value.Value{}, err
	}
	return value.Null(), nil
}

func (d *jsonDecoder) parseNumber() (value.Value, error) {
	start := d.pos
	isFloat := false
	if p, ok := d.peek(); ok && p == '-' {
		d.pos++
	}
	for {
		c, ok := d.peek()
		if !ok {
			break
		}
		switch {
		case c >= '0' && c <= '9':
			d.pos++
		case c == '.' || c == 'e' || c == 'E' || c == '+' || c == '-':
			isFloat = true
			d.pos++
		default:
			goto done
		}
	}
done:
	lit := string(d.data[start:d.pos])
	if lit == "" || lit == "-" {
		return value.Value{}, errors.Wrap(ErrJSON, "invalid number")
	}
	if isFloat {
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return value.Value{}, errors.Wrap(ErrJSON, "invalid number")
		}
		return value.F64(f), nil
	}
	i, err := strconv.ParseInt(lit, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(lit, 64)
		if ferr != nil {
			return value.Value{}, errors.Wrap(ErrJSON, "invalid number")
		}
		return value.F64(f), nil
	}
	return value.I64(i), nil
}

// parseString unescapes in place within d.data and returns an
// arena-backed copy of the unescaped bytes; the copy into the arena is
// made whether or not escapes were present.
func (d *jsonDecoder) parseString() (value.Value, error) {
	raw, err := d.parseClaimedString()
	if err != nil {
		return value.Value{}, err
	}
	return value.Buf(raw), nil
}

// parseClaimedString parses a string and claims its bytes into the
// arena, so the result outlives the input buffer.
func (d *jsonDecoder) parseClaimedString() ([]byte, error) {
	raw, err := d.parseRawString()
	if err != nil {
		return nil, err
	}
	claimed, err := d.arena.ClaimBuffer(raw)
	if err != nil {
		return nil, errors.Wrap(err, "json: claiming string")
	}
	return claimed, nil
}

func (d *jsonDecoder) parseRawString() ([]byte, error) {
	if c, ok := d.peek(); !ok || c != '"' {
		return nil, errors.Wrap(ErrJSON, "expected string")
	}
	d.pos++
	start := d.pos
	hasEscape := false
	for {
		c, ok := d.peek()
		if !ok {
			return nil, errors.Wrap(ErrJSON, "unterminated string")
		}
		if c == '"' {
			break
		}
		if c == '\\' {
			hasEscape = true
			d.pos++
			if _, ok := d.peek(); !ok {
				return nil, errors.Wrap(ErrJSON, "unterminated escape")
			}
		}
		d.pos++
	}
	raw := d.data[start:d.pos]
	d.pos++ // closing quote

	if !hasEscape {
		return raw, nil
	}
	return unescapeInPlace(raw)
}

// unescapeInPlace rewrites JSON escapes to their literal bytes, writing
// from the front of raw's own backing array (the unescaped form is never
// longer than the escaped one), and returns the shortened slice.
func unescapeInPlace(raw []byte) ([]byte, error) {
	out := raw[:0]
	for i := 0; i < len(raw); {
		c := raw[i]
		if c != '\\' {
			out = append(out, c)
			i++
			continue
		}
		i++
		if i >= len(raw) {
			return nil, errors.Wrap(ErrJSON, "dangling escape")
		}
		switch raw[i] {
		case '"':
			out = append(out, '"')
		case '\\':
			out = append(out, '\\')
		case '/':
			out = append(out, '/')
		case 'n':
			out = append(out, '\n')
		case 't':
			out = append(out, '\t')
		case 'r':
			out = append(out, '\r')
		case 'b':
			out = append(out, '\b')
		case 'f':
			out = append(out, '\f')
		case 'u':
			if i+4 >= len(raw) {
				return nil, errors.Wrap(ErrJSON, "truncated unicode escape")
			}
			cp, err := strconv.ParseUint(string(raw[i+1:i+5]), 16, 32)
			if err != nil {
				return nil, errors.Wrap(ErrJSON, "invalid unicode escape")
			}
			var rbuf [utf8.UTFMax]byte
			n := utf8.EncodeRune(rbuf[:], rune(cp))
			out = append(out, rbuf[:n]...)
			i += 4
		default:
			return nil, errors.Wrapf(ErrJSON, "unknown escape %q", raw[i])
		}
		i++
	}
	return out, nil
}

func (d *jsonDecoder) parseList() (value.Value, error) {
	d.pos++ // '['
	var items []value.Value
	d.skipWhitespace()
	if c, ok := d.peek(); ok && c == ']' {
		d.pos++
		return value.List(items), nil
	}
	for {
		d.skipWhitespace()
		v, err := d.parseValue()
		if err != nil {
			return value.Value{}, err
		}
		items = append(items, v)
		if len(items) > value.MaxSubobjects {
			return value.Value{}, errors.Wrap(ErrJSON, "too many list elements")
		}
		d.skipWhitespace()
		c, ok := d.peek()
		if !ok {
			return value.Value{}, errors.Wrap(ErrJSON, "unterminated list")
		}
		if c == ',' {
			d.pos++
			continue
		}
		if c == ']' {
			d.pos++
			break
		}
		return value.Value{}, errors.Wrapf(ErrJSON, "unexpected character %q in list", c)
	}
	return value.List(items), nil
}

func (d *jsonDecoder) parseMap() (value.Value, error) {
	d.pos++ // '{'
	var pairs []value.Pair
	d.skipWhitespace()
	if c, ok := d.peek(); ok && c == '}' {
		d.pos++
		return value.Map(pairs), nil
	}
	for {
		d.skipWhitespace()
		key, err := d.parseClaimedString()
		if err != nil {
			return value.Value{}, errors.Wrap(err, "map key")
		}
		d.skipWhitespace()
		if c, ok := d.peek(); !ok || c != ':' {
			return value.Value{}, errors.Wrap(ErrJSON, "expected ':' after map key")
		}
		d.pos++
		d.skipWhitespace()
		v, err := d.parseValue()
		if err != nil {
			return value.Value{}, err
		}
		pairs = append(pairs, value.Pair{Key: key, Value: v})
		if len(pairs) > value.MaxSubobjects {
			return value.Value{}, errors.Wrap(ErrJSON, "too many map entries")
		}
		d.skipWhitespace()
		c, ok := d.peek()
		if !ok {
			return value.Value{}, errors.Wrap(ErrJSON, "unterminated map")
		}
		if c == ',' {
			d.pos++
			continue
		}
		if c == '}' {
			d.pos++
			break
		}
		return value.Value{}, errors.Wrapf(ErrJSON, "unexpected character %q in map", c)
	}
	return value.Map(pairs), nil
}
