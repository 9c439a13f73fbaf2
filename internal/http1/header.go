package http1

import (
	"bytes"
	"fmt"
	"net/textproto"
	"strings"

	"github.com/YuanQin2000/datax/internal/status"
)

// HeaderField holds the fields of one message: well-known fields in a
// fixed array indexed by FieldID, everything else in an extension map
// (when the config allows it) that remembers insertion order.
type HeaderField struct {
	config   *FieldConfig
	values   [fieldCount][]Value
	ext      map[string][]string
	extOrder []string
}

func NewHeaderField(config *FieldConfig) *HeaderField {
	return &HeaderField{config: config}
}

func (h *HeaderField) Config() *FieldConfig { return h.config }

func (h *HeaderField) Reset() {
	for i := range h.values {
		h.values[i] = h.values[i][:0]
	}
	h.ext = nil
	h.extOrder = h.extOrder[:0]
}

// Len counts distinct fields present.
func (h *HeaderField) Len() int {
	n := len(h.ext)
	for i := range h.values {
		if len(h.values[i]) > 0 {
			n++
		}
	}
	return n
}

func (h *HeaderField) Has(id FieldID) bool { return len(h.values[id]) > 0 }

func (h *HeaderField) Get(id FieldID) []Value { return h.values[id] }

func (h *HeaderField) First(id FieldID) (Value, bool) {
	if len(h.values[id]) == 0 {
		return nil, false
	}
	return h.values[id][0], true
}

// Text renders the field value the way it would appear on the wire.
func (h *HeaderField) Text(id FieldID) string {
	if !h.Has(id) {
		return ""
	}
	return string(h.appendValue(nil, id, h.values[id]))
}

// Set replaces the values of id.
func (h *HeaderField) Set(id FieldID, vals ...Value) {
	h.values[id] = append(h.values[id][:0], vals...)
}

// Add appends values to id; for Single fields it replaces.
func (h *HeaderField) Add(id FieldID, vals ...Value) {
	if fieldTable[id].Multi == Single {
		h.Set(id, vals...)
		return
	}
	h.values[id] = append(h.values[id], vals...)
}

func (h *HeaderField) Del(id FieldID) { h.values[id] = h.values[id][:0] }

// SetText parses text with the field's kind and policy and replaces id.
func (h *HeaderField) SetText(id FieldID, text string) error {
	vals, err := parseFieldValues(&fieldTable[id], []byte(text))
	if err != nil {
		return err
	}
	h.Set(id, vals...)
	return nil
}

// SetExtension replaces an unknown field.
func (h *HeaderField) SetExtension(name, value string) {
	key := textproto.CanonicalMIMEHeaderKey(name)
	h.delExt(key)
	h.addExt(key, value)
}

func (h *HeaderField) AddExtension(name, value string) {
	h.addExt(textproto.CanonicalMIMEHeaderKey(name), value)
}

func (h *HeaderField) Extension(name string) []string {
	return h.ext[textproto.CanonicalMIMEHeaderKey(name)]
}

// Extensions returns extension names in insertion order.
func (h *HeaderField) Extensions() []string { return h.extOrder }

func (h *HeaderField) addExt(key, value string) {
	if h.ext == nil {
		h.ext = make(map[string][]string)
	}
	if _, ok := h.ext[key]; !ok {
		h.extOrder = append(h.extOrder, key)
	}
	h.ext[key] = append(h.ext[key], value)
}

func (h *HeaderField) delExt(key string) {
	if _, ok := h.ext[key]; !ok {
		return
	}
	delete(h.ext, key)
	for i, k := range h.extOrder {
		if k == key {
			h.extOrder = append(h.extOrder[:i], h.extOrder[i+1:]...)
			break
		}
	}
}

// Put stores a field by name, the way the parser does: well-known names
// are parsed per their descriptor, unknown names go to the extension map
// or are dropped when the config has no extensions.
func (h *HeaderField) Put(name string, value []byte) error {
	id, known := h.config.Lookup(name)
	if !known {
		if h.config.allowExtension {
			h.addExt(textproto.CanonicalMIMEHeaderKey(name), string(value))
		}
		return nil
	}

	desc := &fieldTable[id]
	vals, err := parseFieldValues(desc, value)
	if err != nil {
		return err
	}
	if desc.Multi != Single {
		h.values[id] = append(h.values[id], vals...)
		return nil
	}
	if id == FieldContentLength && h.Has(id) {
		// Repeated Content-Length must agree or framing is ambiguous.
		if len(vals) != 1 || h.values[id][0] != vals[0] {
			return fmt.Errorf("conflicting Content-Length: %w", status.ProtocolMalformed)
		}
		return nil
	}
	h.Set(id, vals...)
	return nil
}

func parseFieldValues(desc *FieldDesc, raw []byte) ([]Value, error) {
	var parts [][]byte
	switch desc.Multi {
	case CommaList:
		parts = splitQuoted(raw, ',')
	case SemicolonList:
		parts = splitQuoted(raw, ';')
	case SpaceList:
		parts = splitProducts(raw)
	default:
		parts = [][]byte{raw}
	}

	vals := make([]Value, 0, len(parts))
	for _, p := range parts {
		p = trimOWS(p)
		if len(p) == 0 && desc.Multi != Single && desc.Multi != RepeatLines {
			continue // empty list elements are allowed and ignored
		}
		v, err := ParseValue(desc.Kind, p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", desc.Name, err)
		}
		vals = append(vals, v)
	}
	if desc.Multi == Single && len(vals) != 1 {
		return nil, fmt.Errorf("%s: expected one value: %w", desc.Name, status.ProtocolMalformed)
	}
	return vals, nil
}

func (h *HeaderField) appendValue(dst []byte, id FieldID, vals []Value) []byte {
	sep := ", "
	switch fieldTable[id].Multi {
	case SemicolonList:
		sep = "; "
	case SpaceList:
		sep = " "
	}
	for i, v := range vals {
		if i > 0 {
			dst = append(dst, sep...)
		}
		dst = v.AppendTo(dst)
	}
	return dst
}

// Render produces every "Name: value\r\n" line in serialization order,
// well-known fields by id and then extensions in insertion order. Lines
// are allocated from arena.
func (h *HeaderField) Render(arena *LazyBuffer) [][]byte {
	var lines [][]byte
	var scratch []byte
	emit := func() {
		lines = append(lines, arena.Copy(scratch))
	}
	for id := FieldID(0); id < fieldCount; id++ {
		vals := h.values[id]
		if len(vals) == 0 {
			continue
		}
		name := fieldTable[id].Name
		if fieldTable[id].Multi == RepeatLines {
			for _, v := range vals {
				scratch = append(append(scratch[:0], name...), ": "...)
				scratch = append(v.AppendTo(scratch), '\r', '\n')
				emit()
			}
			continue
		}
		scratch = append(append(scratch[:0], name...), ": "...)
		scratch = append(h.appendValue(scratch, id, vals), '\r', '\n')
		emit()
	}
	for _, key := range h.extOrder {
		for _, v := range h.ext[key] {
			scratch = append(append(scratch[:0], key...), ": "...)
			scratch = append(append(scratch, v...), '\r', '\n')
			emit()
		}
	}
	return lines
}

// Visit calls fn for every field in serialization order. RepeatLines
// fields are visited once per value.
func (h *HeaderField) Visit(fn func(name, value string)) {
	var scratch []byte
	for id := FieldID(0); id < fieldCount; id++ {
		vals := h.values[id]
		if len(vals) == 0 {
			continue
		}
		if fieldTable[id].Multi == RepeatLines {
			for _, v := range vals {
				fn(fieldTable[id].Name, v.String())
			}
			continue
		}
		scratch = h.appendValue(scratch[:0], id, vals)
		fn(fieldTable[id].Name, string(scratch))
	}
	for _, key := range h.extOrder {
		for _, v := range h.ext[key] {
			fn(key, v)
		}
	}
}

// ContentLength returns the declared body length.
func (h *HeaderField) ContentLength() (int64, bool) {
	v, ok := h.First(FieldContentLength)
	if !ok {
		return 0, false
	}
	n, ok := v.(Integer)
	return int64(n), ok
}

// TransferCodings lists Transfer-Encoding tokens in order, lower-cased.
func (h *HeaderField) TransferCodings() []string {
	var out []string
	for _, v := range h.values[FieldTransferEncoding] {
		if pt, ok := v.(ParamToken); ok {
			out = append(out, strings.ToLower(pt.Token))
		}
	}
	return out
}

// Chunked reports whether chunked is the final transfer coding.
func (h *HeaderField) Chunked() bool {
	tc := h.TransferCodings()
	return len(tc) > 0 && tc[len(tc)-1] == "chunked"
}

// ContentCodings lists Content-Encoding tokens in the order applied.
func (h *HeaderField) ContentCodings() []string {
	var out []string
	for _, v := range h.values[FieldContentEncoding] {
		out = append(out, strings.ToLower(v.String()))
	}
	return out
}

// HasToken reports whether a comma-list field contains token.
func (h *HeaderField) HasToken(id FieldID, token string) bool {
	for _, v := range h.values[id] {
		if strings.EqualFold(v.String(), token) {
			return true
		}
	}
	return false
}

// KeepAlive decides connection persistence for a message of version v.
func (h *HeaderField) KeepAlive(v Version) bool {
	if h.HasToken(FieldConnection, "close") {
		return false
	}
	if v.AtLeast(HTTP11) {
		return true
	}
	return h.HasToken(FieldConnection, "keep-alive")
}

// Location returns the Location field text.
func (h *HeaderField) Location() (string, bool) {
	v, ok := h.First(FieldLocation)
	if !ok {
		return "", false
	}
	return v.String(), true
}

func (h *HeaderField) String() string {
	return string(bytes.Join(h.Render(NewLazyBuffer(0)), nil))
}
