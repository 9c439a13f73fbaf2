package http1

import "strings"

// FieldID indexes the fixed field table. IDs order serialization, so Host
// comes first.
type FieldID uint8

const (
	FieldHost FieldID = iota
	FieldUserAgent
	FieldAccept
	FieldAcceptCharset
	FieldAcceptEncoding
	FieldAcceptLanguage
	FieldAuthorization
	FieldProxyAuthorization
	FieldCookie
	FieldExpect
	FieldIfModifiedSince
	FieldIfNoneMatch
	FieldOrigin
	FieldRange
	FieldReferer
	FieldTE
	FieldConnection
	FieldProxyConnection
	FieldKeepAlive
	FieldCacheControl
	FieldPragma
	FieldDate
	FieldUpgrade
	FieldVia
	FieldContentType
	FieldContentLength
	FieldContentEncoding
	FieldContentLanguage
	FieldContentDisposition
	FieldContentRange
	FieldTransferEncoding
	FieldTrailer
	FieldServer
	FieldLocation
	FieldSetCookie
	FieldAge
	FieldETag
	FieldExpires
	FieldLastModified
	FieldRetryAfter
	FieldVary
	FieldAcceptRanges
	FieldAllow
	FieldWWWAuthenticate
	FieldProxyAuthenticate

	fieldCount
)

// MultiPolicy says how several values of one field share the wire.
type MultiPolicy uint8

const (
	// Single fields carry one value; a later line replaces the earlier.
	Single MultiPolicy = iota
	CommaList
	SemicolonList
	SpaceList
	// RepeatLines fields are never folded into one line (Set-Cookie).
	RepeatLines
)

type scope uint8

const (
	scopeRequest scope = 1 << iota
	scopeResponse

	scopeGeneral = scopeRequest | scopeResponse
)

// FieldDesc describes one well-known field.
type FieldDesc struct {
	ID    FieldID
	Name  string
	Kind  ValueKind
	Multi MultiPolicy
	scope scope
}

var fieldTable = [fieldCount]FieldDesc{
	{FieldHost, "Host", KindString, Single, scopeRequest},
	{FieldUserAgent, "User-Agent", KindProduct, SpaceList, scopeRequest},
	{FieldAccept, "Accept", KindParamToken, CommaList, scopeRequest},
	{FieldAcceptCharset, "Accept-Charset", KindWeightedToken, CommaList, scopeRequest},
	{FieldAcceptEncoding, "Accept-Encoding", KindWeightedToken, CommaList, scopeRequest},
	{FieldAcceptLanguage, "Accept-Language", KindWeightedToken, CommaList, scopeRequest},
	{FieldAuthorization, "Authorization", KindString, Single, scopeRequest},
	{FieldProxyAuthorization, "Proxy-Authorization", KindString, Single, scopeRequest},
	{FieldCookie, "Cookie", KindTokenPair, SemicolonList, scopeRequest},
	{FieldExpect, "Expect", KindString, Single, scopeRequest},
	{FieldIfModifiedSince, "If-Modified-Since", KindDate, Single, scopeRequest},
	{FieldIfNoneMatch, "If-None-Match", KindString, CommaList, scopeRequest},
	{FieldOrigin, "Origin", KindString, Single, scopeRequest},
	{FieldRange, "Range", KindString, Single, scopeRequest},
	{FieldReferer, "Referer", KindString, Single, scopeRequest},
	{FieldTE, "TE", KindWeightedToken, CommaList, scopeRequest},
	{FieldConnection, "Connection", KindString, CommaList, scopeGeneral},
	{FieldProxyConnection, "Proxy-Connection", KindString, CommaList, scopeGeneral},
	{FieldKeepAlive, "Keep-Alive", KindTokenPair, CommaList, scopeGeneral},
	{FieldCacheControl, "Cache-Control", KindTokenPair, CommaList, scopeGeneral},
	{FieldPragma, "Pragma", KindString, CommaList, scopeGeneral},
	{FieldDate, "Date", KindDate, Single, scopeGeneral},
	{FieldUpgrade, "Upgrade", KindString, CommaList, scopeGeneral},
	{FieldVia, "Via", KindString, CommaList, scopeGeneral},
	{FieldContentType, "Content-Type", KindParamToken, Single, scopeGeneral},
	{FieldContentLength, "Content-Length", KindInteger, Single, scopeGeneral},
	{FieldContentEncoding, "Content-Encoding", KindString, CommaList, scopeGeneral},
	{FieldContentLanguage, "Content-Language", KindString, CommaList, scopeGeneral},
	{FieldContentDisposition, "Content-Disposition", KindParamToken, Single, scopeGeneral},
	{FieldContentRange, "Content-Range", KindString, Single, scopeResponse},
	{FieldTransferEncoding, "Transfer-Encoding", KindParamToken, CommaList, scopeGeneral},
	{FieldTrailer, "Trailer", KindString, CommaList, scopeGeneral},
	{FieldServer, "Server", KindProduct, SpaceList, scopeResponse},
	{FieldLocation, "Location", KindString, Single, scopeResponse},
	{FieldSetCookie, "Set-Cookie", KindString, RepeatLines, scopeResponse},
	{FieldAge, "Age", KindInteger, Single, scopeResponse},
	{FieldETag, "ETag", KindString, Single, scopeResponse},
	{FieldExpires, "Expires", KindDate, Single, scopeResponse},
	{FieldLastModified, "Last-Modified", KindDate, Single, scopeResponse},
	{FieldRetryAfter, "Retry-After", KindString, Single, scopeResponse},
	{FieldVary, "Vary", KindString, CommaList, scopeResponse},
	{FieldAcceptRanges, "Accept-Ranges", KindString, CommaList, scopeResponse},
	{FieldAllow, "Allow", KindString, CommaList, scopeResponse},
	{FieldWWWAuthenticate, "WWW-Authenticate", KindString, RepeatLines, scopeResponse},
	{FieldProxyAuthenticate, "Proxy-Authenticate", KindString, RepeatLines, scopeResponse},
}

var fieldIndex = func() map[string]FieldID {
	m := make(map[string]FieldID, fieldCount)
	for i := range fieldTable {
		if fieldTable[i].ID != FieldID(i) {
			panic("http1: field table out of order at " + fieldTable[i].Name)
		}
		m[strings.ToLower(fieldTable[i].Name)] = fieldTable[i].ID
	}
	return m
}()

// Desc returns the descriptor of id.
func (id FieldID) Desc() *FieldDesc { return &fieldTable[id] }

func (id FieldID) String() string {
	if id < fieldCount {
		return fieldTable[id].Name
	}
	return "Unknown"
}

// LookupField finds a well-known field by case-insensitive name.
func LookupField(name string) (FieldID, bool) {
	id, ok := fieldIndex[strings.ToLower(name)]
	return id, ok
}

// FieldConfig is the per-scheme view of the field table: which well-known
// fields are recognized and whether unknown names are kept.
type FieldConfig struct {
	name           string
	scope          scope
	allowExtension bool
}

var (
	// RequestConfig is used to build outgoing requests.
	RequestConfig = &FieldConfig{name: "request", scope: scopeRequest, allowExtension: true}
	// ResponseConfig is used to parse origin responses.
	ResponseConfig = &FieldConfig{name: "response", scope: scopeResponse, allowExtension: true}
	// TunnelConfig parses CONNECT replies and drops unknown fields.
	TunnelConfig = &FieldConfig{name: "tunnel", scope: scopeResponse, allowExtension: false}
	// TrailerConfig parses chunked trailer fields.
	TrailerConfig = &FieldConfig{name: "trailer", scope: scopeGeneral, allowExtension: true}
)

func (c *FieldConfig) Name() string         { return c.name }
func (c *FieldConfig) AllowExtension() bool { return c.allowExtension }

// Lookup resolves name within this config.
func (c *FieldConfig) Lookup(name string) (FieldID, bool) {
	id, ok := LookupField(name)
	if !ok || fieldTable[id].scope&c.scope == 0 {
		return 0, false
	}
	return id, true
}

// Recognizes reports whether id belongs to this config.
func (c *FieldConfig) Recognizes(id FieldID) bool {
	return id < fieldCount && fieldTable[id].scope&c.scope != 0
}
