package http1

// Indication is the upstream notification a status code maps to.
type Indication uint8

const (
	IndicateUnknown Indication = iota
	IndicateInformational
	IndicateSwitchingProtocols
	IndicateSuccess
	IndicateNoContent
	IndicatePartialContent
	IndicateRedirect
	IndicateNotModified
	IndicateBadRequest
	IndicateUnauthorized
	IndicateForbidden
	IndicateNotFound
	IndicateProxyAuthRequired
	IndicateTimeout
	IndicateTooManyRequests
	IndicateClientError
	IndicateServerError
	IndicateUnavailable
)

var indicationNames = [...]string{
	IndicateUnknown:            "unknown",
	IndicateInformational:      "informational",
	IndicateSwitchingProtocols: "switching-protocols",
	IndicateSuccess:            "success",
	IndicateNoContent:          "no-content",
	IndicatePartialContent:     "partial-content",
	IndicateRedirect:           "redirect",
	IndicateNotModified:        "not-modified",
	IndicateBadRequest:         "bad-request",
	IndicateUnauthorized:       "unauthorized",
	IndicateForbidden:          "forbidden",
	IndicateNotFound:           "not-found",
	IndicateProxyAuthRequired:  "proxy-auth-required",
	IndicateTimeout:            "timeout",
	IndicateTooManyRequests:    "too-many-requests",
	IndicateClientError:        "client-error",
	IndicateServerError:        "server-error",
	IndicateUnavailable:        "unavailable",
}

func (i Indication) String() string {
	if int(i) < len(indicationNames) {
		return indicationNames[i]
	}
	return "unknown"
}

type statusEntry struct {
	reason     string
	indication Indication
}

var statusTable = map[int]statusEntry{
	100: {"Continue", IndicateInformational},
	101: {"Switching Protocols", IndicateSwitchingProtocols},
	102: {"Processing", IndicateInformational},
	103: {"Early Hints", IndicateInformational},

	200: {"OK", IndicateSuccess},
	201: {"Created", IndicateSuccess},
	202: {"Accepted", IndicateSuccess},
	203: {"Non-Authoritative Information", IndicateSuccess},
	204: {"No Content", IndicateNoContent},
	205: {"Reset Content", IndicateNoContent},
	206: {"Partial Content", IndicatePartialContent},

	300: {"Multiple Choices", IndicateRedirect},
	301: {"Moved Permanently", IndicateRedirect},
	302: {"Found", IndicateRedirect},
	303: {"See Other", IndicateRedirect},
	304: {"Not Modified", IndicateNotModified},
	307: {"Temporary Redirect", IndicateRedirect},
	308: {"Permanent Redirect", IndicateRedirect},

	400: {"Bad Request", IndicateBadRequest},
	401: {"Unauthorized", IndicateUnauthorized},
	403: {"Forbidden", IndicateForbidden},
	404: {"Not Found", IndicateNotFound},
	405: {"Method Not Allowed", IndicateClientError},
	406: {"Not Acceptable", IndicateClientError},
	407: {"Proxy Authentication Required", IndicateProxyAuthRequired},
	408: {"Request Timeout", IndicateTimeout},
	409: {"Conflict", IndicateClientError},
	410: {"Gone", IndicateNotFound},
	411: {"Length Required", IndicateClientError},
	412: {"Precondition Failed", IndicateClientError},
	413: {"Content Too Large", IndicateClientError},
	414: {"URI Too Long", IndicateClientError},
	415: {"Unsupported Media Type", IndicateClientError},
	416: {"Range Not Satisfiable", IndicateClientError},
	417: {"Expectation Failed", IndicateClientError},
	421: {"Misdirected Request", IndicateClientError},
	422: {"Unprocessable Content", IndicateClientError},
	426: {"Upgrade Required", IndicateClientError},
	429: {"Too Many Requests", IndicateTooManyRequests},
	431: {"Request Header Fields Too Large", IndicateClientError},

	500: {"Internal Server Error", IndicateServerError},
	501: {"Not Implemented", IndicateServerError},
	502: {"Bad Gateway", IndicateUnavailable},
	503: {"Service Unavailable", IndicateUnavailable},
	504: {"Gateway Timeout", IndicateTimeout},
	505: {"HTTP Version Not Supported", IndicateServerError},
}

// Indicate maps a status code to its indication, falling back on the
// status class for unlisted codes.
func Indicate(code int) Indication {
	if e, ok := statusTable[code]; ok {
		return e.indication
	}
	switch code / 100 {
	case 1:
		return IndicateInformational
	case 2:
		return IndicateSuccess
	case 3:
		return IndicateRedirect
	case 4:
		return IndicateClientError
	case 5:
		return IndicateServerError
	}
	return IndicateUnknown
}

// ReasonPhrase returns the registered phrase or "".
func ReasonPhrase(code int) string {
	return statusTable[code].reason
}

// IsRedirect reports whether code asks the client to follow Location.
func IsRedirect(code int) bool {
	switch code {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}

// BodyForbidden reports whether a response with code never has a body.
func BodyForbidden(code int) bool {
	return code/100 == 1 || code == 204 || code == 304
}
