package httpclient

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuanQin2000/datax/internal/http1"
	"github.com/YuanQin2000/datax/internal/status"
)

func fieldMap(fields [][2]string) map[string]string {
	m := make(map[string]string, len(fields))
	for _, f := range fields {
		m[strings.ToLower(f[0])] = f[1]
	}
	return m
}

func TestRedirect_MethodRules(t *testing.T) {
	s := testStack(t, nil)
	cases := []struct {
		method   string
		code     int
		want     http1.Method
		keepBody bool
	}{
		{"POST", 303, http1.MethodGet, false},
		{"HEAD", 303, http1.MethodHead, false},
		{"POST", 302, http1.MethodGet, false},
		{"PUT", 301, http1.MethodGet, false},
		{"GET", 301, http1.MethodGet, false},
		{"POST", 307, http1.MethodPost, true},
		{"PUT", 308, http1.MethodPut, true},
	}
	for _, tc := range cases {
		req, err := s.NewRequest(tc.method, "http://example.com/form", newRecorder())
		require.NoError(t, err)
		req.SetHeader("Content-Type", "text/plain")
		if tc.method != "GET" && tc.method != "HEAD" {
			req.SetBody([]byte("payload"))
		}

		next, err := req.redirectRequest(tc.code, "/done")
		require.NoError(t, err, "%s %d", tc.method, tc.code)
		assert.Equal(t, tc.want, next.Method(), "%s %d", tc.method, tc.code)
		assert.Equal(t, "http://example.com/done", next.URL().String())
		assert.Equal(t, 1, next.Hops())
		assert.Same(t, req, next.Root())

		fields := fieldMap(next.fields)
		if tc.keepBody {
			assert.Equal(t, []byte("payload"), next.body)
			assert.Equal(t, "text/plain", fields["content-type"])
		} else {
			assert.Nil(t, next.body, "%s %d", tc.method, tc.code)
		}
	}
}

func TestRedirect_HeaderCarryOver(t *testing.T) {
	s := testStack(t, nil)
	req, err := s.NewRequest("GET", "https://user:pw@example.com/a#top", newRecorder())
	require.NoError(t, err)
	req.SetHeader("Authorization", "Bearer t")
	req.SetHeader("Proxy-Authorization", "Basic x")
	req.SetHeader("Cookie", "a=1")
	req.SetHeader("Accept", "text/html")
	req.SetHeader("Referer", "https://old.example/")

	same, err := req.redirectRequest(302, "/b")
	require.NoError(t, err)
	want := map[string]string{
		"authorization": "Bearer t",
		"accept":        "text/html",
		"referer":       "https://example.com/a",
	}
	if diff := cmp.Diff(want, fieldMap(same.fields)); diff != "" {
		t.Errorf("same-origin fields (-want +got):\n%s", diff)
	}

	cross, err := req.redirectRequest(302, "https://other.example/b")
	require.NoError(t, err)
	assert.NotContains(t, fieldMap(cross.fields), "authorization")

	down, err := req.redirectRequest(302, "http://example.com/b")
	require.NoError(t, err)
	assert.NotContains(t, fieldMap(down.fields), "referer")
}

func TestRedirect_Limits(t *testing.T) {
	s := testStack(t, func(o *Options) { o.MaxRedirects = 2 })
	req, err := s.NewRequest("GET", "http://example.com/", newRecorder())
	require.NoError(t, err)

	hop1, err := req.redirectRequest(302, "/1")
	require.NoError(t, err)
	hop2, err := hop1.redirectRequest(302, "/2")
	require.NoError(t, err)
	_, err = hop2.redirectRequest(302, "/3")
	assert.ErrorIs(t, err, errTooManyRedirects)

	_, err = req.redirectRequest(302, "ftp://example.com/")
	assert.Equal(t, status.IllegalParameter, status.Of(err))

	streamed, err := s.NewRequest("PUT", "http://example.com/", newRecorder())
	require.NoError(t, err)
	streamed.SetBodyStream(strings.NewReader("x"))
	_, err = streamed.redirectRequest(307, "/again")
	assert.Equal(t, status.IllegalParameter, status.Of(err))
	next, err := streamed.redirectRequest(303, "/see")
	require.NoError(t, err)
	assert.Nil(t, next.stream)
}

func TestRedirect_ResponseChainsAndSkipsBody(t *testing.T) {
	s := testStack(t, nil)
	rec := newRecorder()
	req, err := s.NewRequest("GET", "http://127.0.0.1:1/start", rec)
	require.NoError(t, err)
	require.NoError(t, req.build())

	_, err = req.OnResponse([]byte("HTTP/1.1 302 Found\r\nLocation: /next\r\nContent-Length: 4\r\n\r\nmove"))
	require.NoError(t, err)
	require.NotNil(t, req.RedirectTo())
	assert.Equal(t, "http://127.0.0.1:1/next", req.RedirectTo().URL().String())
	assert.Zero(t, rec.status, "redirect heads are not delivered")
	assert.Empty(t, rec.body.String())
	assert.Equal(t, []http1.Indication{http1.IndicateRedirect}, rec.indicated)
	assert.Equal(t, []string{"http://127.0.0.1:1/next"}, rec.redirects)

	// The chained request starts but this stack has no loop, so the root
	// completes with the failure.
	req.OnTerminated(nil)
	assert.Equal(t, status.Inactive, status.Of(rec.wait(t)))
}

func TestRedirect_TooManyFailsTheRequest(t *testing.T) {
	s := testStack(t, func(o *Options) { o.MaxRedirects = 0 })
	rec := newRecorder()
	req, err := s.NewRequest("GET", "http://example.com/", rec)
	require.NoError(t, err)
	require.NoError(t, req.build())

	_, err = req.OnResponse([]byte("HTTP/1.1 301 Moved Permanently\r\nLocation: http://example.com/x\r\nContent-Length: 0\r\n\r\n"))
	require.NoError(t, err)
	req.OnTerminated(nil)
	assert.Equal(t, status.ProtocolError, status.Of(rec.wait(t)))
}

func TestRedirect_WithoutLocationIsDelivered(t *testing.T) {
	s := testStack(t, nil)
	rec := newRecorder()
	req, err := s.NewRequest("GET", "http://example.com/", rec)
	require.NoError(t, err)
	require.NoError(t, req.build())

	_, err = req.OnResponse([]byte("HTTP/1.1 302 Found\r\nContent-Length: 3\r\n\r\nhey"))
	require.NoError(t, err)
	req.OnTerminated(nil)
	require.NoError(t, rec.wait(t))
	assert.Equal(t, 302, rec.status)
	assert.Equal(t, "hey", rec.body.String())
	assert.Nil(t, req.RedirectTo())
}
