package resourceserver

import (
	"bytes"
	"net/http"
)

// responseBuffer captures a handler's response instead of writing it
// directly, so the engine can discard it and return a settlement failure
// instead of a half-delivered paid response (§4.6 step 8-9: "the handler's
// body is buffered, never streamed directly, unless the route opts into
// StreamingSettleFirst"). Grounded on internal/idempotency's responseWriter
// capture pattern.
type responseBuffer struct {
	header     http.Header
	statusCode int
	body       bytes.Buffer
	wroteHeader bool
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{header: make(http.Header), statusCode: http.StatusOK}
}

func (b *responseBuffer) Header() http.Header { return b.header }

func (b *responseBuffer) WriteHeader(status int) {
	if b.wroteHeader {
		return
	}
	b.statusCode = status
	b.wroteHeader = true
}

func (b *responseBuffer) Write(p []byte) (int, error) {
	if !b.wroteHeader {
		b.WriteHeader(http.StatusOK)
	}
	return b.body.Write(p)
}

// flush copies the buffered response onto a real ResponseWriter, adding any
// extra headers (e.g. X-PAYMENT-RESPONSE) set on it first.
func (b *responseBuffer) flush(w http.ResponseWriter, extra http.Header) {
	dst := w.Header()
	for k, v := range b.header {
		dst[k] = v
	}
	for k, v := range extra {
		dst[k] = v
	}
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(b.body.Bytes())
}
