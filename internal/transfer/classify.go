package transfer

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/beyond-all-reason/pr-downloader/internal/download"
)

// classifyTransportError maps a net/http transport-level failure onto the
// download.Kind taxonomy: connect failures, timeouts, TLS handshake
// failures, and truncated bodies are all retryable, while a canceled-by-us
// context (abort, or the caller giving up) is fatal.
func classifyTransportError(err error) *download.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return download.Wrap(download.KindTransportFatal, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return download.Wrap(download.KindTransportRetryable, err)
		}
		err = urlErr.Err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return download.Wrap(download.KindTransportRetryable, err)
	}

	var tlsErr *tls.RecordHeaderError
	if errors.As(err, &tlsErr) {
		return download.Wrap(download.KindTransportRetryable, err)
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return download.Wrap(download.KindTransportRetryable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return download.Wrap(download.KindTransportRetryable, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return download.Wrap(download.KindTransportRetryable, err)
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return download.Wrap(download.KindTransportRetryable, err)
	}

	// Unknown transport failure: treat conservatively as retryable, covering
	// cases like a truncated or malformed response that don't map onto any
	// of the categories above.
	return download.Wrap(download.KindTransportRetryable, err)
}

// classifyStatus maps an HTTP response status code >= 400 to a
// download.Error. 304 is handled by the caller before this is reached (it
// is a success path, not an error). 429 and 5xx are retryable; other 4xx
// are fatal.
func classifyStatus(statusCode int) *download.Error {
	err := errors.New(httpStatusText(statusCode))
	if statusCode == http.StatusTooManyRequests || statusCode >= 500 {
		return &download.Error{Kind: download.KindTransportRetryable, StatusCode: statusCode, Err: err}
	}
	return download.WrapHTTPStatus(statusCode, err)
}

func httpStatusText(code int) string {
	if t := http.StatusText(code); t != "" {
		return t
	}
	return "http error"
}

// retryableOutcome maps a classified error's Kind onto the engine's
// attemptOutcome, so every error path routes through the same
// Kind.Retryable() decision instead of re-deriving it ad hoc per call site.
func retryableOutcome(err *download.Error) attemptOutcome {
	if err != nil && err.Kind.Retryable() {
		return outcomeRetry
	}
	return outcomeFailed
}

// asDownloadError passes through err unchanged if it is already a
// *download.Error, or wraps it under fallback otherwise. The chunk-write
// error path already wraps its failures in *download.Error before they
// cross the strand boundary, so this only re-wraps unexpected cases.
func asDownloadError(err error, fallback download.Kind) *download.Error {
	var derr *download.Error
	if errors.As(err, &derr) {
		return derr
	}
	return download.Wrap(fallback, err)
}
