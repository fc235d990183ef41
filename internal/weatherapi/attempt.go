package weatherapi

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"

	"weather-etl/internal/models"
)

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetryable
	outcomeFatal
)

func (o outcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// attemptResult is the tagged result of one request; the retry loop branches
// on outcome only.
type attemptResult struct {
	outcome outcome
	record  models.RawWeatherRecord
	kind    models.FetchErrorKind
	status  int
	cause   error
}

// classifyTransportError maps an error from http.Client.Do. ctx is the
// caller's context, not the per-attempt one, so a caller cancellation is not
// mistaken for a request timeout.
func classifyTransportError(ctx context.Context, err error) attemptResult {
	if ctx.Err() != nil {
		return attemptResult{outcome: outcomeFatal, kind: models.KindCanceled, cause: ctx.Err()}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return attemptResult{outcome: outcomeRetryable, kind: models.KindTimeout, cause: err}
	}
	if isConnectionError(err) {
		return attemptResult{outcome: outcomeRetryable, kind: models.KindConnection, cause: err}
	}
	return attemptResult{outcome: outcomeFatal, kind: models.KindClient, cause: err}
}

// classifyResponse maps a received response. Reading the body can still fail
// on the network, so ctx follows the same rule as classifyTransportError.
func classifyResponse(ctx context.Context, resp *http.Response) attemptResult {
	status := resp.StatusCode

	switch {
	case status >= 200 && status < 300:
		record, err := decodeRecord(resp.Body)
		if err != nil {
			res := classifyBodyError(ctx, err)
			res.status = status
			return res
		}
		return attemptResult{outcome: outcomeSuccess, record: record, status: status}

	case status == http.StatusNotFound:
		drain(resp.Body)
		return attemptResult{
			outcome: outcomeFatal,
			kind:    models.KindNotFound,
			status:  status,
			cause:   errors.Newf("status %d", status),
		}

	case status >= 500:
		return attemptResult{
			outcome: outcomeRetryable,
			kind:    models.KindServer,
			status:  status,
			cause:   errors.Newf("status %d: %s", status, snippet(resp.Body)),
		}

	default:
		return attemptResult{
			outcome: outcomeFatal,
			kind:    models.KindClient,
			status:  status,
			cause:   errors.Newf("status %d: %s", status, snippet(resp.Body)),
		}
	}
}

// classifyBodyError separates a malformed payload from a body read that timed
// out or lost its connection.
func classifyBodyError(ctx context.Context, err error) attemptResult {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, errNullBody) {
		return attemptResult{outcome: outcomeFatal, kind: models.KindDecode, cause: err}
	}

	res := classifyTransportError(ctx, err)
	if res.kind == models.KindClient {
		res.kind = models.KindDecode
	}
	return res
}

func snippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	drain(r)
	return strings.TrimSpace(string(b))
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 1<<16))
}
