package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// maxLineBytes bounds a single stream line; vision responses can carry long chunks.
const maxLineBytes = 1 << 20

// NewClient returns a JSON resty client rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
}

// CheckStatus turns a non-2xx response into a sentinel-wrapped error.
func CheckStatus(resp *resty.Response, body []byte) error {
	code := resp.StatusCode()
	if code >= 200 && code < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	if code == http.StatusTooManyRequests || code >= 500 {
		return fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, code, msg)
	}
	return fmt.Errorf("%w: status %d: %s", ErrInvalidResponse, code, msg)
}

// PostStream issues a streaming POST and hands the open body to read. The body
// is always closed before PostStream returns.
func PostStream(ctx context.Context, req *resty.Request, path string, read func(io.Reader) error) error {
	resp, err := req.SetContext(ctx).SetDoNotParseResponse(true).Post(path)
	if err != nil {
		return ClassifyError(err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(body, 4096))
		return CheckStatus(resp, raw)
	}

	if err := read(body); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ClassifyError(ctxErr)
		}
		return err
	}
	return nil
}

// ReadSSE calls onData with the payload of every "data:" line until the stream
// ends, onData reports done, or the "[DONE]" sentinel arrives. Event names and
// comments are ignored; providers put the event type inside the JSON payload.
func ReadSSE(r io.Reader, onData func(data []byte) (done bool, err error)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimPrefix(data, " ")
		if data == "[DONE]" {
			return nil
		}
		done, err := onData([]byte(data))
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return ClassifyError(err)
	}
	return nil
}

// ReadNDJSON decodes one JSON value per line into a fresh T and passes it to onValue.
func ReadNDJSON[T any](r io.Reader, onValue func(v T) (done bool, err error)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var v T
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			return fmt.Errorf("%w: decode stream line: %v", ErrInvalidResponse, err)
		}
		done, err := onValue(v)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return ClassifyError(err)
	}
	return nil
}

// ClassifyError maps transport-level errors to sentinel errors.
func ClassifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
