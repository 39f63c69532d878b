package ai

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	dataPrefix   = []byte("data:")
	eventPrefix  = []byte("event:")
	doneSentinel = []byte("[DONE]")
)

// StreamError reports a stream that broke after it started. Partial holds
// the text received before the failure.
type StreamError struct {
	Partial string
	Err     error
}

func (e *StreamError) Error() string {
	return "stream interrupted: " + e.Err.Error()
}

func (e *StreamError) Unwrap() error { return e.Err }

// Normalize reads a line-framed event stream, passes every valid `data:`
// payload to extract and reports growth through onGrowth. A `[DONE]` line
// or EOF ends the stream.
func Normalize(body io.Reader, extract ExtractFunc, onGrowth GrowthFunc) (string, error) {
	acc := &accumulator{onGrowth: onGrowth}
	err := readLines(body, func(line []byte) (bool, error) {
		payload, ok := dataPayload(line)
		if !ok {
			return false, nil
		}
		if bytes.Equal(payload, doneSentinel) {
			return true, nil
		}
		if !gjson.ValidBytes(payload) {
			return false, nil
		}
		return false, acc.add(extract(payload))
	})
	return acc.result(err)
}

// dataPayload strips the data marker and one optional space.
func dataPayload(line []byte) ([]byte, bool) {
	if !bytes.HasPrefix(line, dataPrefix) {
		return nil, false
	}
	return bytes.TrimSpace(line[len(dataPrefix):]), true
}

// readLines hands each non-blank line to fn until fn stops, fails, or the body ends.
// Lines split across reads are reassembled by the buffered reader.
func readLines(body io.Reader, fn func(line []byte) (bool, error)) error {
	reader := bufio.NewReader(body)
	for {
		line, readErr := reader.ReadBytes('\n')
		if line = bytes.TrimSpace(line); len(line) > 0 {
			stop, err := fn(line)
			if err != nil || stop {
				return err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return &StreamError{Err: readErr}
		}
	}
}

type accumulator struct {
	text     strings.Builder
	onGrowth GrowthFunc
}

func (a *accumulator) add(fragment string) error {
	if fragment == "" {
		return nil
	}
	a.text.WriteString(fragment)
	if a.onGrowth == nil {
		return nil
	}
	return a.onGrowth(a.text.String())
}

func (a *accumulator) result(err error) (string, error) {
	text := a.text.String()
	var streamErr *StreamError
	if errors.As(err, &streamErr) && streamErr.Partial == "" {
		streamErr.Partial = text
	}
	return text, err
}

// stringAt returns the string at path, or "" when it is absent or not a string.
func stringAt(payload []byte, path string) string {
	res := gjson.GetBytes(payload, path)
	if res.Type != gjson.String {
		return ""
	}
	return res.Str
}
