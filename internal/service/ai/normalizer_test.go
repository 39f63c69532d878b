package ai

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
)

func openAIChunk(content string) string {
	return `data: {"choices":[{"delta":{"content":` + quote(content) + `}}]}` + "\n\n"
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func extractOpenAI(payload []byte) string { return openAICodec{}.extract(payload) }

type growthRecorder struct {
	calls []string
}

func (g *growthRecorder) record(text string) error {
	g.calls = append(g.calls, text)
	return nil
}

func TestNormalizeConcatenatesChunks(t *testing.T) {
	body := openAIChunk("Hel") + openAIChunk("lo ") + openAIChunk("world") + "data: [DONE]\n\n" + openAIChunk("ignored")
	rec := &growthRecorder{}

	text, err := Normalize(strings.NewReader(body), extractOpenAI, rec.record)
	require.NoError(t, err)
	require.Equal(t, "Hello world", text)
	require.Equal(t, []string{"Hel", "Hello ", "Hello world"}, rec.calls)
}

func TestNormalizeSkipsNoiseAndEmptyFragments(t *testing.T) {
	body := ": keep-alive\n" +
		"event: ping\n" +
		"data: {not json\n" +
		`data: {"choices":[{"delta":{}}]}` + "\n" +
		`data: {"choices":[{"delta":{"content":42}}]}` + "\n" +
		openAIChunk("ok") +
		"data: [DONE]\n"
	rec := &growthRecorder{}

	text, err := Normalize(strings.NewReader(body), extractOpenAI, rec.record)
	require.NoError(t, err)
	require.Equal(t, "ok", text)
	require.Len(t, rec.calls, 1)
}

func TestNormalizeReassemblesSplitLines(t *testing.T) {
	body := openAIChunk("split ") + openAIChunk("across reads") + "data: [DONE]\n"
	rec := &growthRecorder{}

	text, err := Normalize(iotest.OneByteReader(strings.NewReader(body)), extractOpenAI, rec.record)
	require.NoError(t, err)
	require.Equal(t, "split across reads", text)
	require.Len(t, rec.calls, 2)
}

func TestNormalizeHandlesUnterminatedFinalLine(t *testing.T) {
	body := openAIChunk("a") + strings.TrimSuffix(openAIChunk("b"), "\n\n")
	text, err := Normalize(strings.NewReader(body), extractOpenAI, nil)
	require.NoError(t, err)
	require.Equal(t, "ab", text)
}

func TestNormalizeCallbackErrorAborts(t *testing.T) {
	stop := errors.New("client gone")
	body := openAIChunk("one") + openAIChunk("two")
	calls := 0

	text, err := Normalize(strings.NewReader(body), extractOpenAI, func(string) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, calls)
	require.Equal(t, "one", text)
}

func TestNormalizeReadErrorKeepsPartial(t *testing.T) {
	reset := errors.New("connection reset by peer")
	body := io.MultiReader(strings.NewReader(openAIChunk("partial")), iotest.ErrReader(reset))

	text, err := Normalize(body, extractOpenAI, nil)
	require.Error(t, err)
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	require.Equal(t, "partial", streamErr.Partial)
	require.ErrorIs(t, err, reset)
	require.Equal(t, "partial", text)
}
