package ai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"memochat/internal/config"
	"memochat/internal/models"
)

var testChunks = []string{"Hel", "lo ", "world"}

type adapterCase struct {
	provider string
	path     string
	frame    func(chunk string) string
	trailer  string
	checkReq func(t *testing.T, r *http.Request, body []byte)
}

func adapterCases() []adapterCase {
	bearer := func(t *testing.T, r *http.Request, body []byte) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.True(t, gjson.GetBytes(body, "stream").Bool())
		require.Equal(t, "system", gjson.GetBytes(body, "messages.0.role").String())
		require.Equal(t, "hi", gjson.GetBytes(body, "messages.1.content").String())
	}
	cases := []adapterCase{
		{
			provider: "gemini",
			path:     "/models/gemini-2.0-flash:streamGenerateContent",
			frame: func(c string) string {
				return `data: {"candidates":[{"content":{"role":"model","parts":[{"text":` + quote(c) + `}]}}]}` + "\r\n\r\n"
			},
			checkReq: func(t *testing.T, r *http.Request, body []byte) {
				require.Equal(t, "sse", r.URL.Query().Get("alt"))
				require.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
				require.Equal(t, "be brief", gjson.GetBytes(body, "systemInstruction.parts.0.text").String())
				require.Equal(t, "user", gjson.GetBytes(body, "contents.0.role").String())
			},
		},
		{
			provider: "anthropic",
			path:     "/messages",
			frame: func(c string) string {
				return "event: content_block_delta\n" +
					`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":` + quote(c) + `}}` + "\n\n" +
					"event: ping\ndata: {\"type\":\"ping\"}\n\n"
			},
			trailer: "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n" +
				"event: content_block_delta\n" + `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"late"}}` + "\n\n",
			checkReq: func(t *testing.T, r *http.Request, body []byte) {
				require.Equal(t, "test-key", r.Header.Get("x-api-key"))
				require.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
				require.Equal(t, "be brief", gjson.GetBytes(body, "system").String())
				require.Equal(t, "user", gjson.GetBytes(body, "messages.0.role").String())
			},
		},
		{
			provider: "ollama",
			path:     "/api/chat",
			frame: func(c string) string {
				return `{"model":"llama3.2","message":{"role":"assistant","content":` + quote(c) + `},"done":false}` + "\n"
			},
			trailer: `{"model":"llama3.2","message":{"role":"assistant","content":""},"done":true}` + "\n",
			checkReq: func(t *testing.T, r *http.Request, body []byte) {
				require.Empty(t, r.Header.Get("Authorization"))
				require.Equal(t, "llama3.2", gjson.GetBytes(body, "model").String())
			},
		},
	}
	for _, id := range []string{"openai", "groq", "openrouter", "mistral", "deepseek", "together"} {
		cases = append(cases, adapterCase{
			provider: id,
			path:     "/chat/completions",
			frame:    openAIChunk,
			trailer:  "data: [DONE]\n\n",
			checkReq: bearer,
		})
	}
	return cases
}

func newStreamServer(t *testing.T, tc adapterCase) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, tc.path, r.URL.Path)
		tc.checkReq(t, r, body)

		flusher, _ := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		for _, chunk := range testChunks {
			fmt.Fprint(w, tc.frame(chunk))
			if flusher != nil {
				flusher.Flush()
			}
		}
		fmt.Fprint(w, tc.trailer)
	}))
}

func buildAgainst(t *testing.T, provider, baseURL string) Provider {
	t.Helper()
	catalog := NewCatalog(&config.Config{Providers: map[string]config.ProviderConfig{
		provider: {BaseURL: baseURL},
	}})
	key := "test-key"
	if provider == "ollama" {
		key = ""
	}
	p, err := catalog.Build(context.Background(), Settings{Provider: provider, APIKey: key})
	require.NoError(t, err)
	return p
}

func TestAdaptersStreamCumulativeText(t *testing.T) {
	for _, tc := range adapterCases() {
		t.Run(tc.provider, func(t *testing.T) {
			srv := newStreamServer(t, tc)
			defer srv.Close()

			p := buildAgainst(t, tc.provider, srv.URL)
			require.Equal(t, tc.provider, p.ID())

			rec := &growthRecorder{}
			text, err := p.StreamChat(context.Background(), &ChatRequest{
				System:   "be brief",
				Messages: []Message{{Role: models.RoleUser, Content: "hi"}},
			}, rec.record)
			require.NoError(t, err)
			require.Equal(t, strings.Join(testChunks, ""), text)
			require.Len(t, rec.calls, len(testChunks))
			for i := 1; i < len(rec.calls); i++ {
				require.GreaterOrEqual(t, len(rec.calls[i]), len(rec.calls[i-1]))
			}
			require.Equal(t, text, rec.calls[len(rec.calls)-1])
		})
	}
}

func TestAdaptersFailFastOnStatusWithoutBody(t *testing.T) {
	for _, tc := range adapterCases() {
		t.Run(tc.provider, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				fmt.Fprint(w, "<html>upstream down</html>")
			}))
			defer srv.Close()

			calls := 0
			_, err := buildAgainst(t, tc.provider, srv.URL).StreamChat(context.Background(),
				&ChatRequest{Messages: []Message{{Role: models.RoleUser, Content: "hi"}}},
				func(string) error { calls++; return nil })
			require.Error(t, err)
			require.Contains(t, err.Error(), "502")
			require.Zero(t, calls)

			var provErr *ProviderError
			require.ErrorAs(t, err, &provErr)
			require.Equal(t, http.StatusBadGateway, provErr.StatusCode)
		})
	}
}

func TestErrorFromResponsePrefersStructuredFields(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"nested message", `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`, "Incorrect API key provided"},
		{"error string", `{"error":"model 'nope' not found"}`, "model 'nope' not found"},
		{"generic message", `{"message":"slow down"}`, "slow down"},
		{"gemini array", `[{"error":{"code":400,"message":"API key not valid"}}]`, "API key not valid"},
		{"malformed", `{"error":`, "401 Unauthorized"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := &http.Response{
				Status:     "401 Unauthorized",
				StatusCode: http.StatusUnauthorized,
				Body:       io.NopCloser(strings.NewReader(tc.body)),
			}
			err := errorFromResponse("openai", resp)
			var provErr *ProviderError
			require.ErrorAs(t, err, &provErr)
			require.Equal(t, tc.want, provErr.Message)
			require.Contains(t, err.Error(), "401")
		})
	}
}

func TestErrorFromResponseTruncatesLongMessages(t *testing.T) {
	long := strings.Repeat("é", 1000)
	resp := &http.Response{
		Status:     "500 Internal Server Error",
		StatusCode: http.StatusInternalServerError,
		Body:       io.NopCloser(strings.NewReader(`{"message":"` + long + `"}`)),
	}
	var provErr *ProviderError
	require.ErrorAs(t, errorFromResponse("mistral", resp), &provErr)
	require.Equal(t, maxErrorMessage+3, len([]rune(provErr.Message)))
}

func TestAnthropicStreamErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: content_block_delta\n"+
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"par"}}`+"\n\n"+
			"event: error\n"+
			`data: {"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`+"\n\n")
	}))
	defer srv.Close()

	text, err := buildAgainst(t, "anthropic", srv.URL).StreamChat(context.Background(),
		&ChatRequest{Messages: []Message{{Role: models.RoleUser, Content: "hi"}}}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Overloaded")
	require.Equal(t, "par", text)
	require.Equal(t, KindRateLimited, Diagnose(err).Kind)
}

func TestOllamaInlineError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"model runner has unexpectedly stopped"}`+"\n")
	}))
	defer srv.Close()

	_, err := buildAgainst(t, "ollama", srv.URL).StreamChat(context.Background(),
		&ChatRequest{Messages: []Message{{Role: models.RoleUser, Content: "hi"}}}, nil)
	require.ErrorContains(t, err, "unexpectedly stopped")
}

func TestCatalogRequiresCredential(t *testing.T) {
	catalog := NewCatalog(nil)
	_, err := catalog.Build(context.Background(), Settings{Provider: "openai"})
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)

	_, err = catalog.Build(context.Background(), Settings{Provider: "nope", APIKey: "k"})
	require.ErrorAs(t, err, &cfgErr)
	require.ErrorIs(t, err, ErrNotConfigured)

	p, err := catalog.Build(context.Background(), Settings{Provider: "ollama"})
	require.NoError(t, err)
	require.Equal(t, "llama3.2", p.Model())
}

func TestCatalogAppliesOverridesAndFallbackKey(t *testing.T) {
	catalog := NewCatalog(&config.Config{Providers: map[string]config.ProviderConfig{
		"groq": {Model: "llama-3.3-70b-versatile", APIKey: "from-config"},
	}})
	kind, ok := catalog.Lookup("GROQ")
	require.True(t, ok)
	require.Equal(t, "llama-3.3-70b-versatile", kind.DefaultModel)

	p, err := catalog.Build(context.Background(), Settings{Provider: "groq"})
	require.NoError(t, err)
	require.Equal(t, "llama-3.3-70b-versatile", p.Model())
	require.Equal(t, "from-config", p.(*HTTPProvider).apiKey)

	ids := make([]string, 0)
	for _, k := range catalog.Kinds() {
		ids = append(ids, k.ID)
	}
	require.Contains(t, ids, "eino-openai")
	require.IsIncreasing(t, ids)
}
