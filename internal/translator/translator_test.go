package translator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/sheetd/internal/sheet"
)

type mockRT struct {
	roundTrip func(req *http.Request) (*http.Response, error)
}

func (m *mockRT) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.roundTrip(req)
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

var fastRetry = RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func testTranslator(rt http.RoundTripper) *HTTPTranslator {
	return &HTTPTranslator{
		url:     "http://model.local/generate",
		client:  &http.Client{Transport: rt},
		limiter: newLimiter(0),
		retry:   fastRetry,
	}
}

func testSchema() sheet.Schema {
	tbl := sheet.MustNew([]string{"a"}, [][]sheet.Value{{sheet.Number(1)}})
	return sheet.Summarize(tbl, 5)
}

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"raw text", "  rows.pop();  \n", "rows.pop();"},
		{"fenced javascript", "Here:\n```javascript\nrows.pop();\n```\nDone.", "rows.pop();"},
		{"fenced no language", "```\nresult = 1;\n```", "result = 1;"},
		{"response section", "### Instruction:\ndrop\n### Response:\nrows.pop();\n### End", "rows.pop();"},
		{"response section to end", "### Response:\nrows.length = 0;", "rows.length = 0;"},
		{"response with fence", "### Response:\n```js\nrows.pop();\n```\n", "rows.pop();"},
		{"unterminated fence", "```javascript\nrows.pop();", ""},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractCode(tt.raw); got != tt.want {
				t.Errorf("ExtractCode(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("  sum column a  ", testSchema())

	if !strings.Contains(prompt, "sum column a") {
		t.Error("prompt does not contain the instruction")
	}
	if !strings.Contains(prompt, `"row_count": 1`) {
		t.Error("prompt does not contain the schema")
	}
	if strings.Contains(prompt, "{{") {
		t.Error("prompt has unreplaced placeholders")
	}
}

func TestHTTPTranslator_Success(t *testing.T) {
	tr := testTranslator(&mockRT{roundTrip: func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", req.Method)
		}
		var body generateRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.Instruction != "double a" || body.Language != "javascript" {
			t.Fatalf("unexpected request body: %+v", body)
		}
		return response(http.StatusOK, `{"response":"`+"```js\\nrows.forEach(r => r.a *= 2);\\n```"+`"}`), nil
	}})

	frag, err := tr.Translate(context.Background(), "double a", testSchema())
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if want := "rows.forEach(r => r.a *= 2);"; frag.Code != want {
		t.Errorf("Code = %q, want %q", frag.Code, want)
	}
}

func TestHTTPTranslator_CodeField(t *testing.T) {
	tr := testTranslator(&mockRT{roundTrip: func(req *http.Request) (*http.Response, error) {
		return response(http.StatusOK, `{"code":"result = 42;"}`), nil
	}})

	frag, err := tr.Translate(context.Background(), "answer", testSchema())
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if frag.Code != "result = 42;" {
		t.Errorf("Code = %q, want %q", frag.Code, "result = 42;")
	}
}

func TestHTTPTranslator_RetriesServerErrors(t *testing.T) {
	calls := 0
	tr := testTranslator(&mockRT{roundTrip: func(req *http.Request) (*http.Response, error) {
		calls++
		if calls < 3 {
			return response(http.StatusServiceUnavailable, "warming up"), nil
		}
		return response(http.StatusOK, `{"code":"rows.pop();"}`), nil
	}})

	if _, err := tr.Translate(context.Background(), "drop last", testSchema()); err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestHTTPTranslator_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   error
		wantCalls int
	}{
		{"bad request is not retried", http.StatusBadRequest, "nope", ErrRejected, 1},
		{"rate limited exhausts retries", http.StatusTooManyRequests, "slow down", ErrRateLimited, 3},
		{"server error exhausts retries", http.StatusBadGateway, "", ErrUnavailable, 3},
		{"empty answer", http.StatusOK, `{"response":""}`, ErrNoCode, 1},
		{"undecodable answer", http.StatusOK, `not json`, ErrNoCode, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			tr := testTranslator(&mockRT{roundTrip: func(req *http.Request) (*http.Response, error) {
				calls++
				return response(tt.status, tt.body), nil
			}})

			_, err := tr.Translate(context.Background(), "x", testSchema())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Translate error = %v, want %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestHTTPTranslator_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := testTranslator(&mockRT{roundTrip: func(req *http.Request) (*http.Response, error) {
		cancel()
		return nil, req.Context().Err()
	}})

	_, err := tr.Translate(ctx, "x", testSchema())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Translate error = %v, want context.Canceled", err)
	}
}

func TestCall_StopsWhenContextEndsWhileThrottled(t *testing.T) {
	limiter := newLimiter(1)
	limiter.Take() // the next slot is a second away

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	calls := 0
	_, err := call(ctx, "test", fastRetry, limiter, func() (string, error) {
		calls++
		return "ok", nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("call error = %v, want DeadlineExceeded", err)
	}
	if calls != 0 {
		t.Errorf("op ran %d times after the context ended", calls)
	}
}

func TestNewHTTP_RequiresURL(t *testing.T) {
	if _, err := NewHTTP(HTTPConfig{}); err == nil {
		t.Error("NewHTTP with empty URL succeeded, want error")
	}
}

func TestFunc(t *testing.T) {
	var tr Translator = Func(func(ctx context.Context, instruction string, schema sheet.Schema) (CodeFragment, error) {
		return fragment("```\n" + instruction + "\n```")
	})
	frag, err := tr.Translate(context.Background(), "rows.pop();", testSchema())
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if frag.Code != "rows.pop();" {
		t.Errorf("Code = %q, want %q", frag.Code, "rows.pop();")
	}
}

func TestVertexConfig_ClientOptions(t *testing.T) {
	tests := []struct {
		name string
		cfg  VertexConfig
		want int
	}{
		{"defaults", VertexConfig{Project: "p", Location: "us-central1"}, 0},
		{"credentials", VertexConfig{CredentialsFile: "/etc/sa.json"}, 1},
		{"credentials and endpoint", VertexConfig{CredentialsFile: "/etc/sa.json", Endpoint: "localhost:8443"}, 2},
	}
	for _, tt := range tests {
		if got := len(tt.cfg.clientOptions()); got != tt.want {
			t.Errorf("%s: %d options, want %d", tt.name, got, tt.want)
		}
	}
}

func TestNewVertex_RequiresProject(t *testing.T) {
	if _, err := NewVertex(context.Background(), VertexConfig{Location: "us-central1"}); err == nil {
		t.Error("NewVertex without project should fail")
	}
}
