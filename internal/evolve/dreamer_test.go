package evolve

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ain/internal/config"
	"ain/internal/llm"
)

// requestLog captures what each scripted completion call asked for.
type requestLog struct {
	mu      sync.Mutex
	models  []string
	temps   []float64
	systems []string
}

func (l *requestLog) add(model string, temp float64, system string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.models = append(l.models, model)
	l.temps = append(l.temps, temp)
	l.systems = append(l.systems, system)
}

func (l *requestLog) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.models)
}

func (l *requestLog) system(i int) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 || i >= len(l.systems) {
		return ""
	}
	return l.systems[i]
}

func (l *requestLog) model(i int) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 || i >= len(l.models) {
		return ""
	}
	return l.models[i]
}

func (l *requestLog) temp(i int) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 || i >= len(l.temps) {
		return -1
	}
	return l.temps[i]
}

func completionBody(content string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{{
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5},
	})
	return string(b)
}

// scriptedLLM serves replies in call order, repeating the last one when
// the script runs out.
func scriptedLLM(t *testing.T, replies ...string) (*llm.Client, *requestLog) {
	t.Helper()
	log := &requestLog{}
	var mu sync.Mutex
	call := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model       string  `json:"model"`
			Temperature float64 `json:"temperature"`
			Messages    []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		system := ""
		if len(req.Messages) > 0 && req.Messages[0].Role == "system" {
			system = req.Messages[0].Content
		}
		log.add(req.Model, req.Temperature, system)

		mu.Lock()
		i := call
		call++
		mu.Unlock()
		if i >= len(replies) {
			i = len(replies) - 1
		}
		w.Write([]byte(completionBody(replies[i])))
	}))
	t.Cleanup(srv.Close)

	cfg := config.LLMConfig{
		BaseURL:       srv.URL,
		APIKey:        "test-key",
		DreamerModel:  "dreamer-x",
		CoderModel:    "coder-x",
		FallbackModel: "cheap-x",
		MaxTokens:     512,
	}
	return llm.New(cfg, 5*time.Second), log
}

const goodIntentReply = "SYSTEM_INTENT: Add a ping() helper to nexus/ping.py so liveness checks answer without a model call."

func TestDreamExtractsIntent(t *testing.T) {
	client, _ := scriptedLLM(t, goodIntentReply)
	d := NewDreamer(client)

	res, err := d.Dream(context.Background(), Brief{Snapshot: "=== SYSTEM SNAPSHOT: 0 files ==="})
	if err != nil {
		t.Fatalf("Dream: %v", err)
	}
	if res.NoEvolution {
		t.Fatal("unexpected no-evolution verdict")
	}
	if res.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", res.Attempts)
	}
	want := "Add a ping() helper to nexus/ping.py so liveness checks answer without a model call."
	if res.Intent != want {
		t.Fatalf("intent = %q", res.Intent)
	}
}

func TestDreamRetriesShortReplies(t *testing.T) {
	client, log := scriptedLLM(t, "ok.", goodIntentReply)
	d := NewDreamer(client)

	res, err := d.Dream(context.Background(), Brief{})
	if err != nil {
		t.Fatalf("Dream: %v", err)
	}
	if res.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", res.Attempts)
	}
	if log.calls() != 2 {
		t.Fatalf("llm calls = %d, want 2", log.calls())
	}
	if !strings.Contains(log.system(1), "under 10 lines") {
		t.Fatalf("second attempt system prompt did not escalate brevity: %q", log.system(1))
	}
}

func TestDreamSentinelShortCircuits(t *testing.T) {
	client, _ := scriptedLLM(t, "NO_EVOLUTION_NEEDED: every subsystem is green")
	d := NewDreamer(client)

	res, err := d.Dream(context.Background(), Brief{})
	if err != nil {
		t.Fatalf("Dream: %v", err)
	}
	if !res.NoEvolution {
		t.Fatal("sentinel not honoured")
	}
	if res.Reason != "every subsystem is green" {
		t.Fatalf("reason = %q", res.Reason)
	}
}

func TestDreamExhaustsAttempts(t *testing.T) {
	client, log := scriptedLLM(t, "nah")
	d := NewDreamer(client)

	_, err := d.Dream(context.Background(), Brief{})
	if err == nil {
		t.Fatal("expected error after exhausted attempts")
	}
	if !strings.Contains(err.Error(), "exhausted 3 attempts") {
		t.Fatalf("err = %v", err)
	}
	if log.calls() != 3 {
		t.Fatalf("llm calls = %d, want 3", log.calls())
	}
	if !strings.Contains(log.system(2), "exactly one line") {
		t.Fatalf("final attempt not maximally brief: %q", log.system(2))
	}
}

func TestExtractIntentCascade(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "intent line",
			raw:  "Thinking about it.\nSYSTEM_INTENT: split the scheduler tick\nmore text",
			want: "split the scheduler tick",
		},
		{
			name: "bracketed tag",
			raw:  "[INTENT]: harden the backup path",
			want: "harden the backup path",
		},
		{
			name: "underscore-free tag",
			raw:  "SYSTEM INTENT - prune dead engine modules",
			want: "prune dead engine modules",
		},
		{
			name: "first meaningful line",
			raw:  "\n```\nfence noise\n```\n# heading\nImprove the vitals report format\nrest",
			want: "Improve the vitals report format",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractIntent(tc.raw); got != tc.want {
				t.Fatalf("ExtractIntent = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractIntentCollapsesLongText(t *testing.T) {
	// Every line is comment-shaped, so the cascade falls through to the
	// collapsed whole text.
	raw := strings.Repeat("# the plan is to widen the telemetry report with cycle counts\n", 8)
	got := ExtractIntent(raw)
	if len(got) != 200 {
		t.Fatalf("collapsed intent = %d chars, want 200", len(got))
	}
	if !strings.HasPrefix(got, "# the plan") {
		t.Fatalf("collapsed intent = %q", got)
	}
}

func TestDreamerPromptCarriesBriefSections(t *testing.T) {
	brief := Brief{
		Snapshot:         "=== SYSTEM SNAPSHOT: 1 files ===",
		Directive:        "grow safely",
		RoadmapStep:      "telemetry — emit vitals",
		RecentEvolutions: []string{"[success] added ping"},
		LineCounts:       "main.py: 12 lines",
		Attention:        "[ATTENTION] focus: operator query",
		UserQuery:        "add a /vitals command",
		ErrorContext:     "testrun: 1 failed",
	}
	prompt := dreamerUserPrompt(brief)
	for _, want := range []string{
		"PRIME DIRECTIVE: grow safely",
		"CURRENT ROADMAP STEP: telemetry",
		"OPERATOR QUERY: add a /vitals command",
		"RECENT FAILURE CONTEXT: testrun",
		"[success] added ping",
		"main.py: 12 lines",
		"[ATTENTION] focus",
		"SYSTEM SNAPSHOT",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}
