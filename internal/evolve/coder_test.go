package evolve

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ain/internal/guard"
	"ain/internal/llm"
	"ain/internal/proposal"
	"ain/internal/types"
)

func newTestCoder(t *testing.T, ws string, client *llm.Client) *Coder {
	t.Helper()
	g, err := guard.NewRegistry(ws)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	v := proposal.NewValidator(ws, g, 150, 200)
	return NewCoder(client, v, ws, 150, 200)
}

const pingFileReply = "FILE: nexus/ping.py\n```python\ndef ping():\n    return 'pong'\n```"

func TestGenerateAcceptsFileBlock(t *testing.T) {
	client, _ := scriptedLLM(t, pingFileReply)
	coder := newTestCoder(t, t.TempDir(), client)

	res, err := coder.Generate(context.Background(), "add ping to nexus/ping.py", Brief{}, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Attempts != 1 || len(res.Updates) != 1 {
		t.Fatalf("attempts=%d updates=%d", res.Attempts, len(res.Updates))
	}
	u := res.Updates[0]
	if u.Filename != "nexus/ping.py" || !strings.Contains(u.Code, "def ping()") {
		t.Fatalf("update = %+v", u)
	}
}

func TestGenerateFeedsRejectionIntoRetry(t *testing.T) {
	diffReply := "FILE: nexus/ping.py\n```python\n@@ -1,2 +1,2 @@\ndef ping():\n    return 1\n```"
	client, log := scriptedLLM(t, diffReply, pingFileReply)
	coder := newTestCoder(t, t.TempDir(), client)

	res, err := coder.Generate(context.Background(), "add ping", Brief{}, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", res.Attempts)
	}
	second := log.system(1)
	if !strings.Contains(second, "PREVIOUS ATTEMPT REJECTED") || !strings.Contains(second, "diff") {
		t.Fatalf("retry prompt missing rejection feedback: %q", second)
	}
}

func TestGenerateOmissionRejected(t *testing.T) {
	elided := "FILE: nexus/ping.py\n```python\ndef ping():\n    return 'pong'\n# ... rest of the file unchanged\n```"
	client, log := scriptedLLM(t, elided, pingFileReply)
	coder := newTestCoder(t, t.TempDir(), client)

	res, err := coder.Generate(context.Background(), "add ping", Brief{}, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", res.Attempts)
	}
	if !strings.Contains(log.system(1), "every line") {
		t.Fatalf("omission feedback missing: %q", log.system(1))
	}
}

func TestGenerateNoChangeExhausts(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "nexus/ping.py", "def ping():\n    return 'pong'\n")
	client, log := scriptedLLM(t, pingFileReply)
	coder := newTestCoder(t, ws, client)

	res, err := coder.Generate(context.Background(), "improve nexus/ping.py", Brief{}, false)
	if err == nil {
		t.Fatal("expected no-change exhaustion")
	}
	if !errors.Is(err, types.ErrNoChange) {
		t.Fatalf("err = %v, want ErrNoChange", err)
	}
	if !strings.Contains(err.Error(), "no change") {
		t.Fatalf("err text = %v", err)
	}
	if res.Attempts != coderAttempts || log.calls() != coderAttempts {
		t.Fatalf("attempts = %d, calls = %d, want %d", res.Attempts, log.calls(), coderAttempts)
	}
}

func TestGenerateSentinelPassthrough(t *testing.T) {
	client, _ := scriptedLLM(t, "NO_EVOLUTION_NEEDED: the intent is already implemented")
	coder := newTestCoder(t, t.TempDir(), client)

	res, err := coder.Generate(context.Background(), "anything", Brief{}, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !res.NoEvolution || res.Reason != "the intent is already implemented" {
		t.Fatalf("result = %+v", res)
	}
}

func TestGenerateRepeatRejectedContentFailsFast(t *testing.T) {
	broken := "FILE: nexus/bad.py\n```python\ndef broken(:\n```"
	client, log := scriptedLLM(t, broken, broken, pingFileReply)
	coder := newTestCoder(t, t.TempDir(), client)

	res, err := coder.Generate(context.Background(), "add ping", Brief{}, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", res.Attempts)
	}
	if !strings.Contains(log.system(1), "rejected") {
		t.Fatalf("first rejection not fed back: %q", log.system(1))
	}
	if !strings.Contains(log.system(2), "already rejected") {
		t.Fatalf("duplicate resubmission not flagged: %q", log.system(2))
	}
}

func TestGenerateProtectedFileKeepsPolicyError(t *testing.T) {
	protected := "FILE: main.py\n```python\nprint('takeover')\n```"
	client, log := scriptedLLM(t, protected)
	coder := newTestCoder(t, t.TempDir(), client)

	res, err := coder.Generate(context.Background(), "harden main.py", Brief{}, false)
	if err == nil {
		t.Fatal("expected policy exhaustion")
	}
	// Every attempt re-screens the protected write, so the final error
	// keeps the policy kind instead of decaying into a duplicate hit.
	if !errors.Is(err, types.ErrPolicyViolation) {
		t.Fatalf("err = %v, want ErrPolicyViolation", err)
	}
	var rej *RejectionError
	if !errors.As(err, &rej) || rej.Filename != "main.py" {
		t.Fatalf("rejection = %+v, want main.py", rej)
	}
	if !strings.Contains(err.Error(), "🛡️") {
		t.Fatalf("err text = %v, want shield verdict", err)
	}
	if !strings.Contains(log.system(1), "protected") {
		t.Fatalf("rejection not fed back: %q", log.system(1))
	}
	if res.Attempts != coderAttempts || log.calls() != coderAttempts {
		t.Fatalf("attempts = %d, calls = %d, want %d", res.Attempts, log.calls(), coderAttempts)
	}
}

func TestGenerateNothingParsedExhausts(t *testing.T) {
	client, _ := scriptedLLM(t, "I believe the system is best improved through contemplation.")
	coder := newTestCoder(t, t.TempDir(), client)

	_, err := coder.Generate(context.Background(), "add ping", Brief{}, false)
	if err == nil {
		t.Fatal("expected exhaustion")
	}
	if !errors.Is(err, types.ErrSanityFailure) {
		t.Fatalf("err = %v, want ErrSanityFailure", err)
	}
}

func TestGenerateCheapTierUsesFallbackModel(t *testing.T) {
	client, log := scriptedLLM(t, pingFileReply)
	coder := newTestCoder(t, t.TempDir(), client)

	_, err := coder.Generate(context.Background(), "add ping", Brief{}, true)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got := log.model(0); got != "cheap-x" {
		t.Fatalf("model = %q, want cheap-x", got)
	}
	if got := log.temp(0); got != 0.2 {
		t.Fatalf("temperature = %v, want coder default 0.2", got)
	}
}

func TestCoderPromptEmbedsSmallMentionedFiles(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "nexus/ping.py", "def ping():\n    return 'pong'\n")
	writeFile(t, ws, "nexus/huge.py", strings.Repeat("x = 1\n", 400))
	client, _ := scriptedLLM(t, pingFileReply)
	coder := newTestCoder(t, ws, client)

	prompt := coder.coderUserPrompt("rework nexus/ping.py and nexus/huge.py together", Brief{
		ErrorHints: []string{"apply: write failed last time"},
	})
	if !strings.Contains(prompt, "CURRENT CONTENT OF nexus/ping.py") {
		t.Fatalf("small file not embedded:\n%s", prompt)
	}
	if strings.Contains(prompt, "CURRENT CONTENT OF nexus/huge.py") {
		t.Fatal("oversized file embedded in prompt")
	}
	if !strings.Contains(prompt, "PAST FAILURES TO AVOID") {
		t.Fatal("error hints missing")
	}
}
