package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type scriptedClient struct {
	errs        []error
	out         string
	calls       int
	sawDeadline bool
}

func (s *scriptedClient) Name() string { return "scripted" }

func (s *scriptedClient) Generate(ctx context.Context, _ Request) (string, error) {
	s.calls++
	if _, ok := ctx.Deadline(); ok {
		s.sawDeadline = true
	}
	if s.calls <= len(s.errs) {
		return "", s.errs[s.calls-1]
	}
	return s.out, nil
}

func TestWithRetry_RecoversFromTransientErrors(t *testing.T) {
	sc := &scriptedClient{errs: []error{errors.New("503"), errors.New("timeout")}, out: "ok"}
	c := WithRetry(sc, RetryConfig{Attempts: 3, Delay: time.Millisecond, Timeout: time.Second}, zerolog.Nop())

	out, err := c.Generate(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" || sc.calls != 3 {
		t.Errorf("expected ok after 3 calls, got %q after %d", out, sc.calls)
	}
	if !sc.sawDeadline {
		t.Error("expected per-attempt deadline")
	}
}

func TestWithRetry_GivesUp(t *testing.T) {
	sc := &scriptedClient{errs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	c := WithRetry(sc, RetryConfig{Attempts: 2, Delay: time.Millisecond}, zerolog.Nop())

	_, err := c.Generate(context.Background(), Request{})
	if err == nil || err.Error() != "b" {
		t.Fatalf("expected last error b, got %v", err)
	}
	if sc.calls != 2 {
		t.Errorf("expected 2 calls, got %d", sc.calls)
	}
}

func TestWithRetry_DoesNotRetryEmptyResponse(t *testing.T) {
	sc := &scriptedClient{errs: []error{ErrEmptyResponse}, out: "late"}
	c := WithRetry(sc, RetryConfig{Attempts: 5, Delay: time.Millisecond}, zerolog.Nop())

	if _, err := c.Generate(context.Background(), Request{}); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
	if sc.calls != 1 {
		t.Errorf("expected 1 call, got %d", sc.calls)
	}
}

func TestWithRetry_ZeroAttemptsMeansOnce(t *testing.T) {
	sc := &scriptedClient{errs: []error{errors.New("x"), errors.New("y")}}
	c := WithRetry(sc, RetryConfig{}, zerolog.Nop())
	_, _ = c.Generate(context.Background(), Request{})
	if sc.calls != 1 {
		t.Errorf("expected 1 call, got %d", sc.calls)
	}
	if c.Name() != "scripted" {
		t.Errorf("expected wrapped name, got %s", c.Name())
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n[1,2]\n```", `[1,2]`},
		{"  \n```json {\"a\":1}```", `{"a":1}`},
	}
	for _, tt := range tests {
		if got := StripFences(tt.in); got != tt.want {
			t.Errorf("StripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDataURL(t *testing.T) {
	got := dataURL(Image{MIMEType: "image/png", Data: []byte("hi")})
	if got != "data:image/png;base64,aGk=" {
		t.Errorf("unexpected data url %q", got)
	}
}
