package agent

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owulveryck/agentcore/internal/llm"
)

func newTestAgent(t *testing.T, brain llm.Brain, opts ...Option) *Agent {
	t.Helper()
	a, err := New(Config{ID: "agent-1", Instructions: "be helpful"}, brain, opts...)
	require.NoError(t, err)
	return a
}

func reply(text string) func(context.Context, llm.Request) (*llm.Response, error) {
	return func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: text, Model: "mock", Usage: llm.Usage{TotalTokens: 5}}, nil
	}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{}, llm.NewMockBrain())
	assert.ErrorIs(t, err, ErrMissingID)

	_, err = New(Config{ID: "a"}, nil)
	assert.ErrorIs(t, err, ErrMissingBrain)

	a, err := New(Config{ID: "a"}, llm.NewMockBrain())
	require.NoError(t, err)
	assert.Equal(t, "a", a.Name())
	assert.Equal(t, StateIdle, a.State())
	_, ok := a.Metrics()
	assert.False(t, ok)
}

func TestExecuteSuccess(t *testing.T) {
	brain := llm.NewMockBrainWithFunc(reply("hello there"))
	a := newTestAgent(t, brain)

	in := NewMessage("hi", "user-1", "agent-1")
	res := a.Execute(context.Background(), in)

	require.True(t, res.OK())
	assert.Equal(t, "hello there", res.Message.Content)
	assert.Equal(t, "agent-1", res.Message.Sender)
	assert.Equal(t, "user-1", res.Message.Recipient)
	assert.NotEqual(t, in.ID, res.Message.ID)
	assert.Equal(t, "mock", res.Message.Metadata["model"])
	assert.Equal(t, StateCompleted, a.State())

	m, ok := a.Metrics()
	require.True(t, ok)
	assert.Equal(t, 1, m.ExecutionCount)
	assert.Equal(t, 1, m.SuccessCount)
	assert.Equal(t, 0, m.ErrorCount)
	assert.Equal(t, 5, m.TotalTokens)
	assert.Equal(t, 1.0, m.SuccessRate())
}

func TestExecuteBackendFailure(t *testing.T) {
	backendErr := &llm.StatusError{Code: 503, Body: "unavailable"}
	brain := llm.NewMockBrainWithFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		return nil, backendErr
	})
	a := newTestAgent(t, brain)

	res := a.Execute(context.Background(), NewMessage("hi", "user-1", ""))
	require.False(t, res.OK())
	assert.Equal(t, ReasonBackend, res.Failure.Reason)
	assert.ErrorIs(t, res.Failure, backendErr)
	assert.True(t, strings.HasPrefix(res.Message.Content, "Error: "))
	assert.Equal(t, "user-1", res.Message.Recipient)
	assert.Equal(t, StateFailed, a.State())

	m, _ := a.Metrics()
	assert.Equal(t, 1, m.ExecutionCount)
	assert.Equal(t, 1, m.ErrorCount)

	// a failed agent still answers the next message
	brain.RespondFunc = reply("recovered")
	msg, err := a.Run(context.Background(), NewMessage("again", "user-1", ""))
	require.NoError(t, err)
	assert.Equal(t, "recovered", msg.Content)
	assert.Equal(t, StateCompleted, a.State())
}

func TestRunReportsCancellation(t *testing.T) {
	a := newTestAgent(t, llm.NewMockBrain())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg, err := a.Run(ctx, NewMessage("hi", "user-1", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, strings.HasPrefix(msg.Content, "Error: "))
}

func TestPauseBlocksUntilResume(t *testing.T) {
	brain := llm.NewMockBrainWithFunc(reply("done"))
	a := newTestAgent(t, brain)

	a.Pause()
	assert.True(t, a.IsPaused())
	assert.Equal(t, StatePaused, a.State())

	results := make(chan Message, 1)
	go func() {
		results <- a.Process(context.Background(), NewMessage("hi", "user-1", ""))
	}()

	select {
	case <-results:
		t.Fatal("message processed while paused")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 0, brain.CallCount())

	a.Resume()

	select {
	case msg := <-results:
		assert.Equal(t, "user-1", msg.Recipient)
		assert.Equal(t, "done", msg.Content)
	case <-time.After(time.Second):
		t.Fatal("message not processed after resume")
	}
	assert.False(t, a.IsPaused())
	assert.Contains(t, []State{StateCompleted, StateFailed}, a.State())
}

func TestPauseWaitHonorsContext(t *testing.T) {
	a := newTestAgent(t, llm.NewMockBrain())
	a.Pause()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := a.Execute(ctx, NewMessage("hi", "user-1", ""))
	require.False(t, res.OK())
	assert.Equal(t, ReasonCanceled, res.Failure.Reason)
	assert.True(t, errors.Is(res.Failure, context.DeadlineExceeded))
	assert.Equal(t, StatePaused, a.State())

	a.Resume()
	assert.Equal(t, StateFailed, a.State())
}

func TestPauseDuringExecution(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	brain := llm.NewMockBrainWithFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		close(started)
		<-release
		return &llm.Response{Text: "ok"}, nil
	})
	a := newTestAgent(t, brain)

	done := make(chan Result, 1)
	go func() { done <- a.Execute(context.Background(), NewMessage("hi", "u", "")) }()

	<-started
	a.Pause()
	close(release)
	res := <-done

	require.True(t, res.OK())
	assert.Equal(t, StatePaused, a.State())
	a.Resume()
	assert.Equal(t, StateCompleted, a.State())
}

func TestExecuteSerializesMessages(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	brain := llm.NewMockBrainWithFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		n := inFlight.Add(1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return &llm.Response{Text: "ok"}, nil
	})
	a := newTestAgent(t, brain)

	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		go func() {
			a.Process(context.Background(), NewMessage("hi", "u", ""))
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
	assert.Equal(t, int32(1), maxInFlight.Load())
	m, _ := a.Metrics()
	assert.Equal(t, 5, m.ExecutionCount)
}

func TestRequestListsCapabilities(t *testing.T) {
	brain := llm.NewMockBrain()
	a := newTestAgent(t, brain, WithCapabilities(NewSearchCapability()))

	a.Process(context.Background(), NewMessage("find go", "u", ""))

	req := brain.LastRequest()
	assert.Equal(t, "be helpful\n\nAvailable tools:\n- google_search: Search the web using Google", req.Instructions)
	require.Len(t, req.Conversation, 1)
	assert.Equal(t, "find go", req.Conversation[0].Text)
}

func TestToolDirectives(t *testing.T) {
	failing := NewFuncCapability("flaky", "always fails", func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("flaky is down")
	})
	content := strings.Join([]string{
		"Let me look that up.",
		`use_tool: {"name": "google_search", "params": {"query": "golang"}}`,
		`use_tool: {"name": "missing", "params": {}}`,
		`use_tool: {"name": "flaky"}`,
		`use_tool: {not json`,
		"Done.",
	}, "\n")

	a := newTestAgent(t, llm.NewMockBrainWithFunc(reply(content)), WithCapabilities(NewSearchCapability(), failing))
	res := a.Execute(context.Background(), NewMessage("q", "u", ""))
	require.True(t, res.OK())

	lines := strings.Split(res.Message.Content, "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "Let me look that up.", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "Tool result: "))
	assert.Contains(t, lines[1], `"query":"golang"`)
	assert.Equal(t, "Tool 'missing' not found", lines[2])
	assert.Equal(t, "Tool execution error: flaky is down", lines[3])
	assert.True(t, strings.HasPrefix(lines[4], "Tool directive parse error: "))
	assert.Equal(t, "Done.", lines[5])
	assert.Equal(t, StateCompleted, a.State())
}

func TestPanickingCapabilityIsReportedInline(t *testing.T) {
	broken := NewFuncCapability("broken", "writes to a nil map", func(context.Context, map[string]any) (any, error) {
		var m map[string]int
		m["x"] = 1
		return m, nil
	})
	content := `use_tool: {"name": "broken", "params": {}}`

	a := newTestAgent(t, llm.NewMockBrainWithFunc(reply(content)), WithCapabilities(broken))
	var res Result
	require.NotPanics(t, func() {
		res = a.Execute(context.Background(), NewMessage("q", "u", ""))
	})
	require.True(t, res.OK())
	assert.True(t, strings.HasPrefix(res.Message.Content, "Tool execution error: panic: "), res.Message.Content)
	assert.Equal(t, StateCompleted, a.State())
}

func TestPanickingBackendFailsMessage(t *testing.T) {
	a := newTestAgent(t, llm.NewMockBrainWithFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		panic("backend exploded")
	}))

	var res Result
	require.NotPanics(t, func() {
		res = a.Execute(context.Background(), NewMessage("q", "u", ""))
	})
	require.False(t, res.OK())
	assert.Equal(t, ReasonPanic, res.Failure.Reason)
	assert.Equal(t, "Error: panic: backend exploded", res.Message.Content)
	assert.Equal(t, StateFailed, a.State())

	m, ok := a.Metrics()
	require.True(t, ok)
	assert.Equal(t, 1, m.ErrorCount)

	// the agent still answers afterwards
	out, err := a.Run(context.Background(), NewMessage("again", "u", ""))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.Content, "Error: "))
}

func TestNewRejectsUnnamedCapability(t *testing.T) {
	unnamed := NewFuncCapability("", "no name", func(context.Context, map[string]any) (any, error) { return nil, nil })

	_, err := New(Config{ID: "a"}, llm.NewMockBrain(), WithCapabilities(unnamed))
	assert.ErrorIs(t, err, ErrMissingCapability)

	_, err = New(Config{ID: "a"}, llm.NewMockBrain(), WithCapabilities(nil))
	assert.ErrorIs(t, err, ErrMissingCapability)
}

func TestRequestCarriesHistory(t *testing.T) {
	brain := llm.NewMockBrain()
	a := newTestAgent(t, brain)

	history := []llm.Turn{
		{Role: llm.RoleUser, Text: "hi"},
		{Role: llm.RoleModel, Text: "hello"},
	}
	ctx := WithHistory(context.Background(), history)
	history[0].Text = "changed"

	out := a.Process(ctx, NewMessage("how are you", "u", ""))
	assert.Equal(t, "Echo: how are you", out.Content)

	conv := brain.LastRequest().Conversation
	require.Len(t, conv, 3)
	assert.Equal(t, llm.Turn{Role: llm.RoleUser, Text: "hi"}, conv[0])
	assert.Equal(t, llm.RoleModel, conv[1].Role)
	assert.Equal(t, llm.Turn{Role: llm.RoleUser, Text: "how are you"}, conv[2])

	assert.Nil(t, HistoryFrom(context.Background()))
	assert.Equal(t, context.Background(), WithHistory(context.Background(), nil))
}
