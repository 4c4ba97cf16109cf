package observability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanDurationGrowsUntilFinished(t *testing.T) {
	tracer := NewTracer(nil, nil)
	_, span := tracer.StartSpan(context.Background(), "work")

	first := span.Duration()
	assert.GreaterOrEqual(t, first, time.Duration(0))

	time.Sleep(5 * time.Millisecond)
	second := span.Duration()
	assert.Greater(t, second, first)

	tracer.FinishSpan(span)
	fixed := span.Duration()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, fixed, span.Duration())
	assert.Equal(t, SpanFinished, span.Status())

	end, ok := span.EndTime()
	require.True(t, ok)
	assert.False(t, end.Before(span.StartTime))
}

func TestSpanFinishIsOnce(t *testing.T) {
	tracer := NewTracer(nil, nil)
	_, span := tracer.StartSpan(context.Background(), "once")

	assert.True(t, span.Finish())
	end, _ := span.EndTime()

	assert.False(t, span.Finish())
	again, _ := span.EndTime()
	assert.Equal(t, end, again)
}

func TestSpanIgnoresMutationAfterFinish(t *testing.T) {
	tracer := NewTracer(nil, nil)
	_, span := tracer.StartSpan(context.Background(), "frozen", WithTags(map[string]any{"k": "v"}))
	span.Log("before", "n", 1)
	tracer.FinishSpan(span)

	span.SetTag("k", "changed")
	span.Log("after")

	v, ok := span.Tag("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
	require.Len(t, span.Logs(), 1)
	assert.Equal(t, "before", span.Logs()[0].Message)
	assert.Equal(t, 1, span.Logs()[0].Fields["n"])
}

func TestStartSpanLinksParents(t *testing.T) {
	tracer := NewTracer(nil, nil)
	ctx := context.Background()

	rootCtx, root := tracer.StartSpan(ctx, "root")
	assert.Empty(t, root.ParentSpanID)
	assert.NotEmpty(t, root.TraceID)

	t.Run("explicit parent", func(t *testing.T) {
		_, child := tracer.StartSpan(ctx, "child", WithParent(root))
		assert.Equal(t, root.TraceID, child.TraceID)
		assert.Equal(t, root.SpanID, child.ParentSpanID)
	})

	t.Run("parent from context", func(t *testing.T) {
		_, child := tracer.StartSpan(rootCtx, "child")
		assert.Equal(t, root.TraceID, child.TraceID)
		assert.Equal(t, root.SpanID, child.ParentSpanID)
	})

	t.Run("explicit trace id", func(t *testing.T) {
		_, span := tracer.StartSpan(rootCtx, "joined", WithTraceID("trace-42"))
		assert.Equal(t, "trace-42", span.TraceID)
		assert.Empty(t, span.ParentSpanID)
	})

	t.Run("fresh trace", func(t *testing.T) {
		_, span := tracer.StartSpan(ctx, "other")
		assert.NotEqual(t, root.TraceID, span.TraceID)
	})
}

func TestGetTraceDiscoveryOrder(t *testing.T) {
	tracer := NewTracer(nil, nil)
	ctx, root := tracer.StartSpan(context.Background(), "root")
	childCtx, child := tracer.StartSpan(ctx, "child")
	_, grandchild := tracer.StartSpan(childCtx, "grandchild")
	_, sibling := tracer.StartSpan(ctx, "sibling")

	spans := tracer.GetTrace(root.TraceID)
	require.Len(t, spans, 4)

	ids := make([]string, len(spans))
	present := make(map[string]bool)
	for i, s := range spans {
		ids[i] = s.SpanID
		present[s.SpanID] = true
	}
	assert.Equal(t, []string{root.SpanID, child.SpanID, grandchild.SpanID, sibling.SpanID}, ids)

	for _, s := range spans {
		if s.ParentSpanID != "" {
			assert.True(t, present[s.ParentSpanID], "parent of %s missing", s.OperationName)
		}
	}
	assert.Empty(t, tracer.GetTrace("unknown"))
}

func TestActiveSpanPerExecutionContext(t *testing.T) {
	tracer := NewTracer(nil, nil)
	ctx := context.Background()

	_, a := tracer.StartSpan(ctx, "a")
	_, b := tracer.StartSpan(ctx, "b")
	assert.Same(t, b, tracer.GetActiveSpan(ctx))

	// finishing a span that is no longer active leaves the marker alone
	tracer.FinishSpan(a)
	assert.Same(t, b, tracer.GetActiveSpan(ctx))

	tracer.FinishSpan(b)
	assert.Nil(t, tracer.GetActiveSpan(ctx))

	execA := WithExecutionContext(ctx)
	execB := WithExecutionContext(ctx)
	_, sa := tracer.StartSpan(execA, "exec-a")
	_, sb := tracer.StartSpan(execB, "exec-b")
	assert.Same(t, sa, tracer.GetActiveSpan(execA))
	assert.Same(t, sb, tracer.GetActiveSpan(execB))
	assert.Nil(t, tracer.GetActiveSpan(ctx))
}

func TestActiveSpanConcurrentContexts(t *testing.T) {
	tracer := NewTracer(nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := WithExecutionContext(context.Background())
			_, span := tracer.StartSpan(ctx, "worker")
			assert.Same(t, span, tracer.GetActiveSpan(ctx))
			tracer.FinishSpan(span)
			assert.Nil(t, tracer.GetActiveSpan(ctx))
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, tracer.SpanCount())
	assert.Equal(t, 20, tracer.TraceCount())
}

func TestTraceRecordsErrors(t *testing.T) {
	tracer := NewTracer(nil, nil)
	boom := errors.New("boom")

	var captured *Span
	err := tracer.Trace(context.Background(), "failing", map[string]any{"step": "one"}, func(ctx context.Context, span *Span) error {
		captured = span
		assert.Same(t, span, SpanFromContext(ctx))
		return boom
	})

	assert.Same(t, boom, err)
	require.NotNil(t, captured)
	assert.Equal(t, SpanFinished, captured.Status())
	assert.True(t, captured.HasError())
	msg, _ := captured.Tag(TagErrorMessage)
	assert.Equal(t, "boom", msg)
	step, _ := captured.Tag("step")
	assert.Equal(t, "one", step)
	assert.Nil(t, tracer.GetActiveSpan(context.Background()))
}

func TestTraceRepanics(t *testing.T) {
	tracer := NewTracer(nil, nil)

	var captured *Span
	assert.PanicsWithValue(t, "kaboom", func() {
		_ = tracer.Trace(context.Background(), "panicking", nil, func(ctx context.Context, span *Span) error {
			captured = span
			panic("kaboom")
		})
	})

	require.NotNil(t, captured)
	assert.Equal(t, SpanFinished, captured.Status())
	assert.True(t, captured.HasError())
}

func TestTraceSuccessLeavesNoErrorTag(t *testing.T) {
	tracer := NewTracer(nil, nil)

	var captured *Span
	err := tracer.Trace(context.Background(), "ok", nil, func(ctx context.Context, span *Span) error {
		captured = span
		return nil
	})

	require.NoError(t, err)
	assert.False(t, captured.HasError())
	assert.Equal(t, SpanFinished, captured.Status())
}
