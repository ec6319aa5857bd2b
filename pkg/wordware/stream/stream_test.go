package stream

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferSink struct {
	bytes.Buffer
	flushes int
	closed  int
}

func (s *bufferSink) Flush() error { s.flushes++; return nil }
func (s *bufferSink) Close() error { s.closed++; return nil }

type brokenSink struct{}

func (brokenSink) Write(p []byte) (int, error) { return 0, errors.New("connection reset") }
func (brokenSink) Flush() error                { return nil }

func TestLineReassembler_RoundTrip(t *testing.T) {
	input := "{\"type\":\"chunk\",\"value\":{\"value\":\"a\\nb\"}}\n\nsecond line\nthird ü line\r\ntail without newline"

	for _, size := range []int{1, 2, 3, 5, 7, 16, 64, len(input)} {
		t.Run(fmt.Sprintf("chunk size %d", size), func(t *testing.T) {
			r := NewLineReassembler()
			var lines []string
			for i := 0; i < len(input); i += size {
				end := i + size
				if end > len(input) {
					end = len(input)
				}
				lines = append(lines, r.Feed([]byte(input[i:end]))...)
			}
			tail, ok := r.Flush()
			require.True(t, ok)

			rebuilt := strings.Join(lines, "\n") + "\n" + tail
			assert.Equal(t, input, rebuilt)
			assert.Len(t, lines, 4)
			assert.Equal(t, 0, r.Pending())
		})
	}
}

func TestLineReassembler_WhitespaceTailDiscarded(t *testing.T) {
	r := NewLineReassembler()
	assert.Equal(t, []string{"one"}, r.Feed([]byte("one\n  \t")))
	_, ok := r.Flush()
	assert.False(t, ok)
}

func TestLineReassembler_SplitRecordEmittedOnce(t *testing.T) {
	r := NewLineReassembler()
	assert.Empty(t, r.Feed([]byte(`{"type":"chu`)))
	lines := r.Feed([]byte(`nk","value":{"value":"x"}}` + "\n"))
	require.Len(t, lines, 1)

	rec, err := Classify(lines[0])
	require.NoError(t, err)
	assert.Equal(t, KindChunk, rec.Kind)
	assert.Equal(t, "x", rec.Value)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantKind  Kind
		wantState string
		wantLabel string
		wantValue string
		wantErr   error
	}{
		{
			name:      "flattened generation start",
			line:      `{"type":"generation","value":{"state":"start","label":"output"}}`,
			wantKind:  KindGeneration,
			wantState: StateStart,
			wantLabel: "output",
		},
		{
			name:      "nested generation end",
			line:      `{"value":{"type":"generation","state":"end","label":"thoughts"}}`,
			wantKind:  KindGeneration,
			wantState: StateEnd,
			wantLabel: "thoughts",
		},
		{
			name:      "flattened chunk",
			line:      `{"type":"chunk","value":{"value":"Hello "}}`,
			wantKind:  KindChunk,
			wantValue: "Hello ",
		},
		{
			name:      "nested chunk",
			line:      `{"value":{"type":"chunk","value":"world"}}`,
			wantKind:  KindChunk,
			wantValue: "world",
		},
		{
			name:      "chunk without value",
			line:      `{"type":"chunk","value":{}}`,
			wantKind:  KindChunk,
			wantValue: "",
		},
		{
			name:      "escaped content",
			line:      `{"type":"chunk","value":{"value":"line\n\"quoted\" é"}}`,
			wantKind:  KindChunk,
			wantValue: "line\n\"quoted\" é",
		},
		{name: "blank", line: "   \r", wantErr: ErrBlankLine},
		{name: "syntax error", line: `{"type":"chunk",`, wantErr: ErrMalformedRecord},
		{name: "array", line: `[1,2]`, wantErr: ErrMalformedRecord},
		{name: "missing type", line: `{"value":{"value":"x"}}`, wantErr: ErrMalformedRecord},
		{name: "unknown type", line: `{"type":"heartbeat"}`, wantErr: ErrMalformedRecord},
		{name: "bad generation state", line: `{"type":"generation","value":{"state":"paused"}}`, wantErr: ErrMalformedRecord},
		{name: "outputs without values", line: `{"type":"outputs"}`, wantErr: ErrMalformedRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Classify(tt.line)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, rec.Kind)
			assert.Equal(t, tt.wantState, rec.State)
			assert.Equal(t, tt.wantLabel, rec.Label)
			assert.Equal(t, tt.wantValue, rec.Value)
		})
	}
}

func TestClassify_Outputs(t *testing.T) {
	for _, line := range []string{
		`{"type":"outputs","values":{"output":{"roast":"ok","score":3}}}`,
		`{"value":{"type":"outputs","values":{"output":{"roast":"ok","score":3}}}}`,
		`{"type":"outputs","value":{"values":{"output":{"roast":"ok","score":3}}}}`,
	} {
		rec, err := Classify(line)
		require.NoError(t, err, line)
		assert.Equal(t, KindOutputs, rec.Kind)
		assert.Equal(t, map[string]interface{}{"roast": "ok", "score": float64(3)}, rec.Output())
	}
}

func TestScopeTracker_ExplicitBoundaries(t *testing.T) {
	tr := NewScopeTracker(DefaultFallbackThreshold)
	assert.False(t, tr.Open())

	assert.Equal(t, TransitionNone, tr.Observe(Record{Kind: KindGeneration, State: StateStart, Label: "thoughts"}))
	assert.False(t, tr.Open())

	assert.Equal(t, TransitionOpened, tr.Observe(Record{Kind: KindGeneration, State: StateStart, Label: OutputLabel}))
	assert.True(t, tr.Open())

	assert.Equal(t, TransitionNone, tr.Observe(Record{Kind: KindGeneration, State: StateEnd, Label: "thoughts"}))
	assert.True(t, tr.Open())

	assert.Equal(t, TransitionClosed, tr.Observe(Record{Kind: KindGeneration, State: StateEnd, Label: OutputLabel}))
	assert.False(t, tr.Open())

	assert.Equal(t, map[string]int{"thoughts": 1, OutputLabel: 1}, tr.Generations())
}

func TestScopeTracker_ForcedFallback(t *testing.T) {
	tr := NewScopeTracker(3)
	chunk := Record{Kind: KindChunk, Value: "x"}

	assert.Equal(t, TransitionNone, tr.Observe(chunk))
	assert.Equal(t, TransitionNone, tr.Observe(chunk))
	assert.Equal(t, TransitionForcedOpen, tr.Observe(chunk))
	assert.True(t, tr.Open())
	assert.True(t, tr.Forced())

	// Forced open sticks until an explicit end.
	assert.Equal(t, TransitionNone, tr.Observe(Record{Kind: KindGeneration, State: StateEnd, Label: "thoughts"}))
	assert.True(t, tr.Open())
	assert.Equal(t, TransitionClosed, tr.Observe(Record{Kind: KindGeneration, State: StateEnd, Label: OutputLabel}))
	assert.False(t, tr.Open())

	for i := 0; i < 10; i++ {
		tr.Observe(chunk)
	}
	assert.False(t, tr.Open())
}

func TestScopeTracker_NoFallbackAfterExplicitOpen(t *testing.T) {
	tr := NewScopeTracker(2)
	tr.Observe(Record{Kind: KindGeneration, State: StateStart, Label: OutputLabel})
	tr.Observe(Record{Kind: KindGeneration, State: StateEnd, Label: OutputLabel})
	for i := 0; i < 5; i++ {
		assert.Equal(t, TransitionNone, tr.Observe(Record{Kind: KindChunk}))
	}
	assert.False(t, tr.Open())
	assert.False(t, tr.Forced())
}

func TestRelay(t *testing.T) {
	sink := &bufferSink{}
	relay := NewRelay(sink)

	require.NoError(t, relay.OnChunk(Record{Kind: KindChunk, Value: "dropped"}, false))
	require.NoError(t, relay.OnChunk(Record{Kind: KindChunk, Value: "Hello "}, true))
	require.NoError(t, relay.OnChunk(Record{Kind: KindChunk, Value: "world"}, true))

	assert.Equal(t, "Hello world", sink.String())
	assert.Equal(t, "Hello world", relay.Text())
	assert.Equal(t, 2, relay.Forwarded())
	assert.Equal(t, 1, relay.Dropped())
	assert.Equal(t, 2, sink.flushes)

	require.NoError(t, relay.Close())
	require.NoError(t, relay.Close())
	assert.Equal(t, 1, sink.closed)
	assert.ErrorIs(t, relay.OnChunk(Record{Kind: KindChunk, Value: "late"}, true), ErrRelayClosed)
}

func TestRelay_BrokenSink(t *testing.T) {
	relay := NewRelay(brokenSink{})
	err := relay.OnChunk(Record{Kind: KindChunk, Value: "x"}, true)
	assert.ErrorIs(t, err, ErrRelayClosed)
	assert.ErrorIs(t, relay.OnChunk(Record{Kind: KindChunk, Value: "y"}, true), ErrRelayClosed)
	assert.NoError(t, relay.Close())
}

func TestPipeline_Scenario(t *testing.T) {
	body := `{"type":"generation","value":{"state":"start","label":"thoughts"}}` + "\n" +
		`{"type":"chunk","value":{"value":"thinking..."}}` + "\n" +
		`{"type":"generation","value":{"state":"end","label":"thoughts"}}` + "\n" +
		`{"type":"generation","value":{"state":"start","label":"output"}}` + "\n" +
		`{"type":"chunk","value":{"value":"Hello "}}` + "\n" +
		`not json at all` + "\n" +
		`{"type":"chunk","value":{"value":"world"}}` + "\n" +
		`{"type":"generation","value":{"state":"end","label":"output"}}` + "\n" +
		`{"type":"chunk","value":{"value":"after"}}` + "\n" +
		`{"type":"outputs","values":{"output":{"roast":"ok"}}}`

	sink := &bufferSink{}
	var outputs []Record
	var malformed []string
	p := NewPipeline(NewRelay(sink), DefaultFallbackThreshold, Hooks{
		OnMalformed: func(line string, err error) { malformed = append(malformed, line) },
		OnOutputs:   func(rec Record) { outputs = append(outputs, rec) },
	})

	for i := 0; i < len(body); i += 11 {
		end := i + 11
		if end > len(body) {
			end = len(body)
		}
		require.NoError(t, p.Feed([]byte(body[i:end])))
	}
	// The outputs line has no trailing newline and is recovered from the tail.
	require.NoError(t, p.Finish())

	assert.Equal(t, "Hello world", sink.String())
	assert.Equal(t, []string{"not json at all"}, malformed)
	require.Len(t, outputs, 1)
	assert.Equal(t, map[string]interface{}{"roast": "ok"}, outputs[0].Output())

	stats := p.Stats()
	assert.Equal(t, 9, stats.Classified)
	assert.Equal(t, 1, stats.Malformed)
	assert.Equal(t, 2, stats.Forwarded)
	assert.Equal(t, 2, stats.Dropped)
	assert.False(t, stats.ForcedOpen)
}

func TestPipeline_ForcedFallbackForwardsFromThreshold(t *testing.T) {
	sink := &bufferSink{}
	p := NewPipeline(NewRelay(sink), 3, Hooks{})

	var body strings.Builder
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&body, `{"type":"chunk","value":{"value":"%d"}}`+"\n", i)
	}
	require.NoError(t, p.Feed([]byte(body.String())))

	assert.Equal(t, "345", sink.String())
	assert.True(t, p.Stats().ForcedOpen)
}

func TestPipeline_StopsOnClosedRelay(t *testing.T) {
	p := NewPipeline(NewRelay(brokenSink{}), DefaultFallbackThreshold, Hooks{})
	err := p.Feed([]byte(`{"type":"generation","value":{"state":"start","label":"output"}}` + "\n" +
		`{"type":"chunk","value":{"value":"x"}}` + "\n"))
	assert.ErrorIs(t, err, ErrRelayClosed)
}
