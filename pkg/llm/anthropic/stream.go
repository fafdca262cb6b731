package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/codeready-toolchain/docbot-core/pkg/llm"
)

// anthropicStream decodes an SSE event stream into llm.Chunks on a
// background goroutine and hands them to Recv over a buffered channel, so a
// slow consumer cannot stall the SDK's read loop.
type anthropicStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	raw    *ssestream.Stream[sdk.MessageStreamEventUnion]

	chunks chan llm.Chunk

	mu       sync.Mutex
	finalErr error
	errSet   bool
}

func newStream(ctx context.Context, raw *ssestream.Stream[sdk.MessageStreamEventUnion]) *anthropicStream {
	cctx, cancel := context.WithCancel(ctx)
	s := &anthropicStream{
		ctx:    cctx,
		cancel: cancel,
		raw:    raw,
		chunks: make(chan llm.Chunk, 32),
	}
	go s.run()
	return s
}

func (s *anthropicStream) Recv() (llm.Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if err := s.err(); err != nil {
			return llm.Chunk{}, classify(err)
		}
		return llm.Chunk{}, io.EOF
	case <-s.ctx.Done():
		s.setErr(s.ctx.Err())
		return llm.Chunk{}, s.ctx.Err()
	}
}

func (s *anthropicStream) Close() error {
	s.cancel()
	if s.raw == nil {
		return nil
	}
	return s.raw.Close()
}

func (s *anthropicStream) run() {
	defer close(s.chunks)
	defer func() {
		if s.raw != nil {
			_ = s.raw.Close()
		}
	}()

	toolBlocks := make(map[int64]*toolBuffer)
	var stopReason string

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.raw.Next() {
			if err := s.raw.Err(); err != nil {
				s.setErr(err)
			}
			return
		}

		event := s.raw.Current()
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				toolBlocks[ev.Index] = &toolBuffer{id: tu.ID, name: tu.Name}
			}
		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text == "" {
					continue
				}
				if !s.emit(llm.Chunk{Type: llm.ChunkText, Text: delta.Text}) {
					return
				}
			case sdk.InputJSONDelta:
				if tb, ok := toolBlocks[ev.Index]; ok {
					tb.fragments = append(tb.fragments, delta.PartialJSON)
				}
			}
		case sdk.ContentBlockStopEvent:
			if tb, ok := toolBlocks[ev.Index]; ok {
				delete(toolBlocks, ev.Index)
				input, err := tb.decode()
				if err != nil {
					s.setErr(err)
					return
				}
				if !s.emit(llm.Chunk{
					Type: llm.ChunkToolCall,
					ToolCall: &llm.ToolCall{
						ID:    tb.id,
						Name:  tb.name,
						Input: input,
					},
				}) {
					return
				}
			}
		case sdk.MessageDeltaEvent:
			stopReason = string(ev.Delta.StopReason)
			if !s.emit(llm.Chunk{
				Type: llm.ChunkUsage,
				Usage: &llm.Usage{
					InputTokens:  int(ev.Usage.InputTokens),
					OutputTokens: int(ev.Usage.OutputTokens),
				},
			}) {
				return
			}
		case sdk.MessageStopEvent:
			if !s.emit(llm.Chunk{Type: llm.ChunkStop, StopReason: stopReason}) {
				return
			}
		}
	}
}

func (s *anthropicStream) emit(c llm.Chunk) bool {
	select {
	case s.chunks <- c:
		return true
	case <-s.ctx.Done():
		s.setErr(s.ctx.Err())
		return false
	}
}

func (s *anthropicStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *anthropicStream) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalErr
}

type toolBuffer struct {
	id, name  string
	fragments []string
}

func (tb *toolBuffer) decode() (map[string]any, error) {
	joined := strings.Join(tb.fragments, "")
	if strings.TrimSpace(joined) == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(joined), &out); err != nil {
		return nil, errors.New("anthropic: malformed tool input JSON: " + err.Error())
	}
	return out, nil
}
