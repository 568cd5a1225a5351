package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	anthropt "github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// MessageSender sends one request to the model and returns its complete response
type MessageSender interface {
	SendMessage(ctx context.Context, params anthropic.MessageNewParams, opts ...anthropt.RequestOption) (anthropic.Message, error)
}

// StreamingMessageSender sends messages with the streaming API and accumulates the events into a message. Text is
// forwarded to the onText callback, if any, as it arrives
type StreamingMessageSender struct {
	client anthropic.Client
	onText func(string)
	logger *zap.Logger
}

func NewStreamingMessageSender(client anthropic.Client, onText func(string), logger *zap.Logger) StreamingMessageSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return StreamingMessageSender{
		client: client,
		onText: onText,
		logger: logger,
	}
}

func (sms StreamingMessageSender) SendMessage(
	ctx context.Context,
	params anthropic.MessageNewParams,
	opts ...anthropt.RequestOption,
) (anthropic.Message, error) {
	stream := sms.client.Messages.NewStreaming(ctx, params, opts...)
	defer stream.Close()

	response := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		err := response.Accumulate(event)
		if err != nil {
			return anthropic.Message{}, fmt.Errorf("failed to accumulate response content stream: %w", err)
		}
		if sms.onText != nil {
			if text, ok := textDelta(event); ok {
				sms.onText(text)
			}
		}
	}
	if stream.Err() != nil {
		return anthropic.Message{}, fmt.Errorf("failed to stream response: %w", stream.Err())
	}
	if response.StopReason == "" {
		b, err := json.Marshal(response)
		if err != nil {
			sms.logger.Error("error while marshalling corrupt message for inspection", zap.Error(err))
		}
		return anthropic.Message{}, fmt.Errorf("malformed message: %v", string(b))
	}

	return response, nil
}

// textDelta extracts the text carried by a stream event, if it carries any
func textDelta(event anthropic.MessageStreamEventUnion) (string, bool) {
	blockDelta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
	if !ok {
		return "", false
	}
	text, ok := blockDelta.Delta.AsAny().(anthropic.TextDelta)
	if !ok {
		return "", false
	}
	return text.Text, true
}
