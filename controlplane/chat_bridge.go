package controlplane

import (
	"chatkit/core"
	"chatkit/handlers/conversation"
	"chatkit/handlers/tts"
	"chatkit/protocol"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// ChatController is the part of the chat the control plane drives.
type ChatController interface {
	SetDraft(text string)
	StageImage(ref *core.ImageRef)
	Send(ctx context.Context) (conversation.Result, error)
	TogglePlayback(ctx context.Context, turnID string) (tts.PlaybackState, error)
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (string, error)
	Busy() bool
	Transcript() []core.Turn
	Bus() *core.EventBus
}

// SubmitResult is the ack result of a submit command.
type SubmitResult struct {
	User      core.Turn        `json:"user"`
	Assistant core.Turn        `json:"assistant"`
	Failure   core.FailureKind `json:"failure,omitempty"`
	Canned    bool             `json:"canned,omitempty"`
}

type playbackResult struct {
	TurnID string `json:"turn_id"`
	State  string `json:"state"`
}

type transcriptionResult struct {
	Text string `json:"text"`
}

// Bind forwards every chat event to the client and lets UI commands drive
// the chat. The returned func stops event forwarding.
func Bind(client *Client, chat ChatController) func() {
	client.OnCommand = func(ctx context.Context, msgType protocol.MessageType, payload json.RawMessage) (interface{}, error) {
		return handleCommand(ctx, chat, msgType, payload)
	}
	client.Status = func() (string, int) {
		status := "idle"
		if chat.Busy() {
			status = "busy"
		}
		return status, len(chat.Transcript())
	}
	return chat.Bus().Subscribe("controlplane", func(packet *core.EventPacket) {
		data, err := sonic.Marshal(packet.Event)
		if err != nil {
			client.logger.Warn("failed to marshal event", "event", packet.Event.GetId(), "error", err)
			return
		}
		client.SendEvent(packet.Event.GetId(), data)
	})
}

func handleCommand(ctx context.Context, chat ChatController, msgType protocol.MessageType, payload json.RawMessage) (interface{}, error) {
	switch msgType {
	case protocol.MsgSubmit:
		p, err := protocol.UnmarshalPayload[protocol.SubmitPayload](payload)
		if err != nil {
			return nil, err
		}
		return submit(ctx, chat, p)

	case protocol.MsgTogglePlayback:
		p, err := protocol.UnmarshalPayload[protocol.TogglePlaybackPayload](payload)
		if err != nil {
			return nil, err
		}
		state, err := chat.TogglePlayback(ctx, p.TurnID)
		if err != nil {
			return nil, err
		}
		return playbackResult{TurnID: p.TurnID, State: state.String()}, nil

	case protocol.MsgStartRecording:
		return nil, chat.StartRecording(ctx)

	case protocol.MsgStopRecording:
		text, err := chat.StopRecording(ctx)
		if err != nil {
			return nil, err
		}
		return transcriptionResult{Text: text}, nil

	default:
		return nil, fmt.Errorf("controlplane: unsupported command %q", msgType)
	}
}

func submit(ctx context.Context, chat ChatController, p protocol.SubmitPayload) (interface{}, error) {
	var image *core.ImageRef
	if p.ImageBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(p.ImageBase64)
		if err != nil {
			return nil, fmt.Errorf("controlplane: image: %w", err)
		}
		image = core.NewInlineImage(data, core.LLMMediaType(p.ImageMediaType))
	}

	chat.SetDraft(p.Text)
	if image != nil {
		chat.StageImage(image)
	}
	result, err := chat.Send(ctx)
	if err != nil {
		return nil, err
	}
	return SubmitResult{
		User:      result.User,
		Assistant: result.Assistant,
		Failure:   result.Failure,
		Canned:    result.Canned,
	}, nil
}
