// Package delivery turns reply text into a sent, persisted message. Sending
// comes first: the gateway bills per message, so a database hiccup after a
// successful send must never trigger a second send.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/basketly/engage/internal/gateway"
	"github.com/basketly/engage/internal/message"
)

// ErrInvalidAddress means the recipient address normalized to nothing.
var ErrInvalidAddress = errors.New("invalid recipient address")

// MessageWriter persists outbound messages.
type MessageWriter interface {
	Insert(ctx context.Context, m message.Message) (uuid.UUID, bool, error)
}

// AggregateWriter bumps conversation counters after a send.
type AggregateWriter interface {
	ApplyOutbound(ctx context.Context, conversationID uuid.UUID) error
}

// Request is one outbound text to deliver.
type Request struct {
	ConversationID uuid.UUID
	Address        string
	Text           string
	SenderType     string
	Metadata       json.RawMessage
}

// Result reports what happened to a delivered message.
type Result struct {
	ExternalID string
	// Stored is false when the send succeeded but persistence failed. The
	// recipient has the message either way.
	Stored bool
}

// Pipeline delivers outbound messages.
type Pipeline struct {
	sender     gateway.Sender
	messages   MessageWriter
	aggregates AggregateWriter
	logger     *slog.Logger
}

// NewPipeline creates a delivery pipeline.
func NewPipeline(log *slog.Logger, sender gateway.Sender, messages MessageWriter, aggregates AggregateWriter) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		sender:     sender,
		messages:   messages,
		aggregates: aggregates,
		logger:     log.With(slog.String("component", "delivery")),
	}
}

// Deliver sends the text and records it. Gateway failures surface to the
// caller and nothing is retried automatically. Persistence failures after a
// successful send are logged and absorbed: the send already happened.
func (p *Pipeline) Deliver(ctx context.Context, req Request) (Result, error) {
	to := gateway.NormalizeAddress(req.Address)
	if to == "" {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidAddress, req.Address)
	}
	senderType := req.SenderType
	if senderType == "" {
		senderType = message.SenderAssistant
	}

	sent, err := p.sender.SendText(ctx, to, req.Text)
	if err != nil {
		return Result{}, err
	}

	externalID := sent.MessageID
	if externalID == "" {
		// The gateway accepted the send but returned no id. Mint one so the
		// message is still addressable for status updates and dedup.
		externalID = outboundID()
	}

	metadata := req.Metadata
	if len(metadata) == 0 && len(sent.RawResponse) > 0 {
		metadata = wrapGatewayResponse(sent.RawResponse)
	}

	stored := true
	_, inserted, err := p.messages.Insert(ctx, message.Message{
		ConversationID: req.ConversationID,
		ExternalID:     externalID,
		Content:        req.Text,
		Direction:      message.DirectionOutbound,
		SenderType:     senderType,
		Status:         message.StatusSent,
		Metadata:       metadata,
	})
	if err != nil {
		stored = false
		p.logger.Error("sent message not persisted",
			slog.String("conversation_id", req.ConversationID.String()),
			slog.String("external_id", externalID),
			slog.Any("error", err))
	}

	if err == nil && inserted {
		if err := p.aggregates.ApplyOutbound(ctx, req.ConversationID); err != nil {
			p.logger.Warn("conversation counters not updated",
				slog.String("conversation_id", req.ConversationID.String()),
				slog.Any("error", err))
		}
	}

	return Result{ExternalID: externalID, Stored: stored}, nil
}

func outboundID() string {
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("out_%d_%s", time.Now().UnixMilli(), suffix)
}

func wrapGatewayResponse(raw json.RawMessage) json.RawMessage {
	wrapped, err := json.Marshal(map[string]json.RawMessage{"gateway_response": raw})
	if err != nil {
		return nil
	}
	return wrapped
}
