// Package pipeline orchestrates the inbound message flow: store the message,
// detect an assistant mention, and when one fires, bind an assistant, invoke
// it, and deliver the reply.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/basketly/engage/internal/agent"
	"github.com/basketly/engage/internal/assistant"
	"github.com/basketly/engage/internal/contact"
	"github.com/basketly/engage/internal/conversation"
	"github.com/basketly/engage/internal/delivery"
	"github.com/basketly/engage/internal/gateway"
	"github.com/basketly/engage/internal/mention"
	"github.com/basketly/engage/internal/message"
	"github.com/basketly/engage/internal/profile"
)

// ContactStore is the contact persistence the processor needs.
type ContactStore interface {
	GetOrCreateByAddress(ctx context.Context, address, pushName string) (contact.Contact, error)
}

// ConversationStore is the conversation persistence the processor needs.
type ConversationStore interface {
	GetOrCreateByContact(ctx context.Context, contactID uuid.UUID, externalID string) (conversation.Conversation, error)
	ApplyInbound(ctx context.Context, id uuid.UUID) error
	ApplyOutbound(ctx context.Context, id uuid.UUID) error
	SetThread(ctx context.Context, id uuid.UUID, threadID string) error
}

// MessageStore is the message persistence the processor needs.
type MessageStore interface {
	Insert(ctx context.Context, m message.Message) (uuid.UUID, bool, error)
	UpdateStatusByExternalID(ctx context.Context, externalID, status string) error
}

// ProfileSource loads the shopper profile that personalizes an assistant.
type ProfileSource interface {
	GetByContact(ctx context.Context, contactID uuid.UUID) (profile.Profile, error)
}

// Binder ensures a conversation has an assistant.
type Binder interface {
	EnsureBinding(ctx context.Context, conversationID uuid.UUID, p profile.Profile) (string, error)
}

// Deliverer sends and persists outbound replies.
type Deliverer interface {
	Deliver(ctx context.Context, req delivery.Request) (delivery.Result, error)
}

// InteractionRecorder logs assistant exchanges.
type InteractionRecorder interface {
	Record(ctx context.Context, in assistant.Interaction) error
}

// Invalidator signals that unread state changed.
type Invalidator interface {
	Invalidate()
}

// Outcome summarizes what one webhook event caused.
type Outcome struct {
	Event     string `json:"event"`
	Processed int    `json:"processed"`
	Replied   bool   `json:"replied"`
	Skipped   string `json:"skipped,omitempty"`
}

// Processor handles webhook events end to end.
type Processor struct {
	detector      *mention.Detector
	contacts      ContactStore
	conversations ConversationStore
	messages      MessageStore
	profiles      ProfileSource
	binder        Binder
	responder     agent.Invoker
	deliverer     Deliverer
	interactions  InteractionRecorder
	notifier      Invalidator
	logger        *slog.Logger
}

// NewProcessor wires the inbound pipeline.
func NewProcessor(
	log *slog.Logger,
	detector *mention.Detector,
	contacts ContactStore,
	conversations ConversationStore,
	messages MessageStore,
	profiles ProfileSource,
	binder Binder,
	responder agent.Invoker,
	deliverer Deliverer,
	interactions InteractionRecorder,
	notifier Invalidator,
) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		detector:      detector,
		contacts:      contacts,
		conversations: conversations,
		messages:      messages,
		profiles:      profiles,
		binder:        binder,
		responder:     responder,
		deliverer:     deliverer,
		interactions:  interactions,
		notifier:      notifier,
		logger:        log.With(slog.String("component", "pipeline")),
	}
}

// HandleEvent dispatches one webhook event.
func (p *Processor) HandleEvent(ctx context.Context, body []byte) (Outcome, error) {
	ev, err := ParseEvent(body)
	if err != nil {
		return Outcome{}, err
	}
	switch ev.Event {
	case EventMessagesUpsert:
		return p.handleUpsert(ctx, ev)
	case EventMessagesUpdate:
		return p.handleUpdate(ctx, ev)
	case EventWebhookTest:
		p.logger.Info("webhook test received")
		return Outcome{Event: ev.Event}, nil
	default:
		p.logger.Debug("ignoring webhook event", slog.String("event", ev.Event))
		return Outcome{Event: ev.Event, Skipped: "unsupported_event"}, nil
	}
}

func (p *Processor) handleUpsert(ctx context.Context, ev Event) (Outcome, error) {
	var data UpsertData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return Outcome{}, fmt.Errorf("decode upsert data: %w", err)
	}
	out := Outcome{Event: ev.Event}
	if len(data.Messages) == 0 {
		out.Skipped = "no_message"
		return out, nil
	}
	for _, msg := range data.Messages {
		replied, err := p.processMessage(ctx, msg)
		if err != nil {
			return out, err
		}
		out.Processed++
		out.Replied = out.Replied || replied
	}
	return out, nil
}

func (p *Processor) processMessage(ctx context.Context, msg InboundMessage) (bool, error) {
	address := gateway.AddressFromJID(msg.Key.RemoteJID)
	if address == "" {
		p.logger.Warn("message without usable address", slog.String("remote_jid", msg.Key.RemoteJID))
		return false, nil
	}
	text := msg.Text()
	if text == "" {
		p.logger.Debug("skipping non-text message", slog.String("external_id", msg.Key.ID))
		return false, nil
	}

	con, err := p.contacts.GetOrCreateByAddress(ctx, address, msg.PushName)
	if err != nil {
		return false, fmt.Errorf("resolve contact: %w", err)
	}
	conv, err := p.conversations.GetOrCreateByContact(ctx, con.ID, msg.Key.RemoteJID)
	if err != nil {
		return false, fmt.Errorf("resolve conversation: %w", err)
	}

	if msg.Key.FromMe {
		return false, p.recordEcho(ctx, conv, msg, text)
	}

	metadata, _ := json.Marshal(map[string]any{
		"remote_jid": msg.Key.RemoteJID,
		"push_name":  msg.PushName,
		"timestamp":  msg.Timestamp().Unix(),
	})
	_, inserted, err := p.messages.Insert(ctx, message.Message{
		ConversationID: conv.ID,
		ExternalID:     msg.Key.ID,
		Content:        text,
		Direction:      message.DirectionInbound,
		SenderType:     message.SenderCustomer,
		Status:         message.StatusDelivered,
		Metadata:       metadata,
	})
	if err != nil {
		return false, fmt.Errorf("store inbound message: %w", err)
	}
	if !inserted {
		// Redelivered webhook. The first delivery already did everything.
		p.logger.Debug("duplicate inbound message", slog.String("external_id", msg.Key.ID))
		return false, nil
	}

	if err := p.conversations.ApplyInbound(ctx, conv.ID); err != nil {
		p.logger.Warn("inbound counters not updated",
			slog.String("conversation_id", conv.ID.String()),
			slog.Any("error", err))
	}
	p.notifier.Invalidate()

	detection := p.detector.Detect(text)
	if !detection.Triggered {
		return false, nil
	}
	if !conv.AIEnabled {
		p.logger.Info("mention ignored, assistant disabled",
			slog.String("conversation_id", conv.ID.String()))
		return false, nil
	}
	return true, p.respond(ctx, con, conv, detection)
}

// respond runs the assistant leg: bind, invoke, deliver, record. A binding
// failure stops the flow with no user-visible reply. An AI failure still
// replies, with the fallback text.
func (p *Processor) respond(ctx context.Context, con contact.Contact, conv conversation.Conversation, det mention.Detection) error {
	prof, err := p.profiles.GetByContact(ctx, con.ID)
	if err != nil && !errors.Is(err, profile.ErrNotFound) {
		// A missing or unreadable profile must not block the reply. The
		// assistant runs on defaults instead.
		p.logger.Warn("profile not loaded, using defaults",
			slog.String("contact_id", con.ID.String()),
			slog.Any("error", err))
	}
	prof.Name = con.DisplayName
	prof.Phone = con.Address
	if prof.Name == "" {
		prof.Name = con.PushName
	}

	assistantID, err := p.binder.EnsureBinding(ctx, conv.ID, prof)
	if err != nil {
		return fmt.Errorf("conversation %s: %w", conv.ID, err)
	}

	query := det.CleanedQuery
	if query == "" {
		query = det.Original
	}
	reply := p.responder.Respond(ctx, assistantID, conv.ThreadID, query, prof)
	if reply.ThreadID != "" && conv.ThreadID == "" {
		if err := p.conversations.SetThread(ctx, conv.ID, reply.ThreadID); err != nil {
			p.logger.Warn("thread not recorded",
				slog.String("conversation_id", conv.ID.String()),
				slog.Any("error", err))
		}
	}

	result, err := p.deliverer.Deliver(ctx, delivery.Request{
		ConversationID: conv.ID,
		Address:        con.Address,
		Text:           reply.Text,
		SenderType:     message.SenderAssistant,
	})
	if err != nil {
		return fmt.Errorf("deliver reply for conversation %s: %w", conv.ID, err)
	}

	if err := p.interactions.Record(ctx, assistant.Interaction{
		ConversationID: conv.ID,
		AssistantID:    assistantID,
		Query:          query,
		Reply:          reply.Text,
		Latency:        reply.Latency,
		Fallback:       reply.Fallback,
	}); err != nil {
		p.logger.Warn("interaction not recorded", slog.Any("error", err))
	}

	p.notifier.Invalidate()
	p.logger.Info("assistant replied",
		slog.String("conversation_id", conv.ID.String()),
		slog.String("assistant_id", assistantID),
		slog.String("external_id", result.ExternalID),
		slog.Bool("fallback", reply.Fallback),
		slog.Bool("stored", result.Stored))
	return nil
}

// recordEcho stores a copy of a message we sent from another surface. Sends
// made through the delivery pipeline dedupe on their external id.
func (p *Processor) recordEcho(ctx context.Context, conv conversation.Conversation, msg InboundMessage, text string) error {
	_, inserted, err := p.messages.Insert(ctx, message.Message{
		ConversationID: conv.ID,
		ExternalID:     msg.Key.ID,
		Content:        text,
		Direction:      message.DirectionOutbound,
		SenderType:     message.SenderAdmin,
		Status:         message.StatusSent,
	})
	if err != nil {
		return fmt.Errorf("store echoed message: %w", err)
	}
	if inserted {
		if err := p.conversations.ApplyOutbound(ctx, conv.ID); err != nil {
			p.logger.Warn("outbound counters not updated",
				slog.String("conversation_id", conv.ID.String()),
				slog.Any("error", err))
		}
	}
	return nil
}

func (p *Processor) handleUpdate(ctx context.Context, ev Event) (Outcome, error) {
	var data UpdateData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return Outcome{}, fmt.Errorf("decode update data: %w", err)
	}
	out := Outcome{Event: ev.Event}
	if data.Key.ID == "" {
		out.Skipped = "no_message_id"
		return out, nil
	}

	status := StatusName(data.Update.Status)
	err := p.messages.UpdateStatusByExternalID(ctx, data.Key.ID, status)
	if errors.Is(err, message.ErrNotFound) {
		// Status updates can outrun the upsert that stores the message.
		p.logger.Debug("status update for unknown message",
			slog.String("external_id", data.Key.ID),
			slog.String("status", status))
		out.Skipped = "unknown_message"
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("update status: %w", err)
	}
	out.Processed = 1
	if status == message.StatusRead {
		p.notifier.Invalidate()
	}
	return out, nil
}
