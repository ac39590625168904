package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basketly/engage/internal/agent"
	"github.com/basketly/engage/internal/assistant"
	"github.com/basketly/engage/internal/contact"
	"github.com/basketly/engage/internal/conversation"
	"github.com/basketly/engage/internal/delivery"
	"github.com/basketly/engage/internal/mention"
	"github.com/basketly/engage/internal/message"
	"github.com/basketly/engage/internal/profile"
)

type fixture struct {
	contacts      *memContacts
	conversations *memConversations
	messages      *memMessages
	profiles      *memProfiles
	binder        *memBinder
	responder     *memResponder
	deliverer     *memDeliverer
	interactions  *memInteractions
	notifier      *memNotifier
	processor     *Processor
}

func newFixture() *fixture {
	f := &fixture{
		contacts:      &memContacts{byAddress: map[string]contact.Contact{}},
		conversations: &memConversations{byContact: map[uuid.UUID]*conversation.Conversation{}},
		messages:      &memMessages{seen: map[string]bool{}},
		profiles:      &memProfiles{},
		binder:        &memBinder{assistantID: "asst_1"},
		responder:     &memResponder{reply: agent.Reply{Text: "here you go", ThreadID: "th_1"}},
		deliverer:     &memDeliverer{},
		interactions:  &memInteractions{},
		notifier:      &memNotifier{},
	}
	f.processor = NewProcessor(nil, mention.NewDetector(nil),
		f.contacts, f.conversations, f.messages, f.profiles, f.binder,
		f.responder, f.deliverer, f.interactions, f.notifier)
	return f
}

type memContacts struct {
	byAddress map[string]contact.Contact
}

func (m *memContacts) GetOrCreateByAddress(ctx context.Context, address, pushName string) (contact.Contact, error) {
	if c, ok := m.byAddress[address]; ok {
		return c, nil
	}
	c := contact.Contact{ID: uuid.New(), Address: address, PushName: pushName, IsActive: true}
	m.byAddress[address] = c
	return c, nil
}

type memConversations struct {
	byContact map[uuid.UUID]*conversation.Conversation
	aiOff     bool
}

func (m *memConversations) GetOrCreateByContact(ctx context.Context, contactID uuid.UUID, externalID string) (conversation.Conversation, error) {
	if c, ok := m.byContact[contactID]; ok {
		return *c, nil
	}
	c := &conversation.Conversation{ID: uuid.New(), ContactID: contactID, ExternalID: externalID, AIEnabled: !m.aiOff}
	m.byContact[contactID] = c
	return *c, nil
}

func (m *memConversations) find(id uuid.UUID) *conversation.Conversation {
	for _, c := range m.byContact {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (m *memConversations) ApplyInbound(ctx context.Context, id uuid.UUID) error {
	if c := m.find(id); c != nil {
		c.TotalMessages++
		c.UnreadCount++
	}
	return nil
}

func (m *memConversations) ApplyOutbound(ctx context.Context, id uuid.UUID) error {
	if c := m.find(id); c != nil {
		c.TotalMessages++
	}
	return nil
}

func (m *memConversations) SetThread(ctx context.Context, id uuid.UUID, threadID string) error {
	if c := m.find(id); c != nil && c.ThreadID == "" {
		c.ThreadID = threadID
	}
	return nil
}

type memMessages struct {
	seen      map[string]bool
	stored    []message.Message
	statusLog map[string]string
	insertErr error
}

func (m *memMessages) Insert(ctx context.Context, msg message.Message) (uuid.UUID, bool, error) {
	if m.insertErr != nil {
		return uuid.Nil, false, m.insertErr
	}
	if msg.ExternalID != "" && m.seen[msg.ExternalID] {
		return uuid.Nil, false, nil
	}
	m.seen[msg.ExternalID] = true
	m.stored = append(m.stored, msg)
	return uuid.New(), true, nil
}

func (m *memMessages) UpdateStatusByExternalID(ctx context.Context, externalID, status string) error {
	if !m.seen[externalID] {
		return message.ErrNotFound
	}
	if m.statusLog == nil {
		m.statusLog = map[string]string{}
	}
	m.statusLog[externalID] = status
	return nil
}

type memProfiles struct {
	profile profile.Profile
	found   bool
	err     error
}

func (m *memProfiles) GetByContact(ctx context.Context, contactID uuid.UUID) (profile.Profile, error) {
	if m.err != nil {
		return profile.Profile{}, m.err
	}
	if !m.found {
		return profile.Profile{}, profile.ErrNotFound
	}
	return m.profile, nil
}

type memBinder struct {
	assistantID string
	err         error
	calls       int
	lastProfile profile.Profile
}

func (m *memBinder) EnsureBinding(ctx context.Context, conversationID uuid.UUID, p profile.Profile) (string, error) {
	m.calls++
	m.lastProfile = p
	if m.err != nil {
		return "", m.err
	}
	return m.assistantID, nil
}

type memResponder struct {
	reply       agent.Reply
	lastQuery   string
	lastProfile profile.Profile
	calls       int
}

func (m *memResponder) Respond(ctx context.Context, assistantID, threadID, query string, prof profile.Profile) agent.Reply {
	m.calls++
	m.lastQuery = query
	m.lastProfile = prof
	return m.reply
}

type memDeliverer struct {
	requests []delivery.Request
	err      error
}

func (m *memDeliverer) Deliver(ctx context.Context, req delivery.Request) (delivery.Result, error) {
	if m.err != nil {
		return delivery.Result{}, m.err
	}
	m.requests = append(m.requests, req)
	return delivery.Result{ExternalID: "wamid.out", Stored: true}, nil
}

type memInteractions struct {
	recorded []assistant.Interaction
}

func (m *memInteractions) Record(ctx context.Context, in assistant.Interaction) error {
	m.recorded = append(m.recorded, in)
	return nil
}

type memNotifier struct {
	invalidations int
}

func (m *memNotifier) Invalidate() { m.invalidations++ }

func upsertBody(id, jid, text string, fromMe bool) []byte {
	return []byte(fmt.Sprintf(`{
		"event": "messages.upsert",
		"data": {"messages": [{
			"key": {"remoteJid": %q, "fromMe": %v, "id": %q},
			"pushName": "Anna",
			"message": {"conversation": %q},
			"messageTimestamp": 1756380000
		}]}
	}`, jid, fromMe, id, text))
}

func TestHandleEventMentionTriggersReply(t *testing.T) {
	f := newFixture()

	out, err := f.processor.HandleEvent(context.Background(),
		upsertBody("wamid.1", "31612345678@s.whatsapp.net", "@bb find cheap apples", false))
	require.NoError(t, err)
	assert.True(t, out.Replied)
	assert.Equal(t, 1, out.Processed)

	assert.Equal(t, 1, f.binder.calls)
	assert.Equal(t, "find cheap apples", f.responder.lastQuery)
	require.Len(t, f.deliverer.requests, 1)
	assert.Equal(t, "here you go", f.deliverer.requests[0].Text)
	assert.Equal(t, "+31612345678", f.deliverer.requests[0].Address)

	require.Len(t, f.interactions.recorded, 1)
	assert.Equal(t, "asst_1", f.interactions.recorded[0].AssistantID)
	assert.False(t, f.interactions.recorded[0].Fallback)

	// Inbound store plus the reply both touch unread state.
	assert.GreaterOrEqual(t, f.notifier.invalidations, 2)
}

func TestHandleEventProfileFlowsToAssistant(t *testing.T) {
	f := newFixture()
	f.profiles.found = true
	f.profiles.profile = profile.Profile{
		Country:       "Netherlands",
		CountryCode:   "NL",
		Language:      "nl",
		Dietary:       []string{"vegetarian"},
		BudgetLevel:   "low",
		HouseholdSize: 3,
		Stores:        []string{"Jumbo"},
	}

	_, err := f.processor.HandleEvent(context.Background(),
		upsertBody("wamid.p1", "31612345678@s.whatsapp.net", "@bb dinner ideas", false))
	require.NoError(t, err)

	// The stored preferences reach both provisioning and the AI run, with
	// identity fields filled from the contact.
	assert.Equal(t, "NL", f.responder.lastProfile.CountryCode)
	assert.Equal(t, []string{"vegetarian"}, f.responder.lastProfile.Dietary)
	assert.Equal(t, "low", f.responder.lastProfile.BudgetLevel)
	assert.Equal(t, 3, f.responder.lastProfile.HouseholdSize)
	assert.Equal(t, []string{"Jumbo"}, f.responder.lastProfile.Stores)
	assert.Equal(t, "+31612345678", f.responder.lastProfile.Phone)
	assert.Equal(t, "Jumbo", f.binder.lastProfile.Stores[0])
	assert.Equal(t, "+31612345678", f.binder.lastProfile.Phone)
}

func TestHandleEventProfileErrorFallsBackToDefaults(t *testing.T) {
	f := newFixture()
	f.profiles.err = errors.New("profiles table unreachable")

	out, err := f.processor.HandleEvent(context.Background(),
		upsertBody("wamid.p2", "31612345678@s.whatsapp.net", "@bb hello", false))
	require.NoError(t, err)
	assert.True(t, out.Replied)
	assert.Equal(t, "+31612345678", f.responder.lastProfile.Phone)
	assert.Empty(t, f.responder.lastProfile.CountryCode)
}

func TestHandleEventNoMentionStoresOnly(t *testing.T) {
	f := newFixture()

	out, err := f.processor.HandleEvent(context.Background(),
		upsertBody("wamid.2", "31612345678@s.whatsapp.net", "see you at 5", false))
	require.NoError(t, err)
	assert.False(t, out.Replied)
	assert.Zero(t, f.binder.calls)
	assert.Zero(t, f.responder.calls)
	require.Len(t, f.messages.stored, 1)
	assert.Equal(t, message.DirectionInbound, f.messages.stored[0].Direction)
}

func TestHandleEventDuplicateUpsertIsNoop(t *testing.T) {
	f := newFixture()
	body := upsertBody("wamid.3", "31612345678@s.whatsapp.net", "@bb milk?", false)

	_, err := f.processor.HandleEvent(context.Background(), body)
	require.NoError(t, err)
	out, err := f.processor.HandleEvent(context.Background(), body)
	require.NoError(t, err)

	assert.False(t, out.Replied)
	assert.Equal(t, 1, f.responder.calls, "a redelivered webhook must not invoke the assistant twice")
	assert.Len(t, f.deliverer.requests, 1)
}

func TestHandleEventFromMeStoredAsEcho(t *testing.T) {
	f := newFixture()

	out, err := f.processor.HandleEvent(context.Background(),
		upsertBody("wamid.4", "31612345678@s.whatsapp.net", "@bb should not trigger", true))
	require.NoError(t, err)
	assert.False(t, out.Replied)
	assert.Zero(t, f.responder.calls)
	require.Len(t, f.messages.stored, 1)
	assert.Equal(t, message.DirectionOutbound, f.messages.stored[0].Direction)
	assert.Equal(t, message.SenderAdmin, f.messages.stored[0].SenderType)
}

func TestHandleEventBindingFailureShortCircuits(t *testing.T) {
	f := newFixture()
	f.binder.err = assistant.ErrBindingFailed

	_, err := f.processor.HandleEvent(context.Background(),
		upsertBody("wamid.5", "31612345678@s.whatsapp.net", "@bb hello", false))
	require.ErrorIs(t, err, assistant.ErrBindingFailed)
	assert.Zero(t, f.responder.calls)
	assert.Empty(t, f.deliverer.requests)

	// The inbound message itself still landed.
	require.Len(t, f.messages.stored, 1)
	assert.Equal(t, message.DirectionInbound, f.messages.stored[0].Direction)
}

func TestHandleEventAIFailureStillReplies(t *testing.T) {
	f := newFixture()
	f.responder.reply = agent.Reply{Text: agent.FallbackReply, Fallback: true}

	out, err := f.processor.HandleEvent(context.Background(),
		upsertBody("wamid.6", "31612345678@s.whatsapp.net", "@bb hello", false))
	require.NoError(t, err)
	assert.True(t, out.Replied)
	require.Len(t, f.deliverer.requests, 1)
	assert.Equal(t, agent.FallbackReply, f.deliverer.requests[0].Text)
	require.Len(t, f.interactions.recorded, 1)
	assert.True(t, f.interactions.recorded[0].Fallback)
}

func TestHandleEventSendFailureSurfaces(t *testing.T) {
	f := newFixture()
	f.deliverer.err = errors.New("gateway down")

	_, err := f.processor.HandleEvent(context.Background(),
		upsertBody("wamid.7", "31612345678@s.whatsapp.net", "@bb hello", false))
	assert.Error(t, err)
}

func TestHandleEventAIDisabledSkipsReply(t *testing.T) {
	f := newFixture()
	f.conversations.aiOff = true

	out, err := f.processor.HandleEvent(context.Background(),
		upsertBody("wamid.8", "31612345678@s.whatsapp.net", "@bb hello", false))
	require.NoError(t, err)
	assert.False(t, out.Replied)
	assert.Zero(t, f.binder.calls)
}

func TestHandleEventThreadRecordedOnce(t *testing.T) {
	f := newFixture()

	_, err := f.processor.HandleEvent(context.Background(),
		upsertBody("wamid.9", "31612345678@s.whatsapp.net", "@bb first", false))
	require.NoError(t, err)

	var conv *conversation.Conversation
	for _, c := range f.conversations.byContact {
		conv = c
	}
	require.NotNil(t, conv)
	assert.Equal(t, "th_1", conv.ThreadID)
}

func TestHandleEventStatusUpdate(t *testing.T) {
	f := newFixture()
	_, err := f.processor.HandleEvent(context.Background(),
		upsertBody("wamid.10", "31612345678@s.whatsapp.net", "hello", false))
	require.NoError(t, err)

	body := []byte(`{
		"event": "messages.update",
		"data": {"key": {"id": "wamid.10", "remoteJid": "31612345678@s.whatsapp.net", "fromMe": false},
		         "update": {"status": 4}}
	}`)
	out, err := f.processor.HandleEvent(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Processed)
	assert.Equal(t, "read", f.messages.statusLog["wamid.10"])
}

func TestHandleEventStatusUpdateUnknownMessage(t *testing.T) {
	f := newFixture()
	body := []byte(`{
		"event": "messages.update",
		"data": {"key": {"id": "wamid.missing"}, "update": {"status": 3}}
	}`)
	out, err := f.processor.HandleEvent(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, "unknown_message", out.Skipped)
}

func TestHandleEventWebhookTest(t *testing.T) {
	f := newFixture()
	out, err := f.processor.HandleEvent(context.Background(), []byte(`{"event":"webhook.test","data":{}}`))
	require.NoError(t, err)
	assert.Equal(t, EventWebhookTest, out.Event)
}

func TestHandleEventUnsupported(t *testing.T) {
	f := newFixture()
	out, err := f.processor.HandleEvent(context.Background(), []byte(`{"event":"chats.update","data":{}}`))
	require.NoError(t, err)
	assert.Equal(t, "unsupported_event", out.Skipped)
}

func TestStatusNames(t *testing.T) {
	assert.Equal(t, "error", StatusName(0))
	assert.Equal(t, "pending", StatusName(1))
	assert.Equal(t, "sent", StatusName(2))
	assert.Equal(t, "delivered", StatusName(3))
	assert.Equal(t, "read", StatusName(4))
	assert.Equal(t, "played", StatusName(5))
	assert.Equal(t, "unknown", StatusName(99))
}
