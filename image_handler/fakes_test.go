package image_handler

import (
	"context"
	"sync"
	"time"

	"discord_ai_cogs/clock"
	"discord_ai_cogs/entities"
	"discord_ai_cogs/stable_diffusion_api"
)

type fakeClock struct {
	mu     sync.Mutex
	sleeps int
}

func (c *fakeClock) Now() time.Time {
	return time.Now()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps++
	c.mu.Unlock()

	return ctx.Err()
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	return time.AfterFunc(d, f)
}

func (c *fakeClock) Sleeps() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sleeps
}

type fakeBackend struct {
	mu       sync.Mutex
	calls    int
	failures []error
	result   *entities.GenerationResult
	block    chan struct{}
	terms    map[string][]string
	termsErr error
}

func (b *fakeBackend) GenerateImage(ctx context.Context, req *entities.GenerationRequest, payload *entities.Payload) (*entities.GenerationResult, error) {
	b.mu.Lock()
	call := b.calls
	b.calls++
	block := b.block
	b.mu.Unlock()

	if block != nil {
		<-block
	}

	if call < len(b.failures) {
		return nil, b.failures[call]
	}

	result := *b.result
	if payload != nil {
		result.Payload = payload
	}

	return &result, nil
}

func (b *fakeBackend) ListTerms(ctx context.Context) (map[string][]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.terms, b.termsErr
}

func (b *fakeBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.calls
}

type fakeProvider struct {
	backend stable_diffusion_api.Backend
}

func (p *fakeProvider) Backend(settings *entities.GuildSettings) (stable_diffusion_api.Backend, error) {
	return p.backend, nil
}

type fakeMessage struct {
	mu        sync.Mutex
	id        string
	channelID string
	buttons   [][]ActionButton
	reactions []string
	deleted   bool
}

func (m *fakeMessage) ID() string        { return m.id }
func (m *fakeMessage) ChannelID() string { return m.channelID }

func (m *fakeMessage) EditButtons(ctx context.Context, buttons []ActionButton) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleted {
		return ErrMessageDeleted
	}

	m.buttons = append(m.buttons, buttons)

	return nil
}

func (m *fakeMessage) AddReaction(ctx context.Context, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reactions = append(m.reactions, emoji)

	return nil
}

func (m *fakeMessage) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleted = true

	return nil
}

type fakeContext struct {
	mu      sync.Mutex
	id      string
	userID  string
	roles   []string
	nsfw    bool
	replies []Reply
	sent    []*fakeMessage
}

func newFakeContext(id, userID string) *fakeContext {
	return &fakeContext{id: id, userID: userID}
}

func (c *fakeContext) ID() string          { return c.id }
func (c *fakeContext) GuildID() string     { return "guild" }
func (c *fakeContext) ChannelID() string   { return "channel" }
func (c *fakeContext) ChannelNSFW() bool   { return c.nsfw }
func (c *fakeContext) UserID() string      { return c.userID }
func (c *fakeContext) UserMention() string { return "<@" + c.userID + ">" }
func (c *fakeContext) UserRoles() []string { return c.roles }

func (c *fakeContext) Send(ctx context.Context, reply Reply) (SentMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.replies = append(c.replies, reply)

	message := &fakeMessage{id: "msg-" + c.id, channelID: "channel"}
	c.sent = append(c.sent, message)

	return message, nil
}

func (c *fakeContext) Replies() []Reply {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]Reply(nil), c.replies...)
}

type fakeActions struct {
	mu       sync.Mutex
	params   ActionsParams
	attached SentMessage
}

func (a *fakeActions) Buttons() []ActionButton {
	return []ActionButton{{Action: "reroll", Label: "Reroll"}}
}

func (a *fakeActions) Attach(message SentMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.attached = message
}

type fakeActionsFactory struct {
	mu      sync.Mutex
	created []*fakeActions
}

func (f *fakeActionsFactory) NewActions(params ActionsParams) Actions {
	f.mu.Lock()
	defer f.mu.Unlock()

	actions := &fakeActions{params: params}
	f.created = append(f.created, actions)

	return actions
}

type fakeIndexer struct {
	mu      sync.Mutex
	records []*entities.ImageRecord
}

func (i *fakeIndexer) Enabled(channelID string) bool {
	return channelID == "channel"
}

func (i *fakeIndexer) Register(ctx context.Context, record *entities.ImageRecord, data []byte) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.records = append(i.records, record)

	return nil
}
