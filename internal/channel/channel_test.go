package channel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stellarlinkco/aiteam/internal/bus"
	"github.com/stellarlinkco/aiteam/internal/config"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func staticBody(data []byte) *http.Client {
	return &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader(data)),
			Header:     make(http.Header),
		}, nil
	})}
}

// mockTelegramBot implements TelegramBot for tests.
type mockTelegramBot struct {
	mu          sync.Mutex
	updatesChan chan tgbotapi.Update
	stopped     bool
	sentMsgs    []tgbotapi.MessageConfig
	requests    []tgbotapi.Chattable
	failSends   int // number of leading Send calls that fail
	failCall    int // 1-based Send call that fails; 0 disables
	calls       int
	sendErr     error
	files       map[string]tgbotapi.File
	self        tgbotapi.User
}

func newMockBot() *mockTelegramBot {
	return &mockTelegramBot{
		updatesChan: make(chan tgbotapi.Update, 10),
		files:       make(map[string]tgbotapi.File),
		self:        tgbotapi.User{UserName: "testbot"},
	}
}

func (m *mockTelegramBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return m.updatesChan
}

func (m *mockTelegramBot) StopReceivingUpdates() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

func (m *mockTelegramBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.sentMsgs = append(m.sentMsgs, msg)
	}
	m.calls++
	if m.failCall > 0 && m.calls == m.failCall {
		return tgbotapi.Message{}, fmt.Errorf("Bad Request: can't parse entities")
	}
	if m.failSends > 0 {
		m.failSends--
		return tgbotapi.Message{}, fmt.Errorf("Bad Request: can't parse entities")
	}
	if m.sendErr != nil {
		return tgbotapi.Message{}, m.sendErr
	}
	return tgbotapi.Message{MessageID: 1}, nil
}

func (m *mockTelegramBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *mockTelegramBot) GetSelf() tgbotapi.User {
	return m.self
}

func (m *mockTelegramBot) GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error) {
	file, ok := m.files[config.FileID]
	if !ok {
		return tgbotapi.File{}, fmt.Errorf("file %q not found", config.FileID)
	}
	return file, nil
}

func (m *mockTelegramBot) sent() []tgbotapi.MessageConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), m.sentMsgs...)
}

func mockFactory(bot TelegramBot) BotFactory {
	return func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
		return bot, nil
	}
}

func newTestTelegram(t *testing.T, b *bus.MessageBus, bot *mockTelegramBot) *TelegramChannel {
	t.Helper()
	ch, err := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b, mockFactory(bot))
	if err != nil {
		t.Fatalf("NewTelegramChannelWithFactory: %v", err)
	}
	ch.SetBot(bot)
	return ch
}

func TestBaseChannel_IsAllowed(t *testing.T) {
	b := bus.NewMessageBus(1)

	open := NewBaseChannel("test", b, nil)
	if open.Name() != "test" {
		t.Errorf("Name = %q, want test", open.Name())
	}
	if !open.IsAllowed("anyone") {
		t.Error("empty allow list should admit everyone")
	}

	restricted := NewBaseChannel("test", b, []string{"user1", "", "user2"})
	for id, want := range map[string]bool{"user1": true, "user2": true, "user3": false, "": false} {
		if got := restricted.IsAllowed(id); got != want {
			t.Errorf("IsAllowed(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestNewTelegramChannel_NoToken(t *testing.T) {
	if _, err := NewTelegramChannel(config.TelegramConfig{Token: "  "}, bus.NewMessageBus(1)); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestToTelegramHTML(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"a < b & c > d", "a &lt; b &amp; c &gt; d"},
		{"**bold** and *it*", "<b>bold</b> and <i>it</i>"},
		{"use `go test`", "use <code>go test</code>"},
		{"```go\nfmt.Println()\n```", "<pre>fmt.Println()\n</pre>"},
		{"```\nno lang\n```", "<pre>\nno lang\n</pre>"},
		{"a * b", "a * b"},
	}
	for _, tt := range tests {
		if got := toTelegramHTML(tt.in); got != tt.want {
			t.Errorf("toTelegramHTML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("", 10); len(got) != 0 {
		t.Errorf("empty input chunks = %v", got)
	}
	if got := splitMessage("short", 10); len(got) != 1 || got[0] != "short" {
		t.Errorf("short input chunks = %v", got)
	}

	got := splitMessage("aaaa\nbbbb\ncccc", 10)
	if len(got) != 2 || got[0] != "aaaa\nbbbb" || got[1] != "cccc" {
		t.Errorf("newline split = %q", got)
	}

	// Multi-byte runes are never cut in half.
	wide := strings.Repeat("✅", 25)
	for _, chunk := range splitMessage(wide, 10) {
		if !utf8.ValidString(chunk) {
			t.Fatalf("invalid utf8 chunk %q", chunk)
		}
		if n := utf8.RuneCountInString(chunk); n > 10 {
			t.Errorf("chunk has %d runes", n)
		}
	}
}

func TestTelegramChannel_HandleMessage(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch := newTestTelegram(t, b, newMockBot())

	ch.handleMessage(context.Background(), &tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 123, UserName: "operator"},
		Chat:      &tgbotapi.Chat{ID: 456},
		Text:      "/diagnose api",
		Date:      1234567890,
	})

	select {
	case inbound := <-b.Inbound:
		if inbound.Channel != "telegram" || inbound.SenderID != "123" || inbound.ChatID != "456" {
			t.Errorf("origin = %s/%s/%s", inbound.Channel, inbound.SenderID, inbound.ChatID)
		}
		if inbound.Content != "/diagnose api" {
			t.Errorf("content = %q", inbound.Content)
		}
		if !inbound.IsCommand() {
			t.Error("expected a command")
		}
		if inbound.Metadata["username"] != "operator" {
			t.Errorf("metadata = %v", inbound.Metadata)
		}
	default:
		t.Fatal("expected inbound message")
	}
}

func TestTelegramChannel_HandleMessage_Filtered(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TelegramConfig
		msg  *tgbotapi.Message
	}{
		{
			name: "rejected sender",
			cfg:  config.TelegramConfig{Token: "t", AllowFrom: []string{"999"}},
			msg:  &tgbotapi.Message{From: &tgbotapi.User{ID: 123}, Chat: &tgbotapi.Chat{ID: 1}, Text: "hi"},
		},
		{
			name: "empty text",
			cfg:  config.TelegramConfig{Token: "t"},
			msg:  &tgbotapi.Message{From: &tgbotapi.User{ID: 123}, Chat: &tgbotapi.Chat{ID: 1}},
		},
		{
			name: "no sender",
			cfg:  config.TelegramConfig{Token: "t"},
			msg:  &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, Text: "hi"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bus.NewMessageBus(10)
			ch, _ := NewTelegramChannelWithFactory(tt.cfg, b, mockFactory(newMockBot()))
			ch.handleMessage(context.Background(), tt.msg)
			select {
			case msg := <-b.Inbound:
				t.Errorf("unexpected inbound %+v", msg)
			default:
			}
		})
	}
}

func TestTelegramChannel_HandleMessage_Photo(t *testing.T) {
	b := bus.NewMessageBus(10)
	bot := newMockBot()
	bot.files["photo-large"] = tgbotapi.File{FileID: "photo-large", FilePath: "photos/large.jpg"}
	ch := newTestTelegram(t, b, bot)

	photoData := []byte{0xff, 0xd8, 0xff, 0xd9}
	ch.httpClient = staticBody(photoData)

	ch.handleMessage(context.Background(), &tgbotapi.Message{
		From:    &tgbotapi.User{ID: 123},
		Chat:    &tgbotapi.Chat{ID: 456},
		Caption: "what is on this dashboard?",
		Photo: []tgbotapi.PhotoSize{
			{FileID: "photo-small"},
			{FileID: "photo-large"},
		},
	})

	select {
	case inbound := <-b.Inbound:
		if inbound.Content != "what is on this dashboard?" {
			t.Errorf("content = %q, want caption", inbound.Content)
		}
		if len(inbound.Media) != 1 {
			t.Fatalf("media len = %d, want 1", len(inbound.Media))
		}
		if inbound.Media[0].MimeType != "image/jpeg" {
			t.Errorf("mime = %q, want image/jpeg", inbound.Media[0].MimeType)
		}
		if !bytes.Equal(inbound.Media[0].Data, photoData) {
			t.Error("media data mismatch")
		}
	default:
		t.Fatal("expected inbound message")
	}
}

func TestTelegramChannel_HandleMessage_Document(t *testing.T) {
	b := bus.NewMessageBus(10)
	bot := newMockBot()
	bot.files["doc-1"] = tgbotapi.File{FileID: "doc-1", FilePath: "docs/report.pdf"}
	ch := newTestTelegram(t, b, bot)

	pdf := []byte("%PDF-1.4 test")
	ch.httpClient = staticBody(pdf)

	ch.handleMessage(context.Background(), &tgbotapi.Message{
		From:     &tgbotapi.User{ID: 123},
		Chat:     &tgbotapi.Chat{ID: 456},
		Document: &tgbotapi.Document{FileID: "doc-1", MimeType: "application/pdf"},
	})

	select {
	case inbound := <-b.Inbound:
		if inbound.Content != "" {
			t.Errorf("content = %q, want empty", inbound.Content)
		}
		if len(inbound.Media) != 1 || inbound.Media[0].MimeType != "application/pdf" {
			t.Fatalf("media = %+v", inbound.Media)
		}
	default:
		t.Fatal("expected inbound message")
	}
}

func TestTelegramChannel_HandleMessage_DownloadFailure(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch := newTestTelegram(t, b, newMockBot())

	// Unknown file and no text: nothing to forward.
	ch.handleMessage(context.Background(), &tgbotapi.Message{
		From:  &tgbotapi.User{ID: 123},
		Chat:  &tgbotapi.Chat{ID: 456},
		Photo: []tgbotapi.PhotoSize{{FileID: "missing"}},
	})

	select {
	case msg := <-b.Inbound:
		t.Errorf("unexpected inbound %+v", msg)
	default:
	}
}

func TestTelegramChannel_InitBot(t *testing.T) {
	b := bus.NewMessageBus(1)

	failing := func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
		return nil, fmt.Errorf("auth failed")
	}
	ch, _ := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b, failing)
	if err := ch.initBot(); err == nil {
		t.Error("expected factory error")
	}

	ch, _ = NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token", Proxy: "://bad"}, b, mockFactory(newMockBot()))
	if err := ch.initBot(); err == nil {
		t.Error("expected proxy parse error")
	}

	ch, _ = NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token", Proxy: "http://127.0.0.1:8080"}, b, mockFactory(newMockBot()))
	if err := ch.initBot(); err != nil {
		t.Fatalf("initBot: %v", err)
	}
	if ch.httpClient == http.DefaultClient {
		t.Error("proxy should install a dedicated client")
	}
}

func TestTelegramChannel_StartStop(t *testing.T) {
	b := bus.NewMessageBus(10)
	bot := newMockBot()
	ch, _ := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b, mockFactory(bot))
	ch.SetCommands([]CommandSpec{{Name: "diagnose", Description: "run a diagnosis"}})

	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	bot.updatesChan <- tgbotapi.Update{Message: nil}
	bot.updatesChan <- tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 123},
		Chat: &tgbotapi.Chat{ID: 456},
		Text: "status report",
	}}

	select {
	case inbound := <-b.Inbound:
		if inbound.Content != "status report" {
			t.Errorf("content = %q", inbound.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound")
	}

	if err := ch.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	bot.mu.Lock()
	defer bot.mu.Unlock()
	if !bot.stopped {
		t.Error("bot should be stopped")
	}
	if len(bot.requests) != 1 {
		t.Fatalf("requests = %d, want 1 command registration", len(bot.requests))
	}
	set, ok := bot.requests[0].(tgbotapi.SetMyCommandsConfig)
	if !ok || len(set.Commands) != 1 || set.Commands[0].Command != "diagnose" {
		t.Errorf("command registration = %+v", bot.requests[0])
	}
}

func TestTelegramChannel_StopWithoutStart(t *testing.T) {
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, bus.NewMessageBus(1))
	if err := ch.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestTelegramChannel_Send(t *testing.T) {
	b := bus.NewMessageBus(1)

	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	if err := ch.Send(bus.OutboundMessage{ChatID: "1", Content: "x"}); err == nil {
		t.Error("expected error without a bot")
	}

	bot := newMockBot()
	ch = newTestTelegram(t, b, bot)
	if err := ch.Send(bus.OutboundMessage{ChatID: "not-a-number", Content: "x"}); err == nil {
		t.Error("expected error for invalid chat ID")
	}

	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "✅ **done**"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	sent := bot.sent()
	if len(sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sent))
	}
	if sent[0].ParseMode != tgbotapi.ModeHTML || sent[0].Text != "✅ <b>done</b>" {
		t.Errorf("sent = %q (mode %q)", sent[0].Text, sent[0].ParseMode)
	}
}

func TestTelegramChannel_Send_LongMessage(t *testing.T) {
	bot := newMockBot()
	ch := newTestTelegram(t, bus.NewMessageBus(1), bot)

	content := strings.Repeat("This is a long line of workflow output.\n", 200)
	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: content}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	sent := bot.sent()
	if len(sent) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(sent))
	}
	for _, m := range sent {
		if utf8.RuneCountInString(m.Text) > telegramMaxLen {
			t.Errorf("chunk too long: %d runes", utf8.RuneCountInString(m.Text))
		}
	}
}

func TestTelegramChannel_Send_PlainFallback(t *testing.T) {
	bot := newMockBot()
	bot.failSends = 1
	ch := newTestTelegram(t, bus.NewMessageBus(1), bot)

	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "a <b> tag"}); err != nil {
		t.Fatalf("Send should succeed after plain retry: %v", err)
	}
	sent := bot.sent()
	if len(sent) != 2 {
		t.Fatalf("sent = %d, want 2", len(sent))
	}
	if sent[1].ParseMode != "" || sent[1].Text != "a <b> tag" {
		t.Errorf("retry = %q (mode %q)", sent[1].Text, sent[1].ParseMode)
	}
}

func TestTelegramChannel_Send_PlainFallbackMidMessage(t *testing.T) {
	bot := newMockBot()
	bot.failCall = 2
	ch := newTestTelegram(t, bus.NewMessageBus(1), bot)

	content := strings.Repeat("This is a long line of workflow output.\n", 300)
	chunks := splitMessage(content, telegramMaxLen)
	if len(chunks) < 3 {
		t.Fatalf("test content splits into %d chunks, want at least 3", len(chunks))
	}
	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: content}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	sent := bot.sent()
	if len(sent) != len(chunks)+1 {
		t.Fatalf("sent = %d messages, want %d", len(sent), len(chunks)+1)
	}
	if sent[0].ParseMode != tgbotapi.ModeHTML || sent[0].Text != chunks[0] {
		t.Errorf("first chunk = %q (mode %q)", sent[0].Text, sent[0].ParseMode)
	}
	// sent[1] is the rejected HTML attempt; only the remaining chunks follow.
	for i, m := range sent[2:] {
		if m.ParseMode != "" || m.Text != chunks[i+1] {
			t.Errorf("plain chunk %d = %q (mode %q), want chunk %d", i, m.Text, m.ParseMode, i+1)
		}
	}
}

func TestTelegramChannel_Send_BothFail(t *testing.T) {
	bot := newMockBot()
	bot.sendErr = fmt.Errorf("network down")
	ch := newTestTelegram(t, bus.NewMessageBus(1), bot)

	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "test"}); err == nil {
		t.Error("expected error when both sends fail")
	}
}

// mockChannel implements Channel for manager tests.
type mockChannel struct {
	mu       sync.Mutex
	name     string
	started  bool
	stopped  bool
	startErr error
	stopErr  error
	sentMsgs []bus.OutboundMessage
}

func (m *mockChannel) Name() string { return m.name }

func (m *mockChannel) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return m.startErr
}

func (m *mockChannel) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return m.stopErr
}

func (m *mockChannel) Send(msg bus.OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentMsgs = append(m.sentMsgs, msg)
	return nil
}

func TestChannelManager_Empty(t *testing.T) {
	m, err := NewChannelManager(config.ChannelsConfig{}, bus.NewMessageBus(1))
	if err != nil {
		t.Fatalf("NewChannelManager: %v", err)
	}
	if len(m.EnabledChannels()) != 0 {
		t.Errorf("EnabledChannels = %v", m.EnabledChannels())
	}
	if err := m.StartAll(context.Background()); err != nil {
		t.Errorf("StartAll: %v", err)
	}
	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll: %v", err)
	}
}

func TestChannelManager_TelegramMissingToken(t *testing.T) {
	cfg := config.ChannelsConfig{Telegram: config.TelegramConfig{Enabled: true}}
	if _, err := NewChannelManager(cfg, bus.NewMessageBus(1)); err == nil {
		t.Error("expected error for enabled telegram without token")
	}
}

func TestChannelManager_TelegramEnabled(t *testing.T) {
	b := bus.NewMessageBus(1)
	bot := newMockBot()
	cfg := config.ChannelsConfig{Telegram: config.TelegramConfig{Enabled: true, Token: "tok"}}

	m, err := NewChannelManager(cfg, b,
		WithBotFactory(mockFactory(bot)),
		WithCommands([]CommandSpec{{Name: "self", Description: "self check"}}),
	)
	if err != nil {
		t.Fatalf("NewChannelManager: %v", err)
	}
	if got := m.EnabledChannels(); len(got) != 1 || got[0] != "telegram" {
		t.Fatalf("EnabledChannels = %v", got)
	}
	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if err := m.StopAll(); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	bot.mu.Lock()
	defer bot.mu.Unlock()
	if len(bot.requests) != 1 {
		t.Errorf("command registrations = %d, want 1", len(bot.requests))
	}
}

func TestChannelManager_RegisterRoutesOutbound(t *testing.T) {
	b := bus.NewMessageBus(4)
	mock := &mockChannel{name: "mock"}
	m, _ := NewChannelManager(config.ChannelsConfig{}, b)
	m.Register(mock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.DispatchOutbound(ctx)
		close(done)
	}()

	b.Outbound <- bus.OutboundMessage{Channel: "mock", ChatID: "9", Content: "pong"}

	deadline := time.After(2 * time.Second)
	for {
		mock.mu.Lock()
		n := len(mock.sentMsgs)
		mock.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for outbound delivery")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestChannelManager_StartStopErrors(t *testing.T) {
	b := bus.NewMessageBus(1)
	ok := &mockChannel{name: "ok"}
	bad := &mockChannel{name: "bad", startErr: fmt.Errorf("start failed"), stopErr: fmt.Errorf("stop failed")}

	m, _ := NewChannelManager(config.ChannelsConfig{}, b)
	m.Register(ok)
	m.Register(bad)

	if got := m.EnabledChannels(); len(got) != 2 || got[0] != "bad" || got[1] != "ok" {
		t.Errorf("EnabledChannels = %v, want sorted [bad ok]", got)
	}
	err := m.StartAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Errorf("StartAll error = %v, want one naming the failed channel", err)
	}
	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll should log stop errors: %v", err)
	}
	if !ok.stopped || !bad.stopped {
		t.Error("every channel should be stopped")
	}
}
