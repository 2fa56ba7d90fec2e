package botlib

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/meedsr07/storechat/pkg/client"
	"github.com/meedsr07/storechat/pkg/client/chatview"
	"github.com/meedsr07/storechat/pkg/protocol"
)

// MessageHandler is called when a new message is received.
type MessageHandler func(ctx *Context, msg *Message)

// Config holds the bot configuration.
type Config struct {
	// Server URL (e.g. http://localhost:8080)
	Server string

	// Account the bot logs in as
	Username string
	Password string

	// Register creates the account (with DisplayName) instead of logging in
	Register    bool
	DisplayName string

	// Logger for debug output (optional, defaults to stdout)
	Logger *log.Logger

	// ResponseTimeout for request/response operations (default: 10s)
	ResponseTimeout time.Duration
}

// Bot represents a storechat bot instance.
type Bot struct {
	config  Config
	api     *client.API
	conn    *client.Connection
	logger  *log.Logger
	self    client.Me
	pending *pendingSends

	// Directory cache, refreshed when an unknown sender shows up
	names   map[int64]string
	online  []int64
	stateMu sync.RWMutex

	// Handlers
	onDirect  MessageHandler
	onGroup   MessageHandler
	onMention MessageHandler

	// Lifecycle
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a new Bot with the given configuration.
func New(config Config) *Bot {
	if config.Logger == nil {
		config.Logger = log.New(os.Stdout, "[bot] ", log.LstdFlags)
	}
	if config.ResponseTimeout == 0 {
		config.ResponseTimeout = 10 * time.Second
	}

	return &Bot{
		config:  config,
		api:     client.NewAPI(config.Server),
		logger:  config.Logger,
		pending: newPendingSends(),
		names:   make(map[int64]string),
		stopCh:  make(chan struct{}),
	}
}

// OnDirect registers a handler for messages sent to the bot directly.
func (b *Bot) OnDirect(handler MessageHandler) {
	b.onDirect = handler
}

// OnGroupMessage registers a handler for group messages that don't mention the bot.
func (b *Bot) OnGroupMessage(handler MessageHandler) {
	b.onGroup = handler
}

// OnMention registers a handler for group messages that mention the bot.
func (b *Bot) OnMention(handler MessageHandler) {
	b.onMention = handler
}

// Self returns the principal the bot is logged in as.
func (b *Bot) Self() client.Me {
	return b.self
}

// Start logs in, connects and begins dispatching messages to the handlers.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.login(ctx); err != nil {
		return err
	}
	if err := b.refreshDirectory(ctx); err != nil {
		b.logger.Printf("Warning: failed to load users: %v", err)
	}

	conn, err := client.NewConnection(b.api.BaseURL(), b.api.Token())
	if err != nil {
		return err
	}
	conn.SetLogger(b.logger)

	b.logger.Printf("Connecting to %s as %s...", b.config.Server, b.config.Username)
	if err := conn.Connect(); err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	b.conn = conn

	b.wg.Add(2)
	go b.receiveLoop()
	go b.watchState()

	b.logger.Printf("Bot is running as %s (ID: %d)", b.self.Handle, b.self.ID)
	return nil
}

// Run starts the bot and blocks until Stop is called or a signal arrives.
func (b *Bot) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), b.config.ResponseTimeout)
	err := b.Start(ctx)
	cancel()
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		b.logger.Printf("Shutdown signal received")
	case <-b.stopCh:
		b.logger.Printf("Stop requested")
	}

	return b.shutdown()
}

// Stop gracefully stops the bot. Safe to call more than once.
func (b *Bot) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Close stops the bot and waits for its goroutines, for callers using Start.
func (b *Bot) Close() error {
	b.Stop()
	return b.shutdown()
}

func (b *Bot) shutdown() error {
	if b.conn != nil {
		b.conn.Close()
	}
	b.pending.failAll(client.ErrConnectionClosed)
	b.wg.Wait()

	b.logger.Printf("Bot stopped")
	return nil
}

func (b *Bot) login(ctx context.Context) error {
	var err error
	if b.config.Register {
		_, err = b.api.Register(ctx, b.config.Username, b.config.DisplayName, b.config.Password)
		if errors.Is(err, client.ErrUsernameTaken) {
			b.logger.Printf("Account %s exists, logging in", b.config.Username)
			_, err = b.api.Login(ctx, b.config.Username, b.config.Password)
		}
	} else {
		_, err = b.api.Login(ctx, b.config.Username, b.config.Password)
	}
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	me, err := b.api.Me(ctx)
	if err != nil {
		return fmt.Errorf("me: %w", err)
	}
	b.self = *me

	b.stateMu.Lock()
	b.names[me.ID] = me.Handle
	b.stateMu.Unlock()
	return nil
}

func (b *Bot) refreshDirectory(ctx context.Context) error {
	users, err := b.api.Users(ctx)
	if err != nil {
		return err
	}
	b.stateMu.Lock()
	for _, u := range users {
		name := u.DisplayName
		if name == "" {
			name = u.Username
		}
		b.names[u.ID] = name
	}
	b.stateMu.Unlock()
	return nil
}

// UserName returns a display name for id, reloading the directory on a miss.
func (b *Bot) UserName(id int64) string {
	b.stateMu.RLock()
	name, ok := b.names[id]
	b.stateMu.RUnlock()
	if ok {
		return name
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.config.ResponseTimeout)
	defer cancel()
	if err := b.refreshDirectory(ctx); err != nil {
		b.logger.Printf("Failed to refresh users: %v", err)
	}

	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	if name, ok := b.names[id]; ok {
		return name
	}
	return fmt.Sprintf("user-%d", id)
}

// Online returns the ids from the latest presence update.
func (b *Bot) Online() []int64 {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return append([]int64(nil), b.online...)
}

func (b *Bot) receiveLoop() {
	defer b.wg.Done()

	for ev := range b.conn.Incoming() {
		switch f := ev.(type) {
		case *protocol.NewMessageFrame:
			b.handleNewMessage(f.Message)
		case *protocol.MessageSentFrame:
			b.pending.resolve(f.ClientID, outcome{msg: f.Message})
		case *protocol.ErrorFrame:
			if !b.pending.failOldest(f) {
				b.logger.Printf("Server error: %v", f)
			}
		case *protocol.OnlineUsersFrame:
			b.stateMu.Lock()
			b.online = f.Users
			b.stateMu.Unlock()
		case *protocol.MessageDeletedFrame:
			// Bots keep no local history
		default:
			b.logger.Printf("Received unexpected frame %T", ev)
		}
	}
}

// watchState fails in-flight sends when the connection drops
func (b *Bot) watchState() {
	defer b.wg.Done()

	for update := range b.conn.StateChanges() {
		switch update.State {
		case client.StateDisconnected, client.StateReconnecting:
			b.pending.failAll(client.ErrNotConnected)
		case client.StateClosed:
			return
		}
	}
}

func (b *Bot) handleNewMessage(pm protocol.Message) {
	// Skip our own messages
	if pm.SenderID == b.self.ID {
		return
	}

	msg := newMessage(pm, b.UserName(pm.SenderID), b.self.Handle)
	ctx := &Context{bot: b, message: msg}

	var handler MessageHandler
	switch {
	case msg.IsDirect():
		handler = b.onDirect
	case msg.MentionsMe() && b.onMention != nil:
		handler = b.onMention
	default:
		handler = b.onGroup
	}
	if handler == nil {
		return
	}

	// Handlers may post and wait for confirmation, which arrives on this loop
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		handler(ctx, msg)
	}()
}

func (b *Bot) postMessage(target chatview.Target, content string) (*PostMessageResult, error) {
	frame := &protocol.ChatMessageFrame{Content: content, ClientID: uuid.NewString()}
	id := target.ID
	if target.Kind == chatview.KindGroup {
		frame.GroupID = &id
	} else {
		frame.ReceiverID = &id
	}

	ch := b.pending.add(frame.ClientID)
	if err := b.conn.Send(frame); err != nil {
		b.pending.cancel(frame.ClientID)
		return nil, fmt.Errorf("post message: %w", err)
	}

	msg, err := b.pending.wait(frame.ClientID, ch, b.config.ResponseTimeout)
	if err != nil {
		return nil, fmt.Errorf("post message: %w", err)
	}
	return &PostMessageResult{MessageID: msg.ID, Timestamp: msg.CreatedAt}, nil
}

func (b *Bot) fetchMessages(target chatview.Target, limit int) ([]Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.config.ResponseTimeout)
	defer cancel()

	var history []protocol.Message
	var err error
	if target.Kind == chatview.KindGroup {
		history, err = b.api.GroupHistory(ctx, target.ID, limit)
	} else {
		history, err = b.api.DirectHistory(ctx, target.ID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	messages := make([]Message, len(history))
	for i, m := range history {
		messages[i] = *newMessage(m, b.UserName(m.SenderID), b.self.Handle)
	}
	return messages, nil
}

func (b *Bot) deleteMessage(messageID int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.config.ResponseTimeout)
	defer cancel()
	return b.api.DeleteMessage(ctx, messageID)
}
