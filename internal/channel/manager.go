package channel

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/stellarlinkco/aiteam/internal/bus"
	"github.com/stellarlinkco/aiteam/internal/config"
	"golang.org/x/sync/errgroup"
)

type ChannelManager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
}

type ManagerOption func(*managerOptions)

type managerOptions struct {
	commands   []CommandSpec
	botFactory BotFactory
}

// WithCommands advertises directives on channels that support a command menu.
func WithCommands(cmds []CommandSpec) ManagerOption {
	return func(o *managerOptions) { o.commands = cmds }
}

// WithBotFactory overrides how the Telegram client is created.
func WithBotFactory(f BotFactory) ManagerOption {
	return func(o *managerOptions) { o.botFactory = f }
}

func NewChannelManager(cfg config.ChannelsConfig, b *bus.MessageBus, opts ...ManagerOption) (*ChannelManager, error) {
	var o managerOptions
	for _, opt := range opts {
		opt(&o)
	}

	m := &ChannelManager{
		channels: make(map[string]Channel),
		bus:      b,
	}

	if cfg.Telegram.Enabled {
		ch, err := NewTelegramChannelWithFactory(cfg.Telegram, b, o.botFactory)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		ch.SetCommands(o.commands)
		m.Register(ch)
	}

	return m, nil
}

// Register adds ch and routes outbound messages addressed to it.
func (m *ChannelManager) Register(ch Channel) {
	m.channels[ch.Name()] = ch
	m.bus.SubscribeOutbound(ch.Name(), func(msg bus.OutboundMessage) {
		if err := ch.Send(msg); err != nil {
			log.Printf("[channel-mgr] send to %s failed: %v", ch.Name(), err)
		}
	})
}

// StartAll starts every channel concurrently and returns the first failure.
// Channels keep running on ctx, which outlives the start fan-out.
func (m *ChannelManager) StartAll(ctx context.Context) error {
	var g errgroup.Group
	for name, ch := range m.channels {
		g.Go(func() error {
			log.Printf("[channel-mgr] starting %s", name)
			if err := ch.Start(ctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *ChannelManager) StopAll() error {
	for name, ch := range m.channels {
		log.Printf("[channel-mgr] stopping %s", name)
		if err := ch.Stop(); err != nil {
			log.Printf("[channel-mgr] error stopping %s: %v", name, err)
		}
	}
	return nil
}

func (m *ChannelManager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
