package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"cocoview/internal/eventbus"
)

// Sender is the part of *tea.Program the bridge needs.
type Sender interface {
	Send(msg tea.Msg)
}

// Forward relays connection and control events to the program until ctx ends.
// Run it on its own goroutine: Send blocks while the program is busy.
func Forward(ctx context.Context, p Sender, bus eventbus.Bus) {
	ch, unsubscribe := bus.Subscribe(32, eventbus.TopicConnection, eventbus.TopicControl)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			p.Send(ev)
		}
	}
}
