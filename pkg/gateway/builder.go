package gateway

import (
	"fmt"

	"aurora/pkg/api"
	"aurora/pkg/monitor"
)

// Builder provides a fluent interface for constructing and starting a
// Registry with all its dependencies.
//
// All components (channels, engine, hooks) are pre-built and injected as
// instances. The Builder simply assembles and starts them.
type Builder struct {
	gw           *Registry
	monitor      monitor.Monitor
	channels     []api.Channel
	engine       api.AgentEngine
	onConnect    ConnectHook
	onDisconnect DisconnectHook
}

// NewBuilder creates a fresh Builder instance and allocates an internal
// Registry to be configured.
func NewBuilder() *Builder {
	return &Builder{
		gw: NewRegistry(),
	}
}

// WithMonitor injects a monitoring implementation into the builder.
// This monitor will be started automatically during the Build() process.
func (b *Builder) WithMonitor(m monitor.Monitor) *Builder {
	b.monitor = m
	return b
}

// WithChannel adds pre-built channel instances to the gateway.
func (b *Builder) WithChannel(channels ...api.Channel) *Builder {
	b.channels = append(b.channels, channels...)
	return b
}

// WithAgentEngine wires the engine as the inbound message handler.
func (b *Builder) WithAgentEngine(engine api.AgentEngine) *Builder {
	b.engine = engine
	return b
}

// WithConnectHook sets the callback run when a session attaches.
func (b *Builder) WithConnectHook(h ConnectHook) *Builder {
	b.onConnect = h
	return b
}

// WithDisconnectHook sets the callback run once per detach.
func (b *Builder) WithDisconnectHook(h DisconnectHook) *Builder {
	b.onDisconnect = h
	return b
}

// Build finalizes the configuration, injects all dependencies into the
// Registry, registers all channels, and starts everything.
// Returns the fully operational Registry or an error if any stage fails.
func (b *Builder) Build() (*Registry, error) {
	// 1. Initialize and start the monitoring service
	if b.monitor != nil {
		b.gw.SetMonitor(b.monitor)
		if err := b.monitor.Start(); err != nil {
			return nil, fmt.Errorf("failed to start monitor: %w", err)
		}
	}

	// 2. Wire lifecycle hooks
	if b.onConnect != nil {
		b.gw.SetConnectHook(b.onConnect)
	}
	if b.onDisconnect != nil {
		b.gw.SetDisconnectHook(b.onDisconnect)
	}

	// 3. Route inbound messages into the engine
	if b.engine != nil {
		b.gw.SetMessageHandler(b.engine.Submit)
	}

	// 4. Register all pre-built channels
	for _, c := range b.channels {
		b.gw.RegisterChannel(c)
	}

	// 5. Start all registered channels
	if err := b.gw.StartAll(); err != nil {
		return nil, fmt.Errorf("failed to start channels: %w", err)
	}

	return b.gw, nil
}
