package dispatcher

import (
	"context"
	"sync"

	"github.com/slacknet/slacksdk/connection/socketmessage"
)

// EventHandler runs after its envelope has already been acknowledged
type EventHandler func(ctx context.Context, event *socketmessage.EventsApiPayload) error

// InteractionHandler may return a response payload; it rides on the acknowledgement if it
// arrives before the ack deadline
type InteractionHandler func(ctx context.Context, interaction *socketmessage.InteractivePayload) (any, error)

type SlashCommandHandler func(ctx context.Context, command *socketmessage.SlashCommandPayload) (any, error)

// Resolver picks the handler for a payload, returning nil when nothing should run
type Resolver interface {
	EventHandler(event *socketmessage.EventsApiPayload) EventHandler
	InteractionHandler(interaction *socketmessage.InteractivePayload) InteractionHandler
	SlashCommandHandler(command *socketmessage.SlashCommandPayload) SlashCommandHandler
}

// Router is a Resolver backed by maps. Events route by inner event type, interactions by
// routing key and then by interaction type, slash commands by command name. Each falls back
// to its default handler when one is set.
type Router struct {
	lock sync.RWMutex

	events           map[string]EventHandler
	interactions     map[string]InteractionHandler
	interactionTypes map[socketmessage.InteractionType]InteractionHandler
	commands         map[string]SlashCommandHandler

	defaultEvent       EventHandler
	defaultInteraction InteractionHandler
	defaultCommand     SlashCommandHandler
}

func NewRouter() *Router {
	return &Router{
		events:           make(map[string]EventHandler),
		interactions:     make(map[string]InteractionHandler),
		interactionTypes: make(map[socketmessage.InteractionType]InteractionHandler),
		commands:         make(map[string]SlashCommandHandler),
	}
}

func (r *Router) OnEvent(eventType string, handler EventHandler) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.events[eventType] = handler
}

// OnInteraction registers against an action id for block actions or a callback id otherwise
func (r *Router) OnInteraction(routingKey string, handler InteractionHandler) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.interactions[routingKey] = handler
}

func (r *Router) OnInteractionType(interactionType socketmessage.InteractionType, handler InteractionHandler) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.interactionTypes[interactionType] = handler
}

func (r *Router) OnSlashCommand(command string, handler SlashCommandHandler) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.commands[command] = handler
}

func (r *Router) OnDefaultEvent(handler EventHandler) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.defaultEvent = handler
}

func (r *Router) OnDefaultInteraction(handler InteractionHandler) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.defaultInteraction = handler
}

func (r *Router) OnDefaultSlashCommand(handler SlashCommandHandler) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.defaultCommand = handler
}

func (r *Router) EventHandler(event *socketmessage.EventsApiPayload) EventHandler {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if handler, ok := r.events[event.Event.Type]; ok {
		return handler
	}
	return r.defaultEvent
}

func (r *Router) InteractionHandler(interaction *socketmessage.InteractivePayload) InteractionHandler {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if key := interaction.RoutingKey(); key != "" {
		if handler, ok := r.interactions[key]; ok {
			return handler
		}
	}
	if handler, ok := r.interactionTypes[interaction.Type]; ok {
		return handler
	}
	return r.defaultInteraction
}

func (r *Router) SlashCommandHandler(command *socketmessage.SlashCommandPayload) SlashCommandHandler {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if handler, ok := r.commands[command.Command]; ok {
		return handler
	}
	return r.defaultCommand
}
