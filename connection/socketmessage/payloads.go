package socketmessage

import (
	"encoding/json"
	"fmt"
	"sync"
)

type Payload interface {
	PayloadType() MessageType
}

// PayloadDecoder turns the raw payload of one message type into its concrete Payload
type PayloadDecoder func(raw json.RawMessage) (Payload, error)

var (
	registryLock sync.RWMutex
	registry     = map[MessageType]PayloadDecoder{
		EventsApi:     decodeEventsApi,
		Interactive:   decodeInteractive,
		SlashCommands: decodeSlashCommand,
	}
)

// RegisterPayload adds or replaces the decoder used for a message type
func RegisterPayload(messageType MessageType, decoder PayloadDecoder) {
	registryLock.Lock()
	defer registryLock.Unlock()

	registry[messageType] = decoder
}

func lookupDecoder(messageType MessageType) (PayloadDecoder, bool) {
	registryLock.RLock()
	defer registryLock.RUnlock()

	decoder, ok := registry[messageType]
	return decoder, ok
}

// Events API

const EventCallback = "event_callback"

type EventsApiPayload struct {
	Type      string     `json:"type"`
	Token     string     `json:"token,omitempty"`
	TeamId    string     `json:"team_id"`
	ApiAppId  string     `json:"api_app_id"`
	EventId   string     `json:"event_id"`
	EventTime int64      `json:"event_time"`
	Event     InnerEvent `json:"event"`
}

func (p *EventsApiPayload) PayloadType() MessageType { return EventsApi }

// InnerEvent keeps the type and subtype of the wrapped event for routing and the raw json
// for whoever handles it
type InnerEvent struct {
	Type    string
	Subtype string
	Raw     json.RawMessage
}

func (e *InnerEvent) UnmarshalJSON(data []byte) error {
	var header struct {
		Type    string `json:"type"`
		Subtype string `json:"subtype"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return err
	}

	e.Type = header.Type
	e.Subtype = header.Subtype
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (e InnerEvent) MarshalJSON() ([]byte, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	return json.Marshal(map[string]string{"type": e.Type, "subtype": e.Subtype})
}

func decodeEventsApi(raw json.RawMessage) (Payload, error) {
	var payload EventsApiPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("error unmarshalling events api payload: %w", err)
	}

	if payload.Type == EventCallback && payload.Event.Type == "" {
		return nil, fmt.Errorf("event callback %s is missing its inner event type", payload.EventId)
	}
	return &payload, nil
}

// Interactivity

type InteractionType string

const (
	BlockActions    InteractionType = "block_actions"
	BlockSuggestion InteractionType = "block_suggestion"
	MessageAction   InteractionType = "message_action"
	Shortcut        InteractionType = "shortcut"
	ViewSubmission  InteractionType = "view_submission"
	ViewClosed      InteractionType = "view_closed"
)

type Actor struct {
	Id       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	TeamId   string `json:"team_id,omitempty"`
}

type Team struct {
	Id     string `json:"id"`
	Domain string `json:"domain,omitempty"`
}

type Channel struct {
	Id   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type BlockAction struct {
	ActionId string `json:"action_id"`
	BlockId  string `json:"block_id"`
	Type     string `json:"type"`
	Value    string `json:"value,omitempty"`
	ActionTs string `json:"action_ts,omitempty"`
}

type InteractivePayload struct {
	Type        InteractionType `json:"type"`
	TriggerId   string          `json:"trigger_id,omitempty"`
	CallbackId  string          `json:"callback_id,omitempty"`
	ResponseUrl string          `json:"response_url,omitempty"`
	User        Actor           `json:"user"`
	Team        Team            `json:"team"`
	Channel     *Channel        `json:"channel,omitempty"`
	Actions     []BlockAction   `json:"actions,omitempty"`
	View        json.RawMessage `json:"view,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (p *InteractivePayload) PayloadType() MessageType { return Interactive }

// RoutingKey is what handlers are registered against: the view callback id for view
// payloads, the first action id for block actions and the callback id otherwise
func (p *InteractivePayload) RoutingKey() string {
	switch p.Type {
	case BlockActions:
		if len(p.Actions) > 0 {
			return p.Actions[0].ActionId
		}
	case ViewSubmission, ViewClosed:
		var view struct {
			CallbackId string `json:"callback_id"`
		}
		if len(p.View) > 0 && json.Unmarshal(p.View, &view) == nil && view.CallbackId != "" {
			return view.CallbackId
		}
	}
	return p.CallbackId
}

func decodeInteractive(raw json.RawMessage) (Payload, error) {
	var payload InteractivePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("error unmarshalling interactive payload: %w", err)
	}

	if payload.Type == "" {
		return nil, fmt.Errorf("interactive payload is missing its type")
	}

	payload.Raw = append(json.RawMessage(nil), raw...)
	return &payload, nil
}

// Slash commands

type SlashCommandPayload struct {
	Command     string `json:"command"`
	Text        string `json:"text"`
	TeamId      string `json:"team_id"`
	TeamDomain  string `json:"team_domain,omitempty"`
	ChannelId   string `json:"channel_id"`
	ChannelName string `json:"channel_name,omitempty"`
	UserId      string `json:"user_id"`
	UserName    string `json:"user_name,omitempty"`
	ResponseUrl string `json:"response_url"`
	TriggerId   string `json:"trigger_id"`
	ApiAppId    string `json:"api_app_id"`
}

func (p *SlashCommandPayload) PayloadType() MessageType { return SlashCommands }

func decodeSlashCommand(raw json.RawMessage) (Payload, error) {
	var payload SlashCommandPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("error unmarshalling slash command payload: %w", err)
	}

	if payload.Command == "" {
		return nil, fmt.Errorf("slash command payload is missing its command")
	}
	return &payload, nil
}
