// Package events classifies the raw server-sent events of a LangGraph run into the few kinds the
// transcript cares about: a streamed token of the generation node, the final output of a chain, or
// noise to be dropped.
package events

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Unit is one server-sent event read from the remote source.
type Unit struct {
	// Event is the SSE event name, e.g. "events" or "metadata".
	Event string
	// Data is the raw data payload of the event.
	Data []byte
}

// Kind is the semantic kind of a classified unit.
type Kind int

const (
	// KindIgnore marks units that must not touch the transcript.
	KindIgnore Kind = iota
	// KindDelta marks an incremental token of the generation node.
	KindDelta
	// KindFinal marks the complete output of a finished chain.
	KindFinal
)

func (k Kind) String() string {
	switch k {
	case KindDelta:
		return "delta"
	case KindFinal:
		return "final"
	default:
		return "ignore"
	}
}

// Event is the result of classifying a Unit.
type Event struct {
	Kind Kind
	Text string
	// Node is the graph node reported by the unit's metadata, empty if none was reported.
	Node string
}

// Names of the LangGraph stream events that carry content.
const (
	ChatModelStream = "on_chat_model_stream"
	ChainEnd        = "on_chain_end"
)

// Defaults of the remote graph's naming convention.
const (
	DefaultEventTag       = "events"
	DefaultGenerationNode = "generate_node"
	DefaultOutputKey      = "generation"
)

// Classifier decides which units of a run belong in the transcript. The zero value uses the default
// naming convention.
type Classifier struct {
	// EventTag is the SSE event name under which the run's stream events arrive.
	EventTag string
	// GenerationNode is the graph node whose tokens are shown to the user.
	GenerationNode string
	// OutputKey is the key of the generated value in a chain's final output.
	OutputKey string
}

var errUnknownContent = errors.New("unknown chunk content")

type envelope struct {
	Event    string          `json:"event"`
	Name     string          `json:"name,omitempty"`
	Data     json.RawMessage `json:"data"`
	Metadata *metadata       `json:"metadata,omitempty"`
}

type metadata struct {
	Node *string `json:"langgraph_node,omitempty"`
}

type streamData struct {
	Chunk struct {
		Content chunkContent `json:"content"`
	} `json:"chunk"`
}

type endData struct {
	Output map[string]json.RawMessage `json:"output"`
}

// chunkContent accepts both shapes a chat model chunk may carry: a plain string, or a list of content
// blocks whose text parts are joined.
type chunkContent string

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (c *chunkContent) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return errUnknownContent
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = chunkContent(s)
		return nil
	case '[':
		var blocks []contentBlock
		if err := json.Unmarshal(b, &blocks); err != nil {
			return err
		}
		var buf bytes.Buffer
		for _, bl := range blocks {
			if bl.Type == "text" {
				buf.WriteString(bl.Text)
			}
		}
		*c = chunkContent(buf.String())
		return nil
	default:
		return errUnknownContent
	}
}

// Classify inspects a single unit. It never fails: anything it does not recognize, including malformed
// payloads, is classified as KindIgnore so the stream keeps running.
func (c Classifier) Classify(u Unit) Event {
	if u.Event != c.eventTag() {
		return Event{Kind: KindIgnore}
	}

	var env envelope
	if err := json.Unmarshal(u.Data, &env); err != nil {
		return Event{Kind: KindIgnore}
	}

	node := ""
	if env.Metadata != nil && env.Metadata.Node != nil {
		node = *env.Metadata.Node
		if node != c.generationNode() {
			return Event{Kind: KindIgnore, Node: node}
		}
	}

	switch env.Event {
	case ChatModelStream:
		var d streamData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return Event{Kind: KindIgnore, Node: node}
		}
		if d.Chunk.Content == "" {
			return Event{Kind: KindIgnore, Node: node}
		}
		return Event{Kind: KindDelta, Text: string(d.Chunk.Content), Node: node}
	case ChainEnd:
		var d endData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return Event{Kind: KindIgnore, Node: node}
		}
		raw, ok := d.Output[c.outputKey()]
		if !ok {
			return Event{Kind: KindIgnore, Node: node}
		}
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return Event{Kind: KindIgnore, Node: node}
		}
		return Event{Kind: KindFinal, Text: text, Node: node}
	default:
		return Event{Kind: KindIgnore, Node: node}
	}
}

// DeltaUnit encodes text as a streamed token of the generation node, in the shape Classify accepts.
func (c Classifier) DeltaUnit(text string) Unit {
	data := map[string]any{
		"chunk": map[string]any{"content": text},
	}
	return c.unit(ChatModelStream, data)
}

// FinalUnit encodes text as the final output of the generation node, in the shape Classify accepts.
func (c Classifier) FinalUnit(text string) Unit {
	data := map[string]any{
		"output": map[string]any{c.outputKey(): text},
	}
	return c.unit(ChainEnd, data)
}

func (c Classifier) unit(event string, data any) Unit {
	node := c.generationNode()
	rawData, _ := json.Marshal(data)
	// Marshalling a struct of strings and raw JSON can't fail.
	b, _ := json.Marshal(envelope{
		Event:    event,
		Name:     node,
		Data:     rawData,
		Metadata: &metadata{Node: &node},
	})
	return Unit{Event: c.eventTag(), Data: b}
}

func (c Classifier) eventTag() string {
	if c.EventTag == "" {
		return DefaultEventTag
	}
	return c.EventTag
}

func (c Classifier) generationNode() string {
	if c.GenerationNode == "" {
		return DefaultGenerationNode
	}
	return c.GenerationNode
}

func (c Classifier) outputKey() string {
	if c.OutputKey == "" {
		return DefaultOutputKey
	}
	return c.OutputKey
}
