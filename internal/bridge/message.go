package bridge

import (
	"encoding/json"
	"fmt"
)

// Inbound message type tags, as sent by the renderer.
const (
	TypeChangeLocationCfi      = "changeLocationCfi"
	TypeUpdateSections         = "updateSections"
	TypeGetElementsInSection   = "getElementsInSection"
	TypeGetCurrentElementIndex = "getCurrentElementIndex"
	TypeLog                    = "log"
	TypeError                  = "error"
	TypeReady                  = "ready"
	TypeLocationChange         = "locationChange"
	TypeLocationsReady         = "locationsReady"
)

// Message is a typed renderer-originated event.
//
// The set of implementations is closed: only types in this package satisfy
// it, so a type switch over the variants below is exhaustive once it has a
// default branch for Unknown.
type Message interface {
	// MessageType returns the wire tag.
	MessageType() string
	isMessage()
}

// ChangeLocationCfi asks the host to navigate to a location (for example an
// internal link the reader tapped).
type ChangeLocationCfi struct {
	Cfi string
}

// UpdateSections reports section pagination. While IsLoading is true the
// other fields are absent.
type UpdateSections struct {
	IsLoading           bool
	SectionsPercentages []float64
	TotalPages          int
}

// ElementsInSection carries the text units the renderer extracted from one
// subdivision, in document order.
type ElementsInSection struct {
	Href         string
	TextElements []string
}

// CurrentElementIndex reports the first text unit visible on screen.
type CurrentElementIndex struct {
	Index int
}

// Log is a diagnostic line from the renderer.
type Log struct {
	Text string
}

// Error is an error reported by the renderer's own scripts.
type Error struct {
	Text string
}

// Ready is emitted once the renderer has loaded the document.
type Ready struct{}

// Location is a renderer position.
type Location struct {
	Cfi      string `json:"cfi"`
	Location int    `json:"location"`
	Href     string `json:"href"`
}

// LocationChange is emitted after every page display.
type LocationChange struct {
	TotalLocations int
	Start          Location
	Progress       float64
}

// LocationsReady carries the renderer's pagination manifest and, when the
// renderer knows it, the document's table of contents.
type LocationsReady struct {
	Locations json.RawMessage
	Toc       json.RawMessage
}

// Unknown is any message with an unrecognized type tag.
type Unknown struct {
	Type   string
	Result json.RawMessage
}

func (ChangeLocationCfi) MessageType() string   { return TypeChangeLocationCfi }
func (UpdateSections) MessageType() string      { return TypeUpdateSections }
func (ElementsInSection) MessageType() string   { return TypeGetElementsInSection }
func (CurrentElementIndex) MessageType() string { return TypeGetCurrentElementIndex }
func (Log) MessageType() string                 { return TypeLog }
func (Error) MessageType() string               { return TypeError }
func (Ready) MessageType() string               { return TypeReady }
func (LocationChange) MessageType() string      { return TypeLocationChange }
func (LocationsReady) MessageType() string      { return TypeLocationsReady }
func (u Unknown) MessageType() string           { return u.Type }

func (ChangeLocationCfi) isMessage()   {}
func (UpdateSections) isMessage()      {}
func (ElementsInSection) isMessage()   {}
func (CurrentElementIndex) isMessage() {}
func (Log) isMessage()                 {}
func (Error) isMessage()               {}
func (Ready) isMessage()               {}
func (LocationChange) isMessage()      {}
func (LocationsReady) isMessage()      {}
func (Unknown) isMessage()             {}

// envelope is the wire shape of every inbound message.
type envelope struct {
	Type   string          `json:"type"`
	Result json.RawMessage `json:"result"`
}

type updateSectionsResult struct {
	IsLoading           bool      `json:"isLoading"`
	SectionsPercentages []float64 `json:"sectionsPercentages"`
	TotalPages          int       `json:"totalPages"`
}

type elementsInSectionResult struct {
	Href         string   `json:"href"`
	TextElements []string `json:"textElements"`
}

type locationChangeResult struct {
	TotalLocations int      `json:"totalLocations"`
	Start          Location `json:"start"`
	Progress       float64  `json:"progress"`
}

type locationsReadyResult struct {
	Locations json.RawMessage `json:"locations"`
	Toc       json.RawMessage `json:"toc,omitempty"`
}

// Decode validates and decodes one renderer message.
//
// Returns *ProtocolError for invalid JSON or schema violations. Unrecognized
// type tags are not errors: they decode to Unknown.
func Decode(data []byte) (Message, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ProtocolError{Code: ErrCodeMalformed, Message: "invalid JSON", Err: err}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ProtocolError{Code: ErrCodeMalformed, Message: "message is not an object", Err: err}
	}

	if err := validateMessage(doc); err != nil {
		return nil, &ProtocolError{Code: ErrCodeSchemaViolation, Type: env.Type, Message: "payload rejected", Err: err}
	}

	msg, err := decodeResult(env)
	if err != nil {
		return nil, &ProtocolError{Code: ErrCodeSchemaViolation, Type: env.Type, Message: "result does not decode", Err: err}
	}
	return msg, nil
}

func decodeResult(env envelope) (Message, error) {
	switch env.Type {
	case TypeChangeLocationCfi:
		var cfi string
		if err := json.Unmarshal(env.Result, &cfi); err != nil {
			return nil, err
		}
		return ChangeLocationCfi{Cfi: cfi}, nil

	case TypeUpdateSections:
		var r updateSectionsResult
		if err := json.Unmarshal(env.Result, &r); err != nil {
			return nil, err
		}
		return UpdateSections{
			IsLoading:           r.IsLoading,
			SectionsPercentages: r.SectionsPercentages,
			TotalPages:          r.TotalPages,
		}, nil

	case TypeGetElementsInSection:
		var r elementsInSectionResult
		if err := json.Unmarshal(env.Result, &r); err != nil {
			return nil, err
		}
		return ElementsInSection{Href: r.Href, TextElements: r.TextElements}, nil

	case TypeGetCurrentElementIndex:
		var idx int
		if err := json.Unmarshal(env.Result, &idx); err != nil {
			return nil, err
		}
		return CurrentElementIndex{Index: idx}, nil

	case TypeLog:
		return Log{Text: resultText(env.Result)}, nil

	case TypeError:
		return Error{Text: resultText(env.Result)}, nil

	case TypeReady:
		return Ready{}, nil

	case TypeLocationChange:
		var r locationChangeResult
		if err := json.Unmarshal(env.Result, &r); err != nil {
			return nil, err
		}
		return LocationChange{TotalLocations: r.TotalLocations, Start: r.Start, Progress: r.Progress}, nil

	case TypeLocationsReady:
		var r locationsReadyResult
		if err := json.Unmarshal(env.Result, &r); err != nil {
			return nil, err
		}
		return LocationsReady{Locations: r.Locations, Toc: r.Toc}, nil

	default:
		return Unknown{Type: env.Type, Result: env.Result}, nil
	}
}

// resultText renders a log payload: strings verbatim, anything else as JSON.
func resultText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Encode serializes a message in wire form. Renderer implementations use it
// to talk to the host.
func Encode(msg Message) ([]byte, error) {
	var result any
	switch m := msg.(type) {
	case ChangeLocationCfi:
		result = m.Cfi
	case UpdateSections:
		r := map[string]any{"isLoading": m.IsLoading}
		if !m.IsLoading {
			r["sectionsPercentages"] = nonNilFloats(m.SectionsPercentages)
			r["totalPages"] = m.TotalPages
		}
		result = r
	case ElementsInSection:
		texts := m.TextElements
		if texts == nil {
			texts = []string{}
		}
		result = elementsInSectionResult{Href: m.Href, TextElements: texts}
	case CurrentElementIndex:
		result = m.Index
	case Log:
		result = m.Text
	case Error:
		result = m.Text
	case Ready:
		result = nil
	case LocationChange:
		result = locationChangeResult{TotalLocations: m.TotalLocations, Start: m.Start, Progress: m.Progress}
	case LocationsReady:
		result = locationsReadyResult{Locations: m.Locations, Toc: m.Toc}
	case Unknown:
		result = m.Result
	default:
		return nil, &ProtocolError{Code: ErrCodeUnencodable, Message: fmt.Sprintf("unsupported message %T", msg)}
	}

	data, err := json.Marshal(struct {
		Type   string `json:"type"`
		Result any    `json:"result"`
	}{Type: msg.MessageType(), Result: result})
	if err != nil {
		return nil, &ProtocolError{Code: ErrCodeUnencodable, Type: msg.MessageType(), Message: "marshal failed", Err: err}
	}
	return data, nil
}

func nonNilFloats(f []float64) []float64 {
	if f == nil {
		return []float64{}
	}
	return f
}
