package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Settings are the reading preferences pushed into the renderer. Any change
// makes the renderer repaginate.
type Settings struct {
	FontSize   int     `json:"fontSize"`
	Theme      string  `json:"theme"`
	LineHeight float64 `json:"lineHeight"`
	FontFamily string  `json:"fontFamily"`
}

// ScriptKind identifies a script produced by this package.
type ScriptKind int

const (
	ScriptUnknown ScriptKind = iota
	ScriptReplaceTextElement
	ScriptFindCurrentElementIndex
	ScriptUpdateSections
	ScriptApplySettings
)

func (k ScriptKind) String() string {
	switch k {
	case ScriptReplaceTextElement:
		return "replaceTextElement"
	case ScriptFindCurrentElementIndex:
		return "findCurrentElementIndex"
	case ScriptUpdateSections:
		return "updateSections"
	case ScriptApplySettings:
		return "applySettings"
	default:
		return "unknown"
	}
}

const findCurrentElementIndexScript = `(async () => {
    const index = await findIndexOfCurrentTextElement();
    if (index >= 0) {
        window.ReactNativeWebView.postMessage(JSON.stringify({ type: "getCurrentElementIndex", result: index }));
    }
})()`

const (
	replacePrefix  = `replaceTextElementByIndex("`
	sectionsPrefix = `updateSections(JSON.parse('`
	settingsPrefix = `applySettings(JSON.parse('`
	parseSuffix    = `'));`
)

// ReplaceTextElementScript replaces the text unit at index with text.
func ReplaceTextElementScript(text string, index int) string {
	return fmt.Sprintf(`%s%s", %d)`, replacePrefix, Escape(text), index)
}

// FindCurrentElementIndexScript asks the renderer to report the first
// visible text unit as a getCurrentElementIndex message.
func FindCurrentElementIndexScript() string {
	return findCurrentElementIndexScript
}

// UpdateSectionsScript asks the renderer to paginate every section of the
// table of contents and report the result as updateSections messages. A nil
// toc is sent as an empty list.
func UpdateSectionsScript(toc json.RawMessage) string {
	compact := []byte("[]")
	if len(toc) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, toc); err == nil {
			compact = buf.Bytes()
		}
	}
	return sectionsPrefix + Escape(string(compact)) + parseSuffix
}

// ApplySettingsScript pushes reading settings into the renderer. Settings
// that JSON cannot represent, such as a NaN line height, are rejected.
func ApplySettingsScript(s Settings) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", &ProtocolError{Code: ErrCodeUnencodable, Type: ScriptApplySettings.String(), Message: "marshal settings failed", Err: err}
	}
	return settingsPrefix + Escape(string(data)) + parseSuffix, nil
}

// Script is a parsed script command.
type Script struct {
	Kind     ScriptKind
	Text     string
	Index    int
	Toc      json.RawMessage
	Settings Settings
}

// ParseScript recognizes scripts built by this package and recovers their
// arguments. Renderer implementations that do not evaluate JavaScript use it
// to execute InjectScript commands.
func ParseScript(script string) (Script, error) {
	s := strings.TrimSpace(script)
	switch {
	case s == findCurrentElementIndexScript:
		return Script{Kind: ScriptFindCurrentElementIndex}, nil

	case strings.HasPrefix(s, replacePrefix):
		body, rest, ok := readQuoted(s[len(replacePrefix):], '"')
		if !ok {
			return Script{}, fmt.Errorf("unterminated text in %q", truncate(s))
		}
		rest = strings.TrimPrefix(rest, ",")
		rest = strings.TrimSuffix(strings.TrimSpace(rest), ";")
		rest = strings.TrimSuffix(rest, ")")
		idx, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			return Script{}, fmt.Errorf("invalid element index: %w", err)
		}
		return Script{Kind: ScriptReplaceTextElement, Text: Unescape(body), Index: idx}, nil

	case strings.HasPrefix(s, sectionsPrefix):
		body, err := parseJSONArg(s, sectionsPrefix)
		if err != nil {
			return Script{}, err
		}
		return Script{Kind: ScriptUpdateSections, Toc: json.RawMessage(body)}, nil

	case strings.HasPrefix(s, settingsPrefix):
		body, err := parseJSONArg(s, settingsPrefix)
		if err != nil {
			return Script{}, err
		}
		var settings Settings
		if err := json.Unmarshal([]byte(body), &settings); err != nil {
			return Script{}, fmt.Errorf("invalid settings: %w", err)
		}
		return Script{Kind: ScriptApplySettings, Settings: settings}, nil
	}
	return Script{Kind: ScriptUnknown}, fmt.Errorf("unrecognized script %q", truncate(s))
}

func parseJSONArg(s, prefix string) (string, error) {
	body, rest, ok := readQuoted(s[len(prefix):], '\'')
	if !ok || rest != "));" {
		return "", fmt.Errorf("malformed script %q", truncate(s))
	}
	raw := Unescape(body)
	if !json.Valid([]byte(raw)) {
		return "", fmt.Errorf("script argument is not JSON: %q", truncate(raw))
	}
	return raw, nil
}

// readQuoted splits s at the first unescaped quote.
func readQuoted(s string, quote byte) (body, rest string, ok bool) {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case quote:
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

func truncate(s string) string {
	if len(s) <= 64 {
		return s
	}
	return s[:64] + "..."
}
