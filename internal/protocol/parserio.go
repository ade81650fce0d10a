package protocol

import (
	"encoding/json"
	"fmt"
)

// ParserFrameType enumerates the newline-delimited JSON control messages a
// parser subprocess writes to stderr (spec §4.3, §6.3). No frame type
// other than those enumerated is permitted; an unrecognized type is a
// protocol violation and is fatal for the job.
type ParserFrameType string

const (
	ParserFrameHello        ParserFrameType = "hello"
	ParserFrameOutputBegin  ParserFrameType = "output_begin"
	ParserFrameOutputEnd    ParserFrameType = "output_end"
	ParserFrameProgress     ParserFrameType = "progress"
	ParserFrameQuarantine   ParserFrameType = "quarantine"
	ParserFrameWarn         ParserFrameType = "warn"
)

// ParserHello is the single frame every parser subprocess must emit first.
type ParserHello struct {
	Type           ParserFrameType        `json:"type"`
	Protocol       string                 `json:"protocol"`
	ParserID       string                 `json:"parser_id"`
	ParserVersion  string                 `json:"parser_version"`
	Capabilities   map[string]any         `json:"capabilities"`
}

// ParserOutputBegin precedes any stdout bytes for a given output stream.
type ParserOutputBegin struct {
	Type        ParserFrameType `json:"type"`
	Output      string          `json:"output"`
	SchemaHash  string          `json:"schema_hash"`
	StreamIndex int             `json:"stream_index"`
}

// ParserOutputEnd closes out a given output stream.
type ParserOutputEnd struct {
	Type        ParserFrameType `json:"type"`
	Output      string          `json:"output"`
	RowsEmitted int64           `json:"rows_emitted"`
	StreamIndex int             `json:"stream_index"`
}

// ParserProgress is an optional progress update between an output_begin and
// its matching output_end.
type ParserProgress struct {
	Type    ParserFrameType `json:"type"`
	Output  string          `json:"output"`
	Message string          `json:"message,omitempty"`
	Percent float64         `json:"percent,omitempty"`
}

// ParserQuarantine reports a non-fatal per-row rejection.
type ParserQuarantine struct {
	Type   ParserFrameType `json:"type"`
	Output string          `json:"output"`
	Count  int64           `json:"count"`
	Reason string          `json:"reason,omitempty"`
}

// ParserWarn is a non-fatal warning from the parser.
type ParserWarn struct {
	Type    ParserFrameType `json:"type"`
	Message string          `json:"message"`
}

// typeProbe is used to peek a frame's "type" field before deciding which
// concrete struct to unmarshal into.
type typeProbe struct {
	Type ParserFrameType `json:"type"`
}

// ParseParserFrame inspects one line of NDJSON from a parser subprocess's
// stderr and returns the decoded frame along with its type, or an error if
// the line is not valid JSON or names an unrecognized type (a protocol
// violation per spec §4.3, fatal for the job).
func ParseParserFrame(line []byte) (ParserFrameType, any, error) {
	var probe typeProbe
	if err := json.Unmarshal(line, &probe); err != nil {
		return "", nil, fmt.Errorf("parser io: malformed control frame: %w", err)
	}
	switch probe.Type {
	case ParserFrameHello:
		var v ParserHello
		if err := json.Unmarshal(line, &v); err != nil {
			return "", nil, err
		}
		return probe.Type, v, nil
	case ParserFrameOutputBegin:
		var v ParserOutputBegin
		if err := json.Unmarshal(line, &v); err != nil {
			return "", nil, err
		}
		return probe.Type, v, nil
	case ParserFrameOutputEnd:
		var v ParserOutputEnd
		if err := json.Unmarshal(line, &v); err != nil {
			return "", nil, err
		}
		return probe.Type, v, nil
	case ParserFrameProgress:
		var v ParserProgress
		if err := json.Unmarshal(line, &v); err != nil {
			return "", nil, err
		}
		return probe.Type, v, nil
	case ParserFrameQuarantine:
		var v ParserQuarantine
		if err := json.Unmarshal(line, &v); err != nil {
			return "", nil, err
		}
		return probe.Type, v, nil
	case ParserFrameWarn:
		var v ParserWarn
		if err := json.Unmarshal(line, &v); err != nil {
			return "", nil, err
		}
		return probe.Type, v, nil
	default:
		return "", nil, fmt.Errorf("parser io: unrecognized frame type %q", probe.Type)
	}
}
