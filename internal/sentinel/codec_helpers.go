package sentinel

import (
	"encoding/json"

	"github.com/casparianflow/sentinel/internal/protocol"
)

func decodeStringMap(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return map[string]string{}, nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeSinks(raw []byte) ([]protocol.SinkConfig, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var s []protocol.SinkConfig
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return s, nil
}
