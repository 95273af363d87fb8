package dispatcher

import (
	"encoding/json"

	mcprpc "github.com/openmcp-run/mcpcore"
)

func unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func mustMarshal(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func progressToken(params []byte) string {
	var wrapper struct {
		Meta *mcprpc.RequestMeta `json:"_meta"`
	}
	if err := unmarshal(params, &wrapper); err != nil || wrapper.Meta == nil {
		return ""
	}
	return wrapper.Meta.ProgressToken
}

func invalidParams(id mcprpc.RequestId, err error) *mcprpc.Error {
	return mcprpc.NewInvalidParams(id, err, nil)
}
