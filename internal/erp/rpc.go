package erp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	ID      int64     `json:"id"`
	Params  rpcParams `json:"params"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcError struct {
	Code    int           `json:"code"`
	Message string        `json:"message"`
	Data    *rpcErrorData `json:"data"`
}

type rpcErrorData struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// decodeEnvelope validates the JSON-RPC response shape and returns the raw
// result. Absent fields are treated as malformed rather than defaulted.
func decodeEnvelope(op string, body []byte) (json.RawMessage, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, upstreamErr(op, "malformed JSON-RPC envelope: %v", err)
	}

	if raw, ok := env["error"]; ok && !isNull(raw) {
		var re rpcError
		if err := json.Unmarshal(raw, &re); err != nil {
			return nil, upstreamErr(op, "malformed JSON-RPC error payload: %v", err)
		}
		remote := &RemoteError{Code: re.Code, Message: re.Message}
		if re.Data != nil {
			remote.Name = re.Data.Name
			if re.Data.Message != "" {
				remote.Message = re.Data.Message
			}
		}
		if remote.Message == "" {
			remote.Message = "unknown remote error"
		}
		return nil, remoteErr(op, remote)
	}

	raw, ok := env["result"]
	if !ok {
		return nil, upstreamErr(op, "malformed JSON-RPC envelope: missing result")
	}
	return raw, nil
}

// decodeUID interprets the result of common.authenticate: a positive
// integer on success, false when credentials are rejected.
func decodeUID(op string, raw json.RawMessage) (int, error) {
	trimmed := bytes.TrimSpace(raw)
	if isNull(trimmed) || string(trimmed) == "false" {
		return 0, authErr(op, "credentials rejected")
	}
	var uid float64
	if err := json.Unmarshal(trimmed, &uid); err != nil {
		return 0, upstreamErr(op, "unexpected authenticate result %s", truncate(trimmed, 64))
	}
	if uid <= 0 || uid != float64(int(uid)) {
		return 0, authErr(op, "invalid session id %v", uid)
	}
	return int(uid), nil
}

// decodeRecords requires the result to be a JSON array of objects in full.
func decodeRecords(op string, raw json.RawMessage) ([]Record, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, upstreamErr(op, "expected a list of records, got %s", truncate(trimmed, 64))
	}
	var rows []map[string]any
	if err := json.Unmarshal(trimmed, &rows); err != nil {
		return nil, upstreamErr(op, "malformed record list: %v", err)
	}
	records := make([]Record, len(rows))
	for i, row := range rows {
		if row == nil {
			return nil, upstreamErr(op, "record %d is null", i)
		}
		records[i] = Record(row)
	}
	return records, nil
}

func isNull(raw []byte) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return fmt.Sprintf("%s...", b[:n])
}
