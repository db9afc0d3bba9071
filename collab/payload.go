package collab

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"

	"docsync-server/core"
)

type (
	JoinRequest struct {
		DocumentID  string
		WorkspaceID string
	}

	UpdateRequest struct {
		DocumentID string
		Update     []byte
	}
)

func parseJoin(payload any) (JoinRequest, error) {
	fields, err := asFields(payload)
	if err != nil {
		return JoinRequest{}, err
	}
	req := JoinRequest{
		DocumentID:  stringField(fields, "documentId"),
		WorkspaceID: stringField(fields, "workspaceId"),
	}
	if req.DocumentID == "" || req.WorkspaceID == "" {
		return JoinRequest{}, fmt.Errorf("%w: documentId and workspaceId are required", core.ErrValidation)
	}
	return req, nil
}

func parseDocumentID(payload any) (string, error) {
	fields, err := asFields(payload)
	if err != nil {
		return "", err
	}
	id := stringField(fields, "documentId")
	if id == "" {
		return "", fmt.Errorf("%w: documentId is required", core.ErrValidation)
	}
	return id, nil
}

func parseUpdate(payload any) (UpdateRequest, error) {
	fields, err := asFields(payload)
	if err != nil {
		return UpdateRequest{}, err
	}
	req := UpdateRequest{DocumentID: stringField(fields, "documentId")}
	if req.DocumentID == "" {
		return UpdateRequest{}, fmt.Errorf("%w: documentId is required", core.ErrValidation)
	}
	update, err := DecodeBytes(fields["update"])
	if err != nil {
		return UpdateRequest{}, err
	}
	if len(update) == 0 {
		return UpdateRequest{}, fmt.Errorf("%w: update is empty", core.ErrValidation)
	}
	req.Update = update
	return req, nil
}

// asFields accepts a decoded JSON object or raw JSON text.
func asFields(payload any) (map[string]any, error) {
	switch v := payload.(type) {
	case map[string]any:
		return v, nil
	case string:
		return unmarshalFields([]byte(v))
	case []byte:
		return unmarshalFields(v)
	case json.RawMessage:
		return unmarshalFields(v)
	}
	return nil, fmt.Errorf("%w: expected object, got %T", core.ErrValidation, payload)
}

func unmarshalFields(raw []byte) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object", core.ErrValidation)
	}
	return fields, nil
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

type byteser interface {
	Bytes() []byte
}

// DecodeBytes normalizes the binary encodings clients use for updates:
// binary attachments, base64 strings, JSON number arrays and serialized
// Node Buffers ({"type":"Buffer","data":[...]}).
func DecodeBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, fmt.Errorf("%w: update is required", core.ErrValidation)
	case []byte:
		return v, nil
	case byteser:
		return v.Bytes(), nil
	case string:
		data, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("%w: update is not valid base64", core.ErrValidation)
		}
		return data, nil
	case []any:
		return numbersToBytes(v)
	case map[string]any:
		if kind, _ := v["type"].(string); kind == "Buffer" {
			if data, ok := v["data"].([]any); ok {
				return numbersToBytes(data)
			}
		}
	}
	return nil, fmt.Errorf("%w: unsupported update encoding %T", core.ErrValidation, value)
}

func numbersToBytes(values []any) ([]byte, error) {
	out := make([]byte, len(values))
	for i, item := range values {
		var n float64
		switch num := item.(type) {
		case float64:
			n = num
		case int:
			n = float64(num)
		case int64:
			n = float64(num)
		case uint8:
			n = float64(num)
		default:
			return nil, fmt.Errorf("%w: update byte %d is %T", core.ErrValidation, i, item)
		}
		if n < 0 || n > 255 || n != math.Trunc(n) {
			return nil, fmt.Errorf("%w: update byte %d out of range", core.ErrValidation, i)
		}
		out[i] = byte(n)
	}
	return out, nil
}
