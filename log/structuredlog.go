package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// StructuredLog is the envelope the event feed publishes: one chain event,
// stamped with the emitting node and event kind.
type StructuredLog struct {
	Time     time.Time       `json:"time"`
	Sender   string          `json:"sender_id"`
	MsgType  string          `json:"msg_type"`
	MsgJSON  json.RawMessage `json:"json_encoded"`
	Metadata *string         `json:"metadata,omitempty"`
	Sequence uint64          `json:"seq,omitempty"`
}

var fieldOrder = []string{"time", "sender_id", "msg_type", "seq", "json_encoded", "metadata"}

// Custom JSON marshaling to preserve field order and omit zero/empty values.
func (l StructuredLog) MarshalJSON() ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte('{')
	writeField := func(key string, val []byte) {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(buf, `"%s":`, key)
		buf.Write(val)
	}
	for _, f := range fieldOrder {
		switch f {
		case "time":
			b, _ := json.Marshal(l.Time)
			writeField(f, b)
		case "sender_id":
			b, _ := json.Marshal(l.Sender)
			writeField(f, b)
		case "msg_type":
			b, _ := json.Marshal(l.MsgType)
			writeField(f, b)
		case "seq":
			if l.Sequence != 0 {
				writeField(f, []byte(strconv.FormatUint(l.Sequence, 10)))
			}
		case "json_encoded":
			if len(l.MsgJSON) == 0 {
				writeField(f, []byte("null"))
			} else {
				writeField(f, l.MsgJSON)
			}
		case "metadata":
			if l.Metadata != nil {
				b, _ := json.Marshal(*l.Metadata)
				writeField(f, b)
			}
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// NewStructuredLog wraps msg. Recognised kv keys: "metadata", "seq", "time".
func NewStructuredLog(sender string, msgType string, msg interface{}, kv ...interface{}) (StructuredLog, error) {
	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return StructuredLog{}, err
	}
	out := StructuredLog{
		Sender:  sender,
		Time:    time.Now().UTC(),
		MsgType: msgType,
		MsgJSON: msgJSON,
	}
	kvMap := toMap(kv...)
	if userMeta, ok := kvMap["metadata"]; ok && userMeta != nil {
		meta := fmt.Sprint(userMeta)
		out.Metadata = &meta
	}
	if v, ok := kvMap["seq"]; ok {
		out.Sequence = parseUint64(v)
	}
	if v, ok := kvMap["time"]; ok {
		if t, ok := v.(time.Time); ok {
			out.Time = t
		}
	}
	return out, nil
}

func toMap(kv ...interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			m[k] = kv[i+1]
		}
	}
	return m
}

func stringify(v interface{}) interface{} {
	switch t := v.(type) {
	case string, bool, int, int64, uint64, uint32, float64, nil:
		return t
	case error:
		return t.Error()
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func parseUint64(v interface{}) uint64 {
	switch t := v.(type) {
	case int:
		return uint64(t)
	case int64:
		return uint64(t)
	case float64:
		return uint64(t)
	case uint32:
		return uint64(t)
	case uint64:
		return t
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
