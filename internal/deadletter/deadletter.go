// Package deadletter 保存无法自动对账的券商事件，供人工处理。
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entry 是一条死信。
type Entry struct {
	ID        string          `json:"id"`
	Stream    string          `json:"stream"`
	EventID   string          `json:"event_id,omitempty"`
	Reason    string          `json:"reason"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store 是死信存储。
type Store interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// NewEntry 填充 ID 与时间；payload 不是合法 JSON 时按字符串保存。
func NewEntry(stream, eventID, reason string, payload []byte) Entry {
	raw := json.RawMessage(payload)
	if !json.Valid(payload) {
		quoted, _ := json.Marshal(string(payload))
		raw = quoted
	}
	return Entry{
		ID:        uuid.NewString(),
		Stream:    stream,
		EventID:   eventID,
		Reason:    reason,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}
}

// Open 按驱动名打开死信存储："sqlite" 或 "file"。
func Open(driver, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		return OpenSQLite(path)
	case "file":
		return OpenFile(path)
	default:
		return nil, fmt.Errorf("unknown dead letter driver: %s", driver)
	}
}
