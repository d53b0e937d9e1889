package replication

// Change types carried by the upstream feed.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// ChangeEvent is one replicated row mutation as published by the upstream
// database trigger or logical-replication bridge. Values arrive already
// coerced to the primitive domain; large binary objects are represented
// as strings.
type ChangeEvent struct {
	Type      string                 `json:"type"`
	Table     string                 `json:"table"`
	Schema    string                 `json:"schema,omitempty"`
	Record    map[string]interface{} `json:"record,omitempty"`
	OldRecord map[string]interface{} `json:"old_record,omitempty"`
}

// QualifiedTable returns the registry key for the event's table.
func (e *ChangeEvent) QualifiedTable() string {
	if e.Schema == "" || e.Schema == "public" {
		return e.Table
	}
	return e.Schema + "." + e.Table
}
