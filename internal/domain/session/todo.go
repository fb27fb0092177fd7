package session

// TodoStatus is the state of one declared task of a session.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
	TodoCancelled  TodoStatus = "cancelled"
)

// TodoItem is one entry of a session's declared task list.
type TodoItem struct {
	ID      string     `json:"id"`
	Content string     `json:"content"`
	Status  TodoStatus `json:"status"`
}

// Done reports whether the item needs no further work.
func (t TodoItem) Done() bool {
	return t.Status == TodoCompleted || t.Status == TodoCancelled
}
