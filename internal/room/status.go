package room

// Status is a room's lifecycle phase.
type Status int32

const (
	StatusEmpty Status = iota
	StatusActive
	StatusInDiscussion
	StatusClosing
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusActive:
		return "active"
	case StatusInDiscussion:
		return "in_discussion"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}
