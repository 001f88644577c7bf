package audit

// Entry is one append-only audit line. Reference points at the affected
// resource (a username for lockout actions, empty for plain logins).
type Entry struct {
	UserID    string
	Action    string
	Reference string
	Status    string
	IP        string
}

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)
