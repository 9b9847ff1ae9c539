package shed

// Actor identifies who started or recovered an event.
type Actor struct {
	// Hostname is the machine the command ran on.
	Hostname string
	// Username is the system user who ran it.
	Username string
}

// Clone returns a copy of the actor.
func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}

	cloned := *a

	return &cloned
}

// String renders the actor as user@host.
func (a *Actor) String() string {
	if a == nil {
		return "unknown"
	}

	return a.Username + "@" + a.Hostname
}
