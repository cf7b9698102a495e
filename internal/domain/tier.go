package domain

// Tier (AppTarget) is a named set of hosts that run the same Application;
// the unit of deployment targeting when hosts are unspecified.
type Tier struct {
	ID          int64
	Name        string
	GangliaID   string
	HostBase    string
	PuppetClass string
}

// Host is a physical or virtual machine belonging to exactly one tier and
// one environment.
type Host struct {
	ID            int64
	Hostname      string
	EnvironmentID int64
	AppID         int64 // Tier.ID
	State         string
}
