package domain

// Environment is an ordered promotion stage (dev, stage, prod).
type Environment struct {
	ID          int64
	Env         string // short: dev|stage|prod
	Environment string // long form
	Domain      string
	Prefix      string
	ZoneID      string
	SortOrder   int
}

// EnvOrder is the fixed total order dev < stage < prod encoded by the system.
var EnvOrder = []string{"dev", "stage", "prod"}

// PrevEnv returns the environment immediately before env in EnvOrder. It
// returns an error of KindWrongEnvironment when env is "dev" (no previous)
// or not a recognized environment name.
func PrevEnv(env string) (string, error) {
	for i, e := range EnvOrder {
		if e == env {
			if i == 0 {
				return "", NewError(KindWrongEnvironment, "environment %q has no previous environment", env)
			}
			return EnvOrder[i-1], nil
		}
	}
	return "", NewError(KindWrongEnvironment, "unknown environment %q", env)
}

// EnvIndex returns the position of env in EnvOrder, or -1 if unknown.
func EnvIndex(env string) int {
	for i, e := range EnvOrder {
		if e == env {
			return i
		}
	}
	return -1
}
