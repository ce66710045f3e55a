package config

// CoalesceString returns value if non-empty, otherwise fallback.
// Used to layer CLI flags over the user config.
func CoalesceString(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

// CoalesceBool returns flagValue when the flag was set explicitly, otherwise fallback.
// false is a valid user choice, so the changed state must be passed in.
func CoalesceBool(flagValue, fallback, changed bool) bool {
	if changed {
		return flagValue
	}
	return fallback
}
