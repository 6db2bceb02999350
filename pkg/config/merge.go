package config

import "dario.cat/mergo"

// mergeUserConfig merges user-supplied overrides onto the built-in
// defaults in place. Non-zero fields in user win; unset fields keep
// their default.
func mergeUserConfig(defaults *Config, user *Config) error {
	return mergo.Merge(defaults, user, mergo.WithOverride)
}
