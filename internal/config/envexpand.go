package config

import "os"

// ExpandEnv expands ${VAR} and $VAR references in raw YAML bytes before
// parsing. Missing variables expand to empty string; validation is
// responsible for catching required fields left empty by that expansion.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
