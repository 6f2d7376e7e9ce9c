package apikey

// AllowsScope reports whether the key may act under the required capability
// scope. An empty scope set means the key is unrestricted.
func (k *Key) AllowsScope(required string) bool {
	if len(k.Scopes) == 0 {
		return true
	}
	for _, s := range k.Scopes {
		if s == required {
			return true
		}
	}
	return false
}

// AllowsAll reports whether the key satisfies every required scope. All
// entries must individually be present (AND semantics); a key scoped to
// "read" does not satisfy a requirement of "write".
func (k *Key) AllowsAll(required []string) bool {
	for _, r := range required {
		if !k.AllowsScope(r) {
			return false
		}
	}
	return true
}
