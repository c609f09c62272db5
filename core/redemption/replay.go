package redemption

// UsedFingerprint reports whether the fingerprint has authorized a successful
// claim. The uniqueness domain is global: fingerprints embed all of their
// disambiguating context themselves.
func (e *Engine) UsedFingerprint(fp [32]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	unlock, err := e.lock()
	if err != nil {
		return false, err
	}
	defer unlock()
	return e.state.FingerprintUsed(fp)
}
