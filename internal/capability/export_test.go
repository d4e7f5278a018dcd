package capability

import "github.com/golang-jwt/jwt/v5"

// signClaimsForTest signs arbitrary claims with the engine's key so tests can
// simulate a tampered-but-validly-signed token.
func (e *Engine) signClaimsForTest(c Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return t.SignedString(e.secret)
}
