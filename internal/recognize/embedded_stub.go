//go:build !gosseract

package recognize

import "errors"

var ErrEmbeddedUnavailable = errors.New("in-process engine requires a build with the gosseract tag")

// NewEmbedded fails in builds without libtesseract bindings.
func NewEmbedded(string, Engine) (Engine, error) { //nolint:ireturn
	return nil, ErrEmbeddedUnavailable
}
