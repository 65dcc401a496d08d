//go:build !gocv

package camera

import "errors"

func newGoCVOpener(string) (Opener, error) {
	return nil, errors.New("gocv backend not compiled in (build with -tags gocv)")
}
