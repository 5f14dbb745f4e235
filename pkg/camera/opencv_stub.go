//go:build !gocv

package camera

import "errors"

var ErrOpenCVUnavailable = errors.New("built without OpenCV support, rebuild with -tags gocv")

func NewOpenCVSource(device string, width, height int) (ClosableSource, error) {
	return nil, ErrOpenCVUnavailable
}
