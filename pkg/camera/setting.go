package camera

import (
	"github.com/vladimirvivien/go4vl/v4l2"
	"go.uber.org/zap"

	"cat-shutter-pi/pkg/types"
	"cat-shutter-pi/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

// V4L2 control IDs (linux/v4l2-controls.h).
const (
	ctrlBrightness       v4l2.CtrlID = 0x00980900
	ctrlAutoWhiteBalance v4l2.CtrlID = 0x0098090c
	ctrlAutoGain         v4l2.CtrlID = 0x00980912
	ctrlVFlip            v4l2.CtrlID = 0x00980915
	ctrlExposureAuto     v4l2.CtrlID = 0x009a0901

	exposureAuto   v4l2.CtrlValue = 0
	exposureManual v4l2.CtrlValue = 1
)

type Settings struct {
	AutoExposure     bool
	AutoGain         bool
	AutoWhiteBalance bool
	VFlip            bool
	// Brightness is left untouched when nil.
	Brightness *int
}

// DefaultSettings leaves all the automatic corrections on, which is what the
// idle calibration frames exist for.
func DefaultSettings() Settings {
	return Settings{
		AutoExposure:     true,
		AutoGain:         true,
		AutoWhiteBalance: true,
		VFlip:            true,
	}
}

func (s Settings) Controls() types.CameraSettings {
	ctrls := types.CameraSettings{
		ctrlExposureAuto:     exposureManual,
		ctrlAutoGain:         boolValue(s.AutoGain),
		ctrlAutoWhiteBalance: boolValue(s.AutoWhiteBalance),
		ctrlVFlip:            boolValue(s.VFlip),
	}
	if s.AutoExposure {
		ctrls[ctrlExposureAuto] = exposureAuto
	}
	if s.Brightness != nil {
		ctrls[ctrlBrightness] = v4l2.CtrlValue(*s.Brightness)
	}

	return ctrls
}

func boolValue(b bool) v4l2.CtrlValue {
	if b {
		return 1
	}
	return 0
}
