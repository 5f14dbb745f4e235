package camera

import (
	"errors"

	"github.com/vladimirvivien/go4vl/v4l2"
)

// ControlInfo describes one device control and its current value.
type ControlInfo struct {
	ID    v4l2.CtrlID    `json:"id"`
	Name  string         `json:"name"`
	Value v4l2.CtrlValue `json:"value"`

	Minimum int32 `json:"minimum"`
	Maximum int32 `json:"maximum"`
	Step    int32 `json:"step"`
	Default int32 `json:"default"`

	IsMenu    bool     `json:"isMenu"`
	MenuItems []string `json:"menuItems,omitempty"`
}

// the controls Settings knows how to set
var knownCtrlIDs = []v4l2.CtrlID{
	ctrlExposureAuto,
	ctrlAutoGain,
	ctrlAutoWhiteBalance,
	ctrlVFlip,
	ctrlBrightness,
}

// ControlInfos reads the known controls from the running device. Controls
// the device lacks are skipped.
func (c *Camera) ControlInfos() ([]ControlInfo, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.camera == nil {
		return nil, errors.New("camera not started")
	}

	var res []ControlInfo
	for _, id := range knownCtrlIDs {
		ctrl, err := v4l2.GetControl(c.camera.Fd(), id)
		if err != nil {
			logger.Warnf("the device does not support control(%d)", id)
			continue
		}
		res = append(res, controlInfo(ctrl))
	}

	return res, nil
}

func controlInfo(ctrl v4l2.Control) ControlInfo {
	info := ControlInfo{
		ID:      v4l2.CtrlID(ctrl.ID),
		Name:    ctrl.Name,
		Value:   v4l2.CtrlValue(ctrl.Value),
		Minimum: int32(ctrl.Minimum),
		Maximum: int32(ctrl.Maximum),
		Step:    int32(ctrl.Step),
		Default: int32(ctrl.Default),
		IsMenu:  ctrl.IsMenu(),
	}
	if !info.IsMenu {
		return info
	}
	menus, err := ctrl.GetMenuItems()
	if err != nil {
		logger.Warnf("read menu of control(%d) err: %s", ctrl.ID, err)
		return info
	}
	for _, m := range menus {
		info.MenuItems = append(info.MenuItems, m.Name)
	}
	return info
}
