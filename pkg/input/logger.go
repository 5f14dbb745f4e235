package input

import (
	"go.uber.org/zap"

	"cat-shutter-pi/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}
