// Package upload implements the services a captured frame is handed to.
// Every backend is also the readiness check consulted before a trigger is
// serviced.
package upload

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"cat-shutter-pi/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

// statusErr turns a non-2xx response into an error carrying the response
// body, which is where storage services put their failure reason.
func statusErr(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%s %s: %d %s", resp.Request.Method, resp.Request.URL.Redacted(), resp.StatusCode, msg)
}
