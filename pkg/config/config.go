// Package config holds the daemon configuration. Durations are integer
// milliseconds.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"cat-shutter-pi/pkg/camera"
	"cat-shutter-pi/pkg/input"
	"cat-shutter-pi/pkg/types"
	"cat-shutter-pi/pkg/upload"
	"cat-shutter-pi/pkg/utils"
)

const (
	DriverV4L2   = camera.DriverV4L2
	DriverOpenCV = camera.DriverOpenCV

	InputGPIO   = "gpio"
	InputSerial = "serial"
	InputSignal = "signal"

	BackendFirebase = "firebase"
	BackendWebDAV   = "webdav"
	BackendMQTT     = "mqtt"
	BackendLocal    = "local"
)

type Config struct {
	LogLevel string `json:"logLevel"`

	Camera      Camera      `json:"camera"`
	Trigger     Trigger     `json:"trigger"`
	Calibration Calibration `json:"calibration"`
	Capture     Capture     `json:"capture"`
	Upload      Upload      `json:"upload"`
	Network     Network     `json:"network"`
	Loop        Loop        `json:"loop"`
}

type Camera struct {
	Driver        string `json:"driver"`
	Device        string `json:"device"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	ReadTimeoutMs int    `json:"readTimeoutMs"`

	AutoExposure     bool `json:"autoExposure"`
	AutoGain         bool `json:"autoGain"`
	AutoWhiteBalance bool `json:"autoWhiteBalance"`
	VFlip            bool `json:"vflip"`
	Brightness       *int `json:"brightness"`
}

// Source converts the section into camera options.
func (c Camera) Source() camera.Config {
	return camera.Config{
		Driver:      c.Driver,
		Device:      c.Device,
		Width:       c.Width,
		Height:      c.Height,
		ReadTimeout: utils.MsToDuration(c.ReadTimeoutMs),
		Settings: camera.Settings{
			AutoExposure:     c.AutoExposure,
			AutoGain:         c.AutoGain,
			AutoWhiteBalance: c.AutoWhiteBalance,
			VFlip:            c.VFlip,
			Brightness:       c.Brightness,
		},
	}
}

type Trigger struct {
	Input       string `json:"input"`
	ActiveLevel int    `json:"activeLevel"`
	DebounceMs  int    `json:"debounceMs"`

	GPIO   input.GPIO   `json:"gpio"`
	Serial input.Serial `json:"serial"`
}

func (t Trigger) Watcher() input.Watcher {
	switch t.Input {
	case InputSerial:
		return &t.Serial
	case InputSignal:
		return &input.Signal{Level: t.ActiveLevel}
	default:
		return &t.GPIO
	}
}

type Calibration struct {
	FastIntervalMs int `json:"fastIntervalMs"`
	MaxFastFrames  int `json:"maxFastFrames"`
	SlowIntervalMs int `json:"slowIntervalMs"`
}

type Capture struct {
	NamePrefix string `json:"namePrefix"`
}

type Upload struct {
	Backend   string `json:"backend"`
	TimeoutMs int    `json:"timeoutMs"`

	Firebase upload.FirebaseConfig `json:"firebase"`
	WebDAV   upload.WebDAVConfig   `json:"webdav"`
	MQTT     upload.MQTTConfig     `json:"mqtt"`
	Local    upload.LocalConfig    `json:"local"`
}

// New builds the selected backend. The returned func releases its
// connections.
func (u Upload) New() (types.Uploader, func(), error) {
	timeout := utils.MsToDuration(u.TimeoutMs)
	noop := func() {}
	switch u.Backend {
	case BackendFirebase:
		f, err := upload.NewFirebase(u.Firebase, timeout)
		if err != nil {
			return nil, noop, err
		}
		return f, noop, nil
	case BackendWebDAV:
		w, err := upload.NewWebDAV(u.WebDAV, timeout)
		if err != nil {
			return nil, noop, err
		}
		return w, noop, nil
	case BackendMQTT:
		m, err := upload.NewMQTT(u.MQTT, timeout)
		if err != nil {
			return nil, noop, err
		}
		return m, m.Close, nil
	case BackendLocal:
		l, err := upload.NewLocal(u.Local)
		if err != nil {
			return nil, noop, err
		}
		return l, noop, nil
	}
	return nil, noop, fmt.Errorf("unknown upload backend %q", u.Backend)
}

type Network struct {
	// NTPServer enables the NTP reachability check when set.
	NTPServer       string `json:"ntpServer"`
	NTPTimeoutMs    int    `json:"ntpTimeoutMs"`
	ProbeIntervalMs int    `json:"probeIntervalMs"`
}

type Loop struct {
	PollIntervalMs   int    `json:"pollIntervalMs"`
	CooldownMs       int    `json:"cooldownMs"`
	StatusIntervalMs int    `json:"statusIntervalMs"`
	DiskPath         string `json:"diskPath"`
}

func Default() *Config {
	brightness := -2
	return &Config{
		LogLevel: "info",
		Camera: Camera{
			Driver:           DriverV4L2,
			Device:           camera.DefaultDevice,
			Width:            1280,
			Height:           720,
			ReadTimeoutMs:    3000,
			AutoExposure:     true,
			AutoGain:         true,
			AutoWhiteBalance: true,
			VFlip:            true,
			Brightness:       &brightness,
		},
		Trigger: Trigger{
			Input:       InputGPIO,
			ActiveLevel: 0,
			DebounceMs:  1000,
			GPIO: input.GPIO{
				Chip:   "gpiochip0",
				Offset: 13,
				PullUp: true,
			},
			Serial: input.Serial{
				Device: "/dev/ttyUSB0",
				Baud:   115200,
			},
		},
		Calibration: Calibration{
			FastIntervalMs: 5000,
			MaxFastFrames:  5,
			SlowIntervalMs: 300000,
		},
		Capture: Capture{
			NamePrefix: "cat",
		},
		Upload: Upload{
			Backend:   BackendLocal,
			TimeoutMs: 30000,
			Firebase: upload.FirebaseConfig{
				RetryIntervalMs: 30000,
			},
			MQTT: upload.MQTTConfig{
				Topic: "cat-shutter",
				QoS:   1,
			},
			Local: upload.LocalConfig{
				Dir: "./cat-shutter",
			},
		},
		Network: Network{
			NTPTimeoutMs:    5000,
			ProbeIntervalMs: 60000,
		},
		Loop: Loop{
			PollIntervalMs:   20,
			CooldownMs:       1000,
			StatusIntervalMs: 600000,
			DiskPath:         "/",
		},
	}
}

// Load overlays the JSON file at path onto the defaults. Fields missing from
// the file keep their default value.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err = json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Camera.Driver == DriverV4L2 || c.Camera.Driver == DriverOpenCV, "camera.driver %q is not one of v4l2, opencv", c.Camera.Driver)
	check(c.Camera.Device != "", "camera.device is required")
	check(c.Camera.Width > 0 && c.Camera.Height > 0, "camera size %dx%d is invalid", c.Camera.Width, c.Camera.Height)
	check(c.Camera.ReadTimeoutMs > 0, "camera.readTimeoutMs must be positive")

	switch c.Trigger.Input {
	case InputGPIO:
		check(c.Trigger.GPIO.Chip != "", "trigger.gpio.chip is required")
		check(c.Trigger.GPIO.Offset >= 0, "trigger.gpio.offset must not be negative")
	case InputSerial:
		check(c.Trigger.Serial.Device != "", "trigger.serial.device is required")
		check(c.Trigger.Serial.Baud > 0, "trigger.serial.baud must be positive")
	case InputSignal:
	default:
		check(false, "trigger.input %q is not one of gpio, serial, signal", c.Trigger.Input)
	}
	check(c.Trigger.ActiveLevel == 0 || c.Trigger.ActiveLevel == 1, "trigger.activeLevel must be 0 or 1")
	check(c.Trigger.DebounceMs >= 0, "trigger.debounceMs must not be negative")

	check(c.Calibration.FastIntervalMs > 0, "calibration.fastIntervalMs must be positive")
	check(c.Calibration.MaxFastFrames >= 0, "calibration.maxFastFrames must not be negative")
	check(c.Calibration.SlowIntervalMs > 0, "calibration.slowIntervalMs must be positive")

	check(c.Capture.NamePrefix != "", "capture.namePrefix is required")

	check(c.Upload.TimeoutMs > 0, "upload.timeoutMs must be positive")
	switch c.Upload.Backend {
	case BackendFirebase:
		check(c.Upload.Firebase.APIKey != "", "upload.firebase.apiKey is required")
		check(c.Upload.Firebase.Bucket != "", "upload.firebase.bucket is required")
		check(c.Upload.Firebase.Email != "", "upload.firebase.email is required")
	case BackendWebDAV:
		check(c.Upload.WebDAV.URL != "", "upload.webdav.url is required")
	case BackendMQTT:
		check(c.Upload.MQTT.Broker != "", "upload.mqtt.broker is required")
		check(c.Upload.MQTT.QoS <= 2, "upload.mqtt.qos must be 0, 1 or 2")
	case BackendLocal:
		check(c.Upload.Local.Dir != "", "upload.local.dir is required")
	default:
		check(false, "upload.backend %q is not one of firebase, webdav, mqtt, local", c.Upload.Backend)
	}

	if c.Network.NTPServer != "" {
		check(c.Network.NTPTimeoutMs > 0, "network.ntpTimeoutMs must be positive")
		check(c.Network.ProbeIntervalMs >= 0, "network.probeIntervalMs must not be negative")
	}

	check(c.Loop.PollIntervalMs > 0, "loop.pollIntervalMs must be positive")
	check(c.Loop.CooldownMs >= 0, "loop.cooldownMs must not be negative")
	check(c.Loop.StatusIntervalMs > 0, "loop.statusIntervalMs must be positive")

	return errors.Join(errs...)
}
