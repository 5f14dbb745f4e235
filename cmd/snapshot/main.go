// snapshot grabs a single frame through the configured camera, for aiming
// the camera and checking exposure during setup.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"

	"cat-shutter-pi/pkg/camera"
	"cat-shutter-pi/pkg/config"
	"cat-shutter-pi/pkg/types"
)

var (
	configPath = flag.String("config", "", "path of the JSON config file")
	out        = flag.String("out", "snapshot.jpg", "output file")
	warmup     = flag.Int("warmup", 5, "frames to throw away first so auto exposure can settle")
	doUpload   = flag.Bool("upload", false, "also hand the frame to the configured upload backend")
	maxSize    = flag.Bool("max", false, "use the largest frame size the v4l2 device supports")
	controls   = flag.Bool("controls", false, "print the v4l2 controls as JSON and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if err = cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	camCfg := cfg.Camera.Source()
	if *controls {
		if err = printControls(ctx, camCfg); err != nil {
			log.Fatal(err)
		}
		return
	}
	if *maxSize && camCfg.Driver == camera.DriverV4L2 {
		w, h, err := camera.New(ctx, camCfg.Device).GetMaxSize()
		if err != nil {
			log.Fatalf("query frame sizes: %v", err)
		}
		camCfg.Width, camCfg.Height = w, h
	}

	source, err := camera.Open(ctx, camCfg)
	if err != nil {
		log.Fatalf("open camera: %v", err)
	}
	defer source.Close()

	frame, err := grab(ctx, source, *warmup)
	if err != nil {
		log.Fatalf("capture: %v", err)
	}
	defer source.Release(frame)

	if err = os.WriteFile(*out, frame.Data, 0644); err != nil {
		log.Fatalf("write file: %v", err)
	}
	log.Printf("saved %s: %dx%d, %s", *out, frame.Width, frame.Height, humanize.Bytes(uint64(len(frame.Data))))

	if !*doUpload {
		return
	}
	uploader, closeUploader, err := cfg.Upload.New()
	if err != nil {
		log.Fatalf("init %s upload: %v", cfg.Upload.Backend, err)
	}
	defer closeUploader()
	if !waitReady(ctx, uploader) {
		log.Fatalf("%s upload service not ready", cfg.Upload.Backend)
	}
	name := fmt.Sprintf("snapshot-%d.jpg", time.Now().Unix())
	locator, err := uploader.Upload(ctx, frame.Data, types.MimeJPEG, name)
	if err != nil {
		log.Fatalf("upload: %v", err)
	}
	log.Printf("uploaded %s: %s", name, locator)
}

func printControls(ctx context.Context, cfg camera.Config) error {
	cam := camera.New(ctx, cfg.Device)
	if _, err := cam.Start(cfg.Width, cfg.Height); err != nil {
		return fmt.Errorf("start camera: %w", err)
	}
	defer cam.Stop()

	infos, err := cam.ControlInfos()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "    ")
	return enc.Encode(infos)
}

func grab(ctx context.Context, source types.FrameSource, warmup int) (*types.Frame, error) {
	for i := 0; i < warmup; i++ {
		f, err := source.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("warmup frame %d: %w", i+1, err)
		}
		source.Release(f)
		time.Sleep(200 * time.Millisecond)
	}
	return source.Acquire(ctx)
}

// waitReady gives connection based backends a moment to come up.
func waitReady(ctx context.Context, r types.Readiness) bool {
	for i := 0; i < 10; i++ {
		if r.Ready(ctx) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Second):
		}
	}
	return false
}
