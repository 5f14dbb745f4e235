package input

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Serial reads levels from a sensor bridge on a serial line: every '0' or
// '1' byte is one edge to that level, anything else is ignored.
type Serial struct {
	Device string `json:"device"`
	Baud   int    `json:"baud"`
}

func (s *Serial) Watch(ctx context.Context, h EdgeHandler) error {
	port, err := serial.OpenPort(&serial.Config{
		Name:        s.Device,
		Baud:        s.Baud,
		ReadTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.Device, err)
	}
	logger.Infof("input: watching serial %s at %d baud", s.Device, s.Baud)

	go func() {
		<-ctx.Done()
		_ = port.Close()
	}()

	err = readLevels(ctx, port, h)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readLevels returns when r fails; timeouts show up as zero-length reads.
func readLevels(ctx context.Context, r io.Reader, h EdgeHandler) error {
	buf := make([]byte, 64)
	for ctx.Err() == nil {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			switch b {
			case '0':
				h(0)
			case '1':
				h(1)
			}
		}
		if err == io.EOF {
			continue
		}
		if err != nil {
			return fmt.Errorf("serial read: %w", err)
		}
	}
	return nil
}
