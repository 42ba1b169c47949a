// Package opencv reads frames from a V4L/DirectShow device or a video
// URL through OpenCV.
package opencv

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/camera"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/logger"
)

// Device is a camera.Source backed by gocv.VideoCapture. It reuses one
// Mat between reads and is not safe for concurrent use.
type Device struct {
	id  string
	cap *gocv.VideoCapture
	mat gocv.Mat
}

// Open opens id, which is either a numeric device index or a file/URL.
// width and height are requested from the driver when positive.
func Open(id string, width, height int) (*Device, error) {
	vc, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, fmt.Errorf("open camera %q: %w", id, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open camera %q: device not opened", id)
	}
	vc.Set(gocv.VideoCaptureBufferSize, 1)
	if width > 0 && height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}

	logger.Info("Camera", "Opened %q at %.0fx%.0f", id,
		vc.Get(gocv.VideoCaptureFrameWidth), vc.Get(gocv.VideoCaptureFrameHeight))

	return &Device{id: id, cap: vc, mat: gocv.NewMat()}, nil
}

// Read grabs the next frame and converts it to an image.Image.
func (d *Device) Read() (image.Image, error) {
	if ok := d.cap.Read(&d.mat); !ok || d.mat.Empty() {
		return nil, camera.ErrNoFrame
	}
	img, err := d.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return img, nil
}

// Close releases the Mat and the device.
func (d *Device) Close() error {
	if err := d.mat.Close(); err != nil {
		return err
	}
	return d.cap.Close()
}

var _ camera.Source = (*Device)(nil)
