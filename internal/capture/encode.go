package capture

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// EncodeJPEG encodes img as JPEG through OpenCV.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var (
		mat gocv.Mat
		err error
	)
	if gray, ok := img.(*image.Gray); ok {
		mat, err = gocv.ImageGrayToMatGray(gray)
	} else {
		mat, err = gocv.ImageToMatRGB(img)
	}
	if err != nil {
		return nil, errors.Wrap(err, "convert image")
	}
	defer mat.Close()

	buf, err := gocv.IMEncode(".jpg", mat)
	if err != nil {
		return nil, errors.Wrap(err, "encode jpeg")
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}
