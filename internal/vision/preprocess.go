package vision

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

// ImageNet normalization (standard for torchvision models).
var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

const (
	width  = 224
	height = 224
)

func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err == nil {
		return img, nil
	}
	if img, jerr := jpeg.Decode(bytes.NewReader(data)); jerr == nil {
		return img, nil
	}
	if img, perr := png.Decode(bytes.NewReader(data)); perr == nil {
		return img, nil
	}
	return nil, err
}

// preprocess scales img to 224x224 and lays it out as normalized NCHW float32.
func preprocess(img image.Image) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	const plane = width * height
	out := make([]float32, 3*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := y*width + x
			px := dst.RGBAAt(x, y)
			rgb := [3]float32{float32(px.R) / 255, float32(px.G) / 255, float32(px.B) / 255}
			for ch := 0; ch < 3; ch++ {
				out[ch*plane+idx] = (rgb[ch] - imagenetMean[ch]) / imagenetStd[ch]
			}
		}
	}
	return out
}
