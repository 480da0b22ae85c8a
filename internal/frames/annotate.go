package frames

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/technosupport/ts-nvr/internal/data"
)

var boxColor = color.RGBA{R: 255, G: 64, B: 64, A: 255}

// annotate draws detection bounding boxes onto the JPEG and re-encodes it.
// BBox coordinates are normalized, so they scale to any resolution.
func annotate(jpegData []byte, detections []data.StoredDetection) ([]byte, error) {
	if len(detections) == 0 {
		return jpegData, nil
	}

	src, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	bounds := src.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, src, bounds.Min, draw.Src)

	w := float64(bounds.Dx())
	h := float64(bounds.Dy())
	for _, d := range detections {
		x1 := bounds.Min.X + int(d.BBox[0]*w)
		y1 := bounds.Min.Y + int(d.BBox[1]*h)
		x2 := bounds.Min.X + int(d.BBox[2]*w)
		y2 := bounds.Min.Y + int(d.BBox[3]*h)
		drawRect(canvas, x1, y1, x2, y2, 3)
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, canvas, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode annotated frame: %w", err)
	}
	return out.Bytes(), nil
}

// drawRect draws a hollow rectangle with the given line thickness, clamped
// to the image bounds.
func drawRect(img *image.RGBA, x1, y1, x2, y2, thick int) {
	b := img.Bounds()
	set := func(x, y int) {
		if x >= b.Min.X && x < b.Max.X && y >= b.Min.Y && y < b.Max.Y {
			img.SetRGBA(x, y, boxColor)
		}
	}
	for t := 0; t < thick; t++ {
		for x := x1; x <= x2; x++ {
			set(x, y1+t)
			set(x, y2-t)
		}
		for y := y1; y <= y2; y++ {
			set(x1+t, y)
			set(x2-t, y)
		}
	}
}

// makeThumbnail scales the frame down to the fixed thumbnail size.
func makeThumbnail(jpegData []byte, width, height int) ([]byte, error) {
	src, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 70}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return out.Bytes(), nil
}
