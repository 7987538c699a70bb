package classify

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// Preprocess decodes a JPEG or PNG, resizes it to size×size RGB and scales
// each channel to [-1, 1]. The result is indexed [row][col][channel].
func Preprocess(data []byte, size int) ([][][3]float32, error) {
	if size <= 0 {
		return nil, fmt.Errorf("classify: input size must be positive")
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("classify: decode image: %w", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	out := make([][][3]float32, size)
	for y := 0; y < size; y++ {
		row := make([][3]float32, size)
		for x := 0; x < size; x++ {
			i := dst.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				row[x][c] = float32(dst.Pix[i+c])/127.5 - 1
			}
		}
		out[y] = row
	}
	return out, nil
}
