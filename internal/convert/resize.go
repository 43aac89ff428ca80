package convert

import (
	"image"

	"golang.org/x/image/draw"
)

// resizeAndCrop 等比缩放到一边恰好等于目标尺寸，另一边对称裁掉溢出
// 溢出为奇数时前缘少裁一个像素，后缘多裁一个
func resizeAndCrop(src image.Image, targetW, targetH int) *image.NRGBA {
	bounds := src.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	aspect := float64(srcW) / float64(srcH)
	targetAspect := float64(targetW) / float64(targetH)

	var scaledW, scaledH int
	if aspect > targetAspect {
		// 按高度缩放，水平方向裁剪
		scaledW = int(float64(targetH) * aspect)
		scaledH = targetH
	} else {
		// 按宽度缩放，垂直方向裁剪
		scaledW = targetW
		scaledH = int(float64(targetW) / aspect)
	}

	scaled := image.NewNRGBA(image.Rect(0, 0, scaledW, scaledH))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, bounds, draw.Src, nil)

	cropX := (scaledW - targetW) / 2
	cropY := (scaledH - targetH) / 2

	out := image.NewNRGBA(image.Rect(0, 0, targetW, targetH))
	draw.Draw(out, out.Bounds(), scaled, image.Pt(cropX, cropY), draw.Src)
	return out
}

// rotate90 逆时针旋转 90 度，画布随之扩展（W×H → H×W）
func rotate90(src *image.NRGBA) *image.NRGBA {
	bounds := src.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	dst := image.NewNRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < w; y++ {
		for x := 0; x < h; x++ {
			dst.Set(x, y, src.NRGBAAt(w-1-y, x))
		}
	}
	return dst
}

// rasterize NRGBA 图像展开为行主序 RGB 栅格（每像素 3 字节，丢弃 alpha）
func rasterize(img *image.NRGBA) []uint8 {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	raster := make([]uint8, w*h*3)
	i := 0
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			raster[i] = row[x*4]
			raster[i+1] = row[x*4+1]
			raster[i+2] = row[x*4+2]
			i += 3
		}
	}
	return raster
}
