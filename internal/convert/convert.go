// Package convert 把任意 RGB 照片转换为 GDEP073E01 (Spectra E6) 墨水屏的
// 4bpp 打包位图：缩放裁剪、旋转、gamma 线性化、动态范围压缩、
// 实测调色板抖动，最后两像素合一字节。
package convert

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// 面板几何：旋转前 1600×1200，旋转后 1200×1600
const (
	SourceWidth  = 1600
	SourceHeight = 1200

	PanelWidth  = 1200
	PanelHeight = 1600

	// PackedSize 打包后的字节数，每字节两个像素
	PackedSize = PanelWidth * PanelHeight / 2
)

// ErrDecode 源图片无法解码
var ErrDecode = errors.New("image decode failed")

// ToPacked 解码照片并转换为面板位图
//
// 处理顺序（顺序不可调换）：
//  1. 等比缩放 + 对称裁剪到 1600×1200
//  2. 逆时针旋转 90 度（1200×1600）
//  3. 动态范围压缩（gamma 线性化在内部完成）
//  4. Floyd-Steinberg 抖动（实测调色板决策，理论调色板输出）
//  5. 映射输出码并打包，每字节两像素
func ToPacked(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	fitted := resizeAndCrop(img, SourceWidth, SourceHeight)
	rotated := rotate90(fitted)

	raster := rasterize(rotated)
	compressDynamicRange(raster)
	dithered := floydSteinberg(raster, PanelWidth, PanelHeight)

	return packRaster(dithered, PanelWidth, PanelHeight)
}

// packRaster 理论色栅格 → 固件输出码 → 4bpp 打包
// 偶数列放高半字节，奇数列放低半字节
func packRaster(raster []uint8, width, height int) ([]byte, error) {
	packed := make([]byte, width*height/2)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x += 2 {
			i := (y*width + x) * 3

			even, ok := colorByTheoretical(raster[i], raster[i+1], raster[i+2])
			if !ok {
				return nil, fmt.Errorf("pixel (%d,%d) is not a palette color", x, y)
			}
			odd, ok := colorByTheoretical(raster[i+3], raster[i+4], raster[i+5])
			if !ok {
				return nil, fmt.Errorf("pixel (%d,%d) is not a palette color", x+1, y)
			}

			packed[(y*width+x)/2] = odd.OutputCode() | even.OutputCode()<<4
		}
	}
	return packed, nil
}

// WhiteBitmap 全白位图（设备端测试用）
func WhiteBitmap() []byte {
	white := White.OutputCode() | White.OutputCode()<<4
	packed := make([]byte, PackedSize)
	for i := range packed {
		packed[i] = white
	}
	return packed
}
