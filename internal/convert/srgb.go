package convert

import "math"

// Rec. 709 亮度系数
const (
	lumaR = 0.2126729
	lumaG = 0.7151522
	lumaB = 0.0721750
)

// srgbToLinear sRGB 字节值 (0-255) 转线性光 (0.0-1.0)
func srgbToLinear(v uint8) float64 {
	s := float64(v) / 255.0
	if s <= 0.04045 {
		return s / 12.92
	}
	return math.Pow((s+0.055)/1.055, 2.4)
}

// linearToSRGB 线性光 (0.0-1.0) 转 sRGB 字节值，四舍五入并截断到 [0,255]
func linearToSRGB(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	var s float64
	if v <= 0.0031308 {
		s = 12.92 * v
	} else {
		s = 1.055*math.Pow(v, 1.0/2.4) - 0.055
	}
	out := s*255.0 + 0.5
	if out < 0 {
		return 0
	}
	if out > 255 {
		return 255
	}
	return uint8(out)
}

// linearLuminance 线性空间下的 Rec. 709 亮度
func linearLuminance(lr, lg, lb float64) float64 {
	return lumaR*lr + lumaG*lg + lumaB*lb
}

// rgbLuminance sRGB 字节颜色的线性亮度
func rgbLuminance(c RGB) float64 {
	return linearLuminance(srgbToLinear(c.R), srgbToLinear(c.G), srgbToLinear(c.B))
}

// compressDynamicRange 把全幅 0-255 动态范围压缩到面板的实际可显示范围
//
// 墨水屏的白比普通显示器暗得多，黑也不是纯黑。先在线性空间算出实测黑白点的
// 亮度区间 [blackY, whiteY]，再把每个像素的亮度仿射映射进该区间，RGB 按比例
// 缩放以保持色相。原地修改 raster（行主序 RGB，每像素 3 字节）。
func compressDynamicRange(raster []uint8) {
	blackY := rgbLuminance(measured[Black])
	whiteY := rgbLuminance(measured[White])
	displayRange := whiteY - blackY

	for i := 0; i+2 < len(raster); i += 3 {
		lr := srgbToLinear(raster[i])
		lg := srgbToLinear(raster[i+1])
		lb := srgbToLinear(raster[i+2])

		y := linearLuminance(lr, lg, lb)
		compressedY := blackY + y*displayRange

		if y > 1e-6 {
			scale := compressedY / y
			lr *= scale
			lg *= scale
			lb *= scale
		} else {
			// 近黑像素直接落到面板黑点，避免除以接近零的亮度
			lr, lg, lb = blackY, blackY, blackY
		}

		raster[i] = linearToSRGB(lr)
		raster[i+1] = linearToSRGB(lg)
		raster[i+2] = linearToSRGB(lb)
	}
}
