package convert

// Color GDEP073E01 Spectra E6 墨水屏的六色调色板索引
type Color int

const (
	Black Color = iota
	White
	Yellow
	Red
	Blue
	Green

	paletteSize = 6
)

// RGB 单个调色板颜色（sRGB 字节值）
type RGB struct {
	R, G, B uint8
}

// theoretical 理论调色板：固件期望的输出颜色值
var theoretical = [paletteSize]RGB{
	Black:  {0, 0, 0},
	White:  {255, 255, 255},
	Yellow: {255, 255, 0},
	Red:    {255, 0, 0},
	Blue:   {0, 0, 255},
	Green:  {0, 255, 0},
}

// measured 实测调色板：面板实际显示出来的颜色（用于抖动决策）
// 实测值与理论值差距很大：白色实际是浅灰，绿色只有理论亮度的两三成，
// 用实测值做最近色判断能显著改善成像质量
var measured = [paletteSize]RGB{
	Black:  {2, 2, 2},
	White:  {190, 200, 200},
	Yellow: {205, 202, 0},
	Red:    {135, 19, 0},
	Blue:   {5, 64, 158},
	Green:  {39, 102, 60},
}

// outputCodes 固件输出码：Spectra 固件不使用 4 号码，蓝、绿顺延为 5、6
var outputCodes = [paletteSize]uint8{
	Black:  0,
	White:  1,
	Yellow: 2,
	Red:    3,
	Blue:   5,
	Green:  6,
}

// MeasuredColor 返回实测调色板颜色
func (c Color) MeasuredColor() RGB {
	return measured[c]
}

// TheoreticalColor 返回理论调色板颜色
func (c Color) TheoreticalColor() RGB {
	return theoretical[c]
}

// OutputCode 返回固件输出码
func (c Color) OutputCode() uint8 {
	return outputCodes[c]
}

// nearestMeasured 在实测调色板中找 RGB 欧氏距离平方最小的颜色
// 距离相等时取索引较小者，保证结果可复现
func nearestMeasured(r, g, b int) Color {
	best := White
	bestDist := 1 << 30
	for i := 0; i < paletteSize; i++ {
		p := measured[i]
		dr := r - int(p.R)
		dg := g - int(p.G)
		db := b - int(p.B)
		dist := dr*dr + dg*dg + db*db
		if dist < bestDist {
			bestDist = dist
			best = Color(i)
		}
	}
	return best
}

// colorByTheoretical 按理论调色板颜色精确反查索引
// 抖动输出保证逐像素等于某个理论色，查不到说明调用方传入了非法栅格
func colorByTheoretical(r, g, b uint8) (Color, bool) {
	for i := 0; i < paletteSize; i++ {
		p := theoretical[i]
		if p.R == r && p.G == g && p.B == b {
			return Color(i), true
		}
	}
	return 0, false
}
