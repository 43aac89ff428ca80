package slots

// Image 一个已转换完成的图像槽位内容
type Image struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// managerState 状态文件：data/state.json
type managerState struct {
	Images       []*Image `json:"images"`
	NextDaily    *Image   `json:"nextDaily"`
	CurrentIndex int      `json:"currentIndex"`
	LastDate     string   `json:"lastDate"`
	ShownIDs     []string `json:"shownIds"`
}

// Status 槽位管理器当前状态（用于 current.json 和就绪探针）
type Status struct {
	CurrentID  string
	HasImage   bool
	ImageCount int
	Updating   bool
}
