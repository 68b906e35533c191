package domain

// SearchMode 对应站点搜索的列选择。
type SearchMode string

const (
	// SearchModeDefault 是自由文本搜索（标题/作者/系列等列）。
	SearchModeDefault SearchMode = "def"
	// SearchModeIdentifier 按精确标识符（ISBN 等）搜索。
	SearchModeIdentifier SearchMode = "identifier"
)

// Candidate 是搜索结果表格中的一行。只在一次解析调用内存活。
type Candidate struct {
	Title  string   `json:"title"`
	Author string   `json:"author"`
	MD5    string   `json:"md5"`
	ISBNs  []string `json:"isbns,omitempty"`

	// DetailPageURL 通常是绝对地址；列表页 URL 未知时可能只是镜像内的相对路径。
	DetailPageURL string `json:"detail_page_url"`
}

// ResolvedDownload 是解析的最终产物：可以直接打开的文件地址（绝对 URL）。
type ResolvedDownload struct {
	URL string `json:"downloadUrl"`
}
