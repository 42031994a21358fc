package models

// Pagination 分页信息（与前端 BackendPagination 保持一致）
type Pagination struct {
	Size  int `json:"size"`
	Page  int `json:"page"`
	Count int `json:"count"` // 本页条数
	Total int `json:"total"` // 总条数
}

// VitalFocusCardPage 分页的卡片列表
type VitalFocusCardPage struct {
	Items      []VitalFocusCard `json:"items"`
	Timestamp  int64            `json:"timestamp"`
	Pagination Pagination       `json:"pagination"`
}
