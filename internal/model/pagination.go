package model

// DeliveryLogPage is the paginated payload returned by the log list endpoint.
type DeliveryLogPage struct {
	Data     []*DeliveryLog `json:"data"`
	Total    int            `json:"total"`
	Pages    int            `json:"pages"`
	PageNum  int            `json:"pageNum"`
	PageSize int            `json:"pageSize"`
}
