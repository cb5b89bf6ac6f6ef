package chat

// NoticeKind classifies user-visible notices raised by a send cycle.
type NoticeKind string

const (
	NoticeRateLimit NoticeKind = "rate_limit"
	NoticeQuota     NoticeKind = "quota"
	NoticeError     NoticeKind = "error"
	NoticeInfo      NoticeKind = "info"
)

// Notice is what the browser renders as a toast.
type Notice struct {
	Kind        NoticeKind `json:"kind"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
}
