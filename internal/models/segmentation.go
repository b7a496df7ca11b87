package models

// HelloRequest opens a session with the segmentation server and selects the
// model variant.
type HelloRequest struct {
	ID             int64 `json:"id"`
	Hello          int   `json:"hello"` // 1
	ModelSelection int   `json:"model_selection"`
}

// Response carries the status shared by every server reply.
type Response struct {
	ID      int64  `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type HelloResponse struct {
	Response
	Model       string `json:"model"`
	InputWidth  int    `json:"input_width,omitempty"`
	InputHeight int    `json:"input_height,omitempty"`
}

// SegmentRequest asks for the person mask of one JPEG-encoded frame.
// Width and Height are those of the original frame, before resizing.
type SegmentRequest struct {
	ID     int64  `json:"id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Image  []byte `json:"image"`
}

// SegmentResponse carries a PNG-encoded grayscale mask, 255 meaning person.
type SegmentResponse struct {
	Response
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Mask   []byte `json:"mask"`
}
