package server

// Box is a rectangle in original image pixels.
type Box struct {
	Left   float32 `json:"left"`
	Top    float32 `json:"top"`
	Right  float32 `json:"right"`
	Bottom float32 `json:"bottom"`
}

// Detection is one obstacle.
type Detection struct {
	ClassID    int     `json:"class_id"`
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
	Box        Box     `json:"box"`
}

// DetectResponse is returned by POST /v1/detect.
type DetectResponse struct {
	RequestID  string      `json:"request_id"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	Detections []Detection `json:"detections"`
}

// Face is one face and its expression.
type Face struct {
	Box        Box     `json:"box"`
	Expression string  `json:"expression"`
	Index      int     `json:"index"`
	Score      float32 `json:"score"`
}

// ExpressionsResponse is returned by POST /v1/expressions.
type ExpressionsResponse struct {
	RequestID string `json:"request_id"`
	Faces     []Face `json:"faces"`
}

// ModeRequest selects the stream pipeline.
type ModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
}
