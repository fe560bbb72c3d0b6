package models

import (
	"net/http"
	"time"
)

// ResponseModel Base response structure that can be reused
type ResponseModel struct {
	Code        int         `json:"code"`
	CurrentTime int64       `json:"currentTime"`
	Data        interface{} `json:"data"`
	Text        string      `json:"text"`
	Version     int         `json:"version"`
}

// ResponseCurrentTime returns the current time in milliseconds, suitable for
// the CurrentTime field of a response.
func ResponseCurrentTime() int64 {
	return time.Now().UnixMilli()
}

// NewOKResponse wraps data in the standard response envelope.
func NewOKResponse(data interface{}) ResponseModel {
	return ResponseModel{
		Code:        http.StatusOK,
		CurrentTime: ResponseCurrentTime(),
		Data:        data,
		Text:        "OK",
		Version:     2,
	}
}

// NewListResponse wraps a list payload with an out-of-range marker for
// paginated endpoints.
func NewListResponse(list interface{}, limitExceeded bool) ResponseModel {
	return NewOKResponse(struct {
		List          interface{} `json:"list"`
		LimitExceeded bool        `json:"limitExceeded"`
	}{
		List:          list,
		LimitExceeded: limitExceeded,
	})
}
