package problem

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC7807 Problem Details document. It is the error surface
// for everything except the rate-limit denial body, which has its own wire
// contract.
type Problem struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func New(status int, detail string) *Problem {
	title := http.StatusText(status)
	if title == "" {
		title = "Unknown Error"
	}
	return &Problem{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

func Write(w http.ResponseWriter, p *Problem) {
	if p == nil {
		p = Internal("server error")
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func BadRequest(detail string) *Problem {
	return New(http.StatusBadRequest, detail)
}

func Unauthorized(detail string) *Problem {
	return New(http.StatusUnauthorized, detail)
}

func Forbidden(detail string) *Problem {
	return New(http.StatusForbidden, detail)
}

func Internal(detail string) *Problem {
	return New(http.StatusInternalServerError, detail)
}

func BadGateway(detail string) *Problem {
	return New(http.StatusBadGateway, detail)
}

func ServiceUnavailable(detail string) *Problem {
	return New(http.StatusServiceUnavailable, detail)
}
