package client

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
)

const (
	submissionFailed = "analysis submission failed"
	maxMessageLen    = 300
)

// SubmissionError means the backend rejected or never received a new task.
type SubmissionError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return submissionFailed + ": " + e.Err.Error()
	case e.StatusCode != 0:
		return fmt.Sprintf("%s (HTTP %d)", submissionFailed, e.StatusCode)
	}
	return submissionFailed
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// StatusFetchError means a status request failed. It says nothing about the
// task itself: a task in the failed state is returned as data, not as this
// error.
type StatusFetchError struct {
	TaskID     string
	StatusCode int
	Message    string
	Err        error
}

func (e *StatusFetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fetch status of task %s", e.TaskID)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *StatusFetchError) Unwrap() error { return e.Err }

// RequestError covers the read-only endpoints.
type RequestError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *RequestError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *RequestError) Unwrap() error { return e.Err }

// backendMessage extracts a human readable message from an error body.
// FastAPI answers with {"detail": "..."} or, for validation failures, a
// detail array; proxies in front of it answer with HTML pages.
func backendMessage(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}

	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		if detail := parsed.Get("detail"); detail.Exists() {
			if detail.IsArray() {
				return truncate(validationMessages(detail))
			}
			if s := strings.TrimSpace(detail.String()); s != "" {
				return truncate(s)
			}
		}
		for _, key := range []string{"error", "message", "msg"} {
			if s := strings.TrimSpace(parsed.Get(key).String()); s != "" {
				return truncate(s)
			}
		}
		if parsed.Type == gjson.String {
			return truncate(parsed.String())
		}
		return ""
	}

	lower := bytes.ToLower(body[:min(len(body), 512)])
	if bytes.Contains(lower, []byte("<html")) || bytes.Contains(lower, []byte("<!doctype")) {
		return truncate(htmlMessage(body))
	}
	return truncate(string(body))
}

func validationMessages(detail gjson.Result) string {
	var parts []string
	detail.ForEach(func(_, item gjson.Result) bool {
		msg := strings.TrimSpace(item.Get("msg").String())
		if msg == "" {
			msg = strings.TrimSpace(item.String())
		}
		var loc []string
		item.Get("loc").ForEach(func(_, p gjson.Result) bool {
			if s := p.String(); s != "body" {
				loc = append(loc, s)
			}
			return true
		})
		if len(loc) > 0 {
			msg = strings.Join(loc, ".") + ": " + msg
		}
		parts = append(parts, msg)
		return true
	})
	return strings.Join(parts, "; ")
}

func htmlMessage(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return strings.Join(strings.Fields(doc.Find("body").Text()), " ")
}

func truncate(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}
	n := maxMessageLen - 3
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
