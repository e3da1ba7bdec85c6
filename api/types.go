package api

import (
	"encoding/json"
	"time"

	"github.com/always-cache/fetchkit"

	"github.com/jmgilman/go/errors"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// loadRequest is the body of POST /loads.
// Nil options are filled in from the load rules.
//
//easyjson:json
type loadRequest struct {
	URL                       string `json:"url"`
	Method                    string `json:"method"`
	ID                        string `json:"id"`
	CacheKey                  string `json:"cacheKey"`
	Cache                     *bool  `json:"cache"`
	TreatHTTPErrorsAsFailures *bool  `json:"treatHTTPErrorsAsFailures"`
	Tag                       string `json:"tag"`
	Sync                      bool   `json:"sync"`
}

//easyjson:json
type loadStarted struct {
	ID string `json:"id"`
}

//easyjson:json
type loadResult struct {
	ID         string `json:"id"`
	StatusCode int    `json:"status"`
	Bytes      int    `json:"bytes"`
	MIME       string `json:"mime"`
	CacheKey   string `json:"cacheKey,omitempty"`
	Cached     bool   `json:"cached"`
}

//easyjson:json
type connectionInfo struct {
	ID        string `json:"id"`
	Method    string `json:"method"`
	URL       string `json:"url"`
	Tag       string `json:"tag,omitempty"`
	State     string `json:"state"`
	Received  int64  `json:"received"`
	Expected  int64  `json:"expected"`
	StartedAt string `json:"startedAt"`
}

//easyjson:json
type connectionList []connectionInfo

//easyjson:json
type keyList []string

//easyjson:json
type errorBody struct {
	Error *errors.ErrorResponse `json:"error"`
}

func newLoadResult(res *fetchkit.Response) loadResult {
	return loadResult{
		ID:         res.ID,
		StatusCode: res.StatusCode,
		Bytes:      len(res.Body),
		MIME:       res.MIME,
		CacheKey:   res.CacheKey,
		Cached:     res.Cached,
	}
}

func newConnectionInfo(info fetchkit.Info) connectionInfo {
	return connectionInfo{
		ID:        info.ID,
		Method:    info.Method,
		URL:       info.URL,
		Tag:       info.Tag,
		State:     info.State.String(),
		Received:  info.Received,
		Expected:  info.Expected,
		StartedAt: info.StartedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (v *loadRequest) UnmarshalEasyJSON(in *jlexer.Lexer) {
	isTopLevel := in.IsStart()
	if in.IsNull() {
		if isTopLevel {
			in.Consumed()
		}
		in.Skip()
		return
	}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeString()
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "url":
			v.URL = in.String()
		case "method":
			v.Method = in.String()
		case "id":
			v.ID = in.String()
		case "cacheKey":
			v.CacheKey = in.String()
		case "cache":
			b := in.Bool()
			v.Cache = &b
		case "treatHTTPErrorsAsFailures":
			b := in.Bool()
			v.TreatHTTPErrorsAsFailures = &b
		case "tag":
			v.Tag = in.String()
		case "sync":
			v.Sync = in.Bool()
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	if isTopLevel {
		in.Consumed()
	}
}

func (v *loadRequest) UnmarshalJSON(data []byte) error {
	r := jlexer.Lexer{Data: data}
	v.UnmarshalEasyJSON(&r)
	return r.Error()
}

func (v loadStarted) MarshalEasyJSON(out *jwriter.Writer) {
	out.RawString(`{"id":`)
	out.String(v.ID)
	out.RawByte('}')
}

func (v loadResult) MarshalEasyJSON(out *jwriter.Writer) {
	out.RawString(`{"id":`)
	out.String(v.ID)
	out.RawString(`,"status":`)
	out.Int(v.StatusCode)
	out.RawString(`,"bytes":`)
	out.Int(v.Bytes)
	out.RawString(`,"mime":`)
	out.String(v.MIME)
	if v.CacheKey != "" {
		out.RawString(`,"cacheKey":`)
		out.String(v.CacheKey)
	}
	out.RawString(`,"cached":`)
	out.Bool(v.Cached)
	out.RawByte('}')
}

func (v connectionInfo) MarshalEasyJSON(out *jwriter.Writer) {
	out.RawString(`{"id":`)
	out.String(v.ID)
	out.RawString(`,"method":`)
	out.String(v.Method)
	out.RawString(`,"url":`)
	out.String(v.URL)
	if v.Tag != "" {
		out.RawString(`,"tag":`)
		out.String(v.Tag)
	}
	out.RawString(`,"state":`)
	out.String(v.State)
	out.RawString(`,"received":`)
	out.Int64(v.Received)
	out.RawString(`,"expected":`)
	out.Int64(v.Expected)
	out.RawString(`,"startedAt":`)
	out.String(v.StartedAt)
	out.RawByte('}')
}

func (v connectionList) MarshalEasyJSON(out *jwriter.Writer) {
	out.RawByte('[')
	for i, info := range v {
		if i > 0 {
			out.RawByte(',')
		}
		info.MarshalEasyJSON(out)
	}
	out.RawByte(']')
}

func (v keyList) MarshalEasyJSON(out *jwriter.Writer) {
	out.RawByte('[')
	for i, key := range v {
		if i > 0 {
			out.RawByte(',')
		}
		out.String(key)
	}
	out.RawByte(']')
}

func (v errorBody) MarshalEasyJSON(out *jwriter.Writer) {
	out.RawString(`{"error":`)
	if v.Error == nil {
		out.RawString("null")
		out.RawByte('}')
		return
	}
	out.RawString(`{"code":`)
	out.String(v.Error.Code)
	out.RawString(`,"message":`)
	out.String(v.Error.Message)
	out.RawString(`,"classification":`)
	out.String(v.Error.Classification)
	if len(v.Error.Context) > 0 {
		out.RawString(`,"context":`)
		out.Raw(json.Marshal(v.Error.Context))
	}
	out.RawString("}}")
}
