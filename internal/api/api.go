package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/xeipuuv/gojsonschema"

	"github.com/John-Robertt/BookFinder/internal/domain"
	"github.com/John-Robertt/BookFinder/internal/logger"
)

// 请求体上限：合法请求只有几个短字符串。
const maxBodyBytes = 64 << 10

// Resolver 是 HTTP 层依赖的唯一能力（*resolve.Pipeline 实现）。
type Resolver interface {
	Resolve(ctx context.Context, req domain.ResolutionRequest) (domain.ResolvedDownload, error)
}

// Options 控制可选路由。
type Options struct {
	// StaticDir 非空时以 SPA 方式托管前端构建产物（未知路径回退到 index.html）。
	StaticDir string
	// Metrics 为 true 时暴露 GET /metrics。
	Metrics bool
	// Log 用于访问日志；nil 时使用 logrus 全局 logger。
	Log *logrus.Logger
}

// NewHandler 组装路由与中间件。
//
// 中间件顺序：RequestID -> RequestLogger -> CORS -> Metrics -> mux。
// Metrics 必须紧贴 mux，才能读到 mux 写回的 r.Pattern。
func NewHandler(res Resolver, o Options) http.Handler {
	h := &handler{res: res}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/libgen-download", h.postDownload)
	mux.HandleFunc("GET /api/libgen-download", h.getDownload)
	// 不带方法的同路径模式只接住其余方法，保证 405 也是 JSON。
	mux.Handle("/api/libgen-download", methodNotAllowed(http.MethodGet, http.MethodPost))
	mux.HandleFunc("GET /healthz", health)
	if o.Metrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	// 兜底用不带方法的 "/"：与上面的不带方法模式并存时，"GET /" 会被 ServeMux 判为冲突。
	if o.StaticDir != "" {
		mux.Handle("/", getOnly(spaHandler(o.StaticDir)))
	} else {
		mux.Handle("/", getOnly(http.HandlerFunc(notFound)))
	}

	log := o.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return RequestID(RequestLogger(log)(CORS(Metrics(mux))))
}

type handler struct {
	res Resolver
}

func (h *handler) postDownload(w http.ResponseWriter, r *http.Request) {
	req, details, err := decodeBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, errorBody{
			Message: "Request body must be a JSON object with string fields title, author, isbn.",
			Code:    string(domain.KindInvalidRequest),
			Details: details,
		})
		return
	}
	h.resolve(w, r, req)
}

func (h *handler) getDownload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.resolve(w, r, domain.ResolutionRequest{
		Title:  q.Get("title"),
		Author: q.Get("author"),
		ISBN:   q.Get("isbn"),
		Mirror: q.Get("mirror"),
	})
}

func (h *handler) resolve(w http.ResponseWriter, r *http.Request, req domain.ResolutionRequest) {
	d, err := h.res.Resolve(r.Context(), req)
	if err != nil {
		if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
			// 客户端已断开，响应写不出去；只记一行日志。
			logger.For(r.Context()).Debug("客户端已断开")
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

var requestSchema = mustSchema(`{
  "type": "object",
  "properties": {
    "title":  {"type": ["string", "null"]},
    "author": {"type": ["string", "null"]},
    "isbn":   {"type": ["string", "null"]},
    "mirror": {"type": ["string", "null"]}
  }
}`)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(err)
	}
	return schema
}

// decodeBody 读取并校验 POST 请求体（结构校验；必填校验留给 domain）。
// 失败时 details 给出可读的字段级原因。
func decodeBody(w http.ResponseWriter, r *http.Request) (domain.ResolutionRequest, any, error) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return domain.ResolutionRequest{}, err.Error(), err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return domain.ResolutionRequest{}, "empty body", errors.New("empty body")
	}

	result, err := requestSchema.Validate(gojsonschema.NewBytesLoader(b))
	if err != nil {
		// 不是合法 JSON。
		return domain.ResolutionRequest{}, err.Error(), err
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return domain.ResolutionRequest{}, details, errors.New("schema validation failed")
	}

	var req domain.ResolutionRequest
	if err := json.Unmarshal(b, &req); err != nil {
		return domain.ResolutionRequest{}, err.Error(), err
	}
	return req, nil, nil
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, errorBody{Message: "Not found.", Code: "NotFound"})
}

func methodNotAllowed(allow ...string) http.Handler {
	allowed := strings.Join(allow, ", ")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", allowed)
		writeError(w, http.StatusMethodNotAllowed, errorBody{
			Message: "Method " + r.Method + " is not allowed; use " + allowed + ".",
			Code:    "MethodNotAllowed",
		})
	})
}

// getOnly 让兜底路由只响应 GET/HEAD，其余方法返回 JSON 405。
func getOnly(next http.Handler) http.Handler {
	deny := methodNotAllowed(http.MethodGet, http.MethodHead)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			deny.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// spaHandler 托管静态文件；不存在的路径回退到 index.html（前端路由）。
// /api/ 下的未知路径仍返回 JSON 404，不回退。
func spaHandler(dir string) http.Handler {
	root := http.Dir(dir)
	files := http.FileServer(root)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := path.Clean("/" + r.URL.Path)
		if p == "/api" || strings.HasPrefix(p, "/api/") {
			notFound(w, r)
			return
		}
		if f, err := root.Open(p); err == nil {
			st, err := f.Stat()
			_ = f.Close()
			if err == nil && !st.IsDir() {
				files.ServeHTTP(w, r)
				return
			}
		}

		f, err := os.Open(filepath.Join(dir, "index.html"))
		if err != nil {
			notFound(w, r)
			return
		}
		defer f.Close()
		st, err := f.Stat()
		if err != nil {
			notFound(w, r)
			return
		}
		http.ServeContent(w, r, "index.html", st.ModTime(), f)
	})
}
