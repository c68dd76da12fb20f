// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/hitoshi/shipkit/internal/middleware"
	"github.com/hitoshi/shipkit/internal/model"
)

const maxRequestBodySize = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized, model.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden, model.ErrCodeCSRFFailed:
		return http.StatusForbidden
	case model.ErrCodeValidation, model.ErrCodeInvalidToken, model.ErrCodeInvalidFormat, model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeEmailTaken, model.ErrCodeUsernameTaken:
		return http.StatusConflict
	case model.ErrCodeUserNotFound, model.ErrCodeFlagNotFound, model.ErrCodeResourceNotFound, model.ErrCodeRecordNotFound:
		return http.StatusNotFound
	case model.ErrCodeReadOnlyResource, model.ErrCodeCreateNotAllowed:
		return http.StatusMethodNotAllowed
	case model.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case model.ErrCodeExportUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// isJSONRequest はリクエストボディがJSONかを判定する。
func isJSONRequest(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

// decodeJSON はサイズ制限付きでJSONボディをデコードする。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return model.NewInvalidRequestError()
	}
	return nil
}

// readInput はフォームまたはJSONのボディを文字列のマップとして読み込む。
// JSONの数値や真偽値は文字列に変換し、nullは空文字として扱う。
func readInput(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	if isJSONRequest(r) {
		var body map[string]any
		if err := decodeJSON(w, r, &body); err != nil {
			return nil, err
		}
		out := make(map[string]string, len(body))
		for k, v := range body {
			switch t := v.(type) {
			case nil:
				out[k] = ""
			case string:
				out[k] = t
			case bool, float64:
				out[k] = fmt.Sprint(t)
			default:
				return nil, model.NewInvalidRequestError()
			}
		}
		return out, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := r.ParseForm(); err != nil {
		return nil, model.NewInvalidRequestError()
	}
	out := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		if k == middleware.CSRFFormField {
			continue
		}
		out[k] = strings.TrimSpace(r.PostForm.Get(k))
	}
	return out, nil
}
