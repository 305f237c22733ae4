package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"swasthai-triage/internal/classifier"
	httpapi "swasthai-triage/internal/http"
	"swasthai-triage/internal/models"
	"swasthai-triage/internal/service"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// envelope 服务端统一响应
type envelope struct {
	Code    int             `json:"code"`
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// APIError 非 2xx 响应
type APIError struct {
	StatusCode int
	Message    string
	Details    models.ValidationErrors
}

func (e *APIError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("triage API error (status: %d): %s", e.StatusCode, e.Details.Error())
	}
	return fmt.Sprintf("triage API error (status: %d): %s", e.StatusCode, e.Message)
}

// TriageClient 分诊服务 HTTP 客户端（前台 / 医生工作站脚本使用）
type TriageClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewTriageClient 创建客户端；actor 作为 X-User-Id 发送，可为空
func NewTriageClient(baseURL, actor string, logger *zap.Logger) *TriageClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15*time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		// 只对 503（存储暂不可用）重试；提交接口服务端按 ID 幂等
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && r.StatusCode() == http.StatusServiceUnavailable
		})
	if actor != "" {
		client.SetHeader("X-User-Id", actor)
	}

	return &TriageClient{httpClient: client, logger: logger}
}

// Submit 提交 intake 表单
func (c *TriageClient) Submit(ctx context.Context, payload map[string]any) (*httpapi.TriageResponse, error) {
	var out httpapi.TriageResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/triage", payload, &out); err != nil {
		return nil, err
	}
	if !out.Saved {
		c.logger.Warn("Intake classified but not yet saved", zap.String("triage_id", out.TriageID))
	}
	return &out, nil
}

// Queue 当前排队
func (c *TriageClient) Queue(ctx context.Context) (*service.QueueView, error) {
	var out service.QueueView
	if err := c.do(ctx, http.MethodGet, "/api/v1/queue", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get 单个分诊事件
func (c *TriageClient) Get(ctx context.Context, id string) (*models.IntakeEvent, error) {
	var out models.IntakeEvent
	if err := c.do(ctx, http.MethodGet, "/api/v1/intake-events/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Override 医生改判
func (c *TriageClient) Override(ctx context.Context, id string, band models.RiskBand, reason string) (*models.IntakeEvent, error) {
	var out models.IntakeEvent
	req := httpapi.OverrideRequest{Band: string(band), Reason: reason}
	if err := c.do(ctx, http.MethodPost, "/api/v1/intake-events/"+id+"/override", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkSeen 标记已接诊
func (c *TriageClient) MarkSeen(ctx context.Context, id string) (*models.IntakeEvent, error) {
	var out models.IntakeEvent
	if err := c.do(ctx, http.MethodPost, "/api/v1/intake-events/"+id+"/seen", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Rules 规则列表（按优先级）
func (c *TriageClient) Rules(ctx context.Context) ([]classifier.RuleInfo, error) {
	var out []classifier.RuleInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/rules", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Export 下载 xlsx 工作簿
func (c *TriageClient) Export(ctx context.Context, since time.Time) ([]byte, error) {
	req := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Accept", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if !since.IsZero() {
		req.SetQueryParam("since", since.UTC().Format(time.RFC3339))
	}

	resp, err := req.Get("/api/v1/queue/export.xlsx")
	if err != nil {
		return nil, fmt.Errorf("failed to call triage API: %w", err)
	}
	if resp.IsError() {
		return nil, decodeError(resp)
	}
	return resp.Body(), nil
}

func (c *TriageClient) do(ctx context.Context, method, path string, body, out any) error {
	req := c.httpClient.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		c.logger.Error("Triage API call failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("failed to call triage API: %w", err)
	}
	if resp.IsError() {
		apiErr := decodeError(resp)
		c.logger.Debug("Triage API returned error", zap.String("path", path), zap.Error(apiErr))
		return apiErr
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if env.Code != httpapi.ResultSuccess {
		return &APIError{StatusCode: resp.StatusCode(), Message: env.Message}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return nil
}

func decodeError(resp *resty.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode(), Message: resp.Status()}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return apiErr
	}
	if env.Message != "" {
		apiErr.Message = env.Message
	}
	if len(env.Result) > 0 {
		var details httpapi.ValidationDetails
		if json.Unmarshal(env.Result, &details) == nil {
			apiErr.Details = details.Details
		}
	}
	return apiErr
}
