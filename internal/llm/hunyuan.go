package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/RichardoC/goblin/internal/models"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	sdkerrors "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/errors"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	hunyuan "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/hunyuan/v20230901"
	"go.uber.org/zap"
)

const (
	ProviderHunyuan = "hunyuan"

	DefaultHunyuanEndpoint = "hunyuan.tencentcloudapi.com"
)

// chatCompletionsAPI is the subset of the SDK client we call.
type chatCompletionsAPI interface {
	ChatCompletionsWithContext(ctx context.Context, request *hunyuan.ChatCompletionsRequest) (*hunyuan.ChatCompletionsResponse, error)
}

// HunyuanConfig holds credentials and endpoint settings for the native
// Tencent Cloud Hunyuan API.
type HunyuanConfig struct {
	SecretID  string
	SecretKey string
	Region    string
	Endpoint  string
	Model     string
	Timeout   time.Duration
}

// Hunyuan is a Completer backed by the tencentcloud-sdk-go Hunyuan client.
type Hunyuan struct {
	api    chatCompletionsAPI
	model  string
	logger *zap.Logger
}

// NewHunyuan opens an SDK client. Credentials are checked for presence only;
// the remote side rejects invalid ones on the first call.
func NewHunyuan(cfg HunyuanConfig, logger *zap.Logger) (*Hunyuan, error) {
	if strings.TrimSpace(cfg.SecretID) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, &Error{Kind: ErrAuthentication, Provider: ProviderHunyuan, Message: "secret id and secret key are required"}
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultHunyuanEndpoint
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	credential := common.NewCredential(cfg.SecretID, cfg.SecretKey)
	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = cfg.Endpoint
	if cfg.Timeout > 0 {
		cpf.HttpProfile.ReqTimeout = reqTimeoutSeconds(cfg.Timeout)
	}

	client, err := hunyuan.NewClient(credential, cfg.Region, cpf)
	if err != nil {
		return nil, classifyHunyuan(err)
	}
	return &Hunyuan{api: client, model: cfg.Model, logger: logger}, nil
}

// reqTimeoutSeconds converts d to the SDK's whole-second timeout, rounding
// up so a sub-second value never becomes 0 (the SDK default).
func reqTimeoutSeconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}

func (h *Hunyuan) Complete(ctx context.Context, history []models.Message, opts ...CallOption) (string, error) {
	if err := validateHistory(ProviderHunyuan, history); err != nil {
		return "", err
	}
	req := h.buildRequest(history, applyOptions(h.model, opts), false)

	resp, err := h.api.ChatCompletionsWithContext(ctx, req)
	if err != nil {
		return "", classifyHunyuan(err)
	}
	if resp == nil || resp.Response == nil {
		return "", malformed(ProviderHunyuan, "missing response body")
	}
	return hunyuanReply(resp.Response)
}

func (h *Hunyuan) Stream(ctx context.Context, history []models.Message, onDelta func(string) error, opts ...CallOption) (string, error) {
	if err := validateHistory(ProviderHunyuan, history); err != nil {
		return "", err
	}
	req := h.buildRequest(history, applyOptions(h.model, opts), true)

	resp, err := h.api.ChatCompletionsWithContext(ctx, req)
	if err != nil {
		return "", classifyHunyuan(err)
	}
	if resp == nil {
		return "", malformed(ProviderHunyuan, "missing response")
	}
	// The server may answer a stream request with a plain body.
	if resp.Response != nil {
		reply, err := hunyuanReply(resp.Response)
		if err != nil {
			return "", err
		}
		if onDelta != nil {
			if err := onDelta(reply); err != nil {
				return "", err
			}
		}
		return reply, nil
	}

	var b strings.Builder
	for event := range resp.Events {
		if event.Err != nil {
			return "", classifyHunyuan(event.Err)
		}
		if len(event.Data) == 0 {
			continue
		}
		var chunk hunyuan.ChatCompletionsResponseParams
		if err := json.Unmarshal(event.Data, &chunk); err != nil {
			h.logger.Debug("skipping undecodable stream event", zap.Error(err))
			continue
		}
		if err := hunyuanChunkError(&chunk); err != nil {
			return "", err
		}
		delta := hunyuanDelta(&chunk)
		if delta == "" {
			continue
		}
		b.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return "", err
			}
		}
	}
	return b.String(), nil
}

func (h *Hunyuan) buildRequest(history []models.Message, o CallOptions, stream bool) *hunyuan.ChatCompletionsRequest {
	req := hunyuan.NewChatCompletionsRequest()
	req.Model = common.StringPtr(o.Model)
	req.Stream = common.BoolPtr(stream)
	if o.Temperature != nil {
		req.Temperature = common.Float64Ptr(*o.Temperature)
	}
	if o.TopP != nil {
		req.TopP = common.Float64Ptr(*o.TopP)
	}
	if o.MaxTokens > 0 {
		h.logger.Debug("max tokens is not supported by the native hunyuan API, ignoring", zap.Int("max_tokens", o.MaxTokens))
	}

	req.Messages = make([]*hunyuan.Message, 0, len(history))
	for _, m := range history {
		req.Messages = append(req.Messages, &hunyuan.Message{
			Role:    common.StringPtr(string(m.Role)),
			Content: common.StringPtr(m.Content),
		})
	}
	return req
}

func hunyuanReply(params *hunyuan.ChatCompletionsResponseParams) (string, error) {
	if err := hunyuanChunkError(params); err != nil {
		return "", err
	}
	if len(params.Choices) == 0 || params.Choices[0] == nil {
		return "", malformed(ProviderHunyuan, "no choices")
	}
	msg := params.Choices[0].Message
	if msg == nil || msg.Content == nil {
		return "", malformed(ProviderHunyuan, "first choice has no message")
	}
	return *msg.Content, nil
}

func hunyuanDelta(params *hunyuan.ChatCompletionsResponseParams) string {
	if len(params.Choices) == 0 || params.Choices[0] == nil {
		return ""
	}
	delta := params.Choices[0].Delta
	if delta == nil || delta.Content == nil {
		return ""
	}
	return *delta.Content
}

// hunyuanChunkError reports an error embedded in a response body, which is
// how the service signals failures mid-stream.
func hunyuanChunkError(params *hunyuan.ChatCompletionsResponseParams) error {
	if params.ErrorMsg == nil || params.ErrorMsg.Msg == nil || *params.ErrorMsg.Msg == "" {
		return nil
	}
	e := &Error{Kind: ErrService, Provider: ProviderHunyuan, Message: *params.ErrorMsg.Msg}
	if params.RequestId != nil {
		e.RequestID = *params.RequestId
	}
	return e
}

// classifyHunyuan maps SDK error codes onto the error classes.
func classifyHunyuan(err error) error {
	var sdkErr *sdkerrors.TencentCloudSDKError
	if !errors.As(err, &sdkErr) {
		// No service error code: the request never got a remote verdict.
		return &Error{Kind: ErrTransport, Provider: ProviderHunyuan, Err: err}
	}

	code := sdkErr.GetCode()
	return &Error{
		Kind:      hunyuanKind(code),
		Provider:  ProviderHunyuan,
		Code:      code,
		Message:   sdkErr.GetMessage(),
		RequestID: sdkErr.GetRequestId(),
		Err:       err,
	}
}

func hunyuanKind(code string) error {
	switch {
	case strings.HasPrefix(code, "AuthFailure"),
		strings.HasPrefix(code, "UnauthorizedOperation"):
		return ErrAuthentication
	case strings.Contains(code, "LimitExceeded"),
		strings.Contains(code, "Exhaust"),
		strings.Contains(code, "Arrears"),
		strings.HasPrefix(code, "ResourceInsufficient"):
		return ErrQuotaExceeded
	case code == "ClientError.NetworkError",
		code == "ClientError.HttpStatusCodeError",
		code == "ClientError.ParseJsonError",
		code == "FailedOperation.EngineRequestTimeout":
		return ErrTransport
	default:
		return ErrService
	}
}
