package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"gw-settlement/internal/custom_err"
)

// RemoteAdapter HTTP-клиент реального платежного рельса (банковский API).
type RemoteAdapter struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	log     *slog.Logger
}

func NewRemoteAdapter(name, baseURL, apiKey string, timeout time.Duration, log *slog.Logger) *RemoteAdapter {
	return &RemoteAdapter{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

func (a *RemoteAdapter) Name() string {
	return a.name
}

type remoteDepositResponse struct {
	Reference   string `json:"reference"`
	RedirectURL string `json:"redirect_url"`
}

type remoteWithdrawalResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

func (a *RemoteAdapter) InitiateDeposit(ctx context.Context, req DepositRequest) (*DepositIntent, error) {
	const op = "provider.InitiateDeposit"

	body := map[string]interface{}{
		"amount":   req.Amount,
		"currency": req.Currency,
		"metadata": req.Metadata,
	}

	var resp remoteDepositResponse
	if err := a.post(ctx, "/v1/deposits", body, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &DepositIntent{
		Reference:   resp.Reference,
		RedirectURL: resp.RedirectURL,
	}, nil
}

func (a *RemoteAdapter) InitiateWithdrawal(ctx context.Context, req WithdrawalRequest) (*WithdrawalIntent, error) {
	const op = "provider.InitiateWithdrawal"

	body := map[string]interface{}{
		"amount":       req.Amount,
		"currency":     req.Currency,
		"bank_details": req.BankDetails,
	}

	var resp remoteWithdrawalResponse
	if err := a.post(ctx, "/v1/withdrawals", body, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &WithdrawalIntent{
		Reference: resp.Reference,
		Status:    resp.Status,
	}, nil
}

func (a *RemoteAdapter) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	start := time.Now()
	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			a.log.Warn("таймаут вызова провайдера",
				slog.String("provider", a.name),
				slog.String("path", path),
				slog.Duration("elapsed", time.Since(start)))
			return custom_err.ErrProviderTimeout
		}
		a.log.Error("ошибка вызова провайдера",
			slog.String("provider", a.name),
			slog.String("path", path),
			slog.String("error", err.Error()))
		return custom_err.ErrProviderFailure
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 500 {
		a.log.Error("провайдер вернул ошибку",
			slog.String("provider", a.name),
			slog.String("path", path),
			slog.Int("status", httpResp.StatusCode))
		return custom_err.ErrProviderFailure
	}
	if httpResp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		a.log.Warn("провайдер отклонил запрос",
			slog.String("provider", a.name),
			slog.Int("status", httpResp.StatusCode),
			slog.String("body", string(raw)))
		return custom_err.ErrProviderFailure
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode error: %w", err)
	}
	return nil
}
