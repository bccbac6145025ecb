package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// CampaignResponse — кампания из API.
type CampaignResponse struct {
	ID              string                     `json:"id"`
	CampaignID      string                     `json:"campaign_id"`
	Name            string                     `json:"name,omitempty"`
	Status          string                     `json:"status"`
	CurrentStage    string                     `json:"current_stage"`
	Attempt         int                        `json:"attempt"`
	DecisionPending bool                       `json:"decision_pending"`
	WaitingOn       string                     `json:"waiting_on,omitempty"`
	FailedStage     string                     `json:"failed_stage,omitempty"`
	FailureKind     string                     `json:"failure_kind,omitempty"`
	LastError       string                     `json:"last_error,omitempty"`
	Input           map[string]any             `json:"input,omitempty"`
	Stages          map[string]StageResponse   `json:"stages,omitempty"`
	Outputs         map[string]json.RawMessage `json:"outputs,omitempty"`
	StartedAt       string                     `json:"started_at,omitempty"`
	FinishedAt      string                     `json:"finished_at,omitempty"`
	CreatedAt       string                     `json:"created_at"`
	UpdatedAt       string                     `json:"updated_at"`
}

// IsFinished возвращает true для DONE и FAILED.
func (c *CampaignResponse) IsFinished() bool {
	return c.Status == "DONE" || c.Status == "FAILED"
}

// StageResponse — состояние стадии из API.
type StageResponse struct {
	Attempt    int                       `json:"attempt"`
	Phase      string                    `json:"phase"`
	Decision   string                    `json:"decision"`
	Feedback   string                    `json:"feedback,omitempty"`
	Gate       string                    `json:"gate,omitempty"`
	SubResults map[string]map[string]any `json:"sub_results,omitempty"`
}

// DecisionResponse — принятое решение.
type DecisionResponse struct {
	RunID    string `json:"run_id"`
	Stage    string `json:"stage"`
	Attempt  int    `json:"attempt"`
	Decision string `json:"decision"`
	Action   string `json:"action"`
}

// EventResponse — событие истории run.
type EventResponse struct {
	Seq       int64           `json:"seq"`
	Key       string          `json:"key"`
	Type      string          `json:"type"`
	Stage     string          `json:"stage,omitempty"`
	Attempt   int             `json:"attempt,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt string          `json:"created_at"`
}

// --- Request types ---

// Audience — целевая аудитория.
type Audience struct {
	Demographics string   `json:"demographics,omitempty"`
	Interests    []string `json:"interests,omitempty"`
	Location     string   `json:"location,omitempty"`
}

// StartCampaignRequest — запуск кампании.
type StartCampaignRequest struct {
	CampaignID     string   `json:"campaign_id,omitempty"`
	CampaignName   string   `json:"campaign_name,omitempty"`
	TargetAudience Audience `json:"target_audience"`
	Budget         float64  `json:"budget"`
	Objectives     []string `json:"objectives,omitempty"`
	Channels       []string `json:"channels"`
}

// DecisionRequest — решение ревьюера.
type DecisionRequest struct {
	Stage    string `json:"stage,omitempty"`
	Attempt  int    `json:"attempt,omitempty"`
	Decision string `json:"decision"`
	Feedback string `json:"feedback,omitempty"`
}

// ListCampaignsOpts — параметры фильтрации кампаний.
type ListCampaignsOpts struct {
	Stage  string
	Status string
	Limit  int
	Offset int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError — ошибка, которую вернул API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- Client ---

// Client — HTTP-клиент для API кампаний.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Campaigns ---

// StartCampaign запускает кампанию.
func (c *Client) StartCampaign(req StartCampaignRequest) (*CampaignResponse, error) {
	var campaign CampaignResponse
	err := c.post("/api/v1/campaigns", req, &campaign)
	return &campaign, err
}

// GetCampaign возвращает статус кампании по ID run.
func (c *Client) GetCampaign(id string) (*CampaignResponse, error) {
	var campaign CampaignResponse
	err := c.get("/api/v1/campaigns/"+id, &campaign)
	return &campaign, err
}

// ListCampaigns возвращает список кампаний с фильтрацией.
func (c *Client) ListCampaigns(opts ListCampaignsOpts) ([]CampaignResponse, error) {
	params := url.Values{}
	if opts.Stage != "" {
		params.Set("stage", opts.Stage)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	var campaigns []CampaignResponse
	err := c.list("/api/v1/campaigns", params, &campaigns)
	return campaigns, err
}

// SendDecision отправляет решение по стадии.
func (c *Client) SendDecision(id string, req DecisionRequest) (*DecisionResponse, error) {
	var decision DecisionResponse
	err := c.post("/api/v1/campaigns/"+id+"/decisions", req, &decision)
	return &decision, err
}

// ListEvents возвращает историю run после seq after.
func (c *Client) ListEvents(id string, after int64) ([]EventResponse, error) {
	params := url.Values{}
	if after > 0 {
		params.Set("after", strconv.FormatInt(after, 10))
	}

	var events []EventResponse
	err := c.list("/api/v1/campaigns/"+id+"/events", params, &events)
	return events, err
}

// Watch читает поток событий run и вызывает fn на каждое, пока кампания
// не завершится или не отменится ctx.
func (c *Client) Watch(ctx context.Context, id string, fn func(EventResponse)) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/api/v1/campaigns/" + id + "/watch"

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return c.checkError(resp)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var ev EventResponse
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("watch stream: %w", err)
		}
		fn(ev)
	}
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
	}
	return apiErr
}
