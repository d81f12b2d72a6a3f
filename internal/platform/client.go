package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/coursesync/internal/metrics"
	"github.com/hitoshi/coursesync/internal/model"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL は外部プラットフォームの既定URL。
	DefaultBaseURL = "https://www.gradescope.com"
	// DefaultSessionCookie はセッショントークンを載せるCookie名。
	DefaultSessionCookie = "_gradescope_session"

	// maxResponseSize はレスポンスボディの最大読み取りサイズ（5MB）。
	maxResponseSize = 5 * 1024 * 1024
	userAgent       = "CourseSync/1.0"
)

// エンドポイントのパス。メトリクスのラベルにも使用する。
const (
	endpointAccount     = "account"
	endpointCourses     = "courses"
	endpointAssignments = "assignments"
)

// ClientConfig はプラットフォームクライアントの設定。
type ClientConfig struct {
	BaseURL         string
	SessionCookie   string
	RequestInterval time.Duration // リクエスト間隔の下限。0の場合は制限しない
	// BreakerFailures は連続失敗でブレーカーを開く回数。
	BreakerFailures uint32
	// BreakerTimeout はブレーカーが開いてから半開になるまでの時間。
	BreakerTimeout time.Duration
}

// Client はユーザー間で共有されるプラットフォームクライアント。
// レートリミッターとサーキットブレーカーは全ユーザーのリクエストで共有する。
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	cookieName string
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
}

// NewClient はClientを生成する。httpClientはリダイレクトを追跡しないよう複製して使用する。
func NewClient(httpClient *http.Client, cfg ClientConfig, logger *slog.Logger, mc metrics.MetricsCollector) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = DefaultSessionCookie
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = time.Minute
	}
	if mc == nil {
		mc = metrics.NopCollector{}
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid platform base URL: %w", err)
	}

	hc := *httpClient
	hc.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(cfg.RequestInterval)
	}

	c := &Client{
		httpClient: &hc,
		baseURL:    base,
		cookieName: cfg.SessionCookie,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
		metrics:    mc,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "platform",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("サーキットブレーカーの状態が変化しました",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			mc.RecordBreakerState(to.String())
		},
	})
	mc.RecordBreakerState(gobreaker.StateClosed.String())

	return c, nil
}

// NewSource はセッショントークンを持つSourceを返す。
func (c *Client) NewSource(token string) Source {
	return &session{client: c, token: token}
}

// response はブレーカー内で読み取ったレスポンス。
type response struct {
	status int
	body   []byte
}

// get はレート制限とサーキットブレーカーを通してGETリクエストを送る。
// 5xxと429と通信エラーはブレーカーの失敗として数え、model.ErrCollaboratorUnavailable でラップする。
// それ以外のステータスはそのまま返し、判定は呼び出し側が行う。
func (c *Client) get(ctx context.Context, endpoint, path, token string) (*response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCollaboratorUnavailable, err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, endpoint, path, token)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", model.ErrCollaboratorUnavailable, err)
		}
		return nil, err
	}
	return result.(*response), nil
}

func (c *Client) do(ctx context.Context, endpoint, path, token string) (*response, error) {
	reqURL := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.AddCookie(&http.Cookie{Name: c.cookieName, Value: token})

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordPlatformRequest(endpoint, 0, time.Since(start))
		c.logger.Error("プラットフォームへのリクエストに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", model.ErrCollaboratorUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	c.metrics.RecordPlatformRequest(endpoint, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%w: レスポンスボディの読み取りに失敗しました: %v", model.ErrCollaboratorUnavailable, err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		c.logger.Error("プラットフォームがエラーステータスを返しました",
			slog.String("endpoint", endpoint),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("%w: status %d", model.ErrCollaboratorUnavailable, resp.StatusCode)
	}
	return &response{status: resp.StatusCode, body: body}, nil
}

// isAuthFailure はセッション失効を示すステータスかを返す。
// ログインページへのリダイレクトも失効として扱う。
func isAuthFailure(status int) bool {
	return (status >= 300 && status < 400) ||
		status == http.StatusUnauthorized ||
		status == http.StatusForbidden
}

// session はユーザー1人分のSource実装。
type session struct {
	client *Client
	token  string
}

// VerifySession はアカウントページにアクセスしてセッションを確認する。
func (s *session) VerifySession(ctx context.Context) error {
	resp, err := s.client.get(ctx, endpointAccount, "/account", s.token)
	if err != nil {
		return err
	}
	switch {
	case resp.status == http.StatusOK:
		return nil
	case isAuthFailure(resp.status):
		return fmt.Errorf("%w: status %d", model.ErrAuthenticationExpired, resp.status)
	default:
		return fmt.Errorf("%w: status %d", model.ErrCollaboratorUnavailable, resp.status)
	}
}

type courseEntry struct {
	ID        json.RawMessage `json:"id"`
	CourseID  json.RawMessage `json:"course_id"`
	Name      string          `json:"name"`
	ShortName string          `json:"shortname"`
	ShortAlt  string          `json:"short_name"`
}

// ListCourses はコース一覧を取得する。IDがないコースは除外する。
func (s *session) ListCourses(ctx context.Context) ([]model.ExternalCourse, error) {
	resp, err := s.client.get(ctx, endpointCourses, "/api/v1/courses", s.token)
	if err != nil {
		return nil, err
	}
	if isAuthFailure(resp.status) {
		return nil, fmt.Errorf("%w: status %d", model.ErrAuthenticationExpired, resp.status)
	}
	if resp.status != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", model.ErrCollaboratorUnavailable, resp.status)
	}

	var payload struct {
		Courses []courseEntry `json:"courses"`
	}
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return nil, fmt.Errorf("%w: コース一覧のパースに失敗しました: %v", model.ErrCollaboratorUnavailable, err)
	}

	courses := make([]model.ExternalCourse, 0, len(payload.Courses))
	for _, entry := range payload.Courses {
		id := rawID(entry.ID)
		if id == "" {
			id = rawID(entry.CourseID)
		}
		if id == "" {
			continue
		}
		shortName := entry.ShortName
		if shortName == "" {
			shortName = entry.ShortAlt
		}
		courses = append(courses, model.ExternalCourse{ID: id, Name: entry.Name, ShortName: shortName})
	}
	return courses, nil
}

// ListAssignments はコースの課題一覧を取得する。
// JSONとして解釈できないボディは課題なしとして扱う。
func (s *session) ListAssignments(ctx context.Context, courseID string) ([]model.RawAssignment, error) {
	path := "/courses/" + url.PathEscape(courseID) + "/assignments"
	resp, err := s.client.get(ctx, endpointAssignments, path, s.token)
	if err != nil {
		return nil, err
	}
	if isAuthFailure(resp.status) {
		return nil, fmt.Errorf("%w: status %d", model.ErrAuthenticationExpired, resp.status)
	}
	if resp.status != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", model.ErrCollaboratorUnavailable, resp.status)
	}

	var payload struct {
		Assignments []map[string]any `json:"assignments"`
	}
	dec := json.NewDecoder(bytes.NewReader(resp.body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		s.client.logger.Warn("課題一覧をJSONとして解釈できないため空として扱います",
			slog.String("course_id", courseID),
			slog.String("error", err.Error()),
		)
		return []model.RawAssignment{}, nil
	}

	assignments := make([]model.RawAssignment, 0, len(payload.Assignments))
	for _, a := range payload.Assignments {
		if a != nil {
			assignments = append(assignments, model.RawAssignment(a))
		}
	}
	return assignments, nil
}

// rawID は文字列または数値のJSON値をIDとして返す。
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
