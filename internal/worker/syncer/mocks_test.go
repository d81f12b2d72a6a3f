package syncer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/coursesync/internal/model"
	"github.com/hitoshi/coursesync/internal/platform"
	"github.com/hitoshi/coursesync/internal/repository"
)

// --- モック定義 ---

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// mockConnectionRepo はConnectionRepositoryのテスト用モック。
type mockConnectionRepo struct {
	mu              sync.Mutex
	conns           []*model.Connection
	listErr         error
	disconnected    []string
	lastSynced      map[string]time.Time
	updateSyncedErr error
}

func (m *mockConnectionRepo) ListConnected(ctx context.Context) ([]*model.Connection, error) {
	return m.conns, m.listErr
}

func (m *mockConnectionRepo) MarkDisconnected(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = append(m.disconnected, userID)
	return nil
}

func (m *mockConnectionRepo) UpdateLastSynced(ctx context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateSyncedErr != nil {
		return m.updateSyncedErr
	}
	if m.lastSynced == nil {
		m.lastSynced = make(map[string]time.Time)
	}
	m.lastSynced[userID] = at
	return nil
}

// mockAssignmentRepo はAssignmentRepositoryのテスト用モック。
// 作成と更新はbyUserに反映され、次のListByUserで読み出される。
type mockAssignmentRepo struct {
	byUser    map[string][]*model.Assignment
	listErr   error
	createErr error
	created   []*model.Assignment
	updates   map[string]model.AssignmentUpdate
}

// ListByUser は保存済みレコードのコピーを返す。同期処理側の変更が保存内容に漏れないようにする。
func (m *mockAssignmentRepo) ListByUser(ctx context.Context, userID string) ([]*model.Assignment, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	stored := m.byUser[userID]
	list := make([]*model.Assignment, 0, len(stored))
	for _, a := range stored {
		c := *a
		list = append(list, &c)
	}
	return list, nil
}

func (m *mockAssignmentRepo) FindByID(ctx context.Context, id string) (*model.Assignment, error) {
	return m.find(id), nil
}

func (m *mockAssignmentRepo) Create(ctx context.Context, a *model.Assignment) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, a)
	if m.byUser == nil {
		m.byUser = make(map[string][]*model.Assignment)
	}
	stored := *a
	m.byUser[a.UserID] = append(m.byUser[a.UserID], &stored)
	return nil
}

func (m *mockAssignmentRepo) Update(ctx context.Context, id string, u model.AssignmentUpdate) error {
	if m.updates == nil {
		m.updates = make(map[string]model.AssignmentUpdate)
	}
	m.updates[id] = u
	if a := m.find(id); a != nil {
		u.Apply(a)
	}
	return nil
}

func (m *mockAssignmentRepo) find(id string) *model.Assignment {
	for _, list := range m.byUser {
		for _, a := range list {
			if a.ID == id {
				return a
			}
		}
	}
	return nil
}

// mockCourseRepo はCourseRepositoryのテスト用モック。
// versionsに保存されたバージョンと異なるexpectedVersionの書き込みは競合として扱う。
// 成功した書き込みはbyUserのコースに反映する。
type mockCourseRepo struct {
	byUser   map[string][]*model.Course
	listErr  error
	latest   map[string]*model.Course
	versions map[string]int
	writes   []ledgerWrite
}

type ledgerWrite struct {
	courseID        string
	items           []model.GradedItem
	expectedVersion int
}

func (m *mockCourseRepo) ListByUser(ctx context.Context, userID string) ([]*model.Course, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	stored := m.byUser[userID]
	list := make([]*model.Course, 0, len(stored))
	for _, c := range stored {
		cp := *c
		cp.GradedItems = append([]model.GradedItem(nil), c.GradedItems...)
		list = append(list, &cp)
	}
	return list, nil
}

func (m *mockCourseRepo) FindByID(ctx context.Context, id string) (*model.Course, error) {
	return m.latest[id], nil
}

func (m *mockCourseRepo) UpdateLedger(ctx context.Context, id string, items []model.GradedItem, expectedVersion int) error {
	m.writes = append(m.writes, ledgerWrite{courseID: id, items: items, expectedVersion: expectedVersion})
	if m.versions != nil {
		if v, ok := m.versions[id]; ok && v != expectedVersion {
			return model.ErrLedgerVersionConflict
		}
		m.versions[id] = expectedVersion + 1
	}
	for _, list := range m.byUser {
		for _, c := range list {
			if c.ID == id {
				c.GradedItems = items
				c.LedgerVersion = expectedVersion + 1
			}
		}
	}
	return nil
}

// mockConflictRepo はConflictRepositoryのテスト用モック。同期処理はCreateのみ使用する。
type mockConflictRepo struct {
	created []*model.Conflict
}

func (m *mockConflictRepo) Create(ctx context.Context, c *model.Conflict) error {
	m.created = append(m.created, c)
	return nil
}

func (m *mockConflictRepo) FindByID(ctx context.Context, id string) (*model.Conflict, error) {
	return nil, nil
}

func (m *mockConflictRepo) ListUnresolvedByUser(ctx context.Context, userID string) ([]*model.Conflict, error) {
	return nil, nil
}

func (m *mockConflictRepo) CountUnresolvedByUser(ctx context.Context, userID string) (int, error) {
	return 0, nil
}

func (m *mockConflictRepo) Resolve(ctx context.Context, id string, resolution model.ConflictResolution, resolvedAt time.Time, effect repository.ResolutionEffect) error {
	return nil
}

// mockSecrets はSecretProviderのテスト用モック。
type mockSecrets struct {
	failFor map[string]bool
}

func (m *mockSecrets) Secret(ctx context.Context, conn *model.Connection) (string, error) {
	if m.failFor[conn.UserID] {
		return "", errors.New("decrypt failed")
	}
	return "token-" + conn.UserID, nil
}

// mockSource はplatform.Sourceのテスト用モック。
type mockSource struct {
	verifyErr      error
	courses        []model.ExternalCourse
	coursesErr     error
	assignments    map[string][]model.RawAssignment
	assignmentsErr error
	listedCourses  []string
}

func (m *mockSource) VerifySession(ctx context.Context) error {
	return m.verifyErr
}

func (m *mockSource) ListCourses(ctx context.Context) ([]model.ExternalCourse, error) {
	return m.courses, m.coursesErr
}

func (m *mockSource) ListAssignments(ctx context.Context, courseID string) ([]model.RawAssignment, error) {
	m.listedCourses = append(m.listedCourses, courseID)
	if m.assignmentsErr != nil {
		return nil, m.assignmentsErr
	}
	return m.assignments[courseID], nil
}

// mockSourceFactory は全ユーザーに同じmockSourceを返す。
type mockSourceFactory struct {
	source *mockSource
	tokens []string
}

func (m *mockSourceFactory) NewSource(token string) platform.Source {
	m.tokens = append(m.tokens, token)
	return m.source
}
