package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and local development.
// It enforces the same unique constraints as the Postgres schema.
type MemoryStore struct {
	mu sync.Mutex

	users     map[uuid.UUID]*User
	sessions  map[uuid.UUID]*Session
	refresh   map[string]*RefreshToken
	oobTokens map[uuid.UUID]*OutOfBandToken
	audit     []*AuditLog
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[uuid.UUID]*User),
		sessions:  make(map[uuid.UUID]*Session),
		refresh:   make(map[string]*RefreshToken),
		oobTokens: make(map[uuid.UUID]*OutOfBandToken),
	}
}

// WithTx mirrors the Postgres store's transaction contract: a non-nil error
// from fn rolls every write inside it back.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(Store) error) error {
	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	users     map[uuid.UUID]*User
	sessions  map[uuid.UUID]*Session
	refresh   map[string]*RefreshToken
	oobTokens map[uuid.UUID]*OutOfBandToken
	audit     []*AuditLog
}

func copyMap[K comparable, V any](src map[K]*V) map[K]*V {
	dst := make(map[K]*V, len(src))
	for k, v := range src {
		cp := *v
		dst[k] = &cp
	}
	return dst
}

func (m *MemoryStore) snapshot() *memorySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := &memorySnapshot{
		users:     copyMap(m.users),
		sessions:  copyMap(m.sessions),
		refresh:   copyMap(m.refresh),
		oobTokens: copyMap(m.oobTokens),
		audit:     make([]*AuditLog, len(m.audit)),
	}
	for i, l := range m.audit {
		cp := *l
		snap.audit[i] = &cp
	}
	return snap
}

func (m *MemoryStore) restore(snap *memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = snap.users
	m.sessions = snap.sessions
	m.refresh = snap.refresh
	m.oobTokens = snap.oobTokens
	m.audit = snap.audit
}

// --- Users ---

func (m *MemoryStore) CreateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == strings.ToLower(u.Email) {
			return ErrEmailTaken
		}
	}
	cp := *u
	cp.Email = strings.ToLower(cp.Email)
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(email)
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) UpdateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return ErrNotFound
	}
	email := strings.ToLower(u.Email)
	for id, existing := range m.users {
		if id != u.ID && existing.Email == email {
			return ErrEmailTaken
		}
	}
	cp := *u
	cp.Email = email
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *MemoryStore) ListUsers(ctx context.Context, offset, limit int) ([]User, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]User, 0, len(m.users))
	for _, u := range m.users {
		all = append(all, *u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func (m *MemoryStore) DeleteUsersByRole(ctx context.Context, role Role, except uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, u := range m.users {
		if u.Role == role && id != except {
			delete(m.users, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteAllUsersExcept(ctx context.Context, except uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id := range m.users {
		if id != except {
			delete(m.users, id)
			n++
		}
	}
	return n, nil
}

// --- Sessions ---

func (m *MemoryStore) CreateSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.RefreshToken == s.RefreshToken {
			return ErrDuplicateToken
		}
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSessionByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) GetSessionByRefreshToken(ctx context.Context, token string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.RefreshToken == token {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListActiveSessions(ctx context.Context, userID uuid.UUID, now time.Time) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsActive && !s.ExpiresAt.Before(now) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.After(out[j].LastActivityAt) })
	return out, nil
}

func (m *MemoryStore) ListSessionsByUser(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpdateSessionToken(ctx context.Context, id uuid.UUID, token string, expiresAt, lastActivity time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !s.IsActive {
		return ErrNotFound
	}
	for otherID, other := range m.sessions {
		if otherID != id && other.RefreshToken == token {
			return ErrDuplicateToken
		}
	}
	s.RefreshToken = token
	s.ExpiresAt = expiresAt
	s.LastActivityAt = lastActivity
	return nil
}

func (m *MemoryStore) DeactivateSession(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.IsActive = false
	return nil
}

func (m *MemoryStore) DeactivateSessionByToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.RefreshToken == token {
			s.IsActive = false
		}
	}
	return nil
}

func (m *MemoryStore) DeactivateSessionsForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsActive {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeactivateOtherSessions(ctx context.Context, userID uuid.UUID, keepToken string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsActive && s.RefreshToken != keepToken {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.ExpiresAt.Before(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// --- Refresh tokens ---

func (m *MemoryStore) CreateRefreshToken(ctx context.Context, t *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refresh[t.Token]; ok {
		return ErrDuplicateToken
	}
	cp := *t
	m.refresh[t.Token] = &cp
	return nil
}

func (m *MemoryStore) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.refresh[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) DeleteRefreshToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refresh, token)
	return nil
}

func (m *MemoryStore) DeleteRefreshTokensForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for token, t := range m.refresh {
		if t.UserID == userID {
			delete(m.refresh, token)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteOtherRefreshTokens(ctx context.Context, userID uuid.UUID, keepToken string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for token, t := range m.refresh {
		if t.UserID == userID && token != keepToken {
			delete(m.refresh, token)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListRefreshTokensForUser(ctx context.Context, userID uuid.UUID) ([]RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RefreshToken
	for _, t := range m.refresh {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for token, t := range m.refresh {
		if t.ExpiresAt.Before(now) {
			delete(m.refresh, token)
			n++
		}
	}
	return n, nil
}

// --- Out-of-band tokens ---

func (m *MemoryStore) CreateOutOfBandToken(ctx context.Context, t *OutOfBandToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.oobTokens {
		if existing.Kind == t.Kind && existing.Token == t.Token {
			return ErrDuplicateToken
		}
	}
	cp := *t
	m.oobTokens[t.ID] = &cp
	return nil
}

func (m *MemoryStore) GetOutOfBandToken(ctx context.Context, kind TokenKind, token string) (*OutOfBandToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.oobTokens {
		if t.Kind == kind && t.Token == token {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) MarkOutOfBandTokenUsed(ctx context.Context, id uuid.UUID, usedAt time.Time, ip, userAgent *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.oobTokens[id]
	if !ok || t.Used {
		return ErrNotFound
	}
	t.Used = true
	t.UsedAt = &usedAt
	t.IPAddress = ip
	t.UserAgent = userAgent
	return nil
}

func (m *MemoryStore) DeleteOutOfBandToken(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.oobTokens[id]; !ok {
		return ErrNotFound
	}
	delete(m.oobTokens, id)
	return nil
}

func (m *MemoryStore) DeleteUnusedOutOfBandTokens(ctx context.Context, userID uuid.UUID, kind TokenKind) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.oobTokens {
		if t.UserID == userID && t.Kind == kind && !t.Used {
			delete(m.oobTokens, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteOutOfBandTokensForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.oobTokens {
		if t.UserID == userID {
			delete(m.oobTokens, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) SweepExpiredOutOfBandTokens(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.oobTokens {
		if t.ExpiresAt.Before(now) {
			delete(m.oobTokens, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) SweepUsedMagicLinkTokens(ctx context.Context, usedBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.oobTokens {
		if t.Kind == KindMagicLink && t.Used && t.UsedAt != nil && t.UsedAt.Before(usedBefore) {
			delete(m.oobTokens, id)
			n++
		}
	}
	return n, nil
}

// --- Audit log ---

func (m *MemoryStore) AppendAuditLog(ctx context.Context, l *AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.audit = append(m.audit, &cp)
	return nil
}

func (m *MemoryStore) ListAuditLogs(ctx context.Context, f AuditFilter) ([]AuditLog, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []AuditLog
	for _, l := range m.audit {
		if f.UserID != nil && (l.UserID == nil || *l.UserID != *f.UserID) {
			continue
		}
		if f.Action != "" && l.Action != f.Action {
			continue
		}
		if f.Success != nil && l.Success != *f.Success {
			continue
		}
		if f.From != nil && l.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && l.CreatedAt.After(*f.To) {
			continue
		}
		matched = append(matched, *l)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := int64(len(matched))
	limit := f.Limit
	if limit < 1 || limit > 100 {
		limit = 50
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (m *MemoryStore) ListAuditLogsForUser(ctx context.Context, userID uuid.UUID, limit int) ([]AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit < 1 || limit > 100 {
		limit = 50
	}
	var out []AuditLog
	for _, l := range m.audit {
		if l.UserID != nil && *l.UserID == userID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) AnonymizeAuditLogsForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	anonymized := "anonymized"
	var n int64
	for _, l := range m.audit {
		if l.UserID != nil && *l.UserID == userID {
			l.Resource = &anonymized
			l.IPAddress = &anonymized
			l.UserAgent = &anonymized
			l.Metadata = map[string]any{"anonymized": true}
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteAuditLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.audit[:0]
	var n int64
	for _, l := range m.audit {
		if l.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, l)
	}
	m.audit = kept
	return n, nil
}
