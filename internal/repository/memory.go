package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/swanstudios/scheduling-server-go/internal/database"
	"github.com/swanstudios/scheduling-server-go/internal/model"
)

// FaultFunc is consulted before every store operation. A non-nil return
// value fails that operation. Commit-time hooks are named "tx.begin",
// "tx.commit" and "tx.after_commit"; the last one fires after the writes
// are already visible, modelling a lost commit acknowledgement.
type FaultFunc func(op string) error

// MemoryStore is an in-process Store. Writes made inside InTx are staged and
// applied atomically on commit. Lock keys are held as context-aware mutexes,
// so a waiter gives up when its context ends.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[int64]model.Session
	assignments map[int64]model.Assignment
	users       map[int64]model.User
	nextSession int64
	nextAssign  int64

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	faultMu sync.RWMutex
	fault   FaultFunc
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[int64]model.Session),
		assignments: make(map[int64]model.Assignment),
		users:       make(map[int64]model.User),
		locks:       make(map[string]chan struct{}),
	}
}

func (s *MemoryStore) SetFault(fn FaultFunc) {
	s.faultMu.Lock()
	s.fault = fn
	s.faultMu.Unlock()
}

func (s *MemoryStore) injected(op string) error {
	s.faultMu.RLock()
	fn := s.fault
	s.faultMu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(op)
}

// PutUser seeds or replaces a user row.
func (s *MemoryStore) PutUser(u model.User) {
	s.mu.Lock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	s.users[u.ID] = u
	s.mu.Unlock()
}

func (s *MemoryStore) Sessions() SessionRepository       { return &memSessionRepo{store: s} }
func (s *MemoryStore) Assignments() AssignmentRepository { return &memAssignmentRepo{store: s} }
func (s *MemoryStore) Users() UserRepository             { return &memUserRepo{store: s} }

func (s *MemoryStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.injected("ping")
}

func (s *MemoryStore) InTx(ctx context.Context, lockKeys []string, fn func(tx Store) error) error {
	if err := s.injected("tx.begin"); err != nil {
		return err
	}

	tx := &memTx{
		sessions:    make(map[int64]model.Session),
		assignments: make(map[int64]model.Assignment),
		held:        make(map[string]bool),
	}
	defer s.release(tx)

	if err := s.acquire(ctx, tx, lockKeys); err != nil {
		return err
	}
	if err := fn(&memTxStore{store: s, tx: tx}); err != nil {
		return err
	}
	// fail closed: nothing is applied once the caller has given up
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.injected("tx.commit"); err != nil {
		return err
	}
	if err := s.commit(tx); err != nil {
		return err
	}
	return s.injected("tx.after_commit")
}

func (s *MemoryStore) lockChan(key string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	return ch
}

func (s *MemoryStore) acquire(ctx context.Context, tx *memTx, keys []string) error {
	for _, key := range database.SortedUnique(keys) {
		if tx.held[key] {
			continue
		}
		select {
		case s.lockChan(key) <- struct{}{}:
			tx.held[key] = true
			tx.order = append(tx.order, key)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *MemoryStore) release(tx *memTx) {
	for i := len(tx.order) - 1; i >= 0; i-- {
		<-s.lockChan(tx.order[i])
	}
	tx.order = nil
}

func (s *MemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, staged := range tx.sessions {
		if staged.RequestKey == nil || staged.Status == model.SessionStatusCancelled {
			continue
		}
		for otherID, existing := range s.sessions {
			if otherID != id && sameRequestKey(existing, *staged.RequestKey) {
				if cur, ok := tx.sessions[otherID]; ok && !sameRequestKey(cur, *staged.RequestKey) {
					continue
				}
				return ErrDuplicateRequestKey
			}
		}
	}
	for id, staged := range tx.assignments {
		if staged.Status != model.AssignmentStatusActive {
			continue
		}
		for otherID, existing := range s.assignments {
			if otherID == id || existing.ClientID != staged.ClientID || existing.Status != model.AssignmentStatusActive {
				continue
			}
			if cur, ok := tx.assignments[otherID]; ok && cur.Status != model.AssignmentStatusActive {
				continue
			}
			return ErrActiveAssignmentExists
		}
	}

	for id, sess := range tx.sessions {
		s.sessions[id] = sess
	}
	for id, a := range tx.assignments {
		s.assignments[id] = a
	}
	return nil
}

func sameRequestKey(s model.Session, key string) bool {
	return s.RequestKey != nil && *s.RequestKey == key && s.Status != model.SessionStatusCancelled
}

// memTx holds staged rows and the lock keys taken for them.
type memTx struct {
	sessions    map[int64]model.Session
	assignments map[int64]model.Assignment
	held        map[string]bool
	order       []string
}

type memTxStore struct {
	store *MemoryStore
	tx    *memTx
}

func (t *memTxStore) Sessions() SessionRepository {
	return &memSessionRepo{store: t.store, tx: t.tx}
}

func (t *memTxStore) Assignments() AssignmentRepository {
	return &memAssignmentRepo{store: t.store, tx: t.tx}
}

func (t *memTxStore) Users() UserRepository { return &memUserRepo{store: t.store} }

func (t *memTxStore) Ping(ctx context.Context) error { return t.store.Ping(ctx) }

// InTx inside a transaction takes any missing locks and joins it.
func (t *memTxStore) InTx(ctx context.Context, lockKeys []string, fn func(tx Store) error) error {
	if err := t.store.acquire(ctx, t.tx, lockKeys); err != nil {
		return err
	}
	return fn(t)
}

// sessionsView returns committed sessions overlaid with staged writes.
func (s *MemoryStore) sessionsView(tx *memTx) []model.Session {
	s.mu.RLock()
	out := make([]model.Session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		if tx != nil {
			if staged, ok := tx.sessions[id]; ok {
				out = append(out, staged)
				continue
			}
		}
		out = append(out, sess)
	}
	s.mu.RUnlock()

	if tx != nil {
		for id, staged := range tx.sessions {
			if _, committed := s.committedSession(id); !committed {
				out = append(out, staged)
			}
		}
	}
	return out
}

func (s *MemoryStore) committedSession(id int64) (model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *MemoryStore) assignmentsView(tx *memTx) []model.Assignment {
	s.mu.RLock()
	out := make([]model.Assignment, 0, len(s.assignments))
	for id, a := range s.assignments {
		if tx != nil {
			if staged, ok := tx.assignments[id]; ok {
				out = append(out, staged)
				continue
			}
		}
		out = append(out, a)
	}
	s.mu.RUnlock()

	if tx != nil {
		for id, staged := range tx.assignments {
			s.mu.RLock()
			_, committed := s.assignments[id]
			s.mu.RUnlock()
			if !committed {
				out = append(out, staged)
			}
		}
	}
	return out
}

func (s *MemoryStore) usersView() []model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortSessions(sessions []model.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].StartTime.Equal(sessions[j].StartTime) {
			return sessions[i].StartTime.Before(sessions[j].StartTime)
		}
		return sessions[i].ID < sessions[j].ID
	})
}

type memSessionRepo struct {
	store *MemoryStore
	tx    *memTx
}

func (r *memSessionRepo) WithTx(_ *sqlx.Tx) SessionRepository { return r }

func (r *memSessionRepo) put(sess model.Session) {
	if r.tx != nil {
		r.tx.sessions[sess.ID] = sess
		return
	}
	r.store.mu.Lock()
	r.store.sessions[sess.ID] = sess
	r.store.mu.Unlock()
}

func (r *memSessionRepo) get(id int64) (*model.Session, bool) {
	if r.tx != nil {
		if staged, ok := r.tx.sessions[id]; ok {
			return &staged, true
		}
	}
	sess, ok := r.store.committedSession(id)
	if !ok {
		return nil, false
	}
	return &sess, true
}

func (r *memSessionRepo) filter(keep func(model.Session) bool) []model.Session {
	var out []model.Session
	for _, sess := range r.store.sessionsView(r.tx) {
		if keep(sess) {
			out = append(out, sess)
		}
	}
	sortSessions(out)
	return out
}

func (r *memSessionRepo) FindByID(ctx context.Context, id int64) (*model.Session, error) {
	if err := r.store.injected("sessions.find_by_id"); err != nil {
		return nil, err
	}
	sess, ok := r.get(id)
	if !ok {
		return nil, nil
	}
	return sess, nil
}

func (r *memSessionRepo) FindByRequestKey(ctx context.Context, key string) (*model.Session, error) {
	if err := r.store.injected("sessions.find_by_request_key"); err != nil {
		return nil, err
	}
	matches := r.filter(func(s model.Session) bool { return sameRequestKey(s, key) })
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

func (r *memSessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	if err := r.store.injected("sessions.create"); err != nil {
		return nil, err
	}
	if params.RequestKey != nil {
		if existing, _ := r.FindByRequestKey(ctx, *params.RequestKey); existing != nil {
			return nil, ErrDuplicateRequestKey
		}
	}

	r.store.mu.Lock()
	r.store.nextSession++
	id := r.store.nextSession
	r.store.mu.Unlock()

	now := time.Now()
	sess := model.Session{
		ID:         id,
		TrainerID:  params.TrainerID,
		ClientID:   params.ClientID,
		StartTime:  params.StartTime,
		EndTime:    params.EndTime,
		Status:     params.Status,
		Location:   params.Location,
		CreatedBy:  params.CreatedBy,
		RequestKey: params.RequestKey,
		Notes:      params.Notes,
		CreatedAt:  now,
		UpdatedAt:  now,

		RecurrenceGroup: params.RecurrenceGroup,
	}
	r.put(sess)
	return &sess, nil
}

func (r *memSessionRepo) UpdateStatus(ctx context.Context, id int64, change model.StatusChange) (*model.Session, error) {
	if err := r.store.injected("sessions.update_status"); err != nil {
		return nil, err
	}
	sess, ok := r.get(id)
	if !ok {
		return nil, nil
	}

	at := change.At
	sess.Status = change.Status
	if change.ClientID != nil {
		sess.ClientID = change.ClientID
	}
	switch change.Status {
	case model.SessionStatusConfirmed:
		sess.ConfirmedAt = &at
	case model.SessionStatusCompleted:
		sess.CompletedAt = &at
	case model.SessionStatusCancelled:
		actor := change.ActorID
		sess.CancelledAt = &at
		sess.CancelledBy = &actor
		sess.CancellationReason = change.Reason
	}
	if change.CaloriesBurned != nil {
		sess.CaloriesBurned = change.CaloriesBurned
	}
	sess.UpdatedAt = at
	r.put(*sess)
	return sess, nil
}

func (r *memSessionRepo) Reschedule(ctx context.Context, id int64, window model.TimeWindow) (*model.Session, error) {
	if err := r.store.injected("sessions.reschedule"); err != nil {
		return nil, err
	}
	sess, ok := r.get(id)
	if !ok {
		return nil, nil
	}
	sess.StartTime = window.Start
	sess.EndTime = window.End
	sess.UpdatedAt = time.Now()
	r.put(*sess)
	return sess, nil
}

func (r *memSessionRepo) Reassign(ctx context.Context, id int64, trainerID int64) error {
	if err := r.store.injected("sessions.reassign"); err != nil {
		return err
	}
	sess, ok := r.get(id)
	if !ok {
		return nil
	}
	sess.TrainerID = trainerID
	sess.UpdatedAt = time.Now()
	r.put(*sess)
	return nil
}

func (r *memSessionRepo) UpdateLocation(ctx context.Context, id int64, location string) error {
	if err := r.store.injected("sessions.update_location"); err != nil {
		return err
	}
	sess, ok := r.get(id)
	if !ok {
		return nil
	}
	sess.Location = location
	sess.UpdatedAt = time.Now()
	r.put(*sess)
	return nil
}

func (r *memSessionRepo) FindBlockingForTrainer(ctx context.Context, trainerID int64, window model.TimeWindow) ([]model.Session, error) {
	if err := r.store.injected("sessions.find_blocking_for_trainer"); err != nil {
		return nil, err
	}
	return r.filter(func(s model.Session) bool {
		return s.TrainerID == trainerID && s.Status.IsBlocking() && s.Window().Overlaps(window)
	}), nil
}

func (r *memSessionRepo) FindBlockingForClient(ctx context.Context, clientID int64, window model.TimeWindow) ([]model.Session, error) {
	if err := r.store.injected("sessions.find_blocking_for_client"); err != nil {
		return nil, err
	}
	return r.filter(func(s model.Session) bool {
		return s.HasClient(clientID) && s.Status.IsBlocking() && s.Window().Overlaps(window)
	}), nil
}

func (r *memSessionRepo) List(ctx context.Context, q model.SessionQuery) ([]model.Session, error) {
	if err := r.store.injected("sessions.list"); err != nil {
		return nil, err
	}
	return r.filter(func(s model.Session) bool {
		if q.TrainerID != nil && s.TrainerID != *q.TrainerID {
			return false
		}
		if q.ClientID != nil && !s.HasClient(*q.ClientID) &&
			(q.OpenForTrainerID == nil || !s.IsOpenSlotOf(*q.OpenForTrainerID)) {
			return false
		}
		if q.RecurrenceGroup != nil && (s.RecurrenceGroup == nil || *s.RecurrenceGroup != *q.RecurrenceGroup) {
			return false
		}
		if len(q.Statuses) > 0 && !containsStatus(q.Statuses, s.Status) {
			return false
		}
		if !q.From.IsZero() && !s.EndTime.After(q.From) {
			return false
		}
		if !q.To.IsZero() && !s.StartTime.Before(q.To) {
			return false
		}
		return true
	}), nil
}

func containsStatus(list []model.SessionStatus, s model.SessionStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (r *memSessionRepo) ListCompletedForUser(ctx context.Context, userID int64, role model.Role) ([]model.Session, error) {
	if err := r.store.injected("sessions.list_completed_for_user"); err != nil {
		return nil, err
	}
	out := r.filter(func(s model.Session) bool {
		if s.Status != model.SessionStatusCompleted {
			return false
		}
		if role == model.RoleTrainer {
			return s.TrainerID == userID
		}
		return s.HasClient(userID)
	})
	// newest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *memSessionRepo) FindExpiredRequests(ctx context.Context, before time.Time) ([]model.Session, error) {
	if err := r.store.injected("sessions.find_expired_requests"); err != nil {
		return nil, err
	}
	return r.filter(func(s model.Session) bool {
		return s.Status == model.SessionStatusRequested && s.StartTime.Before(before)
	}), nil
}

func (r *memSessionRepo) CountByStatus(ctx context.Context) (map[model.SessionStatus]int, error) {
	if err := r.store.injected("sessions.count_by_status"); err != nil {
		return nil, err
	}
	out := make(map[model.SessionStatus]int)
	for _, s := range r.store.sessionsView(r.tx) {
		out[s.Status]++
	}
	return out, nil
}

func (r *memSessionRepo) CountOpenForTrainer(ctx context.Context, trainerID int64) (int, error) {
	if err := r.store.injected("sessions.count_open_for_trainer"); err != nil {
		return 0, err
	}
	return len(r.filter(func(s model.Session) bool {
		return s.TrainerID == trainerID && !s.Status.IsTerminal()
	})), nil
}

type memAssignmentRepo struct {
	store *MemoryStore
	tx    *memTx
}

func (r *memAssignmentRepo) WithTx(_ *sqlx.Tx) AssignmentRepository { return r }

func (r *memAssignmentRepo) put(a model.Assignment) {
	if r.tx != nil {
		r.tx.assignments[a.ID] = a
		return
	}
	r.store.mu.Lock()
	r.store.assignments[a.ID] = a
	r.store.mu.Unlock()
}

func (r *memAssignmentRepo) filter(keep func(model.Assignment) bool) []model.Assignment {
	var out []model.Assignment
	for _, a := range r.store.assignmentsView(r.tx) {
		if keep(a) {
			out = append(out, a)
		}
	}
	// assigned_at DESC, id DESC
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].AssignedAt.After(out[j].AssignedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (r *memAssignmentRepo) first(keep func(model.Assignment) bool) *model.Assignment {
	matches := r.filter(keep)
	if len(matches) == 0 {
		return nil
	}
	return &matches[0]
}

func (r *memAssignmentRepo) FindActiveByClient(ctx context.Context, clientID int64) (*model.Assignment, error) {
	if err := r.store.injected("assignments.find_active_by_client"); err != nil {
		return nil, err
	}
	return r.first(func(a model.Assignment) bool {
		return a.ClientID == clientID && a.Status == model.AssignmentStatusActive
	}), nil
}

func (r *memAssignmentRepo) FindActivePair(ctx context.Context, trainerID, clientID int64) (*model.Assignment, error) {
	if err := r.store.injected("assignments.find_active_pair"); err != nil {
		return nil, err
	}
	return r.first(func(a model.Assignment) bool {
		return a.TrainerID == trainerID && a.ClientID == clientID && a.Status == model.AssignmentStatusActive
	}), nil
}

func (r *memAssignmentRepo) Create(ctx context.Context, params model.CreateAssignmentParams) (*model.Assignment, error) {
	if err := r.store.injected("assignments.create"); err != nil {
		return nil, err
	}
	if existing, _ := r.FindActiveByClient(ctx, params.ClientID); existing != nil {
		return nil, ErrActiveAssignmentExists
	}

	r.store.mu.Lock()
	r.store.nextAssign++
	id := r.store.nextAssign
	r.store.mu.Unlock()

	sessionIDs := pq.Int64Array(append([]int64{}, params.SessionIDs...))
	a := model.Assignment{
		ID:         id,
		TrainerID:  params.TrainerID,
		ClientID:   params.ClientID,
		Status:     model.AssignmentStatusActive,
		AssignedBy: params.AssignedBy,
		AssignedAt: time.Now(),
		SessionIDs: sessionIDs,
	}
	r.put(a)
	return &a, nil
}

func (r *memAssignmentRepo) Deactivate(ctx context.Context, id int64, actorID int64, at time.Time) error {
	if err := r.store.injected("assignments.deactivate"); err != nil {
		return err
	}
	a := r.first(func(a model.Assignment) bool { return a.ID == id })
	if a == nil || a.Status != model.AssignmentStatusActive {
		return nil
	}
	a.Status = model.AssignmentStatusInactive
	a.DeactivatedAt = &at
	a.DeactivatedBy = &actorID
	r.put(*a)
	return nil
}

func (r *memAssignmentRepo) ListByTrainer(ctx context.Context, trainerID int64, activeOnly bool) ([]model.Assignment, error) {
	if err := r.store.injected("assignments.list_by_trainer"); err != nil {
		return nil, err
	}
	return r.filter(func(a model.Assignment) bool {
		return a.TrainerID == trainerID && (!activeOnly || a.Status == model.AssignmentStatusActive)
	}), nil
}

func (r *memAssignmentRepo) ListByClient(ctx context.Context, clientID int64) ([]model.Assignment, error) {
	if err := r.store.injected("assignments.list_by_client"); err != nil {
		return nil, err
	}
	return r.filter(func(a model.Assignment) bool { return a.ClientID == clientID }), nil
}

func (r *memAssignmentRepo) CountRows(ctx context.Context) (int, error) {
	if err := r.store.injected("assignments.count_rows"); err != nil {
		return 0, err
	}
	return len(r.store.assignmentsView(r.tx)), nil
}

func (r *memAssignmentRepo) CountActive(ctx context.Context) (int, error) {
	if err := r.store.injected("assignments.count_active"); err != nil {
		return 0, err
	}
	return len(r.filter(func(a model.Assignment) bool { return a.Status == model.AssignmentStatusActive })), nil
}

func (r *memAssignmentRepo) CountDuplicateActive(ctx context.Context) (int, error) {
	if err := r.store.injected("assignments.count_duplicate_active"); err != nil {
		return 0, err
	}
	perClient := make(map[int64]int)
	for _, a := range r.store.assignmentsView(r.tx) {
		if a.Status == model.AssignmentStatusActive {
			perClient[a.ClientID]++
		}
	}
	dups := 0
	for _, n := range perClient {
		if n > 1 {
			dups++
		}
	}
	return dups, nil
}

func (r *memAssignmentRepo) CountUnassignedClients(ctx context.Context) (int, error) {
	if err := r.store.injected("assignments.count_unassigned_clients"); err != nil {
		return 0, err
	}
	assigned := make(map[int64]bool)
	for _, a := range r.store.assignmentsView(r.tx) {
		if a.Status == model.AssignmentStatusActive {
			assigned[a.ClientID] = true
		}
	}
	count := 0
	for _, u := range r.store.usersView() {
		if u.Role == model.RoleClient && u.Active && !assigned[u.ID] {
			count++
		}
	}
	return count, nil
}

func (r *memAssignmentRepo) TrainerWorkload(ctx context.Context) ([]model.TrainerWorkload, error) {
	if err := r.store.injected("assignments.trainer_workload"); err != nil {
		return nil, err
	}
	activeClients := make(map[int64]int)
	for _, a := range r.store.assignmentsView(r.tx) {
		if a.Status == model.AssignmentStatusActive {
			activeClients[a.TrainerID]++
		}
	}
	openSessions := make(map[int64]int)
	for _, s := range r.store.sessionsView(r.tx) {
		if !s.Status.IsTerminal() {
			openSessions[s.TrainerID]++
		}
	}

	var out []model.TrainerWorkload
	for _, u := range r.store.usersView() {
		if u.Role != model.RoleTrainer || !u.Active {
			continue
		}
		out = append(out, model.TrainerWorkload{
			TrainerID:        u.ID,
			TrainerName:      strings.TrimSpace(u.FullName()),
			ActiveClients:    activeClients[u.ID],
			AssignedSessions: openSessions[u.ID],
		})
	}
	return out, nil
}

type memUserRepo struct {
	store *MemoryStore
}

func (r *memUserRepo) WithTx(_ *sqlx.Tx) UserRepository { return r }

func (r *memUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	if err := r.store.injected("users.find_by_id"); err != nil {
		return nil, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	u, ok := r.store.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *memUserRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.User, error) {
	if err := r.store.injected("users.find_by_token_hash"); err != nil {
		return nil, err
	}
	for _, u := range r.store.usersView() {
		if u.Active && u.APITokenHash != nil && *u.APITokenHash == tokenHash {
			return &u, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) CountByRole(ctx context.Context) (map[model.Role]int, error) {
	if err := r.store.injected("users.count_by_role"); err != nil {
		return nil, err
	}
	counts := map[model.Role]int{}
	for _, u := range r.store.usersView() {
		if u.Active {
			counts[u.Role]++
		}
	}
	return counts, nil
}
